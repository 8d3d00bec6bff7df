package service

import (
	"io"
	"log/slog"
	"testing"

	"github.com/digkill/modelstudio/internal/credits"
	"github.com/digkill/modelstudio/internal/kv"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAccounts(t *testing.T) *credits.Accounts {
	t.Helper()
	return credits.NewAccounts(kv.NewMemory(), discardLogger(), 1)
}
