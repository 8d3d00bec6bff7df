package credits

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/digkill/modelstudio/internal/kv"
)

const welcomeSeenKey = "welcome_seen"

// Onboarding tracks whether a profile has dismissed the welcome screen. It is
// independent of the credit balance.
type Onboarding struct {
	store kv.Store
	log   *slog.Logger
}

func NewOnboarding(store kv.Store, log *slog.Logger) *Onboarding {
	if log == nil {
		log = slog.Default()
	}
	return &Onboarding{store: store, log: log}
}

func (o *Onboarding) WelcomeSeen(ctx context.Context) bool {
	v, ok, err := o.store.Read(ctx, welcomeSeenKey)
	if err != nil || !ok {
		return false
	}
	seen, err := strconv.ParseBool(v)
	return err == nil && seen
}

func (o *Onboarding) MarkWelcomeSeen(ctx context.Context) {
	if err := o.store.Write(ctx, welcomeSeenKey, "true"); err != nil {
		o.log.Error("write welcome flag", "err", err)
	}
}
