package credits

import (
	"log/slog"

	"github.com/digkill/modelstudio/internal/kv"
)

// Accounts hands out the ledger, history and onboarding flags of any profile
// stored in one backend.
type Accounts struct {
	backend     kv.Backend
	log         *slog.Logger
	freeCredits int
}

func NewAccounts(backend kv.Backend, log *slog.Logger, freeCredits int) *Accounts {
	if log == nil {
		log = slog.Default()
	}
	return &Accounts{backend: backend, log: log, freeCredits: freeCredits}
}

func (a *Accounts) Ledger(profileID string) *Ledger {
	return NewLedger(kv.Scope(a.backend, profileID), profileID, a.log, WithFreeCredits(a.freeCredits))
}

func (a *Accounts) History(profileID string) *History {
	return NewHistory(kv.Scope(a.backend, profileID), profileID, a.log)
}

func (a *Accounts) Onboarding(profileID string) *Onboarding {
	return NewOnboarding(kv.Scope(a.backend, profileID), a.log.With("profile", profileID))
}
