package wizard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/modelstudio/internal/credits"
)

// Sessions keeps one Controller per profile in memory. Wizard state is not
// persisted; credits and history live in the profile's store.
type Sessions struct {
	mu        sync.Mutex
	sessions  map[string]*Controller
	accounts  *credits.Accounts
	generator Generator
	publisher Publisher
	log       *slog.Logger
	idleTTL   time.Duration
	timeout   time.Duration

	// recoverAfter is how old a pending debit must be before a new session
	// refunds it.
	recoverAfter time.Duration
	now          func() time.Time
}

func NewSessions(accounts *credits.Accounts, generator Generator, publisher Publisher, log *slog.Logger, idleTTL, timeout time.Duration) *Sessions {
	if log == nil {
		log = slog.Default()
	}
	return &Sessions{
		sessions:     make(map[string]*Controller),
		accounts:     accounts,
		generator:    generator,
		publisher:    publisher,
		log:          log,
		idleTTL:      idleTTL,
		timeout:      timeout,
		recoverAfter: timeout + time.Minute,
		now:          time.Now,
	}
}

// Get returns the profile's controller, creating it on first use. Creation
// grants the free trial once and refunds a stale debit left pending by a
// generation that never finished.
func (m *Sessions) Get(ctx context.Context, profileID string) *Controller {
	m.mu.Lock()
	controller, ok := m.sessions[profileID]
	m.mu.Unlock()
	if ok {
		return controller
	}

	ledger := m.accounts.Ledger(profileID)
	ledger.Initialize(ctx)
	ledger.RecoverPending(ctx, m.recoverAfter)

	log := m.log.With("profile", profileID)
	created := NewController(ledger, m.accounts.History(profileID), m.generator, m.publisher, log, m.timeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[profileID]; ok {
		return existing
	}
	m.sessions[profileID] = created
	return created
}

// Reset drops the profile's wizard. The next Get starts from the upload step.
// A session mid-generation is kept and ErrBusy returned.
func (m *Sessions) Reset(profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	controller, ok := m.sessions[profileID]
	if !ok {
		return nil
	}
	if _, idle := controller.idleSince(); !idle {
		return ErrBusy
	}
	delete(m.sessions, profileID)
	return nil
}

func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many it
// removed.
func (m *Sessions) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, controller := range m.sessions {
		touched, idle := controller.idleSince()
		if idle && touched.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps idle sessions until ctx is cancelled.
func (m *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Debug("idle sessions swept", "removed", n, "remaining", m.Len())
			}
		}
	}
}
