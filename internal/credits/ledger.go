// Package credits keeps a profile's spendable credits and its generation history
// on top of a kv.Store.
package credits

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/modelstudio/internal/kv"
)

const (
	creditsKey          = "credits"
	freeTrialGrantedKey = "free_trial_granted"
	pendingDebitKey     = "pending_debit"
)

// DefaultFreeCredits is the free trial handed to a brand-new profile.
const DefaultFreeCredits = 1

// profileLocks serializes read-modify-write cycles per profile. Profiles hash onto
// a fixed set of stripes so the table never grows.
var profileLocks [64]sync.Mutex

func lockFor(profileID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(profileID))
	return &profileLocks[h.Sum32()%uint32(len(profileLocks))]
}

// Hold is a debited credit whose generation has not finished yet. A hold is
// settled exactly once, by Commit or by Refund.
type Hold struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	settled   bool
}

// Ledger is the single source of truth for one profile's spendable credits.
// Store failures never surface: reads fall back to zero and writes are logged.
type Ledger struct {
	store       kv.Store
	log         *slog.Logger
	mu          *sync.Mutex
	freeCredits int
	now         func() time.Time
}

type LedgerOption func(*Ledger)

// WithFreeCredits overrides the credits granted by Initialize.
func WithFreeCredits(n int) LedgerOption {
	return func(l *Ledger) {
		if n >= 0 {
			l.freeCredits = n
		}
	}
}

// WithClock replaces time.Now for hold timestamps.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

func NewLedger(store kv.Store, profileID string, log *slog.Logger, opts ...LedgerOption) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	l := &Ledger{
		store:       store,
		log:         log.With("profile", profileID),
		mu:          lockFor(profileID),
		freeCredits: DefaultFreeCredits,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize grants the free trial the first time a profile is seen. Later calls
// leave the balance alone. It reports whether the grant happened.
func (l *Ledger) Initialize(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok, err := l.store.Read(ctx, creditsKey)
	if err != nil {
		// An unreadable store says nothing about whether the profile is new.
		l.log.Warn("read credits during initialize", "err", err)
		return false
	}
	if ok {
		return false
	}
	l.write(ctx, creditsKey, strconv.Itoa(l.freeCredits))
	l.write(ctx, freeTrialGrantedKey, strconv.FormatBool(true))
	l.log.Info("free trial granted", "credits", l.freeCredits)
	return true
}

func (l *Ledger) Balance(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(ctx)
}

// SetBalance overwrites the balance. Negative values clamp to zero.
func (l *Ledger) SetBalance(ctx context.Context, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setBalance(ctx, n)
}

// AddCredits tops the balance up after a purchase or a refund.
func (l *Ledger) AddCredits(ctx context.Context, n int) {
	if n <= 0 {
		l.log.Warn("ignoring non-positive credit top-up", "amount", n)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.balanceErr(ctx)
	if err != nil {
		l.log.Error("credit top-up skipped, balance unreadable", "amount", n, "err", err)
		return
	}
	l.setBalance(ctx, current+n)
}

// UseCredit debits one credit. It is the only path that consumes credits.
func (l *Ledger) UseCredit(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.useCredit(ctx)
}

func (l *Ledger) NeedsPurchase(ctx context.Context) bool {
	return l.Balance(ctx) < 1
}

func (l *Ledger) FreeTrialGranted(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok, err := l.store.Read(ctx, freeTrialGrantedKey)
	if err != nil || !ok {
		return false
	}
	granted, err := strconv.ParseBool(v)
	return err == nil && granted
}

// Reserve debits one credit and records it as pending until Commit or Refund.
func (l *Ledger) Reserve(ctx context.Context) (*Hold, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.useCredit(ctx) {
		return nil, false
	}
	hold := &Hold{ID: uuid.NewString(), CreatedAt: l.now().UTC()}
	raw, err := json.Marshal(hold)
	if err == nil {
		l.write(ctx, pendingDebitKey, string(raw))
	}
	return hold, true
}

// Commit keeps the debit of a finished generation.
func (l *Ledger) Commit(ctx context.Context, hold *Hold) {
	if hold == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if hold.settled {
		return
	}
	hold.settled = true
	l.clearPending(ctx, hold)
}

// Refund returns the credit of a failed generation. When the balance cannot be
// read the hold stays pending so RecoverPending can refund it later.
func (l *Ledger) Refund(ctx context.Context, hold *Hold) {
	if hold == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if hold.settled {
		return
	}
	current, err := l.balanceErr(ctx)
	if err != nil {
		l.log.Error("refund deferred, balance unreadable", "hold", hold.ID, "err", err)
		return
	}
	hold.settled = true
	l.clearPending(ctx, hold)
	l.setBalance(ctx, current+1)
	l.log.Info("credit refunded", "hold", hold.ID)
}

// RecoverPending refunds a hold left behind by a generation that never finished,
// e.g. because the process died mid-call. Holds younger than minAge are left
// alone since their generation may still be running.
func (l *Ledger) RecoverPending(ctx context.Context, minAge time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	hold, ok := l.pending(ctx)
	if !ok {
		return false
	}
	if l.now().Sub(hold.CreatedAt) < minAge {
		return false
	}
	current, err := l.balanceErr(ctx)
	if err != nil {
		l.log.Error("hold recovery skipped, balance unreadable", "hold", hold.ID, "err", err)
		return false
	}
	l.remove(ctx, pendingDebitKey)
	l.setBalance(ctx, current+1)
	l.log.Warn("refunded orphaned credit hold", "hold", hold.ID, "held_since", hold.CreatedAt)
	return true
}

func (l *Ledger) useCredit(ctx context.Context) bool {
	current, err := l.balanceErr(ctx)
	if err != nil {
		l.log.Warn("debit refused, balance unreadable", "err", err)
		return false
	}
	if current < 1 {
		return false
	}
	l.setBalance(ctx, current-1)
	return true
}

// balance is the degraded read for display: store errors read as zero.
func (l *Ledger) balance(ctx context.Context) int {
	n, err := l.balanceErr(ctx)
	if err != nil {
		l.log.Warn("read credits", "err", err)
		return 0
	}
	return n
}

// balanceErr is the read behind every read-modify-write. Missing or corrupt
// values count as zero; only store failures are errors.
func (l *Ledger) balanceErr(ctx context.Context) (int, error) {
	v, ok, err := l.store.Read(ctx, creditsKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}

func (l *Ledger) setBalance(ctx context.Context, n int) {
	if n < 0 {
		n = 0
	}
	l.write(ctx, creditsKey, strconv.Itoa(n))
}

func (l *Ledger) clearPending(ctx context.Context, hold *Hold) {
	if current, ok := l.pending(ctx); ok && current.ID == hold.ID {
		l.remove(ctx, pendingDebitKey)
	}
}

func (l *Ledger) pending(ctx context.Context) (Hold, bool) {
	v, ok, err := l.store.Read(ctx, pendingDebitKey)
	if err != nil || !ok {
		return Hold{}, false
	}
	var hold Hold
	if err := json.Unmarshal([]byte(v), &hold); err != nil || hold.ID == "" {
		return Hold{}, false
	}
	return hold, true
}

func (l *Ledger) write(ctx context.Context, key, value string) {
	if err := l.store.Write(ctx, key, value); err != nil {
		l.log.Error("write ledger entry", "key", key, "err", err)
	}
}

func (l *Ledger) remove(ctx context.Context, key string) {
	if err := l.store.Delete(ctx, key); err != nil {
		l.log.Error("delete ledger entry", "key", key, "err", err)
	}
}
