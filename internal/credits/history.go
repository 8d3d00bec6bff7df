package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/modelstudio/internal/kv"
	"github.com/digkill/modelstudio/internal/models"
)

const historyKey = "history"

// HistoryLimit is how many generations a profile keeps.
const HistoryLimit = 50

// Entry is what callers hand to Append; the log assigns id and timestamp.
type Entry struct {
	ImageReference string
	Prompt         string
	CreditsUsed    int
}

// History is the capacity-bounded, most-recent-first log of a profile's
// successful generations.
type History struct {
	store kv.Store
	log   *slog.Logger
	mu    *sync.Mutex
	now   func() time.Time
}

type HistoryOption func(*History)

// WithHistoryClock replaces time.Now for record timestamps.
func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(h *History) {
		h.now = now
	}
}

func NewHistory(store kv.Store, profileID string, log *slog.Logger, opts ...HistoryOption) *History {
	if log == nil {
		log = slog.Default()
	}
	h := &History{
		store: store,
		log:   log.With("profile", profileID),
		mu:    lockFor(profileID),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// newRecordID returns a UUIDv7, which sorts by creation time and stays unique
// within the same millisecond.
func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Append stores a new record at the head of the log and drops whatever falls
// beyond HistoryLimit. The stored record is returned even if persisting failed.
func (h *History) Append(ctx context.Context, entry Entry) models.GenerationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	record := models.GenerationRecord{
		ID:             newRecordID(),
		Timestamp:      h.now().UnixMilli(),
		ImageReference: entry.ImageReference,
		Prompt:         entry.Prompt,
		CreditsUsed:    entry.CreditsUsed,
	}

	records := append([]models.GenerationRecord{record}, h.list(ctx)...)
	if len(records) > HistoryLimit {
		records = records[:HistoryLimit]
	}
	if err := h.save(ctx, records); err != nil {
		h.log.Error("save generation history", "err", err)
	}
	return record
}

// List returns the retained records, most recent first.
func (h *History) List(ctx context.Context) []models.GenerationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.list(ctx)
}

func (h *History) Find(ctx context.Context, id string) (models.GenerationRecord, bool) {
	for _, record := range h.List(ctx) {
		if record.ID == id {
			return record, true
		}
	}
	return models.GenerationRecord{}, false
}

func (h *History) Clear(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.Delete(ctx, historyKey); err != nil {
		h.log.Error("clear generation history", "err", err)
	}
}

func (h *History) list(ctx context.Context) []models.GenerationRecord {
	raw, ok, err := h.store.Read(ctx, historyKey)
	if err != nil {
		h.log.Warn("read generation history", "err", err)
		return []models.GenerationRecord{}
	}
	if !ok || raw == "" {
		return []models.GenerationRecord{}
	}
	var records []models.GenerationRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		h.log.Warn("parse generation history", "err", err)
		return []models.GenerationRecord{}
	}
	if records == nil {
		return []models.GenerationRecord{}
	}
	return records
}

func (h *History) save(ctx context.Context, records []models.GenerationRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return h.store.Write(ctx, historyKey, string(raw))
}
