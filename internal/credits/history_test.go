package credits

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/modelstudio/internal/kv"
)

func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}
}

func newTestHistory(t *testing.T) (*History, kv.Store) {
	t.Helper()
	store := kv.NewMemory().Store(t.Name())
	clock := steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewHistory(store, t.Name(), discardLogger(), WithHistoryClock(clock)), store
}

func TestHistoryAppendAssignsIDAndTimestamp(t *testing.T) {
	ctx := context.Background()
	history, _ := newTestHistory(t)

	record := history.Append(ctx, Entry{ImageReference: "https://cdn/img.png", Prompt: "studio", CreditsUsed: 1})
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, int(time.Millisecond), time.UTC).UnixMilli(), record.Timestamp)

	list := history.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, record, list[0])
}

func TestHistoryKeepsFiftyMostRecent(t *testing.T) {
	ctx := context.Background()
	history, _ := newTestHistory(t)

	var last string
	for i := 1; i <= 52; i++ {
		record := history.Append(ctx, Entry{ImageReference: fmt.Sprintf("img-%d", i), Prompt: "p", CreditsUsed: 1})
		last = record.ID
	}

	list := history.List(ctx)
	require.Len(t, list, HistoryLimit)
	assert.Equal(t, last, list[0].ID)
	assert.Equal(t, "img-52", list[0].ImageReference)
	assert.Equal(t, "img-3", list[HistoryLimit-1].ImageReference)
	for i := 1; i < len(list); i++ {
		assert.Greater(t, list[i-1].Timestamp, list[i].Timestamp)
	}
}

func TestHistoryUniqueIDsWithinSameMillisecond(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := NewHistory(kv.NewMemory().Store("p"), "p", discardLogger(), WithHistoryClock(func() time.Time { return frozen }))

	a := history.Append(ctx, Entry{ImageReference: "a"})
	b := history.Append(ctx, Entry{ImageReference: "b"})
	assert.NotEqual(t, a.ID, b.ID)
}

func TestHistoryCorruptStoreReadsEmpty(t *testing.T) {
	ctx := context.Background()
	history, store := newTestHistory(t)

	require.NoError(t, store.Write(ctx, historyKey, "{not json"))
	list := history.List(ctx)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	history.Append(ctx, Entry{ImageReference: "fresh"})
	assert.Len(t, history.List(ctx), 1)
}

func TestHistoryUnavailableStore(t *testing.T) {
	ctx := context.Background()
	history := NewHistory(brokenStore{}, "broken", discardLogger())

	assert.Empty(t, history.List(ctx))
	assert.NotPanics(t, func() {
		history.Append(ctx, Entry{ImageReference: "x"})
		history.Clear(ctx)
	})
}

func TestHistoryClearAndFind(t *testing.T) {
	ctx := context.Background()
	history, _ := newTestHistory(t)

	first := history.Append(ctx, Entry{ImageReference: "one", Prompt: "beach"})
	history.Append(ctx, Entry{ImageReference: "two", Prompt: "studio"})

	found, ok := history.Find(ctx, first.ID)
	require.True(t, ok)
	assert.Equal(t, "beach", found.Prompt)

	_, ok = history.Find(ctx, "missing")
	assert.False(t, ok)

	history.Clear(ctx)
	assert.Empty(t, history.List(ctx))
}

func TestHistoryListIsACopy(t *testing.T) {
	ctx := context.Background()
	history, _ := newTestHistory(t)
	history.Append(ctx, Entry{ImageReference: "original"})

	list := history.List(ctx)
	list[0].ImageReference = "changed"
	assert.Equal(t, "original", history.List(ctx)[0].ImageReference)
}

func TestOnboardingWelcomeFlag(t *testing.T) {
	ctx := context.Background()
	accounts := NewAccounts(kv.NewMemory(), discardLogger(), 1)
	onboarding := accounts.Onboarding("p")

	assert.False(t, onboarding.WelcomeSeen(ctx))
	onboarding.MarkWelcomeSeen(ctx)
	assert.True(t, onboarding.WelcomeSeen(ctx))
	assert.False(t, accounts.Onboarding("other").WelcomeSeen(ctx))
	assert.Equal(t, 0, accounts.Ledger("p").Balance(ctx), "welcome flag does not touch credits")
}
