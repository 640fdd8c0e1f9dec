package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofdeals/finder/internal/models"
)

func floatPtr(f float64) *float64 { return &f }

func mustStartRun(t *testing.T, s *Store, listID string) int64 {
	t.Helper()
	id, err := s.StartRun(context.Background(), listID)
	require.NoError(t, err)
	return id
}

func upsertPrice(t *testing.T, s *Store, runID int64, username string, price float64, state models.SubscriptionState, at time.Time, lists ...string) {
	t.Helper()
	err := s.Upsert(context.Background(), &models.Observation{
		Username:  username,
		Price:     floatPtr(price),
		Offer:     models.OfferNone,
		State:     state,
		Lists:     lists,
		ScrapedAt: at,
		RunID:     runID,
	})
	require.NoError(t, err)
}

func TestRunLifecycle(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	runID := mustStartRun(t, s, "1042")

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)

	require.NoError(t, s.CompleteRun(ctx, runID, 7, models.RunStatusCompleted))

	run, err = s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 7, run.ProfileCount)
	require.NotNil(t, run.CompletedAt)

	// A second close must not overwrite the terminal status.
	require.NoError(t, s.CompleteRun(ctx, runID, 99, models.RunStatusFailed))
	run, err = s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 7, run.ProfileCount)
}

func TestLatestRunID(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	id, err := s.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Zero(t, id)

	first := mustStartRun(t, s, "1042")
	require.NoError(t, s.CompleteRun(ctx, first, 1, models.RunStatusCompleted))

	running := mustStartRun(t, s, "1042")
	_ = running // still open; must not win

	id, err = s.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, id)
}

func TestUpsertAppendOnlyHistory(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	runID := mustStartRun(t, s, "1042")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	upsertPrice(t, s, runID, "creator", 9.99, models.StateNotSubscribed, at, "paid")

	profiles, err := s.ProfilesFromRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	require.NotNil(t, profiles[0].Price)
	assert.Equal(t, 9.99, *profiles[0].Price)
	assert.Equal(t, []string{"paid"}, profiles[0].Lists)
	assert.Equal(t, profiles[0].FirstSeen, profiles[0].LastSeen)

	// Identical second upsert: one more observation, unchanged projection.
	upsertPrice(t, s, runID, "creator", 9.99, models.StateNotSubscribed, at.Add(time.Minute), "paid")

	history, err := s.PriceHistory(ctx, "creator")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	profiles, err = s.ProfilesFromRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, 9.99, *profiles[0].Price)
	assert.Equal(t, []string{"paid"}, profiles[0].Lists)

	open, err := s.OpenMemberships(ctx, "creator")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestUpsertListReconciliation(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	runID := mustStartRun(t, s, "1042")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	upsertPrice(t, s, runID, "creator", 5, models.StateNotSubscribed, at, "alpha", "beta")
	upsertPrice(t, s, runID, "creator", 5, models.StateNotSubscribed, at.Add(time.Hour), "beta", "gamma")

	open, err := s.OpenMemberships(ctx, "creator")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "beta", open[0].ListName)
	assert.Equal(t, "gamma", open[1].ListName)

	// beta's original added_at must be preserved, not reopened.
	assert.Equal(t, at, open[0].AddedAt)

	all, err := s.MembershipHistory(ctx, "creator")
	require.NoError(t, err)
	require.Len(t, all, 3)

	var closed *models.ListMembership
	for i := range all {
		if all[i].ListName == "alpha" {
			closed = &all[i]
		}
	}
	require.NotNil(t, closed)
	require.NotNil(t, closed.RemovedAt)

	// A profile can rejoin a list it left: a fresh open row is expected.
	upsertPrice(t, s, runID, "creator", 5, models.StateNotSubscribed, at.Add(2*time.Hour), "alpha")
	all, err = s.MembershipHistory(ctx, "creator")
	require.NoError(t, err)
	count := 0
	for _, m := range all {
		if m.ListName == "alpha" {
			count++
		}
	}
	assert.Equal(t, 2, count)

	open, err = s.OpenMemberships(ctx, "creator")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "alpha", open[0].ListName)
}

func TestUpsertValidation(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	runID := mustStartRun(t, s, "1042")

	t.Run("empty username rejected", func(t *testing.T) {
		err := s.Upsert(ctx, &models.Observation{RunID: runID})
		assert.ErrorIs(t, err, ErrInvalidObservation)
	})

	t.Run("negative price rejected without partial writes", func(t *testing.T) {
		err := s.Upsert(ctx, &models.Observation{
			Username: "badprice",
			Price:    floatPtr(-3),
			Offer:    models.OfferNone,
			State:    models.StateNotSubscribed,
			RunID:    runID,
		})
		assert.ErrorIs(t, err, ErrInvalidObservation)

		history, err := s.PriceHistory(ctx, "badprice")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("zero-priced offer kinds force price to zero", func(t *testing.T) {
		err := s.Upsert(ctx, &models.Observation{
			Username: "freebie",
			Price:    floatPtr(12.50),
			Offer:    models.OfferFree,
			State:    models.StateNotSubscribed,
			RunID:    runID,
		})
		require.NoError(t, err)

		history, err := s.PriceHistory(ctx, "freebie")
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.NotNil(t, history[0].Price)
		assert.Zero(t, *history[0].Price)
	})

	t.Run("unknown observation keeps nil price", func(t *testing.T) {
		err := s.Upsert(ctx, &models.Observation{
			Username: "ghost",
			Offer:    models.OfferUnknown,
			State:    models.StateUnknown,
			RunID:    runID,
		})
		require.NoError(t, err)

		history, err := s.PriceHistory(ctx, "ghost")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Nil(t, history[0].Price)
	})
}

func TestHistoricalLows(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	runID := mustStartRun(t, s, "1042")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Price sequence 10, 8, 8, 12: historical low is 8, and the profile
	// only qualifies while the current price sits at 8.
	upsertPrice(t, s, runID, "wobbly", 10, models.StateNotSubscribed, at)
	upsertPrice(t, s, runID, "wobbly", 8, models.StateNotSubscribed, at.Add(1*time.Hour))

	lows, err := s.HistoricalLows(ctx)
	require.NoError(t, err)
	require.Len(t, lows, 1)
	assert.Equal(t, "wobbly", lows[0].Username)
	assert.Equal(t, 8.0, lows[0].CurrentPrice)

	upsertPrice(t, s, runID, "wobbly", 8, models.StateNotSubscribed, at.Add(2*time.Hour))
	lows, err = s.HistoricalLows(ctx)
	require.NoError(t, err)
	require.Len(t, lows, 1)

	upsertPrice(t, s, runID, "wobbly", 12, models.StateNotSubscribed, at.Add(3*time.Hour))
	lows, err = s.HistoricalLows(ctx)
	require.NoError(t, err)
	assert.Empty(t, lows)
}

func TestHistoricalLowsExclusions(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	runID := mustStartRun(t, s, "1042")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Single observation: excluded until a second sample confirms it.
	upsertPrice(t, s, runID, "oneoff", 3, models.StateNotSubscribed, at)

	// Subscribed profiles never surface as deals.
	upsertPrice(t, s, runID, "renewal", 10, models.StateSubscribed, at)
	upsertPrice(t, s, runID, "renewal", 5, models.StateSubscribed, at.Add(time.Hour))

	lows, err := s.HistoricalLows(ctx)
	require.NoError(t, err)
	assert.Empty(t, lows)
}

func TestPriceChanges(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	runID := mustStartRun(t, s, "1042")
	now := time.Now()

	upsertPrice(t, s, runID, "mover", 10, models.StateNotSubscribed, now.Add(-48*time.Hour))
	upsertPrice(t, s, runID, "mover", 7.5, models.StateNotSubscribed, now.Add(-24*time.Hour))
	upsertPrice(t, s, runID, "steady", 5, models.StateNotSubscribed, now.Add(-48*time.Hour))
	upsertPrice(t, s, runID, "steady", 5, models.StateNotSubscribed, now.Add(-24*time.Hour))

	changes, err := s.PriceChanges(ctx, 30)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "mover", changes[0].Username)
	assert.Equal(t, 10.0, changes[0].OldPrice)
	assert.Equal(t, 7.5, changes[0].NewPrice)

	// Outside the window nothing is reported.
	changes, err = s.PriceChanges(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestTrendingDown(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	runID := mustStartRun(t, s, "1042")
	now := time.Now()

	upsertPrice(t, s, runID, "faller", 15, models.StateNotSubscribed, now.Add(-72*time.Hour))
	upsertPrice(t, s, runID, "faller", 12, models.StateNotSubscribed, now.Add(-48*time.Hour))
	upsertPrice(t, s, runID, "faller", 9, models.StateNotSubscribed, now.Add(-24*time.Hour))

	// Two points only: not a trend.
	upsertPrice(t, s, runID, "dipper", 10, models.StateNotSubscribed, now.Add(-48*time.Hour))
	upsertPrice(t, s, runID, "dipper", 8, models.StateNotSubscribed, now.Add(-24*time.Hour))

	// Not strictly decreasing.
	upsertPrice(t, s, runID, "bouncer", 10, models.StateNotSubscribed, now.Add(-72*time.Hour))
	upsertPrice(t, s, runID, "bouncer", 8, models.StateNotSubscribed, now.Add(-48*time.Hour))
	upsertPrice(t, s, runID, "bouncer", 8, models.StateNotSubscribed, now.Add(-24*time.Hour))

	trends, err := s.TrendingDown(ctx, 60)
	require.NoError(t, err)
	require.Len(t, trends, 1)
	assert.Equal(t, "faller", trends[0].Username)
	assert.Equal(t, 15.0, trends[0].Oldest)
	assert.Equal(t, 12.0, trends[0].Middle)
	assert.Equal(t, 9.0, trends[0].Latest)
}

func TestPriceDropWritesOutboxEvent(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	runID := mustStartRun(t, s, "1042")
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	upsertPrice(t, s, runID, "creator", 10, models.StateNotSubscribed, at)
	upsertPrice(t, s, runID, "creator", 8, models.StateNotSubscribed, at.Add(time.Hour))
	upsertPrice(t, s, runID, "creator", 8, models.StateNotSubscribed, at.Add(2*time.Hour))

	repo := NewOutboxRepository(s)
	events, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)

	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
		assert.Equal(t, "creator", e.Username)
	}
	// One new_profile on first sight, one price_drop on 10 -> 8, nothing
	// for the unchanged third observation.
	assert.Equal(t, []string{EventNewProfile, EventPriceDrop}, types)
}

func TestOutboxRetryAndDeadLetter(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	runID := mustStartRun(t, s, "1042")

	upsertPrice(t, s, runID, "creator", 10, models.StateNotSubscribed, time.Now())

	repo := NewOutboxRepository(s)
	events, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	id := events[0].ID
	for i := 0; i < MaxRetryCount; i++ {
		require.NoError(t, repo.MarkFailed(ctx, id, assert.AnError))
	}

	count, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
