package export

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/models"
)

func f(v float64) *float64 { return &v }

func seed(t *testing.T, store *database.Store, runID int64, username string, price *float64, state models.SubscriptionState, lists ...string) {
	t.Helper()
	err := store.Upsert(context.Background(), &models.Observation{
		Username: username,
		Price:    price,
		Offer:    models.OfferNone,
		State:    state,
		Lists:    lists,
		RunID:    runID,
	})
	require.NoError(t, err)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := database.OpenMemory(t)

	runID, err := src.StartRun(ctx, "77")
	require.NoError(t, err)
	seed(t, src, runID, "alice", f(9.99), models.StateNotSubscribed, "paid", "vip")
	seed(t, src, runID, "bob", f(0), models.StateNotSubscribed, "free")
	seed(t, src, runID, "carol", nil, models.StateUnknown)
	require.NoError(t, src.CompleteRun(ctx, runID, 3, models.RunStatusCompleted))

	var buf bytes.Buffer
	require.NoError(t, ExportLatest(ctx, src, &buf))

	dst := database.OpenMemory(t)
	importID, count, err := Import(ctx, dst, &buf, "csv:test", time.Now(), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	run, err := dst.GetRun(ctx, importID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.ProfileCount)

	want, err := src.AllProfiles(ctx)
	require.NoError(t, err)
	got, err := dst.AllProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	for i := range want {
		assert.Equal(t, want[i].Username, got[i].Username)
		assert.Equal(t, want[i].State, got[i].State)
		assert.Equal(t, want[i].Lists, got[i].Lists)
		if want[i].Price == nil {
			assert.Nil(t, got[i].Price)
		} else {
			require.NotNil(t, got[i].Price)
			assert.Equal(t, *want[i].Price, *got[i].Price)
		}
	}
}

func TestImportSkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	store := database.OpenMemory(t)

	csv := strings.Join([]string{
		"username,price,subscription_status,lists",
		"alice,9.99,NO_SUBSCRIPTION,paid",
		",5.00,NO_SUBSCRIPTION,",          // no username
		"bob,not-a-price,NO_SUBSCRIPTION,", // bad price
		"carol,0.00,SOMETHING_ELSE,free",   // unknown state degrades
	}, "\n")

	_, count, err := Import(ctx, store, strings.NewReader(csv), "csv:test", time.Now(), slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	profiles, err := store.AllProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, models.StateUnknown, profiles[1].State)
}

func TestImportClosesRunOnReadError(t *testing.T) {
	ctx := context.Background()
	store := database.OpenMemory(t)

	// The bare quote aborts the reader mid-file.
	csv := strings.Join([]string{
		"username,price,subscription_status,lists",
		"alice,9.99,NO_SUBSCRIPTION,paid",
		`bob,"5.00,NO_SUBSCRIPTION,`,
	}, "\n")

	runID, count, err := Import(ctx, store, strings.NewReader(csv), "csv:test", time.Now(), slog.Default())
	require.Error(t, err)
	assert.Equal(t, 1, count)

	run, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.CompletedAt)
}

func TestTimestampFromFilename(t *testing.T) {
	ts, ok := TimestampFromFilename("output-2024-11-03.csv")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC), ts)

	_, ok = TimestampFromFilename("profiles.csv")
	assert.False(t, ok)
}
