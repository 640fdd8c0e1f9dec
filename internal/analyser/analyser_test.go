package analyser

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/models"
)

func seedProfile(t *testing.T, store *database.Store, runID int64, username string, price *float64, state models.SubscriptionState, lists ...string) {
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

func f(v float64) *float64 { return &v }

func TestReports(t *testing.T) {
	store := database.OpenMemory(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, "77")
	require.NoError(t, err)

	seedProfile(t, store, runID, "freida", f(0), models.StateNotSubscribed, "free")
	seedProfile(t, store, runID, "gail", f(0), models.StateNotSubscribed)
	seedProfile(t, store, runID, "pat", f(9.99), models.StateNotSubscribed, "paid", "vanilla")
	seedProfile(t, store, runID, "uncat", f(5), models.StateNotSubscribed)
	seedProfile(t, store, runID, "lapsed", f(5), models.StateNotSubscribed, "activesub")
	seedProfile(t, store, runID, "active", f(5), models.StateSubscribed, "activesub", "femdom")
	seedProfile(t, store, runID, "adrift", f(5), models.StateSubscribed)
	seedProfile(t, store, runID, "ghost", nil, models.StateUnknown)
	seedProfile(t, store, runID, "retired", f(0), models.StateNotSubscribed, "inactive")

	require.NoError(t, store.CompleteRun(ctx, runID, 9, models.RunStatusCompleted))

	reports, err := New(store, slog.Default()).Run(ctx, 0)
	require.NoError(t, err)

	var free []string
	for _, p := range reports.FreeAccounts {
		free = append(free, p.Username)
	}
	assert.Equal(t, []string{"freida", "gail"}, free, "inactive profiles stay out of the free report")

	problems := make(map[string]string)
	for _, issue := range reports.CategorizationIssues {
		problems[issue.Username] = issue.Problem
	}
	assert.Equal(t, map[string]string{
		"gail":   "free but missing from free",
		"uncat":  "paid but missing from paid",
		"lapsed": "filed in activesub but subscription lapsed",
		"adrift": "subscribed but missing from activesub",
		"ghost":  "subscription state unknown",
	}, problems)

	var noTags []string
	for _, issue := range reports.Untagged {
		noTags = append(noTags, issue.Username)
	}
	assert.ElementsMatch(t, []string{"freida", "gail", "uncat", "lapsed", "adrift", "ghost"}, noTags,
		"tagged and inactive profiles stay out of the untagged report")

	require.NotNil(t, reports.Stats)
	assert.Equal(t, 9, reports.Stats.TotalProfiles)
	assert.Equal(t, 1, reports.Stats.CompletedRuns)
}

func TestUntaggedRespectsCustomTagLists(t *testing.T) {
	store := database.OpenMemory(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, "77")
	require.NoError(t, err)
	seedProfile(t, store, runID, "alice", f(5), models.StateNotSubscribed, "paid", "cosplay")
	seedProfile(t, store, runID, "bob", f(5), models.StateNotSubscribed, "paid")
	require.NoError(t, store.CompleteRun(ctx, runID, 2, models.RunStatusCompleted))

	an := New(store, slog.Default())
	an.SetTagLists([]string{"cosplay"})

	reports, err := an.Run(ctx, 0)
	require.NoError(t, err)
	require.Len(t, reports.Untagged, 1)
	assert.Equal(t, "bob", reports.Untagged[0].Username)

	// An empty tag set disables the report entirely.
	an.SetTagLists(nil)
	reports, err = an.Run(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, reports.Untagged)
}

func TestReportsEmptyStore(t *testing.T) {
	store := database.OpenMemory(t)

	reports, err := New(store, slog.Default()).Run(context.Background(), 30)
	require.NoError(t, err)
	assert.Empty(t, reports.FreeAccounts)
	assert.Empty(t, reports.CategorizationIssues)
	assert.Empty(t, reports.Untagged)
	assert.Equal(t, 0, reports.Stats.TotalProfiles)
}
