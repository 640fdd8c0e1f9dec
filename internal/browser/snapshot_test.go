package browser

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/models"
	"github.com/ofdeals/finder/internal/ratelimit"
	"github.com/ofdeals/finder/internal/scraper"
)

const listSnapshot = `<!DOCTYPE html>
<html><body>
<div class="b-users">
  <div class="b-users__item">
    <div class="g-user-username">@alice</div>
    <div class="b-wrap-btn-text">$9.99 PER MONTH</div>
    <span class="b-list-titles__item__text">Lists</span>
    <span class="b-list-titles__item__text">vip</span>
  </div>
  <div class="b-users__item">
    <div class="g-user-username">@bob</div>
    <div class="b-wrap-btn-text">SUBSCRIBED FOR $5.00</div>
  </div>
  <div class="b-users__item">
    <div class="g-user-username">@carol</div>
    <div class="b-wrap-btn-text">60% off SUBSCRIBE $6.00 for 30 days</div>
  </div>
</div>
</body></html>`

func TestSnapshotPageItems(t *testing.T) {
	page, err := NewSnapshot(strings.NewReader(listSnapshot))
	require.NoError(t, err)

	items, err := page.VisibleItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	name, err := items[0].Text("div.g-user-username")
	require.NoError(t, err)
	assert.Equal(t, "@alice", name)

	lists, err := items[0].Texts("span.b-list-titles__item__text")
	require.NoError(t, err)
	assert.Equal(t, []string{"Lists", "vip"}, lists)

	_, err = items[1].Text("span.b-list-titles__item__text")
	assert.Error(t, err, "bob has no list badges")

	assert.True(t, page.WaitForItems(context.Background(), 0))
	assert.True(t, page.WaitForItemCount(context.Background(), 3, 0))
	assert.False(t, page.WaitForItemCount(context.Background(), 4, 0))
}

func TestSnapshotPageErrorBanner(t *testing.T) {
	const broken = `<html><body>
<div class="b-error-content">Something went wrong<button disabled>Retry</button></div>
</body></html>`

	page, err := NewSnapshot(strings.NewReader(broken))
	require.NoError(t, err)

	banner, err := page.ErrorBanner(context.Background())
	require.NoError(t, err)
	assert.True(t, banner.Visible)
	assert.True(t, banner.RetryVisible)
	assert.False(t, banner.RetryEnabled)
}

// A full collect pass over a snapshot exercises the sampler, the
// parser and the store end to end without a browser.
func TestSnapshotCollectPass(t *testing.T) {
	page, err := NewSnapshot(strings.NewReader(listSnapshot))
	require.NoError(t, err)

	store := database.OpenMemory(t)
	loop := scraper.NewLoop(page, store, ratelimit.NewSimpleRateLimiter(0, 0), scraper.Options{}, slog.Default())

	summary, err := loop.Run(context.Background(), "offline", "about:blank")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.ProfileCount)

	profiles, err := store.AllProfiles(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	history, err := store.PriceHistory(context.Background(), "carol")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Price)
	assert.Equal(t, 6.0, *history[0].Price)
}
