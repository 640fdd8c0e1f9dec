package scraper

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWatchdog() *Watchdog {
	return NewWatchdog(time.Millisecond, slog.Default())
}

func TestWatchdogHealthyPage(t *testing.T) {
	page := &fakePage{}

	verdict, err := testWatchdog().CheckAndRecover(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, VerdictNoError, verdict)
	assert.Zero(t, page.retries)
}

func TestWatchdogRecovers(t *testing.T) {
	page := &fakePage{
		banners: []BannerState{
			{Visible: true, RetryVisible: true, RetryEnabled: true},
			{Visible: false},
		},
	}

	verdict, err := testWatchdog().CheckAndRecover(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, VerdictRecovered, verdict)
	assert.Equal(t, 1, page.retries)
}

func TestWatchdogUnrecoverable(t *testing.T) {
	tests := []struct {
		name    string
		banners []BannerState
		retries int
	}{
		{
			name:    "retry hidden",
			banners: []BannerState{{Visible: true, RetryVisible: false}},
		},
		{
			name:    "retry disabled",
			banners: []BannerState{{Visible: true, RetryVisible: true, RetryEnabled: false}},
		},
		{
			name: "banner survives retry",
			banners: []BannerState{
				{Visible: true, RetryVisible: true, RetryEnabled: true},
				{Visible: true, RetryVisible: true, RetryEnabled: true},
			},
			retries: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &fakePage{banners: tt.banners}

			verdict, err := testWatchdog().CheckAndRecover(context.Background(), page)
			require.NoError(t, err)
			assert.Equal(t, VerdictUnrecoverable, verdict)
			assert.Equal(t, tt.retries, page.retries)
		})
	}
}
