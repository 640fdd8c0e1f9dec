package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Verdict is the outcome of a watchdog inspection.
type Verdict int

const (
	// VerdictNoError means no error banner is showing.
	VerdictNoError Verdict = iota
	// VerdictRecovered means a banner was showing and the retry
	// control cleared it.
	VerdictRecovered
	// VerdictUnrecoverable means a banner is showing and cannot be
	// cleared; the run must stop.
	VerdictUnrecoverable
)

func (v Verdict) String() string {
	switch v {
	case VerdictNoError:
		return "no_error"
	case VerdictRecovered:
		return "recovered"
	case VerdictUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Watchdog inspects the page for the platform's transient error banner
// before each sampling pass and clicks through it when a retry is
// offered.
type Watchdog struct {
	settle time.Duration
	logger *slog.Logger
}

func NewWatchdog(settle time.Duration, logger *slog.Logger) *Watchdog {
	if settle <= 0 {
		settle = 2 * time.Second
	}
	return &Watchdog{settle: settle, logger: logger.With("component", "watchdog")}
}

// CheckAndRecover returns VerdictNoError when the page is healthy,
// VerdictRecovered after a successful retry click, and
// VerdictUnrecoverable when a banner offers no enabled retry or the
// banner survives the retry. The returned error covers inspection
// failures only, never banner state.
func (w *Watchdog) CheckAndRecover(ctx context.Context, page Page) (Verdict, error) {
	banner, err := page.ErrorBanner(ctx)
	if err != nil {
		return VerdictNoError, fmt.Errorf("inspecting error banner: %w", err)
	}
	if !banner.Visible {
		return VerdictNoError, nil
	}

	if !banner.RetryVisible || !banner.RetryEnabled {
		w.logger.Error("error banner without usable retry control",
			"retry_visible", banner.RetryVisible,
			"retry_enabled", banner.RetryEnabled)
		return VerdictUnrecoverable, nil
	}

	w.logger.Warn("error banner detected, clicking retry")
	if err := page.ClickRetry(ctx); err != nil {
		return VerdictNoError, fmt.Errorf("clicking retry: %w", err)
	}

	// Give the page time to re-render before re-inspecting.
	select {
	case <-ctx.Done():
		return VerdictNoError, ctx.Err()
	case <-time.After(w.settle):
	}

	banner, err = page.ErrorBanner(ctx)
	if err != nil {
		return VerdictNoError, fmt.Errorf("re-inspecting error banner: %w", err)
	}
	if banner.Visible {
		w.logger.Error("error banner survived retry")
		return VerdictUnrecoverable, nil
	}
	return VerdictRecovered, nil
}
