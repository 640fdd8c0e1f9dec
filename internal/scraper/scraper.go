package scraper

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrIdentityNotFound means a list item carried no username element.
	ErrIdentityNotFound = errors.New("identity not found in list item")
	// ErrPageBroken means the page showed an error banner the watchdog
	// could not clear.
	ErrPageBroken = errors.New("page in unrecoverable error state")
)

// BannerState describes the page-level error banner and its retry
// affordance at a single point in time.
type BannerState struct {
	Visible      bool
	RetryVisible bool
	RetryEnabled bool
}

// Item is one profile card inside the list container.
type Item interface {
	// Text returns the trimmed text of the first element matching
	// selector inside the item. Missing elements are an error.
	Text(selector string) (string, error)
	// Texts returns the trimmed text of every element matching
	// selector inside the item. A missing selector yields an empty
	// slice, not an error.
	Texts(selector string) ([]string, error)
}

// Page is the capability surface the collect loop needs from a list
// view. The live implementation drives a real browser; tests and
// offline tooling satisfy it with saved snapshots.
type Page interface {
	Navigate(ctx context.Context, url string) error
	VisibleItems(ctx context.Context) ([]Item, error)
	ScrollToBottom(ctx context.Context) error

	// WaitForItems blocks until at least one list item is attached or
	// the timeout elapses. It reports whether items appeared.
	WaitForItems(ctx context.Context, timeout time.Duration) bool
	// WaitForListReady blocks until the list signals it has settled
	// after the initial load.
	WaitForListReady(ctx context.Context, timeout time.Duration) bool
	// WaitForItemCount blocks until at least n items are attached or
	// the timeout elapses. Timing out is not an error; the loop
	// detects exhaustion by item yield, not by waits.
	WaitForItemCount(ctx context.Context, n int, timeout time.Duration) bool

	ErrorBanner(ctx context.Context) (BannerState, error)
	ClickRetry(ctx context.Context) error

	Close() error
}
