package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/models"
	"github.com/ofdeals/finder/internal/parser"
	"github.com/ofdeals/finder/internal/ratelimit"
)

// State tracks where the collect loop is in its lifecycle.
type State int

const (
	StateInit State = iota
	StateLoading
	StateSampling
	StateContinue
	StateExhausted
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateLoading:
		return "loading"
	case StateSampling:
		return "sampling"
	case StateContinue:
		return "continue"
	case StateExhausted:
		return "exhausted"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Store is the slice of the history store the loop writes through.
type Store interface {
	StartRun(ctx context.Context, listID string) (int64, error)
	CompleteRun(ctx context.Context, runID int64, profileCount int, status models.RunStatus) error
	Upsert(ctx context.Context, obs *models.Observation) error
}

// Options tune a single collect run.
type Options struct {
	// ContainerTimeout bounds the wait for the first list items.
	ContainerTimeout time.Duration
	// ReadyTimeout bounds the wait for the list's settled signal.
	ReadyTimeout time.Duration
	// RenderTimeout bounds the wait for new items after each scroll.
	RenderTimeout time.Duration
	// ExhaustThreshold is how many consecutive zero-yield iterations
	// end the run. Must be at least 1.
	ExhaustThreshold int
	// WatchdogSettle is how long the watchdog lets the page re-render
	// after clicking retry.
	WatchdogSettle time.Duration
}

func (o *Options) applyDefaults() {
	if o.ContainerTimeout <= 0 {
		o.ContainerTimeout = 15 * time.Second
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 10 * time.Second
	}
	if o.RenderTimeout <= 0 {
		o.RenderTimeout = 5 * time.Second
	}
	if o.ExhaustThreshold <= 0 {
		o.ExhaustThreshold = 3
	}
}

// Loop drives the scroll-and-collect cycle over one list page. It is
// single use: create a new Loop per run.
type Loop struct {
	page     Page
	store    Store
	sampler  *Sampler
	watchdog *Watchdog
	limiter  ratelimit.RateLimiter
	opts     Options
	logger   *slog.Logger

	state State
	seen  map[string]bool
}

func NewLoop(page Page, store Store, limiter ratelimit.RateLimiter, opts Options, logger *slog.Logger) *Loop {
	opts.applyDefaults()
	return &Loop{
		page:     page,
		store:    store,
		sampler:  NewSampler(logger),
		watchdog: NewWatchdog(opts.WatchdogSettle, logger),
		limiter:  limiter,
		opts:     opts,
		logger:   logger.With("component", "loop"),
		state:    StateInit,
		seen:     make(map[string]bool),
	}
}

// Run walks the list at url until it is exhausted, writing every newly
// seen profile into the store. The run row is closed on every exit
// path, panics included.
func (l *Loop) Run(ctx context.Context, listID, url string) (summary *models.RunSummary, err error) {
	started := time.Now()

	runID, err := l.store.StartRun(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	l.logger.Info("run started", "run_id", runID, "list_id", listID)

	// Any exit that does not explicitly promote the status leaves the
	// run marked failed, including panics and cancellation.
	status := models.RunStatusFailed
	defer func() {
		l.setState(StateClosed)
		closeCtx := context.WithoutCancel(ctx)
		if cerr := l.store.CompleteRun(closeCtx, runID, len(l.seen), status); cerr != nil {
			l.logger.Error("closing run", "run_id", runID, "error", cerr)
		}
	}()

	if err := l.page.Navigate(ctx, url); err != nil {
		status = models.RunStatusError
		l.setState(StateError)
		return nil, fmt.Errorf("navigating to list: %w", err)
	}

	l.setState(StateLoading)
	if !l.page.WaitForItems(ctx, l.opts.ContainerTimeout) {
		l.logger.Warn("no list items appeared before timeout")
	}
	if !l.page.WaitForListReady(ctx, l.opts.ReadyTimeout) {
		l.logger.Warn("list never signalled ready, sampling anyway")
	}

	zeroStreak := 0
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			l.setState(StateError)
			return nil, err
		}
		l.setState(StateSampling)

		verdict, err := l.watchdog.CheckAndRecover(ctx, l.page)
		if err != nil {
			status = models.RunStatusError
			l.setState(StateError)
			return nil, err
		}
		switch verdict {
		case VerdictUnrecoverable:
			status = models.RunStatusError
			l.setState(StateError)
			return nil, ErrPageBroken
		case VerdictRecovered:
			l.recordError()
		}

		if err := l.page.ScrollToBottom(ctx); err != nil {
			status = models.RunStatusError
			l.setState(StateError)
			return nil, fmt.Errorf("scrolling: %w", err)
		}
		l.page.WaitForItemCount(ctx, len(l.seen)+1, l.opts.RenderTimeout)

		records, err := l.sampler.Sample(ctx, l.page)
		if err != nil {
			status = models.RunStatusError
			l.setState(StateError)
			return nil, err
		}

		newCount, err := l.collect(ctx, runID, records)
		if err != nil {
			return nil, err
		}

		if newCount == 0 {
			zeroStreak++
			l.recordError()
		} else {
			zeroStreak = 0
			l.recordSuccess()
		}
		l.logger.Info("iteration finished",
			"iteration", iteration,
			"new", newCount,
			"total", len(l.seen),
			"zero_streak", zeroStreak)

		if zeroStreak >= l.opts.ExhaustThreshold {
			break
		}

		l.setState(StateContinue)
		if err := l.limiter.Wait(ctx); err != nil {
			l.setState(StateError)
			return nil, err
		}
	}

	l.setState(StateExhausted)
	status = models.RunStatusCompleted
	l.logger.Info("list exhausted", "run_id", runID, "profiles", len(l.seen))

	return &models.RunSummary{
		RunID:        runID,
		ListID:       listID,
		Status:       models.RunStatusCompleted,
		ProfileCount: len(l.seen),
		Duration:     time.Since(started),
	}, nil
}

// collect normalizes and stores every record not yet in the seen set,
// returning how many new identities it added. Records that fail to
// normalize are skipped without entering the seen set, so a later
// iteration can retry them. Any store error other than a validation
// rejection aborts the run.
func (l *Loop) collect(ctx context.Context, runID int64, records []models.RawProfile) (int, error) {
	newCount := 0
	for _, rec := range records {
		if l.seen[rec.Username] {
			continue
		}

		kind, price, state, err := parser.Normalize(rec)
		if err != nil {
			l.logger.Warn("unparseable price label",
				"username", rec.Username,
				"label", rec.PriceLabel,
				"error", err)
			continue
		}

		obs := models.Observation{
			Username:  rec.Username,
			Price:     price,
			Offer:     kind,
			State:     state,
			Lists:     rec.Lists,
			ScrapedAt: time.Now().UTC(),
			RunID:     runID,
		}
		if err := l.store.Upsert(ctx, &obs); err != nil {
			if errors.Is(err, database.ErrInvalidObservation) {
				l.logger.Warn("store rejected observation",
					"username", rec.Username, "error", err)
				continue
			}
			l.setState(StateError)
			return newCount, fmt.Errorf("storing %s: %w", rec.Username, err)
		}

		l.seen[rec.Username] = true
		newCount++
	}
	return newCount, nil
}

func (l *Loop) setState(s State) {
	if l.state == s {
		return
	}
	l.logger.Debug("state change", "from", l.state.String(), "to", s.String())
	l.state = s
}

func (l *Loop) recordSuccess() {
	if rec, ok := l.limiter.(ratelimit.Recorder); ok {
		rec.RecordSuccess()
	}
}

func (l *Loop) recordError() {
	if rec, ok := l.limiter.(ratelimit.Recorder); ok {
		rec.RecordError()
	}
}
