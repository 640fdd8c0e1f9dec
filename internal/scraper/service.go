package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ofdeals/finder/internal/models"
	"github.com/ofdeals/finder/internal/ratelimit"
)

// DefaultListURLTemplate is the platform's list view, keyed by list ID.
const DefaultListURLTemplate = "https://onlyfans.com/my/collections/user-lists/%s"

// PageFactory opens fresh list pages. The browser package provides the
// live implementation.
type PageFactory interface {
	NewListPage(ctx context.Context) (Page, error)
}

// Service runs complete collect passes over user lists.
type Service struct {
	pages       PageFactory
	store       Store
	limiter     ratelimit.RateLimiter
	urlTemplate string
	opts        Options
	logger      *slog.Logger
}

func NewService(pages PageFactory, store Store, limiter ratelimit.RateLimiter, urlTemplate string, opts Options, logger *slog.Logger) *Service {
	if urlTemplate == "" {
		urlTemplate = DefaultListURLTemplate
	}
	return &Service{
		pages:       pages,
		store:       store,
		limiter:     limiter,
		urlTemplate: urlTemplate,
		opts:        opts,
		logger:      logger.With("component", "scraper"),
	}
}

// ScrapeList opens the list, walks it to exhaustion and returns the
// closed run's summary.
func (s *Service) ScrapeList(ctx context.Context, listID string) (*models.RunSummary, error) {
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return nil, fmt.Errorf("list id must not be empty")
	}

	page, err := s.pages.NewListPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening list page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			s.logger.Warn("closing page", "error", cerr)
		}
	}()

	loop := NewLoop(page, s.store, s.limiter, s.opts, s.logger)
	return loop.Run(ctx, listID, fmt.Sprintf(s.urlTemplate, listID))
}
