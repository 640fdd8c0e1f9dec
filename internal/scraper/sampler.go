package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ofdeals/finder/internal/models"
)

const (
	priceSelector     = ".b-wrap-btn-text"
	listBadgeSelector = "span.b-list-titles__item__text"

	// listBadgePlaceholder is the literal badge the platform renders as
	// a section header next to real list names.
	listBadgePlaceholder = "Lists"
)

// usernameSelectors is tried in order; the platform has shuffled this
// markup between releases.
var usernameSelectors = []string{
	"div.g-user-username",
	".g-user-username",
	"a.g-user-name",
}

// Sampler reads the currently rendered list items into raw records.
// It never parses price labels; that is the parser package's job.
type Sampler struct {
	logger *slog.Logger
}

func NewSampler(logger *slog.Logger) *Sampler {
	return &Sampler{logger: logger.With("component", "sampler")}
}

// Sample captures every visible item as a RawProfile. Items without a
// readable identity are logged and skipped; they never abort the
// sample.
func (s *Sampler) Sample(ctx context.Context, page Page) ([]models.RawProfile, error) {
	items, err := page.VisibleItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing visible items: %w", err)
	}

	records := make([]models.RawProfile, 0, len(items))
	for i, item := range items {
		rec, err := s.sampleItem(item)
		if err != nil {
			s.logger.Warn("skipping unreadable list item", "index", i, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Sampler) sampleItem(item Item) (models.RawProfile, error) {
	username, err := s.username(item)
	if err != nil {
		return models.RawProfile{}, err
	}

	// A missing price button is data, not an error: the profile is
	// recorded with an empty label and classified as unknown later.
	label, err := item.Text(priceSelector)
	if err != nil {
		label = ""
	}

	lists, err := item.Texts(listBadgeSelector)
	if err != nil {
		return models.RawProfile{}, fmt.Errorf("reading list badges: %w", err)
	}

	return models.RawProfile{
		Username:   username,
		PriceLabel: collapseSpaces(label),
		Lists:      cleanLists(lists),
	}, nil
}

func (s *Sampler) username(item Item) (string, error) {
	for _, sel := range usernameSelectors {
		raw, err := item.Text(sel)
		if err != nil {
			continue
		}
		name := strings.TrimPrefix(strings.TrimSpace(raw), "@")
		if name != "" {
			return name, nil
		}
	}
	return "", ErrIdentityNotFound
}

// cleanLists drops the placeholder badge and empty strings, then sorts
// for a stable membership representation.
func cleanLists(raw []string) []string {
	lists := make([]string, 0, len(raw))
	for _, l := range raw {
		l = collapseSpaces(l)
		if l == "" || l == listBadgePlaceholder {
			continue
		}
		lists = append(lists, l)
	}
	sort.Strings(lists)
	return lists
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
