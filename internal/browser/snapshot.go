package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ofdeals/finder/internal/scraper"
)

// SnapshotPage serves a saved copy of the list view. It backs offline
// replays of previously captured HTML and the scrape pipeline's tests;
// nothing ever loads beyond what the snapshot contains, so a run over
// it simply exhausts.
type SnapshotPage struct {
	doc *goquery.Document
}

var _ scraper.Page = (*SnapshotPage)(nil)

func OpenSnapshot(path string) (*SnapshotPage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	return NewSnapshot(f)
}

func NewSnapshot(r io.Reader) (*SnapshotPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &SnapshotPage{doc: doc}, nil
}

func (p *SnapshotPage) Navigate(ctx context.Context, url string) error { return ctx.Err() }

func (p *SnapshotPage) VisibleItems(ctx context.Context) ([]scraper.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []scraper.Item
	p.doc.Find(itemSelector).Each(func(_ int, sel *goquery.Selection) {
		items = append(items, &snapshotItem{sel: sel})
	})
	return items, nil
}

func (p *SnapshotPage) ScrollToBottom(ctx context.Context) error { return ctx.Err() }

func (p *SnapshotPage) WaitForItems(ctx context.Context, timeout time.Duration) bool {
	return p.doc.Find(itemSelector).Length() > 0
}

func (p *SnapshotPage) WaitForListReady(ctx context.Context, timeout time.Duration) bool {
	return true
}

func (p *SnapshotPage) WaitForItemCount(ctx context.Context, n int, timeout time.Duration) bool {
	return p.doc.Find(itemSelector).Length() >= n
}

func (p *SnapshotPage) ErrorBanner(ctx context.Context) (scraper.BannerState, error) {
	if err := ctx.Err(); err != nil {
		return scraper.BannerState{}, err
	}

	banner := p.doc.Find(errorBannerSelector)
	if banner.Length() == 0 {
		return scraper.BannerState{}, nil
	}

	retry := banner.Find("button")
	_, disabled := retry.Attr("disabled")
	return scraper.BannerState{
		Visible:      true,
		RetryVisible: retry.Length() > 0,
		RetryEnabled: retry.Length() > 0 && !disabled,
	}, nil
}

func (p *SnapshotPage) ClickRetry(ctx context.Context) error {
	return fmt.Errorf("snapshot page has no retry to click")
}

func (p *SnapshotPage) Close() error { return nil }

type snapshotItem struct {
	sel *goquery.Selection
}

var _ scraper.Item = (*snapshotItem)(nil)

func (i *snapshotItem) Text(selector string) (string, error) {
	el := i.sel.Find(selector).First()
	if el.Length() == 0 {
		return "", fmt.Errorf("no element matches %s", selector)
	}
	return strings.TrimSpace(el.Text()), nil
}

func (i *snapshotItem) Texts(selector string) ([]string, error) {
	var texts []string
	i.sel.Find(selector).Each(func(_ int, el *goquery.Selection) {
		texts = append(texts, strings.TrimSpace(el.Text()))
	})
	return texts, nil
}
