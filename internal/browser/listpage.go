package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/ofdeals/finder/internal/scraper"
)

const (
	itemSelector        = "div.b-users__item"
	errorBannerSelector = "div.b-error-content"
	retryButtonSelector = `div.b-error-content button:has-text("Retry")`

	navigationRetries = 3
)

// ListPage drives one live list view tab.
type ListPage struct {
	page   playwright.Page
	logger *slog.Logger
}

var _ scraper.Page = (*ListPage)(nil)

func (p *ListPage) Navigate(ctx context.Context, url string) error {
	var lastErr error

	for i := 0; i < navigationRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			p.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			time.Sleep(time.Duration(i+1) * time.Second)
		}

		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(30000),
		})
		if err == nil {
			p.humanize()
			return nil
		}

		lastErr = err
		p.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d retries: %w", navigationRetries, lastErr)
}

func (p *ListPage) VisibleItems(ctx context.Context) ([]scraper.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	locators, err := p.page.Locator(itemSelector).All()
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	items := make([]scraper.Item, len(locators))
	for i, loc := range locators {
		items[i] = &listItem{loc: loc}
	}
	return items, nil
}

func (p *ListPage) ScrollToBottom(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

func (p *ListPage) WaitForItems(ctx context.Context, timeout time.Duration) bool {
	err := p.page.Locator(itemSelector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err == nil
}

func (p *ListPage) WaitForListReady(ctx context.Context, timeout time.Duration) bool {
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err == nil
}

func (p *ListPage) WaitForItemCount(ctx context.Context, n int, timeout time.Duration) bool {
	expr := fmt.Sprintf(`() => document.querySelectorAll(%q).length >= %d`, itemSelector, n)
	_, err := p.page.WaitForFunction(expr, nil, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err == nil
}

func (p *ListPage) ErrorBanner(ctx context.Context) (scraper.BannerState, error) {
	if err := ctx.Err(); err != nil {
		return scraper.BannerState{}, err
	}

	banner := p.page.Locator(errorBannerSelector).First()
	visible, err := banner.IsVisible()
	if err != nil {
		return scraper.BannerState{}, fmt.Errorf("failed to inspect banner: %w", err)
	}
	if !visible {
		return scraper.BannerState{}, nil
	}

	retry := p.page.Locator(retryButtonSelector).First()
	retryVisible, err := retry.IsVisible()
	if err != nil {
		return scraper.BannerState{}, fmt.Errorf("failed to inspect retry button: %w", err)
	}

	retryEnabled := false
	if retryVisible {
		retryEnabled, err = retry.IsEnabled()
		if err != nil {
			return scraper.BannerState{}, fmt.Errorf("failed to inspect retry button: %w", err)
		}
	}

	return scraper.BannerState{
		Visible:      true,
		RetryVisible: retryVisible,
		RetryEnabled: retryEnabled,
	}, nil
}

func (p *ListPage) ClickRetry(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	retry := p.page.Locator(retryButtonSelector).First()
	if err := retry.ScrollIntoViewIfNeeded(); err != nil {
		return fmt.Errorf("failed to scroll retry into view: %w", err)
	}
	if err := retry.Click(); err != nil {
		return fmt.Errorf("failed to click retry: %w", err)
	}
	return nil
}

func (p *ListPage) Close() error {
	return p.page.Close()
}

// humanize adds a little mouse and scroll noise after navigation.
func (p *ListPage) humanize() {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200)
		y := float64(100 + i*150)
		p.page.Mouse().Move(x, y)
		time.Sleep(time.Millisecond * time.Duration(200+i*100))
	}

	p.page.Evaluate(`window.scrollBy(0, Math.random() * 300)`)
}

// listItem scopes selector lookups to one profile card.
type listItem struct {
	loc playwright.Locator
}

var _ scraper.Item = (*listItem)(nil)

func (i *listItem) Text(selector string) (string, error) {
	el := i.loc.Locator(selector).First()

	count, err := el.Count()
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", selector, err)
	}
	if count == 0 {
		return "", fmt.Errorf("no element matches %s", selector)
	}

	text, err := el.TextContent()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", selector, err)
	}
	return text, nil
}

func (i *listItem) Texts(selector string) ([]string, error) {
	els, err := i.loc.Locator(selector).All()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", selector, err)
	}

	texts := make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.TextContent()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", selector, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}
