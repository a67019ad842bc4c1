package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserBackend renders pages in headless Chrome so JavaScript-heavy
// sites produce real content. One allocator is shared across fetches.
type BrowserBackend struct {
	timeout time.Duration
}

// NewBrowserBackend builds the chromedp backend. Chrome is launched
// lazily per fetch; the per-call timeout bounds the whole render.
func NewBrowserBackend(timeout time.Duration) *BrowserBackend {
	return &BrowserBackend{timeout: timeout}
}

func (b *BrowserBackend) Mode() string { return ModeBrowser }

func (b *BrowserBackend) Fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
		)...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var body string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Text("body", &body, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("browser fetch failed: %w", err)
	}
	return body, nil
}
