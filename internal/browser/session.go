// Package browser implements the schemas.Session interface on a headless
// Chrome instance driven over the DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/api/schemas"
	"github.com/pagewarden/pagewarden/internal/config"
)

const (
	// maxSnapshotElements caps the interactive element list handed to the
	// model.
	maxSnapshotElements = 100

	// maxSnapshotTextBytes caps the page text in a snapshot.
	maxSnapshotTextBytes = 16 * 1024
)

// harvestScript collects the page's interactive elements: index, tag,
// visible text and a CSS path. Read-only; the DOM is not touched.
var harvestScript = `(() => {
	const selectorFor = (el) => {
		const parts = [];
		for (let n = el; n && n.nodeType === 1 && parts.length < 16; n = n.parentElement) {
			let part = n.localName;
			if (n.id) { parts.unshift(part + '#' + CSS.escape(n.id)); break; }
			const siblings = n.parentElement ? Array.from(n.parentElement.children).filter(c => c.localName === n.localName) : [];
			if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(n) + 1) + ')';
			parts.unshift(part);
		}
		return parts.join(' > ');
	};
	const candidates = document.querySelectorAll('a[href], button, input, select, textarea, [role="button"], [onclick]');
	const out = [];
	for (const el of candidates) {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 && rect.height === 0) continue;
		out.push({
			index: out.length,
			tag: el.localName,
			text: (el.innerText || el.value || el.getAttribute('aria-label') || '').trim().slice(0, 120),
			selector: selectorFor(el),
		});
		if (out.length >= ` + fmt.Sprint(maxSnapshotElements) + `) break;
	}
	return out;
})()`

// Session owns one browser tab and the process behind it.
type Session struct {
	logger *zap.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	navigationTimeout time.Duration
}

var _ schemas.Session = (*Session)(nil)

// NewSession launches the browser process and verifies it responds before
// returning. The session must be closed by the caller.
func NewSession(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Session, error) {
	opts := buildAllocatorOptions(cfg)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	startCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	timeout := cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	logger = logger.Named("browser")

	// JavaScript dialogs block the protocol; accept them as they appear so a
	// confirm() on the page cannot hang the run.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if dialog, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			logger.Info("Accepting JavaScript dialog",
				zap.String("type", dialog.Type.String()),
				zap.String("message", dialog.Message))
			go func() {
				if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
					logger.Warn("Failed to handle JavaScript dialog", zap.Error(err))
				}
			}()
		}
	})
	logger.Info("Browser session started",
		zap.Bool("headless", cfg.Headless),
		zap.Duration("navigation_timeout", timeout))

	return &Session{
		logger:            logger,
		allocCancel:       allocCancel,
		tabCtx:            tabCtx,
		tabCancel:         tabCancel,
		navigationTimeout: timeout,
	}, nil
}

func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// run executes tasks on the tab, bounded by the caller's context and the
// navigation timeout.
func (s *Session) run(ctx context.Context, tasks ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tabCtx, s.navigationTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, tasks...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Snapshot observes the current page without mutating it.
func (s *Session) Snapshot(ctx context.Context) (schemas.Snapshot, error) {
	var snap schemas.Snapshot
	var text string

	err := s.run(ctx,
		chromedp.Location(&snap.URL),
		chromedp.Title(&snap.Title),
		chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text),
		chromedp.Evaluate(harvestScript, &snap.Elements),
	)
	if err != nil {
		return schemas.Snapshot{}, fmt.Errorf("snapshot failed: %w", err)
	}

	if len(text) > maxSnapshotTextBytes {
		text = text[:maxSnapshotTextBytes] + "\n[content truncated]"
	}
	snap.Content = text
	return snap, nil
}

// CurrentURL returns the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location failed: %w", err)
	}
	return url, nil
}

// Navigate opens the URL and waits for the document to become ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Back returns to the previous history entry.
func (s *Session) Back(ctx context.Context) error {
	return s.run(ctx, chromedp.NavigateBack())
}

// Click clicks the first element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// TypeText clears the matching input and types the text into it.
func (s *Session) TypeText(ctx context.Context, selector, text string) error {
	return s.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Scroll moves the viewport by roughly one page in the given direction.
func (s *Session) Scroll(ctx context.Context, direction string) error {
	delta := "window.innerHeight"
	if direction == "up" {
		delta = "-window.innerHeight"
	}
	return s.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %s)", delta), nil))
}

// ExtractHTML returns the serialized document.
func (s *Session) ExtractHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading page HTML failed: %w", err)
	}
	return html, nil
}

// Close shuts the tab and the browser process down.
func (s *Session) Close(ctx context.Context) error {
	s.logger.Info("Closing browser session")
	s.tabCancel()
	s.allocCancel()
	return nil
}
