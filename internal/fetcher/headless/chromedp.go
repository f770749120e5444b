// Package headless implements the rendered page strategy: pages are loaded
// in headless Chrome so their scripts run before the DOM is captured.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// StrategyName identifies this fetcher in errors, logs and metrics.
const StrategyName = "rendered"

const (
	defaultNavTimeout  = 45 * time.Second
	defaultSettleDelay = 500 * time.Millisecond
)

// ErrNavigationTimeout marks a render that did not finish within the
// navigation timeout. It is always wrapped in a TransportFailure.
var ErrNavigationTimeout = errors.New("navigation timed out")

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay gives late scripts time to fill the DOM after body is ready.
	SettleDelay time.Duration
}

// Fetcher implements monitor.PageFetcher using chromedp. Every failure is a
// TransportFailure labeled with StrategyName, so the website chain can
// report which strategy broke.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp starts a browser allocator shared by all fetches.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	} else if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch loads request.URL in a fresh tab and returns the rendered document.
func (f *Fetcher) Fetch(ctx context.Context, request monitor.PageRequest) (monitor.PageResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return monitor.PageResponse{}, monitor.NewTransportError(StrategyName, err)
	}
	defer f.release()

	tab, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentMeta{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	page, err := f.render(tab, request)
	if err != nil {
		return monitor.PageResponse{}, f.renderError(ctx, tab, err)
	}

	status, headers, finalURL := doc.result(request.URL, page.location)
	if status >= http.StatusBadRequest {
		return monitor.PageResponse{}, monitor.NewTransportError(StrategyName,
			fmt.Errorf("document %s returned status %d", finalURL, status))
	}
	return monitor.PageResponse{
		URL:        finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(page.html),
		Duration:   time.Since(start),
		Strategy:   StrategyName,
	}, nil
}

type renderedPage struct {
	html     string
	location string
}

func (f *Fetcher) render(tab context.Context, request monitor.PageRequest) (renderedPage, error) {
	var page renderedPage
	actions := []chromedp.Action{
		enableNetwork(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(f.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	)
	if err := chromedp.Run(tab, actions...); err != nil {
		return renderedPage{}, err
	}
	return page, nil
}

// renderError separates a caller cancellation from the tab hitting its own
// navigation deadline.
func (f *Fetcher) renderError(caller, tab context.Context, err error) error {
	switch {
	case caller.Err() != nil:
		return monitor.NewTransportError(StrategyName, fmt.Errorf("render canceled: %w", caller.Err()))
	case errors.Is(tab.Err(), context.DeadlineExceeded):
		return monitor.NewTransportError(StrategyName,
			fmt.Errorf("%w after %s: %v", ErrNavigationTimeout, f.navTimeout(), err))
	default:
		return monitor.NewTransportError(StrategyName, fmt.Errorf("chromedp run: %w", err))
	}
}

func enableNetwork(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if len(headers) == 0 {
			return nil
		}
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.slots == nil {
		return
	}
	select {
	case <-f.slots:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// documentMeta keeps the status and headers of the last document response
// seen in the tab; redirects overwrite earlier hops.
type documentMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (m *documentMeta) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := fromNetworkHeaders(resp.Response.Headers)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
}

// result falls back to the tab location, then the requested URL, and treats
// an unseen status as 200.
func (m *documentMeta) result(requestURL, location string) (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	url := m.url
	if url == "" {
		url = location
	}
	if url == "" {
		url = requestURL
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := m.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func fromNetworkHeaders(src network.Headers) http.Header {
	headers := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
