package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"atabat-scraper/internal/models"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrClosed is returned by NewPage after Close.
var ErrClosed = errors.New("browser closed")

// Timeouts are the wait tiers every page operation picks from.
type Timeouts struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
	Ajax   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Short: 5 * time.Second, Medium: 10 * time.Second, Long: 30 * time.Second, Ajax: 15 * time.Second}
}

type Options struct {
	Headless  bool
	UserAgent string
	// UserDataDir persists the Chrome profile between runs.
	UserDataDir string
	// Fresh skips loading persisted cookies.
	Fresh         bool
	KeepPagesOpen bool
	// ProbeURL is an authenticated-only page; SessionMarker a selector that
	// only renders there.
	ProbeURL      string
	SessionMarker string
	Timeouts      Timeouts
}

// CookieLoader supplies the cookies installed into a new browsing context.
type CookieLoader interface {
	Load(ctx context.Context) (models.SessionState, error)
}

// Browser owns one Chrome process and the single browsing context whose
// cookie jar every page shares.
type Browser struct {
	opts  Options
	store CookieLoader
	log   *zap.Logger

	mu            sync.Mutex
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func New(opts Options, store CookieLoader, log *zap.Logger) *Browser {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	return &Browser{opts: opts, store: store, log: log.Named("browser")}
}

func (b *Browser) Timeouts() Timeouts { return b.opts.Timeouts }

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(1280, 720),
		chromedp.UserAgent(b.opts.UserAgent),
	)
	if !b.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.opts.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(b.opts.UserDataDir))
	}
	return opts
}

// Context returns the shared browsing context, starting Chrome and loading
// persisted cookies on first use.
func (b *Browser) Context(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.browserCtx != nil && b.browserCtx.Err() == nil {
		return b.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run launches the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	b.allocCancel, b.browserCtx, b.browserCancel = allocCancel, browserCtx, browserCancel

	if !b.opts.Fresh && b.store != nil {
		b.loadCookies(ctx, browserCtx)
	}
	return browserCtx, nil
}

func (b *Browser) loadCookies(ctx context.Context, browserCtx context.Context) {
	state, err := b.store.Load(ctx)
	if err != nil {
		b.log.Warn("Could not load stored cookies", zap.Error(err))
		return
	}
	if len(state.CookiesData) == 0 {
		b.log.Info("No stored cookies found")
		return
	}
	params := toCookieParams(state.CookiesData)
	if err := chromedp.Run(browserCtx, network.SetCookies(params)); err != nil {
		b.log.Warn("Failed to install stored cookies", zap.Error(err))
		return
	}
	b.log.Info("Cookies loaded", zap.Int("count", len(params)))
}

// NewPage opens a tab in the shared context.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	browserCtx, err := b.Context(ctx)
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	p := newPage(tabCtx, cancel, b.opts.KeepPagesOpen, b.opts.Timeouts)
	if err := p.init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return p, nil
}

// IsSessionValid loads the probe page and reports whether it rendered for an
// authenticated user. Any failure counts as invalid.
func (b *Browser) IsSessionValid(ctx context.Context, p *Page) bool {
	if err := p.Navigate(ctx, b.opts.ProbeURL); err != nil {
		b.log.Debug("Session probe navigation failed", zap.Error(err))
		return false
	}
	url, err := p.URL(ctx)
	if err != nil || strings.Contains(strings.ToLower(url), "login") {
		return false
	}
	return p.Exists(ctx, b.opts.SessionMarker)
}

// Close tears down the context and the process. Safe to call twice.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.browserCtx = nil
}
