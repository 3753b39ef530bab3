// Package portal drives the Atabat agent portal: login with CAPTCHA and OTP,
// trip search, the multi-passenger reservation form, receipts and the
// reservation existence probe.
package portal

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"atabat-scraper/internal/models"
	"atabat-scraper/internal/services/browser"
)

const (
	loginPath       = "/login.aspx"
	searchPath      = "/Kargozar/KargroupResLock.aspx"
	receiptPath     = "/Kargozar/Receipt.aspx?resID="
	reservationPath = "/Kargozar/Reservation_cs.aspx?resid="

	// SessionMarker renders only for a logged-in agent.
	SessionMarker = "#ctl00_lblKargozarTitle"
)

// Page is the subset of *browser.Page the portal flows drive.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Eval(ctx context.Context, js string, res interface{}) error
	Text(ctx context.Context, sel string) string
	Visible(ctx context.Context, sel string) bool
	Count(ctx context.Context, sel string) int
	HTML(ctx context.Context, sel string) (string, error)
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	Fill(ctx context.Context, sel, value string) error
	Click(ctx context.Context, sel string) error
	CaptureImage(ctx context.Context, sel string) ([]byte, error)
	Dialogs() []string
	ResetDialogs()
	Responses() <-chan browser.Response
	DrainResponses()
	Cookies(ctx context.Context) ([]models.Cookie, error)
	Close()
}

var _ Page = (*browser.Page)(nil)

// Pages opens tabs in one browsing context and probes its session.
type Pages interface {
	NewPage(ctx context.Context) (Page, error)
	IsSessionValid(ctx context.Context, p Page) bool
}

type chromePages struct{ b *browser.Browser }

// Chrome exposes a browser as Pages.
func Chrome(b *browser.Browser) Pages { return chromePages{b: b} }

func (c chromePages) NewPage(ctx context.Context) (Page, error) {
	p, err := c.b.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c chromePages) IsSessionValid(ctx context.Context, p Page) bool {
	bp, ok := p.(*browser.Page)
	return ok && c.b.IsSessionValid(ctx, bp)
}

// SessionStore is where cookies and the OTP are persisted.
type SessionStore interface {
	Load(ctx context.Context) (models.SessionState, error)
	SaveCookies(ctx context.Context, cookies []models.Cookie)
	SaveOTP(ctx context.Context, otp string) error
}

// CaptchaSolver turns a captured challenge image into its code.
type CaptchaSolver interface {
	SolveImage(ctx context.Context, png []byte) (string, error)
}

// OTPFetcher reads the daily OTP from the messaging relay. "" with a nil
// error means no message was found.
type OTPFetcher interface {
	FetchLatestOTP(ctx context.Context) (string, error)
}

type Config struct {
	BaseURL            string
	Username           string
	Password           string
	CaptchaMaxAttempts int
	Timeouts           browser.Timeouts
}

type Deps struct {
	Pages  Pages
	Store  SessionStore
	Solver CaptchaSolver
	// OTP is optional; without it the stored OTP is used as is.
	OTP OTPFetcher
	// Fresh opens an unauthenticated browsing context for the OTP refresh.
	// The returned func releases it.
	Fresh func(ctx context.Context) (Pages, func(), error)
}

// waits are fixed pauses for portal redirects and AJAX rendering.
type waits struct {
	afterLogin     time.Duration
	afterOTP       time.Duration
	captchaRefresh time.Duration
	poll           time.Duration
}

type Portal struct {
	cfg   Config
	deps  Deps
	log   *zap.Logger
	now   func() time.Time
	waits waits

	auth singleflight.Group
}

func New(cfg Config, deps Deps, log *zap.Logger) *Portal {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CaptchaMaxAttempts < 1 {
		cfg.CaptchaMaxAttempts = 5
	}
	if cfg.Timeouts == (browser.Timeouts{}) {
		cfg.Timeouts = browser.DefaultTimeouts()
	}
	return &Portal{
		cfg:  cfg,
		deps: deps,
		log:  log.Named("portal"),
		now:  time.Now,
		waits: waits{
			afterLogin:     2 * time.Second,
			afterOTP:       3 * time.Second,
			captchaRefresh: 500 * time.Millisecond,
			poll:           250 * time.Millisecond,
		},
	}
}

func (p *Portal) url(path string) string { return p.cfg.BaseURL + path }

// ProbeURL is the authenticated-only page used to test a session.
func ProbeURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + searchPath
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll checks cond every interval until it holds or ctx ends.
func poll(ctx context.Context, interval time.Duration, cond func(ctx context.Context) bool) bool {
	if interval <= 0 {
		interval = time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if cond(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}
