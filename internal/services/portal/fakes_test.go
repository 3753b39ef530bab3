package portal

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"atabat-scraper/internal/models"
	"atabat-scraper/internal/services/browser"
)

// fakePage is a scripted portal page. Click handlers run with the lock held
// and may mutate the page state directly.
type fakePage struct {
	mu sync.Mutex

	url       string
	texts     map[string]string
	visible   map[string]bool
	counts    map[string]int
	html      map[string]string
	waitErr   map[string]error
	fills     map[string]string
	clicks    []string
	dialogs   []string
	navigated []string
	cookies   []models.Cookie
	required  int
	noForm    bool
	closed    bool

	onClick    map[string]func(p *fakePage)
	onNavigate func(p *fakePage, url string)
	responses  chan browser.Response
}

func newFakePage(url string) *fakePage {
	return &fakePage{
		url:       url,
		texts:     map[string]string{},
		visible:   map[string]bool{},
		counts:    map[string]int{},
		html:      map[string]string{},
		waitErr:   map[string]error{},
		fills:     map[string]string{},
		onClick:   map[string]func(p *fakePage){},
		responses: make(chan browser.Response, 8),
		cookies:   []models.Cookie{{Name: "ASP.NET_SessionId", Value: "abc", Domain: "atabatorg.haj.ir", Path: "/"}},
	}
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	if p.onNavigate != nil {
		p.onNavigate(p, url)
	} else {
		p.url = url
	}
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// Eval answers the boolean form/postback probes and the required count.
func (p *fakePage) Eval(_ context.Context, _ string, res interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch r := res.(type) {
	case *bool:
		*r = !p.noForm
	case *int:
		*r = p.required
	}
	return nil
}

func (p *fakePage) Text(_ context.Context, sel string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.texts[sel]
}

func (p *fakePage) Visible(_ context.Context, sel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[sel]
}

func (p *fakePage) Count(_ context.Context, sel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[sel]
}

func (p *fakePage) HTML(_ context.Context, sel string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html[sel], nil
}

func (p *fakePage) WaitVisible(_ context.Context, sel string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr[sel]
}

func (p *fakePage) Fill(_ context.Context, sel, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills[sel] = value
	return nil
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, sel)
	if fn := p.onClick[sel]; fn != nil {
		fn(p)
	}
	return nil
}

func (p *fakePage) CaptureImage(context.Context, string) ([]byte, error) {
	return []byte("png"), nil
}

func (p *fakePage) Dialogs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dialogs...)
}

func (p *fakePage) ResetDialogs() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialogs = nil
}

func (p *fakePage) Responses() <-chan browser.Response { return p.responses }

func (p *fakePage) DrainResponses() {}

func (p *fakePage) Cookies(context.Context) ([]models.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies, nil
}

func (p *fakePage) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePage) clickCount(sel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.clicks {
		if c == sel {
			n++
		}
	}
	return n
}

// fakePages hands out the same page every time.
type fakePages struct {
	mu     sync.Mutex
	page   *fakePage
	valid  bool
	opened int
}

func (f *fakePages) NewPage(context.Context) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return f.page, nil
}

func (f *fakePages) IsSessionValid(context.Context, Page) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

func (f *fakePages) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

type memStore struct {
	mu      sync.Mutex
	state   models.SessionState
	cookies []models.Cookie
	otps    []string
	otpErr  error
}

func (m *memStore) Load(context.Context) (models.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *memStore) SaveCookies(_ context.Context, cookies []models.Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cookies = cookies
}

func (m *memStore) SaveOTP(_ context.Context, otp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.otpErr != nil {
		return m.otpErr
	}
	m.otps = append(m.otps, otp)
	return nil
}

// seqSolver returns its codes in order, repeating the last one.
type seqSolver struct {
	mu      sync.Mutex
	codes   []string
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func (s *seqSolver) SolveImage(ctx context.Context, _ []byte) (string, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.codes) == 0 {
		return "", errors.New("no code")
	}
	code := s.codes[0]
	if len(s.codes) > 1 {
		s.codes = s.codes[1:]
	}
	return code, nil
}

type fakeRelay struct {
	otp   string
	err   error
	calls int
}

func (r *fakeRelay) FetchLatestOTP(context.Context) (string, error) {
	r.calls++
	return r.otp, r.err
}

var testTimeouts = browser.Timeouts{
	Short:  50 * time.Millisecond,
	Medium: 50 * time.Millisecond,
	Long:   300 * time.Millisecond,
	Ajax:   150 * time.Millisecond,
}

const testBase = "https://atabatorg.haj.ir"

func newTestPortal(deps Deps) *Portal {
	p := New(Config{
		BaseURL:            testBase,
		Username:           "agent",
		Password:           "secret",
		CaptchaMaxAttempts: 5,
		Timeouts:           testTimeouts,
	}, deps, zap.NewNop())
	p.waits = waits{poll: time.Millisecond}
	return p
}
