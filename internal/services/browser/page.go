package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Response is an XHR response observed on a page.
type Response struct {
	URL    string
	Status int64
}

// Page is a short-lived tab. JavaScript dialogs are accepted as they open
// and their text is kept for the caller; XHR responses are fanned out on a
// buffered channel.
type Page struct {
	ctx      context.Context
	cancel   context.CancelFunc
	keepOpen bool
	timeouts Timeouts

	mu      sync.Mutex
	dialogs []string

	responses chan Response
	closeOnce sync.Once
}

func newPage(ctx context.Context, cancel context.CancelFunc, keepOpen bool, timeouts Timeouts) *Page {
	return &Page{
		ctx:       ctx,
		cancel:    cancel,
		keepOpen:  keepOpen,
		timeouts:  timeouts,
		responses: make(chan Response, 32),
	}
}

func (p *Page) init(ctx context.Context) error {
	if err := p.Run(ctx, p.timeouts.Long, network.Enable()); err != nil {
		return err
	}
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventJavascriptDialogOpening:
			p.mu.Lock()
			p.dialogs = append(p.dialogs, strings.TrimSpace(e.Message))
			p.mu.Unlock()
			go func() {
				_ = chromedp.Run(p.ctx, chromedp.ActionFunc(func(c context.Context) error {
					return page.HandleJavaScriptDialog(true).Do(c)
				}))
			}()
		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeXHR || e.Response == nil {
				return
			}
			select {
			case p.responses <- Response{URL: e.Response.URL, Status: e.Response.Status}:
			default:
			}
		}
	})
	return nil
}

// Run executes actions on the tab, bounded by timeout and by ctx.
func (p *Page) Run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.Run(ctx, p.timeouts.Long, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	err := p.Run(ctx, p.timeouts.Short, chromedp.Location(&url))
	return url, err
}

// Eval evaluates a JavaScript expression into res.
func (p *Page) Eval(ctx context.Context, js string, res interface{}) error {
	return p.Run(ctx, p.timeouts.Medium, chromedp.Evaluate(js, res))
}

// quote renders s as a JavaScript string literal.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Text returns the trimmed text of the first element matching sel, or ""
// when it does not exist.
func (p *Page) Text(ctx context.Context, sel string) string {
	var text string
	js := fmt.Sprintf(`(function(){
		const el = document.querySelector(%s);
		return el ? (el.textContent || "").trim() : "";
	})()`, quote(sel))
	if err := p.Eval(ctx, js, &text); err != nil {
		return ""
	}
	return text
}

func (p *Page) Exists(ctx context.Context, sel string) bool {
	var ok bool
	js := fmt.Sprintf(`document.querySelector(%s) !== null`, quote(sel))
	if err := p.Eval(ctx, js, &ok); err != nil {
		return false
	}
	return ok
}

// Visible reports whether sel is rendered and not hidden by style.
func (p *Page) Visible(ctx context.Context, sel string) bool {
	var ok bool
	js := fmt.Sprintf(`(function(){
		const el = document.querySelector(%s);
		if (!el) return false;
		const st = window.getComputedStyle(el);
		if (st.display === "none" || st.visibility === "hidden") return false;
		return el.getClientRects().length > 0;
	})()`, quote(sel))
	if err := p.Eval(ctx, js, &ok); err != nil {
		return false
	}
	return ok
}

// Count returns the number of elements matching sel.
func (p *Page) Count(ctx context.Context, sel string) int {
	var n int
	js := fmt.Sprintf(`document.querySelectorAll(%s).length`, quote(sel))
	if err := p.Eval(ctx, js, &n); err != nil {
		return 0
	}
	return n
}

// HTML returns the outer HTML of sel, or of the whole document when sel is
// empty. A missing element yields "".
func (p *Page) HTML(ctx context.Context, sel string) (string, error) {
	js := `document.documentElement.outerHTML`
	if sel != "" {
		js = fmt.Sprintf(`(function(){
			const el = document.querySelector(%s);
			return el ? el.outerHTML : "";
		})()`, quote(sel))
	}
	var html string
	if err := p.Eval(ctx, js, &html); err != nil {
		return "", fmt.Errorf("failed to read html: %w", err)
	}
	return html, nil
}

func (p *Page) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	return p.Run(ctx, timeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
}

// Fill clears sel and types value into it.
func (p *Page) Fill(ctx context.Context, sel, value string) error {
	return p.Run(ctx, p.timeouts.Medium,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

func (p *Page) Click(ctx context.Context, sel string) error {
	return p.Run(ctx, p.timeouts.Medium, chromedp.Click(sel, chromedp.ByQuery))
}

// CaptureImage returns PNG bytes of an <img>. It draws the already loaded
// image onto a canvas so the server is not asked for a new challenge, and
// falls back to an element screenshot for tainted canvases.
func (p *Page) CaptureImage(ctx context.Context, sel string) ([]byte, error) {
	var dataURL string
	js := fmt.Sprintf(`(function() {
		const img = document.querySelector(%s);
		if (!img || !img.complete || img.naturalWidth === 0) {
			return "";
		}
		try {
			const canvas = document.createElement('canvas');
			canvas.width = img.naturalWidth;
			canvas.height = img.naturalHeight;
			canvas.getContext('2d').drawImage(img, 0, 0);
			return canvas.toDataURL('image/png');
		} catch (e) {
			return "";
		}
	})()`, quote(sel))
	if err := p.Eval(ctx, js, &dataURL); err == nil {
		if parts := strings.SplitN(dataURL, ",", 2); len(parts) == 2 {
			if data, err := base64.StdEncoding.DecodeString(parts[1]); err == nil && len(data) > 0 {
				return data, nil
			}
		}
	}

	var buf []byte
	if err := p.Run(ctx, p.timeouts.Short, chromedp.Screenshot(sel, &buf, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return nil, fmt.Errorf("failed to capture %s: %w", sel, err)
	}
	return buf, nil
}

// Dialogs returns the messages of dialogs opened since the last reset.
func (p *Page) Dialogs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.dialogs...)
}

func (p *Page) ResetDialogs() {
	p.mu.Lock()
	p.dialogs = nil
	p.mu.Unlock()
}

// Responses streams XHR responses. Old entries should be drained with
// DrainResponses before an action whose response is awaited.
func (p *Page) Responses() <-chan Response { return p.responses }

func (p *Page) DrainResponses() {
	for {
		select {
		case <-p.responses:
		default:
			return
		}
	}
}

// Close closes the tab unless pages are kept open for inspection.
func (p *Page) Close() {
	if p.keepOpen {
		return
	}
	p.closeOnce.Do(p.cancel)
}
