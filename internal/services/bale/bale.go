// Package bale reads the portal's daily OTP from the Bale messenger web app,
// where the operator posts it instead of exposing it through an API.
package bale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"atabat-scraper/internal/services/browser"
)

// ErrNotLoggedIn means the persisted relay profile has no valid session;
// run the bale-login command once to bootstrap it.
var ErrNotLoggedIn = errors.New("bale session not logged in")

const (
	selSubmit      = `[data-testid="submit-button"]`
	selPhoneGroup  = `[role="group"][aria-label="شماره همراه"]`
	selPhoneInput  = `[data-testid="phone-input"] [data-testid="textfield-single-line-input"]`
	selOTPInput    = `[data-testid="otp-input"]`
	selMessage     = `[aria-label="message-item"]`
	installDismiss = "متوجه شدم"
)

type Config struct {
	LoginURL    string
	ChatURL     string
	SenderTitle string
	Phone       string
}

// page is the subset of *browser.Page the relay flows drive.
type page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Click(ctx context.Context, sel string) error
	Fill(ctx context.Context, sel, value string) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	HTML(ctx context.Context, sel string) (string, error)
	Eval(ctx context.Context, js string, res interface{}) error
	Close()
}

// Fetcher owns the relay's browser, separate from the portal's.
type Fetcher struct {
	cfg      Config
	open     func(ctx context.Context) (page, error)
	timeouts browser.Timeouts
	log      *zap.Logger

	// Pauses for client-side redirects after load and after the OTP.
	loadWait time.Duration
	otpWait  time.Duration
}

func New(cfg Config, b *browser.Browser, log *zap.Logger) *Fetcher {
	return &Fetcher{
		cfg: cfg,
		open: func(ctx context.Context) (page, error) {
			return b.NewPage(ctx)
		},
		timeouts: b.Timeouts(),
		log:      log.Named("bale"),
		loadWait: 3 * time.Second,
		otpWait:  2 * time.Second,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) isLoggedIn(ctx context.Context, p page) bool {
	url, err := p.URL(ctx)
	if err != nil {
		return false
	}
	return strings.Contains(url, "/chat") && !strings.Contains(url, "/login")
}

// FetchLatestOTP opens the operator's conversation and returns the newest
// OTP. No matching message yields "" and a nil error.
func (f *Fetcher) FetchLatestOTP(ctx context.Context) (string, error) {
	p, err := f.open(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open relay page: %w", err)
	}
	defer p.Close()

	if err := p.Navigate(ctx, f.cfg.ChatURL); err != nil {
		return "", err
	}
	if !f.isLoggedIn(ctx, p) {
		return "", ErrNotLoggedIn
	}

	// Opening the conversation is best effort; the chat URL usually lands in it.
	titleSel := fmt.Sprintf(`[title=%q]`, f.cfg.SenderTitle)
	if err := p.Click(ctx, titleSel); err != nil {
		f.log.Debug("Conversation title not clickable", zap.Error(err))
	}
	if err := p.WaitVisible(ctx, selMessage, f.timeouts.Medium); err != nil {
		return "", fmt.Errorf("messages did not load: %w", err)
	}

	html, err := p.HTML(ctx, "")
	if err != nil {
		return "", err
	}
	messages := ParseMessages(html)
	f.log.Info("Scanned relay messages", zap.Int("count", len(messages)))

	otp := LatestOTP(messages, f.cfg.SenderTitle)
	if otp == "" {
		f.log.Warn("No OTP message found")
		return "", nil
	}
	f.log.Info("Extracted OTP from relay")
	return otp, nil
}

// EnsureLoggedIn checks the persisted relay session and, when absent, drives
// the phone-number login. promptOTP supplies the code Bale sends by SMS.
func (f *Fetcher) EnsureLoggedIn(ctx context.Context, promptOTP func(ctx context.Context) (string, error)) error {
	p, err := f.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open relay page: %w", err)
	}
	defer p.Close()

	if err := p.Navigate(ctx, f.cfg.ChatURL); err != nil {
		return err
	}
	if err := sleep(ctx, f.loadWait); err != nil {
		return err
	}
	if f.isLoggedIn(ctx, p) {
		f.log.Info("Relay session is valid")
		return nil
	}

	f.log.Info("Relay session missing, starting phone login")
	if err := f.requestCode(ctx, p); err != nil {
		return err
	}

	otp, err := promptOTP(ctx)
	if err != nil {
		return err
	}
	otp = strings.TrimSpace(otp)
	if otp == "" {
		return errors.New("no relay OTP provided")
	}
	return f.enterCode(ctx, p, otp)
}

func (f *Fetcher) requestCode(ctx context.Context, p page) error {
	if err := p.Navigate(ctx, f.cfg.LoginURL); err != nil {
		return err
	}

	// PWA install prompt, present only on some visits.
	var dismissed bool
	js := fmt.Sprintf(`(function(){
		const b = Array.from(document.querySelectorAll("button")).find(x => x.textContent.trim() === %q);
		if (!b) return false;
		b.click();
		return true;
	})()`, installDismiss)
	if err := p.Eval(ctx, js, &dismissed); err == nil && dismissed {
		f.log.Debug("Install dialog dismissed")
	}

	if err := p.Click(ctx, selSubmit); err != nil {
		return fmt.Errorf("failed to open phone form: %w", err)
	}
	if err := p.Click(ctx, selPhoneGroup); err != nil {
		f.log.Debug("Phone group not clickable", zap.Error(err))
	}
	if err := p.Fill(ctx, selPhoneInput, f.cfg.Phone); err != nil {
		return fmt.Errorf("failed to enter phone: %w", err)
	}
	if err := p.Click(ctx, selSubmit); err != nil {
		return fmt.Errorf("failed to submit phone: %w", err)
	}
	if err := p.WaitVisible(ctx, selOTPInput, f.timeouts.Medium); err != nil {
		url, _ := p.URL(ctx)
		return fmt.Errorf("otp input did not appear (at %s): %w", url, err)
	}
	return nil
}

func (f *Fetcher) enterCode(ctx context.Context, p page, otp string) error {
	if err := p.Fill(ctx, selOTPInput, otp); err != nil {
		return fmt.Errorf("failed to enter relay otp: %w", err)
	}
	// Bale submits on the last digit; give the redirect two chances.
	for _, wait := range []time.Duration{f.otpWait, f.loadWait} {
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		if f.isLoggedIn(ctx, p) {
			f.log.Info("Relay login successful")
			return nil
		}
	}
	url, _ := p.URL(ctx)
	return fmt.Errorf("relay login did not reach chat, at %s", url)
}
