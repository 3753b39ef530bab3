package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/jalali"
	"atabat-scraper/internal/models"
)

const (
	selUsername     = "#tbUserName"
	selPassword     = "#tbPass"
	selCaptchaImage = "#captcha_image"
	selCaptchaInput = "#captcha_response_field"
	selLoginButton  = "#btnEnter"
	selLoginError   = "#lblmsg"

	selOTPInput  = "#ctl00_cp1_txtCode"
	selOTPVerify = "#ctl00_cp1_btnVerifyCode"
	selOTPError  = "#ctl00_cp1_lblMsg"
)

type authState int

const (
	stateUnknown authState = iota
	stateAtLogin
	stateAtOTP
	stateAuthenticated
)

func (s authState) String() string {
	switch s {
	case stateAtLogin:
		return "login"
	case stateAtOTP:
		return "otp"
	case stateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

func detectState(ctx context.Context, pg Page) authState {
	url, _ := pg.URL(ctx)
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "verify_mobileno") || pg.Visible(ctx, selOTPInput):
		return stateAtOTP
	case strings.Contains(u, "login") || pg.Visible(ctx, selUsername):
		return stateAtLogin
	case strings.Contains(u, "default"):
		return stateAuthenticated
	}
	return stateUnknown
}

// IsAuthenticated probes the shared context's session on a throwaway page.
func (p *Portal) IsAuthenticated(ctx context.Context) bool {
	pg, err := p.deps.Pages.NewPage(ctx)
	if err != nil {
		p.log.Warn("Could not open page for session probe", zap.Error(err))
		return false
	}
	defer pg.Close()
	return p.deps.Pages.IsSessionValid(ctx, pg)
}

// Authenticate logs the shared context in. Concurrent callers join the
// attempt already in flight and share its result.
func (p *Portal) Authenticate(ctx context.Context) error {
	_, err, shared := p.auth.Do("authenticate", func() (interface{}, error) {
		return nil, p.authenticate(ctx)
	})
	if shared {
		p.log.Debug("Joined in-flight authentication")
	}
	return err
}

func (p *Portal) authenticate(ctx context.Context) error {
	state, err := p.deps.Store.Load(ctx)
	if err != nil {
		p.log.Warn("Could not load session state", zap.Error(err))
	}

	pg, err := p.deps.Pages.NewPage(ctx)
	if err != nil {
		return errcode.Wrap(errcode.Transient, "failed to open login page", err)
	}
	defer pg.Close()

	if err := pg.Navigate(ctx, p.url(loginPath)); err != nil {
		return errcode.Wrap(errcode.Transient, "failed to open login page", err)
	}

	return p.login(ctx, pg, state, func(ctx context.Context) (string, error) {
		return p.currentOTP(ctx, state)
	})
}

// login runs the login state machine on pg from wherever it currently is.
func (p *Portal) login(ctx context.Context, pg Page, state models.SessionState, otp func(ctx context.Context) (string, error)) error {
	st := detectState(ctx, pg)
	p.log.Info("Starting authentication", zap.Stringer("state", st))

	if st == stateAtLogin || st == stateUnknown {
		var err error
		if st, err = p.solveLogin(ctx, pg, p.captchaAttempts(state)); err != nil {
			return err
		}
	}

	if st == stateAtOTP {
		code, err := otp(ctx)
		if err != nil {
			return err
		}
		if err := p.submitOTP(ctx, pg, code); err != nil {
			return err
		}
	}

	p.saveCookies(ctx, pg)
	p.log.Info("Authentication successful")
	return nil
}

func (p *Portal) captchaAttempts(state models.SessionState) int {
	if state.CaptchaMaxAttempts > 0 {
		return state.CaptchaMaxAttempts
	}
	return p.cfg.CaptchaMaxAttempts
}

// solveLogin fills the credentials and retries the CAPTCHA until the portal
// moves past the login page or the attempts run out.
func (p *Portal) solveLogin(ctx context.Context, pg Page, attempts int) (authState, error) {
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return stateUnknown, err
		}
		log := p.log.With(zap.Int("attempt", attempt), zap.Int("max", attempts))
		log.Info("Login attempt")

		if err := pg.Fill(ctx, selUsername, p.cfg.Username); err != nil {
			log.Warn("Could not fill username", zap.Error(err))
			p.refreshCaptcha(ctx, pg)
			continue
		}
		if err := pg.Fill(ctx, selPassword, p.cfg.Password); err != nil {
			log.Warn("Could not fill password", zap.Error(err))
			p.refreshCaptcha(ctx, pg)
			continue
		}

		code, err := p.readCaptcha(ctx, pg)
		if err != nil || code == "" {
			log.Warn("CAPTCHA not solved, refreshing", zap.Error(err))
			p.refreshCaptcha(ctx, pg)
			continue
		}
		log.Debug("CAPTCHA solved", zap.String("code", code))

		if err := pg.Fill(ctx, selCaptchaInput, code); err != nil {
			log.Warn("Could not fill CAPTCHA", zap.Error(err))
			continue
		}
		if err := pg.Click(ctx, selLoginButton); err != nil {
			log.Warn("Could not submit login", zap.Error(err))
			continue
		}
		if err := sleep(ctx, p.waits.afterLogin); err != nil {
			return stateUnknown, err
		}

		switch st := detectState(ctx, pg); st {
		case stateAtOTP, stateAuthenticated:
			log.Info("Login accepted", zap.Stringer("state", st))
			return st, nil
		}
		if msg := pg.Text(ctx, selLoginError); msg != "" {
			log.Info("Login rejected", zap.String("message", msg))
		}
		p.refreshCaptcha(ctx, pg)
	}
	return stateUnknown, errcode.New(errcode.CaptchaExhausted,
		fmt.Sprintf("login not accepted after %d CAPTCHA attempts", attempts))
}

func (p *Portal) readCaptcha(ctx context.Context, pg Page) (string, error) {
	if err := pg.WaitVisible(ctx, selCaptchaImage, p.cfg.Timeouts.Short); err != nil {
		return "", fmt.Errorf("captcha image missing: %w", err)
	}
	png, err := pg.CaptureImage(ctx, selCaptchaImage)
	if err != nil {
		return "", err
	}
	return p.deps.Solver.SolveImage(ctx, png)
}

// refreshCaptcha asks the portal for a new challenge by clicking the image.
func (p *Portal) refreshCaptcha(ctx context.Context, pg Page) {
	if err := pg.Click(ctx, selCaptchaImage); err != nil {
		p.log.Debug("CAPTCHA refresh click failed", zap.Error(err))
	}
	_ = sleep(ctx, p.waits.captchaRefresh)
}

// submitOTP enters code on the verification page. A portal error is final
// for this run; the OTP is refreshed out of band.
func (p *Portal) submitOTP(ctx context.Context, pg Page, code string) error {
	if err := pg.Fill(ctx, selOTPInput, code); err != nil {
		return errcode.Wrap(errcode.Transient, "failed to fill OTP", err)
	}
	if err := pg.Click(ctx, selOTPVerify); err != nil {
		return errcode.Wrap(errcode.Transient, "failed to submit OTP", err)
	}
	if err := sleep(ctx, p.waits.afterOTP); err != nil {
		return err
	}

	if detectState(ctx, pg) == stateAuthenticated {
		return nil
	}
	msg := pg.Text(ctx, selOTPError)
	if msg == "" {
		msg = "OTP verification did not reach the dashboard"
	}
	p.log.Warn("OTP rejected", zap.String("message", msg))
	return errcode.New(errcode.OTPRejected, msg)
}

// currentOTP returns the stored OTP when it was updated on the current
// Tehran day, otherwise a fresh one from the relay.
func (p *Portal) currentOTP(ctx context.Context, state models.SessionState) (string, error) {
	fresh := state.CurrentOTP != "" && state.OTPLastUpdated != nil && jalali.SameDay(*state.OTPLastUpdated, p.now())
	if fresh {
		return state.CurrentOTP, nil
	}
	if p.deps.OTP == nil {
		if state.CurrentOTP != "" {
			p.log.Warn("Stored OTP is stale and no relay is configured, using it anyway")
			return state.CurrentOTP, nil
		}
		return "", errcode.New(errcode.OTPUnavailable, "no OTP stored and no relay configured")
	}

	p.log.Info("Stored OTP is stale, fetching from relay")
	otp, err := p.deps.OTP.FetchLatestOTP(ctx)
	if err == nil && otp == "" {
		err = errors.New("no OTP message in relay")
	}
	if err != nil {
		if state.CurrentOTP != "" {
			p.log.Warn("Relay fetch failed, using stored OTP", zap.Error(err))
			return state.CurrentOTP, nil
		}
		return "", errcode.Wrap(errcode.OTPUnavailable, "could not obtain OTP", err)
	}
	if err := p.deps.Store.SaveOTP(ctx, otp); err != nil {
		p.log.Warn("Failed to persist fetched OTP", zap.Error(err))
	}
	return otp, nil
}

func (p *Portal) saveCookies(ctx context.Context, pg Page) {
	cookies, err := pg.Cookies(ctx)
	if err != nil {
		p.log.Warn("Could not read cookies after login", zap.Error(err))
		return
	}
	p.deps.Store.SaveCookies(ctx, cookies)
}

// ensureSession re-authenticates when pg's session probe fails.
func (p *Portal) ensureSession(ctx context.Context, pg Page) error {
	if p.deps.Pages.IsSessionValid(ctx, pg) {
		return nil
	}
	p.log.Info("Session invalid, authenticating")
	if err := p.Authenticate(ctx); err != nil {
		return err
	}
	return nil
}
