package portal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"atabat-scraper/internal/models"
)

// RefreshOTP logs in from a fresh context up to the OTP page, reads today's
// code from the relay, stores it and completes the login with it. Every
// failure resolves to a result value.
func (p *Portal) RefreshOTP(ctx context.Context) (res models.RefreshResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("OTP refresh panicked", zap.Any("panic", r))
			res = models.RefreshResult{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	otp, err := p.refreshOTP(ctx)
	if err != nil {
		p.log.Error("OTP refresh failed", zap.Error(err))
		return models.RefreshResult{NewOTP: otp, Error: err.Error()}
	}
	p.log.Info("OTP refreshed")
	return models.RefreshResult{Success: true, NewOTP: otp}
}

func (p *Portal) refreshOTP(ctx context.Context) (string, error) {
	if p.deps.OTP == nil {
		return "", errors.New("no OTP relay configured")
	}
	if p.deps.Fresh == nil {
		return "", errors.New("no fresh browser context available")
	}

	pages, release, err := p.deps.Fresh(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open fresh context: %w", err)
	}
	defer release()

	pg, err := pages.NewPage(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer pg.Close()

	if err := pg.Navigate(ctx, p.url(loginPath)); err != nil {
		return "", err
	}

	state, err := p.deps.Store.Load(ctx)
	if err != nil {
		p.log.Warn("Could not load session state", zap.Error(err))
	}

	st := detectState(ctx, pg)
	if st != stateAtOTP {
		if st, err = p.solveLogin(ctx, pg, p.captchaAttempts(state)); err != nil {
			return "", err
		}
	}
	if st != stateAtOTP {
		return "", fmt.Errorf("expected OTP page after login, got %s", st)
	}

	otp, err := p.deps.OTP.FetchLatestOTP(ctx)
	if err != nil {
		return "", fmt.Errorf("relay fetch failed: %w", err)
	}
	if otp == "" {
		return "", errors.New("no OTP message found in relay")
	}
	if err := p.deps.Store.SaveOTP(ctx, otp); err != nil {
		p.log.Warn("Failed to persist OTP", zap.Error(err))
	}

	if err := p.submitOTP(ctx, pg, otp); err != nil {
		return otp, err
	}
	p.saveCookies(ctx, pg)
	return otp, nil
}
