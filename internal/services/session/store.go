// Package session persists the portal's browser cookies and the rotating OTP.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"atabat-scraper/internal/models"
)

// Backend is one place the session record can live.
type Backend interface {
	Load(ctx context.Context) (models.SessionState, bool, error)
	SaveCookies(ctx context.Context, cookies []models.Cookie, at time.Time) error
	SaveOTP(ctx context.Context, otp string, at time.Time) error
}

// Store reads the document store first and falls back to the file copy.
// A cold start with neither present is an empty state, not an error.
type Store struct {
	primary  Backend
	fallback Backend
	log      *zap.Logger
	now      func() time.Time
}

// NewStore builds a store. primary may be nil when no database is
// configured.
func NewStore(primary, fallback Backend, log *zap.Logger) *Store {
	return &Store{primary: primary, fallback: fallback, log: log.Named("session"), now: time.Now}
}

func (s *Store) Load(ctx context.Context) (models.SessionState, error) {
	if s.primary != nil {
		state, ok, err := s.primary.Load(ctx)
		switch {
		case err != nil:
			s.log.Warn("Could not load session from database", zap.Error(err))
		case ok && len(state.CookiesData) > 0:
			return state, nil
		case ok:
			// OTP without cookies: keep the OTP, take cookies from the file.
			if s.fallback != nil {
				if fileState, found, ferr := s.fallback.Load(ctx); ferr == nil && found {
					state.CookiesData = fileState.CookiesData
					state.CookiesExpireAt = fileState.CookiesExpireAt
				}
			}
			return state, nil
		}
	}
	if s.fallback != nil {
		state, ok, err := s.fallback.Load(ctx)
		if err != nil {
			s.log.Warn("Could not load session from file", zap.Error(err))
		} else if ok {
			return state, nil
		}
	}
	s.log.Info("No stored session found")
	return models.SessionState{}, nil
}

// SaveCookies writes cookies to both backends. Failures are logged only.
func (s *Store) SaveCookies(ctx context.Context, cookies []models.Cookie) {
	at := s.now()
	if s.fallback != nil {
		if err := s.fallback.SaveCookies(ctx, cookies, at); err != nil {
			s.log.Warn("Failed to save cookies to file", zap.Error(err))
		}
	}
	if s.primary != nil {
		if err := s.primary.SaveCookies(ctx, cookies, at); err != nil {
			s.log.Warn("Failed to save cookies to database", zap.Error(err))
		}
	}
}

// SaveOTP records a freshly fetched OTP. It fails only when no backend
// accepted the value.
func (s *Store) SaveOTP(ctx context.Context, otp string) error {
	at := s.now()
	var firstErr error
	saved := false
	for _, b := range []Backend{s.primary, s.fallback} {
		if b == nil {
			continue
		}
		if err := b.SaveOTP(ctx, otp, at); err != nil {
			s.log.Warn("Failed to save OTP", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		saved = true
	}
	if !saved {
		return firstErr
	}
	return nil
}
