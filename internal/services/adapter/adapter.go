// Package adapter is the one surface the booking application drives: the
// real portal automation or a deterministic in-memory simulation, chosen once
// per process.
package adapter

import (
	"context"

	"atabat-scraper/internal/models"
)

// Adapter is implemented by Real and Mock with identical semantics.
type Adapter interface {
	SearchTrips(ctx context.Context, filters models.SearchFilters) ([]models.TripRecord, error)
	// CreateReservation never returns an error; every failure is an outcome.
	CreateReservation(ctx context.Context, trip models.TripRecord, passengers []models.PassengerInput) models.ReservationOutcome
	GetReceipt(ctx context.Context, resID string) (models.ReceiptRecord, error)
	GetPaymentURL(ctx context.Context, resID string) (string, error)
	IsAuthenticated(ctx context.Context) bool
	Authenticate(ctx context.Context) error
}

// ExistenceChecker probes whether a reservation is still on the portal.
type ExistenceChecker interface {
	ReservationExists(ctx context.Context, resID string) (bool, error)
}

// Refresher runs the daily OTP refresh.
type Refresher interface {
	RefreshOTP(ctx context.Context) models.RefreshResult
}

var (
	_ Adapter          = (*Real)(nil)
	_ ExistenceChecker = (*Real)(nil)
	_ Refresher        = (*Real)(nil)
	_ Adapter          = (*Mock)(nil)
	_ ExistenceChecker = (*Mock)(nil)
	_ Refresher        = (*Mock)(nil)
)
