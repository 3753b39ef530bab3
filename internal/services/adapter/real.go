package adapter

import (
	"context"

	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
)

// Automation is the portal driver Real delegates to; *portal.Portal in
// production.
type Automation interface {
	Adapter
	ExistenceChecker
	Refresher
}

// Real serializes the stateful portal flows. ASP.NET view state and the
// shared cookie jar break under interleaved postbacks, so search, create,
// existence checks and authentication take turns.
type Real struct {
	portal Automation
	turn   chan struct{}
	log    *zap.Logger
}

func NewReal(p Automation, log *zap.Logger) *Real {
	return &Real{portal: p, turn: make(chan struct{}, 1), log: log.Named("adapter")}
}

func (r *Real) acquire(ctx context.Context) error {
	select {
	case r.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errcode.Wrap(errcode.Transient, "waiting for portal", ctx.Err())
	}
}

func (r *Real) release() { <-r.turn }

func (r *Real) SearchTrips(ctx context.Context, filters models.SearchFilters) ([]models.TripRecord, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()
	return r.portal.SearchTrips(ctx, filters)
}

func (r *Real) CreateReservation(ctx context.Context, trip models.TripRecord, passengers []models.PassengerInput) models.ReservationOutcome {
	if err := r.acquire(ctx); err != nil {
		return models.Failed(errcode.Transient, err.Error())
	}
	defer r.release()
	out := r.portal.CreateReservation(ctx, trip, passengers)
	if out.Success {
		r.log.Info("Reservation created",
			zap.String("resId", out.ExternalReservationID),
			zap.String("trip", trip.TripIdentifier))
	} else {
		r.log.Warn("Reservation failed",
			zap.String("code", string(out.Code)),
			zap.String("message", out.Message),
			zap.String("trip", trip.TripIdentifier))
	}
	return out
}

func (r *Real) GetReceipt(ctx context.Context, resID string) (models.ReceiptRecord, error) {
	return r.portal.GetReceipt(ctx, resID)
}

func (r *Real) GetPaymentURL(ctx context.Context, resID string) (string, error) {
	return r.portal.GetPaymentURL(ctx, resID)
}

func (r *Real) IsAuthenticated(ctx context.Context) bool {
	return r.portal.IsAuthenticated(ctx)
}

func (r *Real) Authenticate(ctx context.Context) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}
	defer r.release()
	return r.portal.Authenticate(ctx)
}

func (r *Real) ReservationExists(ctx context.Context, resID string) (bool, error) {
	if err := r.acquire(ctx); err != nil {
		return false, err
	}
	defer r.release()
	return r.portal.ReservationExists(ctx, resID)
}

// RefreshOTP uses its own browsing context and does not take a turn.
func (r *Real) RefreshOTP(ctx context.Context) models.RefreshResult {
	return r.portal.RefreshOTP(ctx)
}
