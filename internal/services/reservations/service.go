package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
)

// DefaultBuffer is how long a validation result is trusted.
const DefaultBuffer = 30 * time.Minute

// Prober reports whether the portal still holds a reservation.
type Prober interface {
	ReservationExists(ctx context.Context, resID string) (bool, error)
}

type Options struct {
	// Buffer skips a probe when the last one is more recent than this.
	Buffer time.Duration
	// PerMinute caps portal probes; zero or less means unlimited.
	PerMinute int
}

type Service struct {
	repo    Repository
	probe   Prober
	buffer  time.Duration
	limiter *rate.Limiter
	now     func() time.Time
	log     *zap.Logger
}

func NewService(repo Repository, probe Prober, opts Options, log *zap.Logger) *Service {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	limit := rate.Inf
	if opts.PerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.PerMinute))
	}
	return &Service{
		repo:    repo,
		probe:   probe,
		buffer:  opts.Buffer,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		log:     log.Named("reservations"),
	}
}

// Record stores a successful outcome as a pending reservation.
func (s *Service) Record(ctx context.Context, trip models.TripRecord, passengers []models.PassengerInput, out models.ReservationOutcome, receipt *models.ReceiptRecord) (models.Reservation, error) {
	if !out.Success || out.ExternalReservationID == "" {
		return models.Reservation{}, errcode.New(errcode.InvalidParams, "only successful reservations are recorded")
	}
	now := s.now()
	r := models.Reservation{
		ID:            uuid.NewString(),
		ExternalResID: out.ExternalReservationID,
		Status:        models.StatusPending,
		TripSnapshot:  trip.Snapshot(),
		Passengers:    passengers,
		ReceiptData:   receipt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, r); err != nil {
		return models.Reservation{}, err
	}
	s.log.Info("Reservation recorded", zap.String("id", r.ID), zap.String("resId", r.ExternalResID))
	return r, nil
}

// Get returns a reservation, first checking a due pending one against the
// portal. A failed probe leaves the record as it was.
func (s *Service) Get(ctx context.Context, id string) (models.Reservation, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return r, err
	}
	return s.revalidate(ctx, r), nil
}

// List returns every reservation, revalidating due ones within the probe
// budget.
func (s *Service) List(ctx context.Context) ([]models.Reservation, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i] = s.revalidate(ctx, all[i])
	}
	return all, nil
}

func (s *Service) due(r models.Reservation, now time.Time) bool {
	if r.Status != models.StatusPending || r.ExternalResID == "" || s.probe == nil {
		return false
	}
	// Never validated means due.
	if r.LastValidatedAt == nil {
		return true
	}
	return now.Sub(*r.LastValidatedAt) >= s.buffer
}

func (s *Service) revalidate(ctx context.Context, r models.Reservation) models.Reservation {
	now := s.now()
	if !s.due(r, now) {
		return r
	}
	log := s.log.With(zap.String("id", r.ID), zap.String("resId", r.ExternalResID))
	if !s.limiter.AllowN(now, 1) {
		log.Debug("Probe budget spent, serving cached state")
		return r
	}

	exists, err := s.probe.ReservationExists(ctx, r.ExternalResID)
	if err != nil {
		log.Warn("Existence check failed, assuming reservation is still valid", zap.Error(err))
		return r
	}

	u := models.ValidationUpdate{LastValidatedAt: now}
	if !exists {
		cancelled := models.StatusCancelled
		u.Status = &cancelled
	}
	if err := s.repo.ApplyValidation(ctx, r.ID, u); err != nil {
		log.Warn("Could not store validation result", zap.Error(err))
		return r
	}

	r.LastValidatedAt = &now
	r.UpdatedAt = now
	if u.Status != nil {
		log.Info("Reservation no longer on portal, marked cancelled")
		r.Status = *u.Status
	}
	return r
}
