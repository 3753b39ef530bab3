package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/jalali"
	"atabat-scraper/internal/models"
	"atabat-scraper/internal/services/adapter"
)

// DefaultJobsFile is read from the working directory.
const DefaultJobsFile = "jobs_config.json"

// JobConfig is one reservation request. Without a trip identifier the first
// search result with room for every passenger is booked.
type JobConfig struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	TripIdentifier string                  `json:"trip_identifier"`
	Filters        models.SearchFilters    `json:"filters"`
	Passengers     []models.PassengerInput `json:"passengers"`
	Retry          bool                    `json:"retry"`
	MaxAttempts    int                     `json:"max_attempts"`
	Schedule       bool                    `json:"schedule"`
	StartDate      string                  `json:"start_date"` // Jalali, "1404/10/01"
	StartTime      string                  `json:"start_time"` // Tehran, "08:00"
}

// Recorder stores a successful booking as a reservation record.
type Recorder interface {
	Record(ctx context.Context, trip models.TripRecord, passengers []models.PassengerInput, out models.ReservationOutcome, receipt *models.ReceiptRecord) (models.Reservation, error)
}

type Runner struct {
	adapter      adapter.Adapter
	records      Recorder
	bookingsPath string
	log          *zap.Logger

	now       func() time.Time
	retryWait time.Duration

	fileMu sync.Mutex
}

// NewRunner builds a job runner. records may be nil.
func NewRunner(a adapter.Adapter, records Recorder, bookingsPath string, log *zap.Logger) *Runner {
	return &Runner{
		adapter:      a,
		records:      records,
		bookingsPath: bookingsPath,
		log:          log.Named("cli"),
		now:          time.Now,
		retryWait:    5 * time.Second,
	}
}

// LoadJobs reads and parses a jobs file.
func LoadJobs(path string) ([]JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var jobs []JobConfig
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no jobs configured in %s", path)
	}
	return jobs, nil
}

// Run executes every job concurrently and waits for all of them. The adapter
// serializes the portal work itself.
func (r *Runner) Run(ctx context.Context, jobs []JobConfig) {
	r.log.Info("Running jobs", zap.Int("count", len(jobs)))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(job JobConfig, num int) {
			defer wg.Done()
			_, _ = r.RunJob(ctx, job, num)
		}(job, i+1)
	}
	wg.Wait()
}

// RunSingle executes the job at index.
func (r *Runner) RunSingle(ctx context.Context, jobs []JobConfig, index int) error {
	if index < 0 || index >= len(jobs) {
		return fmt.Errorf("invalid job index %d (available: 0-%d)", index, len(jobs)-1)
	}
	_, err := r.RunJob(ctx, jobs[index], index+1)
	return err
}

// RunJob books one job. The error carries the outcome's code when the portal
// refused the booking.
func (r *Runner) RunJob(ctx context.Context, job JobConfig, num int) (*Booking, error) {
	log := r.log.With(zap.Int("job", num), zap.String("name", job.Name))
	log.Info("Initializing job")

	if len(job.Passengers) == 0 {
		log.Error("No passengers configured")
		return nil, errcode.New(errcode.InvalidParams, "job has no passengers")
	}

	if job.Schedule {
		if err := r.waitForScheduledTime(ctx, job.StartDate, job.StartTime, log); err != nil {
			log.Error("Schedule error", zap.Error(err))
			return nil, err
		}
	}

	attempts := 1
	if job.Retry {
		attempts = job.MaxAttempts
		if attempts < 1 {
			attempts = 3
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Info("Attempting reservation", zap.Int("attempt", attempt), zap.Int("of", attempts))
		booking, err := r.attempt(ctx, job, log)
		if err == nil {
			return booking, nil
		}
		lastErr = err
		code := errcode.CodeOf(err)
		// Only transient failures and a trip not listed yet are retried. An
		// unknown state may already have booked.
		if code.Category() != errcode.CategoryTransient && !errcode.Is(err, errcode.TripNotFound) {
			log.Warn("Reservation refused", zap.String("code", string(code)), zap.Error(err))
			return nil, err
		}
		if attempt == attempts {
			break
		}
		log.Info("Retrying", zap.Duration("in", r.retryWait), zap.Error(err))
		if err := sleep(ctx, r.retryWait); err != nil {
			return nil, err
		}
	}
	log.Error("Job failed", zap.Error(lastErr))
	return nil, lastErr
}

func (r *Runner) attempt(ctx context.Context, job JobConfig, log *zap.Logger) (*Booking, error) {
	trips, err := r.adapter.SearchTrips(ctx, job.Filters)
	if err != nil {
		return nil, err
	}
	trip, ok := pickTrip(trips, job.TripIdentifier, len(job.Passengers))
	if !ok {
		return nil, errcode.New(errcode.TripNotFound, "no matching trip with enough capacity")
	}
	log.Info("Trip selected", zap.String("trip", trip.TripIdentifier), zap.Int("capacity", trip.RemainingCapacity))

	out := r.adapter.CreateReservation(ctx, trip, job.Passengers)
	if !out.Success {
		return nil, errcode.New(out.Code, out.Message)
	}
	log.Info("Reservation successful", zap.String("resId", out.ExternalReservationID), zap.String("warning", out.Warning))

	var receipt *models.ReceiptRecord
	if rec, err := r.adapter.GetReceipt(ctx, out.ExternalReservationID); err != nil {
		log.Warn("Could not fetch receipt", zap.Error(err))
	} else {
		receipt = &rec
	}
	paymentURL, err := r.adapter.GetPaymentURL(ctx, out.ExternalReservationID)
	if err != nil {
		log.Warn("Could not fetch payment link", zap.Error(err))
	}

	booking := newBooking(job, trip, out, receipt, paymentURL, r.now())
	if err := r.saveBooking(booking); err != nil {
		log.Error("Could not save booking", zap.Error(err))
	}
	if r.records != nil {
		if _, err := r.records.Record(ctx, trip, job.Passengers, out, receipt); err != nil {
			log.Error("Could not record reservation", zap.Error(err))
		}
	}
	return &booking, nil
}

func pickTrip(trips []models.TripRecord, identifier string, seats int) (models.TripRecord, bool) {
	for _, t := range trips {
		if identifier != "" && t.TripIdentifier != strings.TrimSpace(identifier) {
			continue
		}
		if t.RemainingCapacity >= seats {
			return t, true
		}
	}
	return models.TripRecord{}, false
}

// waitForScheduledTime waits until the Jalali start date and time in Tehran.
func (r *Runner) waitForScheduledTime(ctx context.Context, startDate, startTime string, log *zap.Logger) error {
	scheduled, err := jalali.At(startDate, startTime)
	if err != nil {
		return fmt.Errorf("invalid schedule %s %s (use YYYY/MM/DD and HH:MM): %w", startDate, startTime, err)
	}

	now := r.now()
	if !scheduled.After(now) {
		log.Info("Scheduled time has passed, starting immediately", zap.Time("at", scheduled))
		return nil
	}

	wait := scheduled.Sub(now)
	log.Info("Waiting for scheduled time", zap.Time("at", scheduled.In(jalali.Tehran)), zap.Duration("wait", wait))
	if err := sleep(ctx, wait); err != nil {
		log.Info("Schedule cancelled")
		return fmt.Errorf("schedule cancelled: %w", err)
	}
	log.Info("Scheduled time reached, starting")
	return nil
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
