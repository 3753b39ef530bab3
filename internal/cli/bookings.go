package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"atabat-scraper/internal/jalali"
	"atabat-scraper/internal/models"
)

// DefaultBookingsFile collects every successful booking.
const DefaultBookingsFile = "bookings.json"

type Booking struct {
	JobID          string   `json:"job_id"`
	JobName        string   `json:"job_name"`
	ResID          string   `json:"res_id"`
	TripIdentifier string   `json:"trip_identifier"`
	DepartureDate  string   `json:"departure_date"`
	City           string   `json:"city"`
	TripType       string   `json:"trip_type"`
	AgentName      string   `json:"agent_name"`
	NationalIDs    []string `json:"national_ids"`
	Total          int64    `json:"total"`
	ExpireDate     string   `json:"expire_date,omitempty"`
	PaymentURL     string   `json:"payment_url,omitempty"`
	Warning        string   `json:"warning,omitempty"`
	BookedAt       string   `json:"booked_at"`
}

func newBooking(job JobConfig, trip models.TripRecord, out models.ReservationOutcome, receipt *models.ReceiptRecord, paymentURL string, at time.Time) Booking {
	b := Booking{
		JobID:          job.ID,
		JobName:        job.Name,
		ResID:          out.ExternalReservationID,
		TripIdentifier: trip.TripIdentifier,
		DepartureDate:  trip.DepartureDate,
		City:           trip.City,
		TripType:       trip.TripType,
		AgentName:      trip.AgentName,
		PaymentURL:     paymentURL,
		Warning:        out.Warning,
		BookedAt:       jalali.Format(at) + " " + at.In(jalali.Tehran).Format("15:04:05"),
	}
	for _, p := range job.Passengers {
		b.NationalIDs = append(b.NationalIDs, p.Normalize().NationalID)
	}
	b.Total = trip.Cost * int64(len(job.Passengers))
	if receipt != nil {
		b.ExpireDate = receipt.ExpireDate
		if len(receipt.Passengers) > 0 {
			b.Total = 0
			for _, p := range receipt.Passengers {
				b.Total += p.Cost
			}
		}
		if b.PaymentURL == "" {
			b.PaymentURL = receipt.PaymentURL
		}
	}
	return b
}

// saveBooking appends to the bookings file. A missing or unreadable file
// starts a new list.
func (r *Runner) saveBooking(b Booking) error {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	var bookings []Booking
	if data, err := os.ReadFile(r.bookingsPath); err == nil {
		_ = json.Unmarshal(data, &bookings)
	}
	bookings = append(bookings, b)

	data, err := json.MarshalIndent(bookings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode bookings: %w", err)
	}
	if err := os.WriteFile(r.bookingsPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.bookingsPath, err)
	}
	r.log.Info("Booking saved to file", zap.String("resId", b.ResID), zap.String("path", r.bookingsPath))
	return nil
}
