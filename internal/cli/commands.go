package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"atabat-scraper/internal/models"
	"atabat-scraper/internal/services/adapter"
)

// Lister returns reservation records, revalidating pending ones.
type Lister interface {
	List(ctx context.Context) ([]models.Reservation, error)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Search prints the trips matching f.
func Search(ctx context.Context, a adapter.Adapter, f models.SearchFilters, w io.Writer) error {
	trips, err := a.SearchTrips(ctx, f)
	if err != nil {
		return err
	}
	return writeJSON(w, trips)
}

// Receipt prints a reservation's receipt.
func Receipt(ctx context.Context, a adapter.Adapter, resID string, w io.Writer) error {
	r, err := a.GetReceipt(ctx, resID)
	if err != nil {
		return err
	}
	return writeJSON(w, r)
}

// Auth logs in unless the session is already valid.
func Auth(ctx context.Context, a adapter.Adapter, w io.Writer) error {
	if a.IsAuthenticated(ctx) {
		return writeJSON(w, map[string]interface{}{"authenticated": true, "fresh": false})
	}
	if err := a.Authenticate(ctx); err != nil {
		return err
	}
	return writeJSON(w, map[string]interface{}{"authenticated": true, "fresh": true})
}

// Status prints every recorded reservation after revalidation.
func Status(ctx context.Context, l Lister, w io.Writer) error {
	all, err := l.List(ctx)
	if err != nil {
		return err
	}
	return writeJSON(w, all)
}

// RefreshOTP runs one refresh in process and prints its result.
func RefreshOTP(ctx context.Context, r adapter.Refresher, w io.Writer) error {
	res := r.RefreshOTP(ctx)
	if err := writeJSON(w, res); err != nil {
		return err
	}
	if !res.Success {
		return errors.New("otp refresh failed: " + res.Error)
	}
	return nil
}
