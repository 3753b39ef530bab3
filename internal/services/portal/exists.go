package portal

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
)

const (
	selPassengerGrid = "#ctl00_cp1_grdPassenger"
	selErrorBox      = ".alert-danger, .error-message"
	selLoginMarkers  = "#ctl00_cp1_txtUsername, " + selUsername
)

// ReservationExists loads the reservation page of resID and reports whether
// the portal still shows it. Navigation failures are returned; deciding
// what they mean is left to the caller.
func (p *Portal) ReservationExists(ctx context.Context, resID string) (bool, error) {
	resID = strings.TrimSpace(resID)
	if resID == "" {
		return false, errcode.New(errcode.InvalidParams, "reservation id is required")
	}

	pg, err := p.deps.Pages.NewPage(ctx)
	if err != nil {
		return false, errcode.Wrap(errcode.Transient, "failed to open page", err)
	}
	defer pg.Close()

	if err := p.ensureSession(ctx, pg); err != nil {
		return false, err
	}
	if err := pg.Navigate(ctx, p.url(reservationPath)+url.QueryEscape(resID)); err != nil {
		return false, errcode.Wrap(errcode.Transient, "failed to open reservation page", err)
	}
	u, err := pg.URL(ctx)
	if err != nil {
		return false, errcode.Wrap(errcode.Transient, "failed to read location", err)
	}
	html, err := pg.HTML(ctx, "")
	if err != nil {
		return false, errcode.Wrap(errcode.Transient, "failed to read reservation page", err)
	}

	exists := reservationPresent(u, html)
	p.log.Info("Reservation existence checked", zap.String("resId", resID), zap.Bool("exists", exists))
	return exists, nil
}

// reservationPresent interprets a loaded reservation page. A login redirect
// or a visible error means the reservation is gone; otherwise the passenger
// grid must be present.
func reservationPresent(location, html string) bool {
	if strings.Contains(strings.ToLower(location), "login") {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	if doc.Find(selLoginMarkers).Length() > 0 || doc.Find(selErrorBox).Length() > 0 {
		return false
	}
	return doc.Find(selPassengerGrid).Length() > 0
}
