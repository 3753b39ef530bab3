package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
)

const (
	selNationalID     = "#txtMelliCode"
	selBirthdate      = "#txtBDate"
	selPhone          = "#txtEmergincyTel"
	selSavePassenger  = "#ctl00_cp1_btnSave"
	selFieldError     = "#ctl00_cp1_lblError"
	selGlobalError    = "#lblmessage"
	selPassengerRows  = "#ctl00_cp1_grdPassenger tr > td:first-child"
	selConfirm        = "#ctl00_cp1_btnSaveData"
	passengerXHRMatch = "Reservation_cs.aspx"
	receiptPage       = "/receipt.aspx"

	requiredCountJS = `(function(){
		if (typeof maxRequestCount === "undefined") return 0;
		const n = parseInt(maxRequestCount, 10);
		return isNaN(n) ? 0 : n;
	})()`
)

const (
	msgTripGone      = "trip is no longer available"
	msgUnknownState  = "portal gave no result for the passenger, verify the reservation before retrying"
	msgConfirmStuck  = "confirmation produced no receipt or error, check reservation status before retrying"
	msgCountDefaults = "required passenger count not found on trip page, assuming 1"
)

// CreateReservation books trip for passengers. The trip is searched again to
// obtain a live selection token, so only its identifying fields matter.
// Every failure is reported in the outcome.
func (p *Portal) CreateReservation(ctx context.Context, trip models.TripRecord, passengers []models.PassengerInput) models.ReservationOutcome {
	passengers, failed := models.PrepareRoster(passengers)
	if failed != nil {
		return *failed
	}

	pg, err := p.deps.Pages.NewPage(ctx)
	if err != nil {
		return models.Failed(errcode.Transient, "failed to open page: "+err.Error())
	}
	defer pg.Close()

	log := p.log.With(zap.String("trip", trip.TripIdentifier), zap.Int("passengers", len(passengers)))

	live, outcome := p.resolveTrip(ctx, pg, trip, len(passengers))
	if outcome != nil {
		log.Info("Trip could not be resolved", zap.String("code", string(outcome.Code)))
		return *outcome
	}

	pg.ResetDialogs()
	if err := p.selectTrip(ctx, pg, live.SelectionToken); err != nil {
		msg := p.pageFailureText(ctx, pg)
		if msg == "" {
			return models.Failed(errcode.CodeOf(err), "failed to open trip page: "+err.Error())
		}
		return models.Failed(errcode.Classify(msg), msg)
	}

	required := p.requiredCount(ctx, pg)
	var warning string
	if required == 0 {
		log.Warn(msgCountDefaults)
		required, warning = 1, msgCountDefaults
	}
	log.Info("Trip page opened", zap.Int("required", required))
	if len(passengers) < required {
		out := models.Failed(errcode.InsufficientPassengers,
			fmt.Sprintf("trip requires %d passengers, got %d", required, len(passengers)))
		out.RequiredPassengerCount = required
		return out
	}

	results, outcome := p.addPassengers(ctx, pg, passengers, required, log)
	if outcome != nil {
		outcome.RequiredPassengerCount = required
		return *outcome
	}

	out := p.confirm(ctx, pg, required, log)
	out.RequiredPassengerCount = required
	out.PassengerResults = results
	if out.Success {
		out.Warning = warning
	}
	return out
}

func messageOf(err error) string {
	var e *errcode.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// resolveTrip searches again with filters rebuilt from trip and returns the
// row with the same identifier, carrying a token for this page.
func (p *Portal) resolveTrip(ctx context.Context, pg Page, trip models.TripRecord, adults int) (models.TripRecord, *models.ReservationOutcome) {
	filters := models.SearchFilters{
		DateFrom:     trip.DepartureDate,
		DateTo:       trip.DepartureDate,
		ProvinceCode: trip.ProvinceCode,
		BorderType:   models.InferBorderType(trip.TripType),
		AdultCount:   adults,
	}
	if filters.ProvinceCode == "" {
		filters.ProvinceCode = models.ProvinceAll
	}
	filters, err := filters.Validate()
	if err != nil {
		out := models.Failed(errcode.InvalidParams, messageOf(err))
		return models.TripRecord{}, &out
	}

	trips, err := p.searchOnPage(ctx, pg, filters)
	if err != nil {
		out := models.Failed(errcode.CodeOf(err), err.Error())
		return models.TripRecord{}, &out
	}
	for _, t := range trips {
		if t.TripIdentifier == trip.TripIdentifier {
			return t, nil
		}
	}
	out := models.Failed(errcode.TripNotFound, msgTripGone)
	return models.TripRecord{}, &out
}

func (p *Portal) requiredCount(ctx context.Context, pg Page) int {
	var n int
	if err := pg.Eval(ctx, requiredCountJS, &n); err != nil {
		p.log.Debug("Could not read required passenger count", zap.Error(err))
		return 0
	}
	return n
}

// addPassengers registers passengers in order and stops at the first
// failure, returning the failed outcome with the results so far.
func (p *Portal) addPassengers(ctx context.Context, pg Page, passengers []models.PassengerInput, required int, log *zap.Logger) ([]models.PassengerResult, *models.ReservationOutcome) {
	var results []models.PassengerResult
	fail := func(code errcode.Code, msg string) *models.ReservationOutcome {
		out := models.Failed(code, msg)
		out.PassengerResults = results
		return &out
	}

	for i, ps := range passengers {
		plog := log.With(zap.Int("passenger", i+1))
		before := pg.Count(ctx, selPassengerRows)

		if !pg.Visible(ctx, selNationalID) {
			if before >= required {
				plog.Info("Passenger form closed with required count met", zap.Int("rows", before))
				break
			}
			return results, fail(errcode.UnknownState, "passenger form is no longer available")
		}

		if err := p.fillPassenger(ctx, pg, ps); err != nil {
			results = append(results, models.PassengerResult{NationalID: ps.NationalID, Message: err.Error(), Code: errcode.Transient})
			return results, fail(errcode.Transient, "failed to fill passenger form: "+err.Error())
		}

		pg.ResetDialogs()
		pg.DrainResponses()
		if err := pg.Click(ctx, selSavePassenger); err != nil {
			results = append(results, models.PassengerResult{NationalID: ps.NationalID, Message: err.Error(), Code: errcode.Transient})
			return results, fail(errcode.Transient, "failed to submit passenger: "+err.Error())
		}

		signal := firstOf(ctx, p.cfg.Timeouts.Ajax,
			awaitResponse(pg, passengerXHRMatch),
			p.awaitRowsAbove(pg, selPassengerRows, before),
			p.awaitText(pg, selFieldError),
			p.awaitText(pg, selGlobalError),
		)
		grace := -1
		if signal == 0 {
			// Response headers land before the update panel re-renders.
			grace = firstOf(ctx, p.cfg.Timeouts.Short,
				p.awaitRowsAbove(pg, selPassengerRows, before),
				p.awaitText(pg, selFieldError),
				p.awaitText(pg, selGlobalError),
				p.awaitFailureDialog(pg),
			)
		}
		plog.Debug("Passenger submission settled", zap.Int("signal", signal), zap.Int("afterResponse", grace))

		res := p.settlePassenger(ctx, pg, ps, before)
		results = append(results, res)
		if !res.Success {
			plog.Warn("Passenger rejected", zap.String("code", string(res.Code)), zap.String("message", res.Message))
			out := fail(res.Code, res.Message)
			if res.Code == errcode.PassengerDuplicate {
				out.DuplicateNationalID = errcode.ExtractNationalID(res.Message)
			}
			return results, out
		}
		plog.Info("Passenger added")
	}
	return results, nil
}

func (p *Portal) fillPassenger(ctx context.Context, pg Page, ps models.PassengerInput) error {
	for _, f := range []struct{ sel, value string }{
		{selNationalID, ps.NationalID},
		{selBirthdate, ps.Birthdate},
		{selPhone, ps.Phone},
	} {
		if err := pg.Fill(ctx, f.sel, f.value); err != nil {
			return err
		}
	}
	return nil
}

// settlePassenger reads the authoritative page state after a submission,
// whichever signal ended the wait.
func (p *Portal) settlePassenger(ctx context.Context, pg Page, ps models.PassengerInput, before int) models.PassengerResult {
	res := models.PassengerResult{NationalID: ps.NationalID}

	labels := []string{pg.Text(ctx, selFieldError), pg.Text(ctx, selGlobalError)}
	candidates := append(labels, pg.Dialogs()...)
	for _, msg := range candidates {
		if errcode.IsFailureText(msg) {
			res.Message, res.Code = msg, errcode.Classify(msg)
			return res
		}
	}

	if pg.Count(ctx, selPassengerRows) > before {
		res.Success = true
		return res
	}
	for _, msg := range labels {
		if msg != "" {
			res.Message, res.Code = msg, errcode.ReservationFailed
			return res
		}
	}
	res.Message, res.Code = msgUnknownState, errcode.UnknownState
	return res
}

// confirm checks the registered count and submits the reservation. Only a
// move to the receipt page is a success; the passenger page itself carries
// a resid too.
func (p *Portal) confirm(ctx context.Context, pg Page, required int, log *zap.Logger) models.ReservationOutcome {
	if n := pg.Count(ctx, selPassengerRows); n < required {
		return models.Failed(errcode.ReservationFailed,
			fmt.Sprintf("only %d of %d required passengers registered", n, required))
	}

	before, _ := pg.URL(ctx)
	stale := pg.Text(ctx, selGlobalError)
	if err := pg.Click(ctx, selConfirm); err != nil {
		return models.Failed(errcode.Transient, "failed to confirm reservation: "+err.Error())
	}

	firstOf(ctx, p.cfg.Timeouts.Long,
		func(ctx context.Context) bool {
			return poll(ctx, p.waits.poll, func(ctx context.Context) bool {
				u, _ := pg.URL(ctx)
				return receiptIDFromURL(u, before) != ""
			})
		},
		p.awaitNewText(pg, selGlobalError, stale),
	)

	if msg := pg.Text(ctx, selGlobalError); msg != "" && (msg != stale || errcode.IsFailureText(msg)) {
		log.Warn("Confirmation rejected", zap.String("message", msg))
		return models.Failed(errcode.Classify(msg), msg)
	}
	u, _ := pg.URL(ctx)
	if id := receiptIDFromURL(u, before); id != "" {
		log.Info("Reservation created", zap.String("resId", id))
		return models.ReservationOutcome{Success: true, ExternalReservationID: id}
	}
	log.Warn("Confirmation outcome unknown", zap.String("url", u))
	return models.Failed(errcode.UnknownState, msgConfirmStuck)
}

// receiptIDFromURL returns the reservation id once the page has left before
// for the receipt page.
func receiptIDFromURL(raw, before string) string {
	if raw == "" || raw == before {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || !strings.HasSuffix(strings.ToLower(u.Path), receiptPage) {
		return ""
	}
	return reservationIDFromURL(raw)
}

// reservationIDFromURL returns the resId query parameter, matched without
// regard to case.
func reservationIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	for k, v := range u.Query() {
		if strings.EqualFold(k, "resid") && len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return ""
}

// pageFailureText returns the first failure text shown by the page or a
// dialog.
func (p *Portal) pageFailureText(ctx context.Context, pg Page) string {
	candidates := append([]string{pg.Text(ctx, selGlobalError)}, pg.Dialogs()...)
	for _, msg := range candidates {
		if errcode.IsFailureText(msg) {
			return msg
		}
	}
	return ""
}
