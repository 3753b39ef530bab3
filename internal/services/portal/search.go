package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
)

const (
	selDateFrom     = "#txtDateFrom"
	selDateTo       = "#txtDateto"
	selProvince     = "#ctl00_cp1_cmbProvince"
	selBorder       = "#ctl00_cp1_cmbBorder"
	selAdultCount   = "#ctl00_cp1_cmbCount"
	selInfantCount  = "#ctl00_cp1_cmbUnder2Year"
	selSearchButton = "#ctl00_cp1_btnSearch"
	selTripGrid     = "#ctl00_cp1_grdKargroup"

	tripColumns = 15
)

var (
	rowIndexPattern = regexp.MustCompile(`Select\$(\d+)`)
	postBackPattern = regexp.MustCompile(`__doPostBack\(['"]([^'"]+)['"],\s*['"]([^'"]+)['"]\)`)
)

// SearchTrips validates the filters, runs the portal search on a new page and
// returns the parsed grid.
func (p *Portal) SearchTrips(ctx context.Context, filters models.SearchFilters) ([]models.TripRecord, error) {
	filters, err := filters.Validate()
	if err != nil {
		return nil, err
	}
	pg, err := p.deps.Pages.NewPage(ctx)
	if err != nil {
		return nil, errcode.Wrap(errcode.Transient, "failed to open page", err)
	}
	defer pg.Close()
	return p.searchOnPage(ctx, pg, filters)
}

// searchOnPage leaves pg on the results so a row can be selected after.
func (p *Portal) searchOnPage(ctx context.Context, pg Page, filters models.SearchFilters) ([]models.TripRecord, error) {
	if err := p.ensureSession(ctx, pg); err != nil {
		return nil, err
	}
	if err := pg.Navigate(ctx, p.url(searchPath)); err != nil {
		return nil, errcode.Wrap(errcode.Transient, "failed to open search page", err)
	}
	if url, _ := pg.URL(ctx); strings.Contains(strings.ToLower(url), "login") {
		return nil, errcode.New(errcode.SessionExpired, "redirected to login while searching")
	}

	var filled bool
	if err := pg.Eval(ctx, searchFormJS(filters), &filled); err != nil {
		return nil, errcode.Wrap(errcode.TripSearchFailed, "failed to fill search form", err)
	}
	if !filled {
		return nil, errcode.New(errcode.TripSearchFailed, "search form not found")
	}
	if err := pg.Click(ctx, selSearchButton); err != nil {
		return nil, errcode.Wrap(errcode.TripSearchFailed, "failed to submit search", err)
	}
	if err := pg.WaitVisible(ctx, selTripGrid, p.cfg.Timeouts.Long); err != nil {
		// An empty result renders no grid at all.
		p.log.Info("No trip grid rendered", zap.Error(err))
		return []models.TripRecord{}, nil
	}

	html, err := pg.HTML(ctx, selTripGrid)
	if err != nil {
		return nil, errcode.Wrap(errcode.TripSearchFailed, "failed to read trip grid", err)
	}
	trips, err := ParseTripGrid(html, filters.ProvinceCode)
	if err != nil {
		return nil, errcode.Wrap(errcode.TripSearchFailed, "failed to parse trip grid", err)
	}
	p.log.Info("Trips found", zap.Int("count", len(trips)))
	return trips, nil
}

// searchFormJS fills the search form in one evaluation. The date inputs are
// read-only behind a date picker, so values are assigned directly and the
// change events fired by hand. It evaluates to false when the form is absent.
func searchFormJS(f models.SearchFilters) string {
	fields := map[string]string{}
	if f.DateFrom != "" {
		fields[selDateFrom] = f.DateFrom
	}
	if f.DateTo != "" {
		fields[selDateTo] = f.DateTo
	}
	if f.ProvinceCode != "" {
		fields[selProvince] = f.ProvinceCode
	}
	if f.BorderType != "" {
		fields[selBorder] = f.BorderType
	}
	if f.AdultCount > 0 {
		fields[selAdultCount] = fmt.Sprint(f.AdultCount)
	}
	if f.InfantCount > 0 {
		fields[selInfantCount] = fmt.Sprint(f.InfantCount)
	}
	payload, _ := json.Marshal(fields)
	return fmt.Sprintf(`(function(fields){
		if (!document.querySelector(%q)) return false;
		for (const [sel, val] of Object.entries(fields)) {
			const el = document.querySelector(sel);
			if (!el) continue;
			el.removeAttribute("readonly");
			el.value = val;
			el.dispatchEvent(new Event("input", {bubbles: true}));
			el.dispatchEvent(new Event("change", {bubbles: true}));
		}
		return true;
	})(%s)`, selSearchButton, payload)
}

// ParseTripGrid reads the results grid. Rows with fewer cells than a trip
// row are headers or pagers and are skipped.
func ParseTripGrid(html, provinceCode string) ([]models.TripRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	trips := []models.TripRecord{}
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < tripColumns {
			return
		}
		txt := func(i int) string { return strings.TrimSpace(cells.Eq(i).Text()) }

		onclick, _ := cells.Eq(14).Find(`input[type="button"]`).Attr("onclick")
		rowIndex := fmt.Sprintf("row-%d", len(trips))
		if m := rowIndexPattern.FindStringSubmatch(onclick); m != nil {
			rowIndex = m[1]
		}

		departureDate, agentName, groupCode := txt(1), txt(7), txt(8)
		trips = append(trips, models.TripRecord{
			RowIndex:          rowIndex,
			TripIdentifier:    models.TripIdentifier(departureDate, groupCode, agentName),
			DayOfWeek:         txt(0),
			DepartureDate:     departureDate,
			RemainingCapacity: models.ParseCount(txt(2)),
			MinCapacity:       1,
			TripType:          txt(3),
			Cost:              models.ParseCost(txt(4)),
			DepartureLocation: txt(5),
			City:              txt(6),
			ProvinceCode:      provinceCode,
			AgentName:         agentName,
			GroupCode:         groupCode,
			ExecutorName:      txt(9),
			NajafHotel:        txt(10),
			KarbalaHotel:      txt(11),
			KazemainHotel:     txt(12),
			Address:           txt(13),
			SelectionToken:    onclick,
		})
	})
	return trips, nil
}

// parsePostBack splits a selection token into its postback target and
// argument. Tokens of any other shape are rejected, never evaluated.
func parsePostBack(token string) (target, arg string, err error) {
	m := postBackPattern.FindStringSubmatch(token)
	if m == nil {
		return "", "", errcode.New(errcode.InvalidParams, "selection token is not a postback reference")
	}
	return m[1], m[2], nil
}

// selectTrip fires the row's postback and waits for the passenger form.
func (p *Portal) selectTrip(ctx context.Context, pg Page, token string) error {
	target, arg, err := parsePostBack(token)
	if err != nil {
		return err
	}
	// Deferred so the evaluation returns before the page unloads.
	js := fmt.Sprintf(`(function(t, a){
		if (typeof window.__doPostBack !== "function") return false;
		setTimeout(function(){ window.__doPostBack(t, a); }, 0);
		return true;
	})(%q, %q)`, target, arg)
	var ok bool
	if err := pg.Eval(ctx, js, &ok); err != nil {
		return errcode.Wrap(errcode.Transient, "failed to select trip", err)
	}
	if !ok {
		return errcode.New(errcode.ReservationFailed, "trip grid has no postback handler")
	}
	return pg.WaitVisible(ctx, selNationalID, p.cfg.Timeouts.Long)
}
