package portal

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
)

const (
	selPaymentLink = "#ctl00_cp1_EPaymentHyperLinkNew"
	selReceiptPlan = "#ctl00_cp1_grdReceiptPlan"
	selReceiptPax  = "#ctl00_cp1_grdPrePassenger"
)

// GetReceipt scrapes the receipt page of an external reservation id.
func (p *Portal) GetReceipt(ctx context.Context, resID string) (models.ReceiptRecord, error) {
	resID = strings.TrimSpace(resID)
	if resID == "" {
		return models.ReceiptRecord{}, errcode.New(errcode.InvalidParams, "reservation id is required")
	}

	pg, err := p.deps.Pages.NewPage(ctx)
	if err != nil {
		return models.ReceiptRecord{}, errcode.Wrap(errcode.Transient, "failed to open page", err)
	}
	defer pg.Close()

	if err := p.ensureSession(ctx, pg); err != nil {
		return models.ReceiptRecord{}, err
	}
	if err := pg.Navigate(ctx, p.url(receiptPath)+url.QueryEscape(resID)); err != nil {
		return models.ReceiptRecord{}, errcode.Wrap(errcode.ReceiptFetchFailed, "failed to open receipt", err)
	}
	if u, _ := pg.URL(ctx); strings.Contains(strings.ToLower(u), "login") {
		return models.ReceiptRecord{}, errcode.New(errcode.SessionExpired, "redirected to login while reading receipt")
	}

	html, err := pg.HTML(ctx, "")
	if err != nil {
		return models.ReceiptRecord{}, errcode.Wrap(errcode.ReceiptFetchFailed, "failed to read receipt", err)
	}
	receipt, err := ParseReceipt(resID, html)
	if err != nil {
		return models.ReceiptRecord{}, errcode.Wrap(errcode.ReceiptFetchFailed, "failed to parse receipt", err)
	}
	receipt.PaymentURL = p.absolute(receipt.PaymentURL)
	p.log.Info("Receipt scraped", zap.String("resId", resID),
		zap.Int("passengers", len(receipt.Passengers)), zap.Int("itinerary", len(receipt.Itinerary)))
	return receipt, nil
}

// GetPaymentURL returns the receipt's payment link, or "" when the receipt
// has none.
func (p *Portal) GetPaymentURL(ctx context.Context, resID string) (string, error) {
	receipt, err := p.GetReceipt(ctx, resID)
	if err != nil {
		return "", err
	}
	return receipt.PaymentURL, nil
}

// absolute resolves a relative link against the portal base URL.
func (p *Portal) absolute(link string) string {
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil || ref.IsAbs() {
		return link
	}
	base, err := url.Parse(p.cfg.BaseURL + "/")
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}

// ParseReceipt extracts the receipt labels and tables. Short rows are
// header rows and are skipped; absent fields stay empty.
func ParseReceipt(resID, html string) (models.ReceiptRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.ReceiptRecord{}, err
	}
	label := func(id string) string {
		return strings.TrimSpace(doc.Find("#ctl00_cp1_" + id).First().Text())
	}

	r := models.ReceiptRecord{
		ResID:         resID,
		ExpireDate:    label("lblExpireDate"),
		City:          label("lblCity"),
		TripType:      label("lblType"),
		DepartureDate: label("lblDepdate"),
		AgentName:     label("lblKargozarTitle"),
		AgentPhone:    label("lblKargozarTell"),
		AgentAddress:  label("lblAddress"),
		ExecutorName:  label("lblExecutor"),
		Itinerary:     []models.ItineraryItem{},
		Passengers:    []models.PassengerReceiptItem{},
	}

	eachRow(doc, selReceiptPlan, 5, func(cell func(int) string, n int) {
		item := models.ItineraryItem{
			Row:       models.ParseCount(cell(0)),
			EntryDate: cell(1),
			City:      cell(2),
			Hotel:     cell(3),
			ExitDate:  cell(4),
		}
		if n > 5 {
			item.StayDuration = models.ParseCount(cell(5))
		}
		r.Itinerary = append(r.Itinerary, item)
	})

	eachRow(doc, selReceiptPax, 6, func(cell func(int) string, _ int) {
		r.Passengers = append(r.Passengers, models.PassengerReceiptItem{
			ID:         cell(0),
			NationalID: cell(1),
			FirstName:  cell(2),
			LastName:   cell(3),
			Birthdate:  cell(4),
			Cost:       models.ParseCost(cell(5)),
		})
	})

	if href, ok := doc.Find(selPaymentLink).Attr("href"); ok {
		r.PaymentURL = strings.TrimSpace(href)
	}
	return r, nil
}

func eachRow(doc *goquery.Document, table string, minCells int, fn func(cell func(int) string, n int)) {
	doc.Find(table + " tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < minCells {
			return
		}
		fn(func(i int) string { return strings.TrimSpace(cells.Eq(i).Text()) }, cells.Length())
	})
}
