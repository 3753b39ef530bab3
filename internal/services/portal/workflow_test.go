package portal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
	"atabat-scraper/internal/services/browser"
)

var (
	passengerA = models.PassengerInput{NationalID: "0012345678", Birthdate: "1370/01/15", Phone: "09121234567"}
	passengerB = models.PassengerInput{NationalID: "0087654321", Birthdate: "1372/05/20", Phone: "09351234567"}
)

func targetTrip(t *testing.T) models.TripRecord {
	trips, err := ParseTripGrid(gridHTML(tehranRow), "17")
	require.NoError(t, err)
	return trips[0].Snapshot()
}

// passengerStep scripts the page's reaction to one save click.
type passengerStep func(p *fakePage)

func addRow(p *fakePage) { p.counts[selPassengerRows]++ }

func globalError(msg string) passengerStep {
	return func(p *fakePage) { p.texts[selGlobalError] = msg }
}

func fieldError(msg string) passengerStep {
	return func(p *fakePage) { p.texts[selFieldError] = msg }
}

// xhrThen answers the save with the update panel response and applies step
// once the panel has re-rendered.
func xhrThen(delay time.Duration, step passengerStep) passengerStep {
	return func(p *fakePage) {
		p.responses <- browser.Response{URL: testBase + "/Kargozar/Reservation_cs.aspx?resid=555", Status: 200}
		go func() {
			time.Sleep(delay)
			p.mu.Lock()
			defer p.mu.Unlock()
			step(p)
		}()
	}
}

func dialog(msg string) passengerStep {
	return func(p *fakePage) { p.dialogs = append(p.dialogs, msg) }
}

func noReaction(*fakePage) {}

// reservationPage serves the trip grid, opens the passenger form and plays
// steps for successive save clicks. Confirm lands on the receipt page.
func reservationPage(required int, steps ...passengerStep) *fakePage {
	page := searchPage(gridHTML(tehranRow))
	page.required = required
	page.visible[selNationalID] = true
	next := 0
	page.onClick[selSavePassenger] = func(p *fakePage) {
		delete(p.texts, selGlobalError)
		delete(p.texts, selFieldError)
		if next < len(steps) {
			steps[next](p)
		}
		next++
	}
	page.onClick[selConfirm] = func(p *fakePage) {
		p.url = testBase + "/Kargozar/Receipt.aspx?ResID=98765"
	}
	return page
}

func newWorkflowPortal(page *fakePage) (*Portal, *fakePages) {
	pages := &fakePages{page: page, valid: true}
	return newTestPortal(Deps{Pages: pages, Store: &memStore{}}), pages
}

func TestCreateReservation_Success(t *testing.T) {
	page := reservationPage(2, addRow, addRow)
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA, passengerB})

	require.True(t, out.Success, out.Message)
	assert.Equal(t, "98765", out.ExternalReservationID)
	assert.Equal(t, 2, out.RequiredPassengerCount)
	require.Len(t, out.PassengerResults, 2)
	assert.True(t, out.PassengerResults[0].Success)
	assert.True(t, out.PassengerResults[1].Success)
	assert.Empty(t, out.Warning)
	assert.Equal(t, passengerB.Phone, page.fills[selPhone])
	assert.Equal(t, 1, page.clickCount(selConfirm))
	assert.True(t, page.closed)
}

func TestCreateReservation_ResearchUsesTripFilters(t *testing.T) {
	page := reservationPage(1, addRow)
	p, _ := newWorkflowPortal(page)

	p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.Contains(t, page.navigated, testBase+searchPath)
	assert.Equal(t, 1, page.clickCount(selSearchButton))
}

func TestCreateReservation_InsufficientPassengers(t *testing.T) {
	page := reservationPage(3)
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA, passengerB})

	assert.False(t, out.Success)
	assert.Equal(t, errcode.InsufficientPassengers, out.Code)
	assert.Equal(t, 3, out.RequiredPassengerCount)
	assert.Zero(t, page.clickCount(selSavePassenger))
}

func TestCreateReservation_DuplicateAbortsLoop(t *testing.T) {
	page := reservationPage(2, addRow, globalError("کد ملی ۰۰۸۷۶۵۴۳۲۱ قبلا ثبت شده است"))
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA, passengerB})

	assert.False(t, out.Success)
	assert.Equal(t, errcode.PassengerDuplicate, out.Code)
	assert.Equal(t, "0087654321", out.DuplicateNationalID)
	require.Len(t, out.PassengerResults, 2)
	assert.True(t, out.PassengerResults[0].Success)
	assert.False(t, out.PassengerResults[1].Success)
	assert.Zero(t, page.clickCount(selConfirm))
}

func TestCreateReservation_FirstFailureStopsRemainingPassengers(t *testing.T) {
	page := reservationPage(2, globalError("اطلاعات وارد شده مطابقت ندارد"), addRow)
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA, passengerB})

	assert.Equal(t, errcode.PassengerInvalid, out.Code)
	assert.Len(t, out.PassengerResults, 1)
	assert.Equal(t, 1, page.clickCount(selSavePassenger))
}

func TestCreateReservation_DialogFailureText(t *testing.T) {
	page := reservationPage(1, dialog("تاریخ تولد نامعتبر است"))
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.Equal(t, errcode.PassengerInvalid, out.Code)
	assert.Equal(t, "تاریخ تولد نامعتبر است", out.Message)
}

func TestCreateReservation_DialogWithoutFailureTextIsIgnored(t *testing.T) {
	page := reservationPage(1, func(p *fakePage) {
		p.dialogs = append(p.dialogs, "آیا مطمئن هستید؟")
		addRow(p)
	})
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})
	assert.True(t, out.Success, out.Message)
}

func TestCreateReservation_NoSignalIsUnknownState(t *testing.T) {
	page := reservationPage(2, addRow, noReaction)
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA, passengerB})

	assert.Equal(t, errcode.UnknownState, out.Code)
	assert.Equal(t, errcode.CategoryIndeterminate, out.Code.Category())
	require.Len(t, out.PassengerResults, 2)
	assert.True(t, out.PassengerResults[0].Success)
	assert.Equal(t, errcode.UnknownState, out.PassengerResults[1].Code)
}

func TestCreateReservation_EarlyBreakWhenFormCloses(t *testing.T) {
	page := reservationPage(1, func(p *fakePage) {
		addRow(p)
		p.visible[selNationalID] = false
	})
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA, passengerB})

	require.True(t, out.Success, out.Message)
	assert.Len(t, out.PassengerResults, 1)
	assert.Equal(t, 1, page.clickCount(selSavePassenger))
}

func TestCreateReservation_FormClosedBeforeCountMet(t *testing.T) {
	page := reservationPage(2, func(p *fakePage) {
		addRow(p)
		p.visible[selNationalID] = false
	})
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA, passengerB})
	assert.False(t, out.Success)
	assert.Equal(t, errcode.UnknownState, out.Code)
}

func TestCreateReservation_MissingCountDefaultsToOne(t *testing.T) {
	page := reservationPage(0, addRow)
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	require.True(t, out.Success, out.Message)
	assert.Equal(t, 1, out.RequiredPassengerCount)
	assert.Equal(t, msgCountDefaults, out.Warning)
}

func TestCreateReservation_TripGone(t *testing.T) {
	page := reservationPage(1)
	page.html[selTripGrid] = gridHTML(qomRow)
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.Equal(t, errcode.TripNotFound, out.Code)
	assert.Equal(t, errcode.CategoryBusiness, out.Code.Category())
}

func TestCreateReservation_InvalidPassengerNeverOpensPage(t *testing.T) {
	page := reservationPage(1)
	p, pages := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{{NationalID: "12345", Birthdate: "1370/01/15", Phone: "09121234567"}})

	assert.Equal(t, errcode.PassengerInvalid, out.Code)
	assert.Equal(t, models.MsgNationalIDLength, out.Message)
	assert.Zero(t, pages.openedCount())
}

func TestCreateReservation_DuplicateInRequest(t *testing.T) {
	p, pages := newWorkflowPortal(reservationPage(2))

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA, passengerA})

	assert.Equal(t, errcode.PassengerDuplicate, out.Code)
	assert.Equal(t, passengerA.NationalID, out.DuplicateNationalID)
	assert.Zero(t, pages.openedCount())
}

func TestCreateReservation_ConfirmRejected(t *testing.T) {
	page := reservationPage(1, addRow)
	page.onClick[selConfirm] = func(p *fakePage) {
		p.texts[selGlobalError] = "ظرفیت سفر تکمیل شده است"
	}
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.Equal(t, errcode.TripCapacityExhausted, out.Code)
	assert.Len(t, out.PassengerResults, 1)
}

func TestCreateReservation_ConfirmReloadOnPassengerPageIsRejected(t *testing.T) {
	page := reservationPage(1, func(p *fakePage) {
		addRow(p)
		p.url = testBase + "/Kargozar/Reservation_cs.aspx?resid=555"
	})
	page.onClick[selConfirm] = func(p *fakePage) {
		p.texts[selGlobalError] = "ظرفیت سفر تکمیل شده است"
	}
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.False(t, out.Success)
	assert.Empty(t, out.ExternalReservationID)
	assert.Equal(t, errcode.TripCapacityExhausted, out.Code)
	assert.Equal(t, "ظرفیت سفر تکمیل شده است", out.Message)
}

func TestCreateReservation_ConfirmWithoutReceiptIsUnknown(t *testing.T) {
	page := reservationPage(1, func(p *fakePage) {
		addRow(p)
		p.url = testBase + "/Kargozar/Reservation_cs.aspx?resid=555"
	})
	delete(page.onClick, selConfirm)
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.False(t, out.Success)
	assert.Equal(t, errcode.UnknownState, out.Code)
}

func TestCreateReservation_FieldLabelOutranksGlobalLabel(t *testing.T) {
	page := reservationPage(1, func(p *fakePage) {
		fieldError("اطلاعات وارد شده مطابقت ندارد")(p)
		globalError("کد ملی ۰۰۱۲۳۴۵۶۷۸ قبلا ثبت شده است")(p)
		dialog("تاریخ تولد نامعتبر است")(p)
	})
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.Equal(t, errcode.PassengerInvalid, out.Code)
	assert.Equal(t, "اطلاعات وارد شده مطابقت ندارد", out.Message)
	assert.Empty(t, out.DuplicateNationalID)
}

func TestCreateReservation_GlobalLabelOutranksDialog(t *testing.T) {
	page := reservationPage(1, func(p *fakePage) {
		globalError("کد ملی ۰۰۱۲۳۴۵۶۷۸ قبلا ثبت شده است")(p)
		dialog("تاریخ تولد نامعتبر است")(p)
	})
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.Equal(t, errcode.PassengerDuplicate, out.Code)
	assert.Equal(t, "0012345678", out.DuplicateNationalID)
}

func TestCreateReservation_ResponseBeforeRowRender(t *testing.T) {
	page := reservationPage(2, xhrThen(10*time.Millisecond, addRow), xhrThen(10*time.Millisecond, addRow))
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA, passengerB})

	require.True(t, out.Success, out.Message)
	assert.Equal(t, "98765", out.ExternalReservationID)
	require.Len(t, out.PassengerResults, 2)
	assert.True(t, out.PassengerResults[1].Success)
}

func TestCreateReservation_ResponseBeforeFieldError(t *testing.T) {
	page := reservationPage(1, xhrThen(10*time.Millisecond, fieldError("اطلاعات وارد شده مطابقت ندارد")))
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.Equal(t, errcode.PassengerInvalid, out.Code)
}

func TestCreateReservation_ResponseWithoutChangeIsUnknownState(t *testing.T) {
	page := reservationPage(1, xhrThen(0, noReaction))
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.Equal(t, errcode.UnknownState, out.Code)
}

func TestCreateReservation_ConfirmStuck(t *testing.T) {
	page := reservationPage(1, addRow)
	delete(page.onClick, selConfirm)
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.Equal(t, errcode.UnknownState, out.Code)
	assert.Equal(t, msgConfirmStuck, out.Message)
}

func TestCreateReservation_RejectsNonPostBackToken(t *testing.T) {
	page := reservationPage(1, addRow)
	page.html[selTripGrid] = "<table>" + stripButton(tehranRow.html()) + "</table>"
	p, _ := newWorkflowPortal(page)

	out := p.CreateReservation(context.Background(), targetTrip(t), []models.PassengerInput{passengerA})

	assert.False(t, out.Success)
	assert.Equal(t, errcode.InvalidParams, out.Code)
	assert.Zero(t, page.clickCount(selSavePassenger))
}

// stripButton swaps the row's postback for arbitrary script.
func stripButton(row string) string {
	return strings.Replace(row, "javascript:__doPostBack(&#39;ctl00$cp1$grdKargroup&#39;,&#39;Select$0&#39;)", "alert(1)", 1)
}

func TestReservationIDFromURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{testBase + "/Kargozar/Receipt.aspx?resID=123", "123"},
		{testBase + "/Kargozar/Receipt.aspx?ResId=456&x=1", "456"},
		{testBase + "/Kargozar/Reservation_cs.aspx", ""},
		{testBase + "/Kargozar/Receipt.aspx?resid=", ""},
		{"::not a url", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reservationIDFromURL(tc.in), tc.in)
	}
}

func TestReceiptIDFromURL(t *testing.T) {
	passengerPage := testBase + "/Kargozar/Reservation_cs.aspx?resid=555"
	cases := []struct{ in, want string }{
		{testBase + "/Kargozar/Receipt.aspx?resID=123", "123"},
		{testBase + "/Kargozar/receipt.aspx?ResId=456", "456"},
		{passengerPage, ""},
		{testBase + "/Kargozar/Reservation_cs.aspx?resid=777", ""},
		{testBase + "/Kargozar/Receipt.aspx", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, receiptIDFromURL(tc.in, passengerPage), tc.in)
	}
	assert.Empty(t, receiptIDFromURL(testBase+"/Kargozar/Receipt.aspx?resID=1", testBase+"/Kargozar/Receipt.aspx?resID=1"))
}

func TestFirstOf(t *testing.T) {
	never := func(ctx context.Context) bool { <-ctx.Done(); return false }
	now := func(context.Context) bool { return true }

	assert.Equal(t, 1, firstOf(context.Background(), testTimeouts.Ajax, never, now))
	assert.Equal(t, -1, firstOf(context.Background(), testTimeouts.Short, never, never))
}
