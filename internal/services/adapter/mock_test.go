package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
)

func newTestMock() *Mock {
	return NewMock(0, zap.NewNop())
}

func passenger(id string) models.PassengerInput {
	return models.PassengerInput{NationalID: id, Birthdate: "1370/05/12", Phone: "09123456789"}
}

func findTrip(t *testing.T, m *Mock, identifier string) models.TripRecord {
	t.Helper()
	trips, err := m.SearchTrips(context.Background(), models.SearchFilters{})
	require.NoError(t, err)
	for _, trip := range trips {
		if trip.TripIdentifier == identifier {
			return trip
		}
	}
	t.Fatalf("trip %s not in fixtures", identifier)
	return models.TripRecord{}
}

const (
	tehranTrip  = "1404/10/05|684|زاگرس"
	mashhadTrip = "1404/10/15|3267|دریای کرم حسین"
	shirazTrip  = "1404/10/25|8899|شاهچراغ"
)

func TestMock_SearchByProvinceAndDateRange(t *testing.T) {
	m := newTestMock()
	trips, err := m.SearchTrips(context.Background(), models.SearchFilters{
		DateFrom: "1404/10/01", DateTo: "1404/10/30", ProvinceCode: "17",
	})
	require.NoError(t, err)
	require.NotEmpty(t, trips)
	for _, trip := range trips {
		assert.Equal(t, "تهران", trip.City)
		assert.GreaterOrEqual(t, trip.DepartureDate, "1404/10/01")
		assert.LessOrEqual(t, trip.DepartureDate, "1404/10/30")
		assert.NotEmpty(t, trip.SelectionToken)
	}
}

func TestMock_SearchFilters(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()

	all, err := m.SearchTrips(ctx, models.SearchFilters{ProvinceCode: models.ProvinceAll})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "4", all[4].RowIndex)

	unknown, err := m.SearchTrips(ctx, models.SearchFilters{ProvinceCode: "99"})
	require.NoError(t, err)
	assert.Empty(t, unknown)

	land, err := m.SearchTrips(ctx, models.SearchFilters{BorderType: models.BorderLand})
	require.NoError(t, err)
	require.Len(t, land, 2)
	for _, trip := range land {
		assert.Contains(t, trip.TripType, "زمینی")
	}

	big, err := m.SearchTrips(ctx, models.SearchFilters{AdultCount: 6})
	require.NoError(t, err)
	require.Len(t, big, 2)

	shiraz, err := m.SearchTrips(ctx, models.SearchFilters{ProvinceCode: "۲۴"})
	require.NoError(t, err)
	require.Len(t, shiraz, 1)
	assert.Equal(t, "شیراز", shiraz[0].City)

	_, err = m.SearchTrips(ctx, models.SearchFilters{DateFrom: "1404/10/30", DateTo: "1404/10/01"})
	assert.Equal(t, errcode.InvalidParams, errcode.CodeOf(err))
}

func TestMock_RejectsShortNationalID(t *testing.T) {
	m := newTestMock()
	out := m.CreateReservation(context.Background(), findTrip(t, m, tehranTrip), []models.PassengerInput{{NationalID: "12345"}})

	assert.False(t, out.Success)
	assert.Equal(t, errcode.PassengerInvalid, out.Code)
	assert.Equal(t, models.MsgNationalIDLength, out.Message)
	assert.Contains(t, out.Message, "کد ملی")
}

func TestMock_CapacityExhausted(t *testing.T) {
	m := newTestMock()
	trip := findTrip(t, m, tehranTrip)
	trip.RemainingCapacity = 0

	out := m.CreateReservation(context.Background(), trip, []models.PassengerInput{passenger("0012345678")})

	assert.False(t, out.Success)
	assert.Equal(t, errcode.TripCapacityExhausted, out.Code)
	assert.Equal(t, models.MsgCapacityFull, out.Message)
}

func TestMock_ReceiptAfterReservation(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()
	out := m.CreateReservation(ctx, findTrip(t, m, tehranTrip), []models.PassengerInput{passenger("0012345678")})
	require.True(t, out.Success, out.Message)
	require.NotEmpty(t, out.ExternalReservationID)
	assert.NotEmpty(t, out.Warning)
	assert.Equal(t, 1, out.RequiredPassengerCount)

	r, err := m.GetReceipt(ctx, out.ExternalReservationID)
	require.NoError(t, err)
	assert.Equal(t, out.ExternalReservationID, r.ResID)
	require.GreaterOrEqual(t, len(r.Passengers), 1)
	assert.Equal(t, "0012345678", r.Passengers[0].NationalID)
	assert.Equal(t, int64(34136479), r.Passengers[0].Cost)
	assert.NotEmpty(t, r.ExpireDate)
	require.Len(t, r.Itinerary, 3)
	assert.Equal(t, "1404/10/05", r.Itinerary[0].EntryDate)
	assert.Contains(t, r.PaymentURL, out.ExternalReservationID)
}

func TestMock_PaymentURLContainsID(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()
	out := m.CreateReservation(ctx, findTrip(t, m, tehranTrip), []models.PassengerInput{passenger("0012345678")})
	require.True(t, out.Success)

	url, err := m.GetPaymentURL(ctx, out.ExternalReservationID)
	require.NoError(t, err)
	assert.Contains(t, url, "resID="+out.ExternalReservationID)
	assert.Contains(t, url, "App=atabatorg")

	_, err = m.GetPaymentURL(ctx, "")
	assert.Equal(t, errcode.InvalidParams, errcode.CodeOf(err))
}

func TestMock_CapacityDecrements(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()
	trip := findTrip(t, m, shirazTrip)

	out := m.CreateReservation(ctx, trip, []models.PassengerInput{passenger("0012345678"), passenger("0012345679")})
	require.True(t, out.Success, out.Message)

	after := findTrip(t, m, shirazTrip)
	assert.Zero(t, after.RemainingCapacity)

	out = m.CreateReservation(ctx, trip, []models.PassengerInput{passenger("0012345670")})
	assert.Equal(t, errcode.TripCapacityExhausted, out.Code)
}

func TestMock_DuplicateAcrossReservations(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()
	trip := findTrip(t, m, tehranTrip)

	first := m.CreateReservation(ctx, trip, []models.PassengerInput{passenger("0012345678")})
	require.True(t, first.Success)

	second := m.CreateReservation(ctx, trip, []models.PassengerInput{passenger("0099999999"), passenger("0012345678")})
	assert.False(t, second.Success)
	assert.Equal(t, errcode.PassengerDuplicate, second.Code)
	assert.Equal(t, "0012345678", second.DuplicateNationalID)
	assert.Equal(t, "0012345678", errcode.ExtractNationalID(second.Message))
	assert.Equal(t, errcode.PassengerDuplicate, errcode.Classify(second.Message))
	require.Len(t, second.PassengerResults, 2)
	assert.True(t, second.PassengerResults[0].Success)
	assert.False(t, second.PassengerResults[1].Success)

	// The failed attempt consumed nothing.
	assert.Equal(t, 4, findTrip(t, m, tehranTrip).RemainingCapacity)
}

func TestMock_InsufficientPassengers(t *testing.T) {
	m := newTestMock()
	out := m.CreateReservation(context.Background(), findTrip(t, m, mashhadTrip), []models.PassengerInput{passenger("0012345678")})

	assert.Equal(t, errcode.InsufficientPassengers, out.Code)
	assert.Equal(t, 2, out.RequiredPassengerCount)
}

func TestMock_UnknownTrip(t *testing.T) {
	m := newTestMock()
	trip := models.TripRecord{TripIdentifier: "1404/11/01|1|x", RemainingCapacity: 10}
	out := m.CreateReservation(context.Background(), trip, []models.PassengerInput{passenger("0012345678")})
	assert.Equal(t, errcode.TripNotFound, out.Code)
}

func TestMock_ExistenceAndCancel(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()
	out := m.CreateReservation(ctx, findTrip(t, m, tehranTrip), []models.PassengerInput{passenger("0012345678")})
	require.True(t, out.Success)

	ok, err := m.ReservationExists(ctx, out.ExternalReservationID)
	require.NoError(t, err)
	assert.True(t, ok)

	m.Cancel(out.ExternalReservationID)
	ok, err = m.ReservationExists(ctx, out.ExternalReservationID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.GetReceipt(ctx, out.ExternalReservationID)
	assert.Equal(t, errcode.ReservationNotFound, errcode.CodeOf(err))

	again := m.CreateReservation(ctx, findTrip(t, m, tehranTrip), []models.PassengerInput{passenger("0012345678")})
	assert.True(t, again.Success, "cancelled passenger can book again")
}

func TestMock_Authentication(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()
	assert.False(t, m.IsAuthenticated(ctx))
	require.NoError(t, m.Authenticate(ctx))
	assert.True(t, m.IsAuthenticated(ctx))

	res := m.RefreshOTP(ctx)
	assert.True(t, res.Success)
	assert.Len(t, res.NewOTP, 5)
}

func TestMock_LatencyHonoursContext(t *testing.T) {
	m := NewMock(time.Hour, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.SearchTrips(ctx, models.SearchFilters{})
	assert.Equal(t, errcode.Transient, errcode.CodeOf(err))

	out := m.CreateReservation(ctx, models.TripRecord{}, []models.PassengerInput{passenger("0012345678")})
	assert.Equal(t, errcode.Transient, out.Code)
}
