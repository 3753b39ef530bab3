package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/jalali"
	"atabat-scraper/internal/models"
)

const (
	mockPaymentBase = "https://atabatorg.haj.ir/epay/home/IndexEpay"
	mockAgentPhone  = "88820040"
	mockWarning     = "توجه: امکان لغو رزرو تا ۲۴ ساعت وجود ندارد"
)

// mockProvinces maps the search form's province codes to fixture cities.
var mockProvinces = map[string]string{
	"17": "تهران",
	"13": "اصفهان",
	"19": "مشهد",
	"35": "قم",
	"24": "شیراز",
}

func mockTrips() []models.TripRecord {
	trips := []models.TripRecord{
		{
			DayOfWeek: "جمعه", DepartureDate: "1404/10/05", RemainingCapacity: 5, MinCapacity: 1,
			TripType: "هوایی 7 شب", Cost: 34136479, DepartureLocation: "تهران", City: "تهران", ProvinceCode: "17",
			AgentName: "زاگرس", GroupCode: "684", ExecutorName: "زاگرس",
			NajafHotel: "اسطوره", KarbalaHotel: "ملک", KazemainHotel: "قرطاج",
			Address: "خیابان سپهبد قرنی، بالاتر از تقاطع طالقانی، پلاک 85",
		},
		{
			DayOfWeek: "پنجشنبه", DepartureDate: "1404/10/10", RemainingCapacity: 3, MinCapacity: 1,
			TripType: "زمینی 5 شب", Cost: 15000000, DepartureLocation: "اصفهان", City: "اصفهان", ProvinceCode: "13",
			AgentName: "خادمان حریم نینوا", GroupCode: "126", ExecutorName: "خادمان حریم نینوا",
			NajafHotel: "مدینه البشری", KarbalaHotel: "برج المرتضی", KazemainHotel: "-",
			Address: "خیابان چهارباغ بالا، نبش خیابان نظر غربی",
		},
		{
			DayOfWeek: "شنبه", DepartureDate: "1404/10/15", RemainingCapacity: 8, MinCapacity: 2,
			TripType: "هوایی 5 شب", Cost: 28500000, DepartureLocation: "مشهد", City: "مشهد", ProvinceCode: "19",
			AgentName: "دریای کرم حسین", GroupCode: "3267", ExecutorName: "دریای کرم حسین",
			NajafHotel: "الحیدری", KarbalaHotel: "الکربلائی", KazemainHotel: "الکاظمین",
			Address: "بلوار وکیل آباد، روبروی باغ ملی",
		},
		{
			DayOfWeek: "دوشنبه", DepartureDate: "1404/10/20", RemainingCapacity: 20, MinCapacity: 1,
			TripType: "زمینی 7 شب", Cost: 12000000, DepartureLocation: "قم", City: "قم", ProvinceCode: "35",
			AgentName: "راهیان نور", GroupCode: "4455", ExecutorName: "راهیان نور",
			NajafHotel: "البراق", KarbalaHotel: "الدرویش", KazemainHotel: "-",
			Address: "خیابان ارم",
		},
		{
			DayOfWeek: "چهارشنبه", DepartureDate: "1404/10/25", RemainingCapacity: 2, MinCapacity: 1,
			TripType: "هوایی 4 شب", Cost: 31000000, DepartureLocation: "شیراز", City: "شیراز", ProvinceCode: "24",
			AgentName: "شاهچراغ", GroupCode: "8899", ExecutorName: "شاهچراغ",
			NajafHotel: "قصر الدر", KarbalaHotel: "جنه الحسین", KazemainHotel: "الهدی",
			Address: "بلوار زند",
		},
	}
	for i := range trips {
		trips[i].TripIdentifier = models.TripIdentifier(trips[i].DepartureDate, trips[i].GroupCode, trips[i].AgentName)
	}
	return trips
}

type mockReservation struct {
	trip       models.TripRecord
	passengers []models.PassengerInput
	createdAt  time.Time
}

// Mock is the in-memory portal. Capacity and registrations persist for the
// life of the value, so repeated bookings see each other.
type Mock struct {
	latency time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu            sync.Mutex
	authenticated bool
	trips         []models.TripRecord
	reservations  map[string]mockReservation
	registered    map[string]string // national ID -> reservation ID
}

func NewMock(latency time.Duration, log *zap.Logger) *Mock {
	return &Mock{
		latency:      latency,
		now:          time.Now,
		log:          log.Named("mock"),
		trips:        mockTrips(),
		reservations: map[string]mockReservation{},
		registered:   map[string]string{},
	}
}

// delay simulates a round trip of n latency units.
func (m *Mock) delay(ctx context.Context, n int) error {
	d := m.latency * time.Duration(n)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errcode.Wrap(errcode.Transient, "mock request cancelled", ctx.Err())
	}
}

func (m *Mock) SearchTrips(ctx context.Context, filters models.SearchFilters) ([]models.TripRecord, error) {
	filters, err := filters.Validate()
	if err != nil {
		return nil, err
	}
	if err := m.delay(ctx, 1); err != nil {
		return nil, err
	}

	city := ""
	switch filters.ProvinceCode {
	case "", "-1", models.ProvinceAll:
	default:
		var ok bool
		if city, ok = mockProvinces[filters.ProvinceCode]; !ok {
			return []models.TripRecord{}, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.TripRecord{}
	for _, t := range m.trips {
		if !jalali.InRange(t.DepartureDate, filters.DateFrom, filters.DateTo) {
			continue
		}
		if city != "" && t.City != city {
			continue
		}
		switch filters.BorderType {
		case models.BorderAir, models.BorderLand:
			if models.InferBorderType(t.TripType) != filters.BorderType {
				continue
			}
		case models.BorderAccommodation, models.BorderFlightOnly:
			continue
		}
		if filters.AdultCount > 0 && t.RemainingCapacity < filters.AdultCount {
			continue
		}
		row := len(out)
		t.RowIndex = fmt.Sprint(row)
		t.SelectionToken = fmt.Sprintf("javascript:__doPostBack('ctl00$cp1$grdKargroup','Select$%d')", row)
		out = append(out, t)
	}
	return out, nil
}

func (m *Mock) CreateReservation(ctx context.Context, trip models.TripRecord, passengers []models.PassengerInput) models.ReservationOutcome {
	passengers, failed := models.PrepareRoster(passengers)
	if failed != nil {
		return *failed
	}
	if err := m.delay(ctx, 2); err != nil {
		return models.Failed(errcode.Transient, err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, t := range m.trips {
		if t.TripIdentifier == trip.TripIdentifier {
			idx = i
			break
		}
	}
	capacity := trip.RemainingCapacity
	if idx >= 0 && m.trips[idx].RemainingCapacity < capacity {
		capacity = m.trips[idx].RemainingCapacity
	}
	if capacity < len(passengers) {
		return models.Failed(errcode.TripCapacityExhausted, models.MsgCapacityFull)
	}
	if idx < 0 {
		return models.Failed(errcode.TripNotFound, "trip is no longer available")
	}
	live := m.trips[idx]

	required := live.MinCapacity
	if required < 1 {
		required = 1
	}
	if len(passengers) < required {
		out := models.Failed(errcode.InsufficientPassengers,
			fmt.Sprintf("trip requires %d passengers, got %d", required, len(passengers)))
		out.RequiredPassengerCount = required
		return out
	}

	results := make([]models.PassengerResult, 0, len(passengers))
	for _, ps := range passengers {
		if _, taken := m.registered[ps.NationalID]; taken {
			msg := fmt.Sprintf("کد ملی %s قبلا ثبت شده است", ps.NationalID)
			results = append(results, models.PassengerResult{NationalID: ps.NationalID, Message: msg, Code: errcode.PassengerDuplicate})
			out := models.Failed(errcode.PassengerDuplicate, msg)
			out.DuplicateNationalID = ps.NationalID
			out.RequiredPassengerCount = required
			out.PassengerResults = results
			return out
		}
		results = append(results, models.PassengerResult{NationalID: ps.NationalID, Success: true})
	}

	id := uuid.NewString()
	m.trips[idx].RemainingCapacity -= len(passengers)
	for _, ps := range passengers {
		m.registered[ps.NationalID] = id
	}
	m.reservations[id] = mockReservation{trip: live, passengers: passengers, createdAt: m.now()}
	m.log.Info("Simulated reservation created", zap.String("resId", id), zap.String("trip", live.TripIdentifier))

	return models.ReservationOutcome{
		Success:                true,
		ExternalReservationID:  id,
		Warning:                mockWarning,
		RequiredPassengerCount: required,
		PassengerResults:       results,
	}
}

func (m *Mock) GetReceipt(ctx context.Context, resID string) (models.ReceiptRecord, error) {
	resID = strings.TrimSpace(resID)
	if resID == "" {
		return models.ReceiptRecord{}, errcode.New(errcode.InvalidParams, "reservation id is required")
	}
	if err := m.delay(ctx, 1); err != nil {
		return models.ReceiptRecord{}, err
	}

	m.mu.Lock()
	res, ok := m.reservations[resID]
	m.mu.Unlock()
	if !ok {
		return models.ReceiptRecord{}, errcode.New(errcode.ReservationNotFound, "reservation "+resID+" not found")
	}

	trip := res.trip
	expire, err := jalali.AddDays(jalali.Today(res.createdAt), 3)
	if err != nil {
		expire = ""
	}
	r := models.ReceiptRecord{
		ResID:         resID,
		ExpireDate:    expire,
		City:          trip.City,
		TripType:      trip.TripType,
		DepartureDate: trip.DepartureDate,
		AgentName:     trip.AgentName,
		AgentPhone:    mockAgentPhone,
		AgentAddress:  trip.Address,
		ExecutorName:  trip.ExecutorName,
		PaymentURL:    mockPaymentBase + "?resID=" + resID,
	}
	stops := []struct{ city, hotel string }{
		{"کاظمین", trip.KazemainHotel},
		{"کربلا", trip.KarbalaHotel},
		{"نجف", trip.NajafHotel},
	}
	for _, s := range stops {
		if s.hotel == "" || s.hotel == "-" {
			continue
		}
		r.Itinerary = append(r.Itinerary, models.ItineraryItem{Row: len(r.Itinerary) + 1, City: s.city, Hotel: s.hotel})
	}
	if len(r.Itinerary) > 0 {
		r.Itinerary[0].EntryDate = trip.DepartureDate
	}
	for i, ps := range res.passengers {
		r.Passengers = append(r.Passengers, models.PassengerReceiptItem{
			ID:         fmt.Sprintf("%d%02d", res.createdAt.Unix()%1000000, i+1),
			NationalID: ps.NationalID,
			FirstName:  "زائر",
			LastName:   "محترم",
			Birthdate:  ps.Birthdate,
			Cost:       trip.Cost,
		})
	}
	return r, nil
}

func (m *Mock) GetPaymentURL(ctx context.Context, resID string) (string, error) {
	resID = strings.TrimSpace(resID)
	if resID == "" {
		return "", errcode.New(errcode.InvalidParams, "reservation id is required")
	}
	if err := m.delay(ctx, 1); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s?resID=%s&ResIDStatus=1&App=atabatorg&UID=%s", mockPaymentBase, resID, uuid.NewString()), nil
}

func (m *Mock) IsAuthenticated(ctx context.Context) bool {
	if m.delay(ctx, 1) != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

func (m *Mock) Authenticate(ctx context.Context) error {
	if err := m.delay(ctx, 3); err != nil {
		return err
	}
	m.mu.Lock()
	m.authenticated = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) ReservationExists(ctx context.Context, resID string) (bool, error) {
	if err := m.delay(ctx, 1); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reservations[strings.TrimSpace(resID)]
	return ok, nil
}

// Cancel drops a simulated reservation as if the portal had expired it.
func (m *Mock) Cancel(resID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[resID]
	if !ok {
		return
	}
	delete(m.reservations, resID)
	for _, ps := range res.passengers {
		delete(m.registered, ps.NationalID)
	}
}

// RefreshOTP simulates a successful daily refresh with a five-digit code
// derived from the date.
func (m *Mock) RefreshOTP(ctx context.Context) models.RefreshResult {
	if err := m.delay(ctx, 3); err != nil {
		return models.RefreshResult{Error: err.Error()}
	}
	now := m.now().In(jalali.Tehran)
	return models.RefreshResult{Success: true, NewOTP: fmt.Sprintf("%05d", now.YearDay()*7919%100000)}
}
