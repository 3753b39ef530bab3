package reservations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
)

type fakeProber struct {
	mu     sync.Mutex
	exists bool
	err    error
	calls  int
}

func (f *fakeProber) ReservationExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.exists, f.err
}

func (f *fakeProber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(probe Prober, perMinute int) (*Service, *MemoryRepository, *clock) {
	repo := NewMemoryRepository()
	c := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	s := NewService(repo, probe, Options{PerMinute: perMinute}, zap.NewNop())
	s.now = c.now
	return s, repo, c
}

func record(t *testing.T, s *Service) models.Reservation {
	t.Helper()
	trip := models.TripRecord{TripIdentifier: "1404/10/05|684|زاگرس", RowIndex: "0", SelectionToken: "javascript:__doPostBack('a','Select$0')"}
	r, err := s.Record(context.Background(), trip,
		[]models.PassengerInput{{NationalID: "0012345678", Birthdate: "1370/05/12", Phone: "09123456789"}},
		models.ReservationOutcome{Success: true, ExternalReservationID: "1001"},
		&models.ReceiptRecord{ResID: "1001"})
	require.NoError(t, err)
	return r
}

func TestRecord_StoresPendingSnapshot(t *testing.T) {
	s, _, _ := newTestService(&fakeProber{exists: true}, 0)
	r := record(t, s)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, models.StatusPending, r.Status)
	assert.Empty(t, r.TripSnapshot.SelectionToken)
	assert.Empty(t, r.TripSnapshot.RowIndex)
	require.NotNil(t, r.ReceiptData)

	_, err := s.Record(context.Background(), models.TripRecord{}, nil, models.Failed(errcode.TripCapacityExhausted, "full"), nil)
	assert.Equal(t, errcode.InvalidParams, errcode.CodeOf(err))
}

func TestGet_FirstReadAlwaysProbes(t *testing.T) {
	probe := &fakeProber{exists: true}
	s, _, c := newTestService(probe, 0)
	r := record(t, s)

	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, probe.count())
	require.NotNil(t, got.LastValidatedAt)
	assert.Equal(t, c.now(), *got.LastValidatedAt)
}

func TestGet_WithinBufferSkipsProbe(t *testing.T) {
	probe := &fakeProber{exists: true}
	s, _, c := newTestService(probe, 0)
	r := record(t, s)
	_, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)

	probe.mu.Lock()
	probe.exists = false
	probe.mu.Unlock()
	c.advance(29 * time.Minute)
	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, probe.count())
}

func TestGet_ProbesAtMostOncePerBuffer(t *testing.T) {
	probe := &fakeProber{exists: true}
	s, _, c := newTestService(probe, 0)
	r := record(t, s)

	c.advance(31 * time.Minute)
	first, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	require.NotNil(t, first.LastValidatedAt)
	assert.Equal(t, c.now(), *first.LastValidatedAt)
	assert.Equal(t, models.StatusPending, first.Status)

	for i := 0; i < 5; i++ {
		c.advance(5 * time.Minute)
		_, err := s.Get(context.Background(), r.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, probe.count())

	c.advance(10 * time.Minute)
	_, err = s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, probe.count())
}

func TestGet_MissingOnPortalMarksCancelled(t *testing.T) {
	probe := &fakeProber{exists: false}
	s, repo, c := newTestService(probe, 0)
	r := record(t, s)

	c.advance(time.Hour)
	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	stored, err := repo.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)

	c.advance(time.Hour)
	_, err = s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, probe.count(), "cancelled reservations are not probed again")
}

func TestGet_ProbeFailureIsFailOpen(t *testing.T) {
	probe := &fakeProber{err: errors.New("navigation timeout")}
	s, repo, c := newTestService(probe, 0)
	r := record(t, s)

	c.advance(time.Hour)
	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.LastValidatedAt)

	stored, err := repo.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastValidatedAt)
}

func TestGet_OnlyPendingIsProbed(t *testing.T) {
	probe := &fakeProber{exists: false}
	s, repo, c := newTestService(probe, 0)
	r := record(t, s)
	paid := models.StatusPaid
	require.NoError(t, repo.ApplyValidation(context.Background(), r.ID, models.ValidationUpdate{Status: &paid, LastValidatedAt: c.now()}))

	c.advance(time.Hour)
	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	assert.Zero(t, probe.count())
}

func TestList_RespectsProbeBudget(t *testing.T) {
	probe := &fakeProber{exists: true}
	s, _, c := newTestService(probe, 1)
	record(t, s)
	c.advance(time.Second)
	second := record(t, s)
	c.advance(time.Hour)

	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, probe.count())

	c.advance(time.Minute)
	got, err := s.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, probe.count())
	assert.NotNil(t, got.LastValidatedAt)
}

func TestGet_UnknownID(t *testing.T) {
	s, _, _ := newTestService(&fakeProber{}, 0)
	_, err := s.Get(context.Background(), "missing")
	assert.Equal(t, errcode.ReservationNotFound, errcode.CodeOf(err))
}
