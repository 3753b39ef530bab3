// Package reservations keeps the booking application's reservation records
// and reconciles pending ones against the portal when they are read.
package reservations

import (
	"context"
	"sort"
	"sync"
	"time"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
)

// Repository persists reservation records. Get and ApplyValidation return a
// ReservationNotFound error for unknown ids.
type Repository interface {
	Insert(ctx context.Context, r models.Reservation) error
	Get(ctx context.Context, id string) (models.Reservation, error)
	List(ctx context.Context) ([]models.Reservation, error)
	ApplyValidation(ctx context.Context, id string, u models.ValidationUpdate) error
}

func notFound(id string) error {
	return errcode.New(errcode.ReservationNotFound, "reservation "+id+" not found")
}

// MemoryRepository is a Repository for tests and database-less runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]models.Reservation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: map[string]models.Reservation{}}
}

func (m *MemoryRepository) Insert(_ context.Context, r models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return errcode.New(errcode.InvalidParams, "reservation "+r.ID+" already exists")
	}
	m.records[r.ID] = r
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return models.Reservation{}, notFound(id)
	}
	return r, nil
}

func (m *MemoryRepository) List(_ context.Context) ([]models.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Reservation, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) ApplyValidation(_ context.Context, id string, u models.ValidationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return notFound(id)
	}
	at := u.LastValidatedAt
	r.LastValidatedAt = &at
	r.UpdatedAt = time.Now()
	if u.Status != nil {
		r.Status = *u.Status
	}
	m.records[id] = r
	return nil
}
