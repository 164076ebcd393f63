package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
)

// MemoryInventoryRepository keeps records in process memory with the same
// conditional-write semantics as the DynamoDB repository. Used in LOCAL_MODE.
type MemoryInventoryRepository struct {
	mu      sync.Mutex
	records map[string]*domain.InventoryRecord
}

func NewMemoryInventoryRepository() *MemoryInventoryRepository {
	return &MemoryInventoryRepository{records: make(map[string]*domain.InventoryRecord)}
}

func (r *MemoryInventoryRepository) Create(ctx context.Context, rec *domain.InventoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ProductID]; exists {
		return domain.ErrProductExists
	}
	r.records[rec.ProductID] = rec.Clone()
	return nil
}

func (r *MemoryInventoryRepository) Get(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *MemoryInventoryRepository) SaveIfVersion(ctx context.Context, rec *domain.InventoryRecord, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[rec.ProductID]
	if !ok || current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	r.records[rec.ProductID] = rec.Clone()
	return nil
}

func (r *MemoryInventoryRepository) DeleteIfVersion(ctx context.Context, productID string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[productID]
	if !ok || current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	delete(r.records, productID)
	return nil
}

func (r *MemoryInventoryRepository) FindByReservation(ctx context.Context, reservationID string) ([]*domain.InventoryRecord, error) {
	return r.filter(func(rec *domain.InventoryRecord) bool { return rec.Holds(reservationID) }), nil
}

func (r *MemoryInventoryRepository) FindExpiring(ctx context.Context, now time.Time) ([]*domain.InventoryRecord, error) {
	return r.filter(func(rec *domain.InventoryRecord) bool {
		earliest, ok := rec.EarliestExpiry()
		return ok && !earliest.After(now)
	}), nil
}

func (r *MemoryInventoryRepository) filter(match func(*domain.InventoryRecord) bool) []*domain.InventoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.InventoryRecord
	for _, rec := range r.records {
		if match(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
