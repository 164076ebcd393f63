package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeNotifier is told about every committed ledger write, in version
// order per record.
type ChangeNotifier interface {
	RecordChanged(ctx context.Context, kind ChangeKind, rec *domain.InventoryRecord) error
}

type LedgerOptions struct {
	ReservationTTL time.Duration
	MaxAttempts    int
	Now            func() time.Time
}

// InventoryLedger is the only writer of InventoryRecords. Every mutation is
// a read, a local change and a write conditioned on the version that was
// read; a lost race re-reads and tries again.
type InventoryLedger struct {
	repo        repository.InventoryRepository
	notifier    ChangeNotifier
	logger      *zap.Logger
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewInventoryLedger(repo repository.InventoryRepository, notifier ChangeNotifier, logger *zap.Logger, opts LedgerOptions) *InventoryLedger {
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 30 * time.Minute
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &InventoryLedger{
		repo:        repo,
		notifier:    notifier,
		logger:      logger,
		ttl:         opts.ReservationTTL,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
	}
}

type ReserveParams struct {
	// ReservationID groups the items of one order. Generated when empty.
	ReservationID string
	ProductID     string
	OrderID       string
	Quantity      int
	RequestedBy   string
}

// Reserve holds quantity units of a product until the reservation is
// committed, released or expires. Reserving an id the record already holds
// returns the existing hold, so a retried call never holds stock twice.
func (l *InventoryLedger) Reserve(ctx context.Context, p ReserveParams) (*domain.Reservation, error) {
	if p.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if p.ReservationID == "" {
		p.ReservationID = uuid.New().String()
	}

	var reservation domain.Reservation
	_, err := l.update(ctx, p.ProductID, func(rec *domain.InventoryRecord, now time.Time) (bool, error) {
		if existing, ok := rec.FindReservation(p.ReservationID); ok {
			reservation = existing
			return false, nil
		}
		reservation = domain.Reservation{
			ReservationID: p.ReservationID,
			OrderID:       p.OrderID,
			Quantity:      p.Quantity,
			RequestedBy:   p.RequestedBy,
			ReservedAt:    now,
			ExpiresAt:     now.Add(l.ttl),
		}
		if err := rec.AddReservation(reservation, now); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Stock reserved",
		zap.String("product_id", p.ProductID),
		zap.String("reservation_id", p.ReservationID),
		zap.String("order_id", p.OrderID),
		zap.Int("quantity", p.Quantity))
	return &reservation, nil
}

// Release returns every unit held under reservationID. Releasing an unknown
// or already released reservation is a no-op.
func (l *InventoryLedger) Release(ctx context.Context, reservationID string) ([]domain.AffectedItem, error) {
	return l.settle(ctx, reservationID, "released", func(rec *domain.InventoryRecord, id string, now time.Time) (int, error) {
		return rec.RemoveReservation(id, now), nil
	})
}

// Commit turns every unit held under reservationID into a sale. Products
// where the reservation had lapsed and the stock is gone are skipped and
// reported as ErrReservationLapsed alongside the items that did commit.
func (l *InventoryLedger) Commit(ctx context.Context, reservationID string) ([]domain.AffectedItem, error) {
	return l.settle(ctx, reservationID, "committed", (*domain.InventoryRecord).CommitReservation)
}

// ReleaseItem releases reservationID on a single known product.
func (l *InventoryLedger) ReleaseItem(ctx context.Context, productID, reservationID string) (int, error) {
	released := 0
	_, err := l.update(ctx, productID, func(rec *domain.InventoryRecord, now time.Time) (bool, error) {
		version := rec.Version
		released = rec.RemoveReservation(reservationID, now)
		return rec.Version != version, nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	return released, err
}

func (l *InventoryLedger) settle(ctx context.Context, reservationID, verb string, apply func(*domain.InventoryRecord, string, time.Time) (int, error)) ([]domain.AffectedItem, error) {
	if reservationID == "" {
		return nil, fmt.Errorf("%w: reservation id", domain.ErrNotFound)
	}

	holders, err := l.repo.FindByReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to find reservation %s: %w", reservationID, err)
	}

	items := []domain.AffectedItem{}
	var lapsed []error
	for _, holder := range holders {
		moved := 0
		_, err := l.update(ctx, holder.ProductID, func(rec *domain.InventoryRecord, now time.Time) (bool, error) {
			version := rec.Version
			var err error
			moved, err = apply(rec, reservationID, now)
			return rec.Version != version, err
		})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if errors.Is(err, domain.ErrReservationLapsed) {
			l.logger.Error("Reservation lapsed before "+verb,
				zap.String("reservation_id", reservationID),
				zap.String("product_id", holder.ProductID),
				zap.Error(err))
			lapsed = append(lapsed, err)
			continue
		}
		if err != nil {
			return items, fmt.Errorf("failed to settle reservation %s on %s: %w", reservationID, holder.ProductID, err)
		}
		if moved > 0 {
			items = append(items, domain.AffectedItem{ProductID: holder.ProductID, Quantity: moved})
		}
	}

	l.logger.Info("Reservation "+verb,
		zap.String("reservation_id", reservationID),
		zap.Int("items", len(items)),
		zap.Int("lapsed", len(lapsed)))
	return items, errors.Join(lapsed...)
}

// SweepNow sweeps against the ledger clock.
func (l *InventoryLedger) SweepNow(ctx context.Context) (*domain.SweepResult, error) {
	return l.SweepExpired(ctx, l.now())
}

// SweepExpired lapses every reservation that expired before now. A record
// that fails to update is skipped and reported in the returned error; the
// next sweep picks it up again.
func (l *InventoryLedger) SweepExpired(ctx context.Context, now time.Time) (*domain.SweepResult, error) {
	candidates, err := l.repo.FindExpiring(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to scan expiring reservations: %w", err)
	}

	result := &domain.SweepResult{
		RecordsScanned: len(candidates),
		Released:       map[string]int{},
	}

	var errs []error
	for _, c := range candidates {
		var expired []domain.Reservation
		_, err := l.update(ctx, c.ProductID, func(rec *domain.InventoryRecord, _ time.Time) (bool, error) {
			version := rec.Version
			expired = rec.RemoveExpired(now)
			return rec.Version != version, nil
		})
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", c.ProductID, err))
			continue
		}
		if len(expired) == 0 {
			continue
		}
		result.RecordsUpdated++
		result.ReservationsExpired += len(expired)
		for _, r := range expired {
			result.Released[c.ProductID] += r.Quantity
		}
	}

	if result.ReservationsExpired > 0 {
		l.logger.Info("Expired reservations swept",
			zap.Int("records_scanned", result.RecordsScanned),
			zap.Int("records_updated", result.RecordsUpdated),
			zap.Int("reservations_expired", result.ReservationsExpired))
	}
	return result, errors.Join(errs...)
}

// update runs mutate against a fresh copy of the record and writes it back
// conditioned on the version that was read. mutate reports whether it
// changed anything; an unchanged record is not written.
func (l *InventoryLedger) update(ctx context.Context, productID string, mutate func(rec *domain.InventoryRecord, now time.Time) (bool, error)) (*domain.InventoryRecord, error) {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		rec, err := l.repo.Get(ctx, productID)
		if err != nil {
			return nil, err
		}
		readVersion := rec.Version

		changed, err := mutate(rec, l.now())
		if err != nil {
			return nil, err
		}
		if !changed {
			return rec, nil
		}

		err = l.repo.SaveIfVersion(ctx, rec, readVersion)
		if err == nil {
			l.notify(ctx, ChangeUpdated, rec)
			return rec, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to save product %s: %w", productID, err)
		}

		l.logger.Debug("Version conflict, retrying",
			zap.String("product_id", productID),
			zap.Int64("read_version", readVersion),
			zap.Int("attempt", attempt))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: product %s after %d attempts", domain.ErrReservationConflict, productID, l.maxAttempts)
}

func (l *InventoryLedger) notify(ctx context.Context, kind ChangeKind, rec *domain.InventoryRecord) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.RecordChanged(ctx, kind, rec.Clone()); err != nil {
		l.logger.Error("Failed to publish product change",
			zap.String("product_id", rec.ProductID),
			zap.String("kind", string(kind)),
			zap.Int64("version", rec.Version),
			zap.Error(err))
	}
}
