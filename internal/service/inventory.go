package service

import (
	"context"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReservationStore is the authoritative counter and reservation storage.
// ReserveCounter must perform its supply check and increment as one atomic
// conditional operation.
type ReservationStore interface {
	ReserveCounter(ctx context.Context, eventID string, tierIndex, quantity, supply int) (bool, error)
	ReleaseCounter(ctx context.Context, eventID string, tierIndex, quantity int) error
	CreateReservation(ctx context.Context, r *models.Reservation) error
	ReleaseReservation(ctx context.Context, ref string) (*models.Reservation, error)
}

// StockCache is the optional Redis fast path for the same counters.
type StockCache interface {
	ReserveStock(ctx context.Context, eventID string, tierIndex, quantity, supply int) (bool, error)
	ReleaseStock(ctx context.Context, eventID string, tierIndex, quantity int) error
}

// InventoryLedger performs capacity-bounded reservation of tier inventory.
// Reservations against the same tier serialize on the conditional counter
// update; different tiers never contend.
type InventoryLedger struct {
	store   ReservationStore
	cache   StockCache
	catalog *TierCatalog
	logger  *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger. cache may be nil, in
// which case all reservations go straight to the store.
func NewInventoryLedger(store ReservationStore, cache StockCache, catalog *TierCatalog) *InventoryLedger {
	return &InventoryLedger{
		store:   store,
		cache:   cache,
		catalog: catalog,
		logger:  util.GetLogger(),
	}
}

// Reserve holds quantity units of a tier. Checks run in order: sales window
// at asOf, per-order limit, then the atomic capacity-bounded increment.
func (l *InventoryLedger) Reserve(ctx context.Context, eventID string, tierIndex, quantity int, asOf time.Time) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Reserve")
	defer span.End()

	if quantity < 1 {
		return nil, models.ErrInvalidQuantity
	}

	_, tier, err := l.catalog.GetTier(ctx, eventID, tierIndex)
	if err != nil {
		return nil, err
	}

	if !tier.SalesOpen(asOf) {
		util.ReservationsFailedTotal.WithLabelValues("sales_closed").Inc()
		return nil, models.ErrSalesClosed
	}
	if tier.PerOrderLimit > 0 && quantity > tier.PerOrderLimit {
		util.ReservationsFailedTotal.WithLabelValues("limit_exceeded").Inc()
		return nil, models.ErrLimitExceeded
	}

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	cached := false
	if l.cache != nil {
		ok, err := l.cache.ReserveStock(ctx, eventID, tierIndex, quantity, tier.Supply)
		if err != nil {
			// Redis being down must not block sales; the store check below
			// still enforces the bound.
			l.logger.Warn("Stock cache reserve failed, falling through to store",
				zap.String("event_id", eventID),
				zap.Int("tier_index", tierIndex),
				zap.Error(err))
		} else if !ok {
			util.ReservationsFailedTotal.WithLabelValues("sold_out").Inc()
			return nil, models.ErrSoldOut
		} else {
			cached = true
		}
	}

	ok, err := l.store.ReserveCounter(ctx, eventID, tierIndex, quantity, tier.Supply)
	if err != nil {
		l.releaseCache(ctx, cached, eventID, tierIndex, quantity)
		return nil, err
	}
	if !ok {
		l.releaseCache(ctx, cached, eventID, tierIndex, quantity)
		util.ReservationsFailedTotal.WithLabelValues("sold_out").Inc()
		return nil, models.ErrSoldOut
	}

	reservation := &models.Reservation{
		Ref:       uuid.New().String(),
		EventID:   eventID,
		TierIndex: tierIndex,
		Quantity:  quantity,
	}
	if err := l.store.CreateReservation(ctx, reservation); err != nil {
		l.releaseCache(ctx, cached, eventID, tierIndex, quantity)
		if relErr := l.store.ReleaseCounter(ctx, eventID, tierIndex, quantity); relErr != nil {
			l.logger.Error("Failed to roll back counter after reservation insert failure",
				zap.String("event_id", eventID),
				zap.Int("tier_index", tierIndex),
				zap.Error(relErr))
		}
		return nil, err
	}

	return reservation, nil
}

// Release returns a reservation's units to the tier. At most one release
// per reservation takes effect; repeats and unknown refs report
// ErrAlreadyReleased and leave the counter alone.
func (l *InventoryLedger) Release(ctx context.Context, ref string) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Release")
	defer span.End()

	reservation, err := l.store.ReleaseReservation(ctx, ref)
	if err != nil {
		return err
	}

	l.releaseCache(ctx, l.cache != nil, reservation.EventID, reservation.TierIndex, reservation.Quantity)
	if err := l.store.ReleaseCounter(ctx, reservation.EventID, reservation.TierIndex, reservation.Quantity); err != nil {
		return err
	}
	return nil
}

func (l *InventoryLedger) releaseCache(ctx context.Context, cached bool, eventID string, tierIndex, quantity int) {
	if !cached || l.cache == nil {
		return
	}
	if err := l.cache.ReleaseStock(ctx, eventID, tierIndex, quantity); err != nil {
		l.logger.Error("Failed to release stock cache",
			zap.String("event_id", eventID),
			zap.Int("tier_index", tierIndex),
			zap.Error(err))
	}
}
