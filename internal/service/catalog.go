package service

import (
	"context"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// EventStore is the read-only event lookup the catalog needs.
type EventStore interface {
	GetPublishedEvent(ctx context.Context, eventID string) (*models.Event, error)
}

// CounterReader reads the sold counter without mutating it.
type CounterReader interface {
	GetCounter(ctx context.Context, eventID string, tierIndex int) (*models.InventoryCounter, error)
}

// TierCatalog exposes published tiers and their live availability.
type TierCatalog struct {
	events   EventStore
	counters CounterReader
	logger   *zap.Logger
}

// NewTierCatalog creates a new tier catalog
func NewTierCatalog(events EventStore, counters CounterReader) *TierCatalog {
	return &TierCatalog{
		events:   events,
		counters: counters,
		logger:   util.GetLogger(),
	}
}

// GetTier retrieves a published event and the tier at the given index.
func (c *TierCatalog) GetTier(ctx context.Context, eventID string, tierIndex int) (*models.Event, *models.Tier, error) {
	event, err := c.events.GetPublishedEvent(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	if tierIndex < 0 || tierIndex >= len(event.Tiers) {
		return nil, nil, models.ErrTierNotFound
	}
	return event, &event.Tiers[tierIndex], nil
}

// Availability reports supply minus sold for a tier, floored at zero.
func (c *TierCatalog) Availability(ctx context.Context, eventID string, tierIndex int) (*models.TierAvailability, error) {
	_, tier, err := c.GetTier(ctx, eventID, tierIndex)
	if err != nil {
		return nil, err
	}

	counter, err := c.counters.GetCounter(ctx, eventID, tierIndex)
	if err != nil {
		return nil, err
	}

	available := tier.Supply - counter.Sold
	if available < 0 {
		available = 0
	}
	return &models.TierAvailability{
		Supply:    tier.Supply,
		Sold:      counter.Sold,
		Available: available,
	}, nil
}
