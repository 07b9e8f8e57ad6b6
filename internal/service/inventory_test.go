package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPayoutAddress = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func seedEvent(store *testutil.MemStore, tiers ...models.Tier) *models.Event {
	event := &models.Event{
		ID:            "ev-1",
		OrganizerID:   "org-1",
		Title:         "Go Conference",
		Status:        models.EventStatusPublished,
		PayoutAddress: testPayoutAddress,
		Tiers:         tiers,
	}
	store.AddEvent(event)
	return event
}

func newLedger(store *testutil.MemStore) (*InventoryLedger, *TierCatalog) {
	catalog := NewTierCatalog(store, store)
	return NewInventoryLedger(store, nil, catalog), catalog
}

func TestReserveDecrementsAvailability(t *testing.T) {
	store := testutil.NewMemStore()
	seedEvent(store, models.Tier{Name: "GA", Price: 10, Supply: 5})
	ledger, catalog := newLedger(store)
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, "ev-1", 0, 2, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Ref)
	assert.Equal(t, 2, res.Quantity)

	avail, err := catalog.Availability(ctx, "ev-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, avail.Available)
	assert.Equal(t, 2, avail.Sold)
}

func TestReserveCapacityInvariantUnderConcurrency(t *testing.T) {
	const supply = 5
	const callers = 50

	store := testutil.NewMemStore()
	seedEvent(store, models.Tier{Name: "GA", Price: 10, Supply: supply})
	ledger, catalog := newLedger(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, "ev-1", 0, 1, time.Now())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, soldOut := 0, 0
	for err := range results {
		switch err {
		case nil:
			succeeded++
		case models.ErrSoldOut:
			soldOut++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, supply, succeeded)
	assert.Equal(t, callers-supply, soldOut)

	avail, err := catalog.Availability(ctx, "ev-1", 0)
	require.NoError(t, err)
	assert.Equal(t, supply, avail.Sold)
	assert.Equal(t, 0, avail.Available)
}

func TestReserveChecksRunInOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)

	store := testutil.NewMemStore()
	seedEvent(store,
		models.Tier{Name: "Early", Price: 10, Supply: 5, SalesStart: &start},
		models.Tier{Name: "Limited", Price: 10, Supply: 5, PerOrderLimit: 2},
		models.Tier{Name: "Gone", Price: 10, Supply: 0},
	)
	ledger, _ := newLedger(store)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, "ev-1", 0, 1, now)
	assert.ErrorIs(t, err, models.ErrSalesClosed)

	_, err = ledger.Reserve(ctx, "ev-1", 1, 3, now)
	assert.ErrorIs(t, err, models.ErrLimitExceeded)

	_, err = ledger.Reserve(ctx, "ev-1", 2, 1, now)
	assert.ErrorIs(t, err, models.ErrSoldOut)

	_, err = ledger.Reserve(ctx, "ev-1", 1, 0, now)
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	_, err = ledger.Reserve(ctx, "ev-1", 9, 1, now)
	assert.ErrorIs(t, err, models.ErrTierNotFound)

	_, err = ledger.Reserve(ctx, "missing", 0, 1, now)
	assert.ErrorIs(t, err, models.ErrEventNotFound)
}

func TestSalesWindowBoundsAreInclusive(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)

	store := testutil.NewMemStore()
	seedEvent(store, models.Tier{Name: "GA", Price: 10, Supply: 100, SalesStart: &start, SalesEnd: &end})
	ledger, _ := newLedger(store)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, "ev-1", 0, 1, start)
	assert.NoError(t, err)

	_, err = ledger.Reserve(ctx, "ev-1", 0, 1, end)
	assert.NoError(t, err)

	_, err = ledger.Reserve(ctx, "ev-1", 0, 1, end.Add(time.Second))
	assert.ErrorIs(t, err, models.ErrSalesClosed)
}

func TestReleaseRestoresAvailabilityExactlyOnce(t *testing.T) {
	store := testutil.NewMemStore()
	seedEvent(store, models.Tier{Name: "GA", Price: 10, Supply: 5})
	ledger, catalog := newLedger(store)
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, "ev-1", 0, 3, time.Now())
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, res.Ref))

	avail, err := catalog.Availability(ctx, "ev-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, avail.Available)

	// A second release of the same ref must not free anything twice.
	err = ledger.Release(ctx, res.Ref)
	assert.ErrorIs(t, err, models.ErrAlreadyReleased)

	avail, err = catalog.Availability(ctx, "ev-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, avail.Available)

	err = ledger.Release(ctx, "unknown-ref")
	assert.ErrorIs(t, err, models.ErrAlreadyReleased)
}

func TestReserveIndependentTiers(t *testing.T) {
	store := testutil.NewMemStore()
	seedEvent(store,
		models.Tier{Name: "GA", Price: 10, Supply: 1},
		models.Tier{Name: "VIP", Price: 50, Supply: 1},
	)
	ledger, _ := newLedger(store)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, "ev-1", 0, 1, time.Now())
	require.NoError(t, err)

	// Tier 0 being exhausted must not affect tier 1.
	_, err = ledger.Reserve(ctx, "ev-1", 1, 1, time.Now())
	assert.NoError(t, err)
}
