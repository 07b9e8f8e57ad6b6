package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-service/internal/clock"
	"ticket-service/internal/models"
	"ticket-service/internal/service"
	"ticket-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID int64 = 8453

type claimFixture struct {
	store      *testutil.MemStore
	clock      *clock.Manual
	verifier   *service.PaymentVerifier
	settlement *service.SettlementEngine
	quote      *models.Quote
}

func setupClaim(t *testing.T) *claimFixture {
	t.Helper()
	store := testutil.NewMemStore()
	store.AddEvent(&models.Event{
		ID:            "ev-1",
		OrganizerID:   "org-1",
		Status:        models.EventStatusPublished,
		PayoutAddress: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Tiers:         []models.Tier{{Name: "GA", Price: 10, Supply: 5}},
	})

	clk := clock.NewManual(time.Now())
	catalog := service.NewTierCatalog(store, store)
	ledger := service.NewInventoryLedger(store, nil, catalog)
	payout := service.NewPayoutResolver(store, "")
	checkout := service.NewCheckoutService(catalog, ledger, payout, store, nil, clk, testChainID)

	quote, err := checkout.StartQuote(context.Background(), service.StartQuoteInput{
		EventID: "ev-1", TierIndex: 0, Quantity: 1, BuyerID: "buyer-1",
	})
	require.NoError(t, err)

	return &claimFixture{
		store:      store,
		clock:      clk,
		verifier:   service.NewPaymentVerifier(store, clk, testChainID),
		settlement: service.NewSettlementEngine(store, nil, clk, "USDC", "base_pay"),
		quote:      quote,
	}
}

func (f *claimFixture) completedClaim(amount float64) *models.PaymentCompletedClaim {
	return &models.PaymentCompletedClaim{
		QuoteRef: f.quote.Ref,
		Claim: models.PaymentClaim{
			PayerAddress:      "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
			PayToAddress:      f.quote.PayoutAddress,
			ChainID:           f.quote.ChainID,
			Amount:            amount,
			ExternalPaymentID: "ext-1",
			ExternalStatus:    "succeeded",
		},
	}
}

func TestClaimHandlerSettlesValidClaim(t *testing.T) {
	f := setupClaim(t)
	handler := newClaimHandler(f.verifier, f.settlement)

	err := handler(context.Background(), f.completedClaim(f.quote.Amount))
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.TicketCount())
	assert.Equal(t, 1, f.store.PaymentCount())
}

func TestClaimHandlerRejectsDefectiveClaim(t *testing.T) {
	f := setupClaim(t)
	handler := newClaimHandler(f.verifier, f.settlement)

	// Wrong amount: the delivery is consumed and an audit row is written.
	err := handler(context.Background(), f.completedClaim(1))
	require.NoError(t, err)
	assert.Equal(t, 0, f.store.TicketCount())
	assert.Equal(t, 1, f.store.PaymentCount())
}

func TestClaimHandlerDropsDeadQuoteWithoutAudit(t *testing.T) {
	f := setupClaim(t)
	handler := newClaimHandler(f.verifier, f.settlement)

	f.clock.Advance(16 * time.Minute)
	err := handler(context.Background(), f.completedClaim(f.quote.Amount))
	require.NoError(t, err)
	assert.Equal(t, 0, f.store.PaymentCount())
}

// failingQuotes simulates the quote store being unreachable.
type failingQuotes struct{}

var errStoreDown = errors.New("connection refused")

func (failingQuotes) GetQuote(ctx context.Context, ref string) (*models.Quote, error) {
	return nil, errStoreDown
}

func TestClaimHandlerReturnsInfrastructureErrors(t *testing.T) {
	f := setupClaim(t)
	verifier := service.NewPaymentVerifier(failingQuotes{}, f.clock, testChainID)
	handler := newClaimHandler(verifier, f.settlement)

	// A store outage must surface so the offset stays uncommitted and the
	// broker redelivers the claim; it is neither rejected nor dropped.
	err := handler(context.Background(), f.completedClaim(f.quote.Amount))
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 0, f.store.PaymentCount())
	assert.Equal(t, 0, f.store.TicketCount())
}
