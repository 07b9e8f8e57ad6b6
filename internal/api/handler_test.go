package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ticket-service/internal/clock"
	"ticket-service/internal/models"
	"ticket-service/internal/service"
	"ticket-service/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID       int64 = 8453
	testPayoutAddress       = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

type apiFixture struct {
	router *gin.Engine
	store  *testutil.MemStore
	clock  *clock.Manual
}

func setupAPI(t *testing.T, tiers ...models.Tier) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := testutil.NewMemStore()
	store.AddEvent(&models.Event{
		ID:            "ev-1",
		OrganizerID:   "org-1",
		Title:         "Go Conference",
		Status:        models.EventStatusPublished,
		PayoutAddress: testPayoutAddress,
		Tiers:         tiers,
	})

	clk := clock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	catalog := service.NewTierCatalog(store, store)
	ledger := service.NewInventoryLedger(store, nil, catalog)
	payout := service.NewPayoutResolver(store, "")
	checkout := service.NewCheckoutService(catalog, ledger, payout, store, nil, clk, testChainID)
	verifier := service.NewPaymentVerifier(store, clk, testChainID)
	engine := service.NewSettlementEngine(store, nil, clk, "USDC", "base_pay")

	router := gin.New()
	NewHandler(checkout, catalog, verifier, engine).SetupRoutes(router)
	return &apiFixture{router: router, store: store, clock: clk}
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (f *apiFixture) startQuote(t *testing.T, quantity int) map[string]any {
	t.Helper()
	w := f.do(http.MethodGet,
		fmt.Sprintf("/api/v1/checkout/quote?event_id=ev-1&tier_idx=0&quantity=%d&buyer_id=buyer-1", quantity), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody(t, w)
}

func TestStartQuoteEndpoint(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 12.5, Supply: 10})

	body := f.startQuote(t, 2)
	assert.NotEmpty(t, body["quote_ref"])
	assert.Equal(t, float64(2), body["quantity"])
	assert.Equal(t, 25.0, body["amount"])
	assert.Equal(t, testPayoutAddress, body["payout_address"])
	assert.Equal(t, float64(testChainID), body["chain_id"])
}

func TestStartQuoteValidation(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 10, Supply: 1})

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   string
	}{
		{"missing event id", "buyer_id=b", http.StatusBadRequest, codeBadEvent},
		{"missing buyer id", "event_id=ev-1&tier_idx=0", http.StatusBadRequest, codeInvalidPayload},
		{"non-numeric tier", "event_id=ev-1&tier_idx=ga&buyer_id=b", http.StatusBadRequest, codeBadTier},
		{"unknown event", "event_id=ev-404&tier_idx=0&buyer_id=b", http.StatusNotFound, codeNotFound},
		{"unknown tier", "event_id=ev-1&tier_idx=7&buyer_id=b", http.StatusBadRequest, codeBadTier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, "/api/v1/checkout/quote?"+tt.query, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeBody(t, w)["error"])
		})
	}
}

func TestStartQuoteSoldOutConflict(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 10, Supply: 1})

	f.startQuote(t, 1)
	w := f.do(http.MethodGet, "/api/v1/checkout/quote?event_id=ev-1&tier_idx=0&quantity=1&buyer_id=buyer-2", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, codeSoldOut, decodeBody(t, w)["error"])
}

func TestCancelQuoteEndpoint(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 10, Supply: 5})
	ref := f.startQuote(t, 1)["quote_ref"].(string)

	w := f.do(http.MethodDelete, "/api/v1/checkout/quote/"+ref, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A second cancel finds no active quote.
	w = f.do(http.MethodDelete, "/api/v1/checkout/quote/"+ref, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeNotFound, decodeBody(t, w)["error"])
}

func TestAvailabilityEndpoint(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 10, Supply: 5})
	f.startQuote(t, 2)

	w := f.do(http.MethodGet, "/api/v1/events/ev-1/tiers/0/availability", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decodeBody(t, w)["available"])
}

func completeRequest(quoteRef string, amount float64) map[string]any {
	return map[string]any{
		"quote_ref":           quoteRef,
		"from":                "0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
		"to":                  testPayoutAddress,
		"chain_id":            testChainID,
		"amount":              amount,
		"external_payment_id": "ext-1",
		"external_status":     "succeeded",
	}
}

func TestCompleteQuoteEndpoint(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 10, Supply: 5})
	ref := f.startQuote(t, 1)["quote_ref"].(string)

	w := f.do(http.MethodPost, "/api/v1/checkout/complete", completeRequest(ref, 10))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["payment_id"])
	assert.Len(t, body["ticket_ids"], 1)
	assert.Equal(t, 1, f.store.TicketCount())

	// Retrying the callback replays the same settlement.
	w = f.do(http.MethodPost, "/api/v1/checkout/complete", completeRequest(ref, 10))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body["payment_id"], decodeBody(t, w)["payment_id"])
	assert.Equal(t, 1, f.store.TicketCount())
}

func TestCompleteQuoteAmountMismatchAudited(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 10, Supply: 5})
	ref := f.startQuote(t, 1)["quote_ref"].(string)

	w := f.do(http.MethodPost, "/api/v1/checkout/complete", completeRequest(ref, 3))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeAmountMismatch, decodeBody(t, w)["error"])

	// Verification failures leave a rejected payment row, never a ticket.
	assert.Equal(t, 1, f.store.PaymentCount())
	assert.Equal(t, 0, f.store.TicketCount())
}

func TestCompleteQuoteExpired(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 10, Supply: 5})
	ref := f.startQuote(t, 1)["quote_ref"].(string)

	f.clock.Advance(16 * time.Minute)
	w := f.do(http.MethodPost, "/api/v1/checkout/complete", completeRequest(ref, 10))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, codeQuoteExpired, decodeBody(t, w)["error"])
	// A dead quote is not a claim defect, so no audit row is written.
	assert.Equal(t, 0, f.store.PaymentCount())
}

func TestCompleteCancelledQuote(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 10, Supply: 5})
	ref := f.startQuote(t, 1)["quote_ref"].(string)

	w := f.do(http.MethodDelete, "/api/v1/checkout/quote/"+ref, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/api/v1/checkout/complete", completeRequest(ref, 10))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeNotFound, decodeBody(t, w)["error"])
	assert.Equal(t, 0, f.store.TicketCount())
}

func TestCompleteQuoteMalformedBody(t *testing.T) {
	f := setupAPI(t, models.Tier{Name: "GA", Price: 10, Supply: 5})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/complete", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeInvalidPayload, decodeBody(t, w)["error"])
}

func TestHealthEndpoints(t *testing.T) {
	f := setupAPI(t)

	for _, path := range []string{"/health", "/ready"} {
		w := f.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
