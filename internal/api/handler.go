package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error codes returned to the UI layer.
const (
	codeInvalidPayload      = "invalid_payload"
	codeBadEvent            = "bad_event"
	codeNotFound            = "not_found"
	codeBadTier             = "bad_tier"
	codeSoldOut             = "sold_out"
	codeSalesClosed         = "sales_closed"
	codeLimitExceeded       = "limit_exceeded"
	codePayoutNotConfigured = "payout_not_configured"
	codeAmountMismatch      = "amount_mismatch"
	codeNetworkMismatch     = "network_mismatch"
	codeRecipientMismatch   = "recipient_mismatch"
	codeQuoteExpired        = "quote_expired"
	codeInternalError       = "internal_error"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout   *service.CheckoutService
	catalog    *service.TierCatalog
	verifier   *service.PaymentVerifier
	settlement *service.SettlementEngine
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout *service.CheckoutService,
	catalog *service.TierCatalog,
	verifier *service.PaymentVerifier,
	settlement *service.SettlementEngine,
) *Handler {
	return &Handler{
		checkout:   checkout,
		catalog:    catalog,
		verifier:   verifier,
		settlement: settlement,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/checkout/quote", h.startQuote)
		v1.DELETE("/checkout/quote/:ref", h.cancelQuote)
		v1.POST("/checkout/complete", h.completeQuote)
		v1.GET("/events/:id/tiers/:idx/availability", h.availability)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type quoteResponse struct {
	QuoteRef      string    `json:"quote_ref"`
	Quantity      int       `json:"quantity"`
	UnitPrice     float64   `json:"unit_price"`
	Amount        float64   `json:"amount"`
	PayoutAddress string    `json:"payout_address"`
	ChainID       int64     `json:"chain_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// startQuote handles quote creation:
// GET /checkout/quote?event_id=&tier_idx=&quantity=&buyer_id=
func (h *Handler) startQuote(c *gin.Context) {
	eventID := c.Query("event_id")
	buyerID := c.Query("buyer_id")
	if eventID == "" {
		writeError(c, http.StatusBadRequest, codeBadEvent)
		return
	}
	if buyerID == "" {
		writeError(c, http.StatusBadRequest, codeInvalidPayload)
		return
	}

	tierIdx, err := strconv.Atoi(c.DefaultQuery("tier_idx", "-1"))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeBadTier)
		return
	}
	quantity, err := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidPayload)
		return
	}

	quote, err := h.checkout.StartQuote(c.Request.Context(), service.StartQuoteInput{
		EventID:   eventID,
		TierIndex: tierIdx,
		Quantity:  quantity,
		BuyerID:   buyerID,
	})
	if err != nil {
		status, code := mapError(err)
		writeError(c, status, code)
		return
	}

	c.JSON(http.StatusOK, quoteResponse{
		QuoteRef:      quote.Ref,
		Quantity:      quote.Quantity,
		UnitPrice:     quote.UnitPrice,
		Amount:        quote.Amount,
		PayoutAddress: quote.PayoutAddress,
		ChainID:       quote.ChainID,
		ExpiresAt:     quote.ExpiresAt,
	})
}

// cancelQuote handles buyer-side quote cancellation
func (h *Handler) cancelQuote(c *gin.Context) {
	if err := h.checkout.CancelQuote(c.Request.Context(), c.Param("ref")); err != nil {
		status, code := mapError(err)
		writeError(c, status, code)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type completeQuoteRequest struct {
	QuoteRef string `json:"quote_ref" binding:"required"`
	models.PaymentClaim
}

// completeQuote handles the payment completion callback
func (h *Handler) completeQuote(c *gin.Context) {
	var req completeQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidPayload)
		return
	}

	ctx := c.Request.Context()
	vc, err := h.verifier.Verify(ctx, req.QuoteRef, &req.PaymentClaim)
	if err != nil {
		if service.IsClaimDefect(err) {
			quote, _ := h.checkout.GetQuote(ctx, req.QuoteRef)
			h.settlement.RejectClaim(ctx, quote, &req.PaymentClaim, err)
		}
		status, code := mapError(err)
		writeError(c, status, code)
		return
	}

	result, err := h.settlement.Settle(ctx, vc)
	if err != nil {
		status, code := mapError(err)
		writeError(c, status, code)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"payment_id": result.Payment.ID,
		"ticket_ids": result.TicketIDs,
	})
}

// availability handles tier availability reads
func (h *Handler) availability(c *gin.Context) {
	tierIdx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		writeError(c, http.StatusBadRequest, codeBadTier)
		return
	}

	avail, err := h.catalog.Availability(c.Request.Context(), c.Param("id"), tierIdx)
	if err != nil {
		status, code := mapError(err)
		writeError(c, status, code)
		return
	}
	c.JSON(http.StatusOK, avail)
}

func writeError(c *gin.Context, status int, code string) {
	c.JSON(status, gin.H{"ok": false, "error": code})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidPayload), errors.Is(err, models.ErrInvalidQuantity):
		return http.StatusBadRequest, codeInvalidPayload
	case errors.Is(err, models.ErrEventNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, models.ErrTierNotFound):
		return http.StatusBadRequest, codeBadTier
	case errors.Is(err, models.ErrSoldOut):
		return http.StatusConflict, codeSoldOut
	case errors.Is(err, models.ErrSalesClosed):
		return http.StatusConflict, codeSalesClosed
	case errors.Is(err, models.ErrLimitExceeded):
		return http.StatusConflict, codeLimitExceeded
	case errors.Is(err, models.ErrPayoutNotConfigured):
		return http.StatusConflict, codePayoutNotConfigured
	case errors.Is(err, models.ErrQuoteNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, models.ErrQuoteExpired):
		return http.StatusConflict, codeQuoteExpired
	case errors.Is(err, models.ErrNetworkMismatch):
		return http.StatusBadRequest, codeNetworkMismatch
	case errors.Is(err, models.ErrRecipientMismatch):
		return http.StatusBadRequest, codeRecipientMismatch
	case errors.Is(err, models.ErrAmountMismatch):
		return http.StatusBadRequest, codeAmountMismatch
	}
	return http.StatusInternalServerError, codeInternalError
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
