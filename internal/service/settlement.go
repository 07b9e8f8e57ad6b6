package service

import (
	"context"
	"errors"
	"time"

	"ticket-service/internal/clock"
	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettlementStore is the durable record storage for settlements.
// SettlePayment must commit the payment, the audit transaction, and every
// ticket row in one transaction, and must refuse with ErrQuoteNotActive
// when the quote is no longer active at commit time.
type SettlementStore interface {
	GetSettledPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	GetSettledPaymentByQuoteRef(ctx context.Context, quoteRef string) (*models.Payment, error)
	GetTicketIDsByPaymentID(ctx context.Context, paymentID string) ([]string, error)
	GetQuote(ctx context.Context, ref string) (*models.Quote, error)
	SettlePayment(ctx context.Context, payment *models.Payment, txn *models.Transaction, tickets []models.Ticket, quoteRef string) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
}

// SettlementPublisher emits settlement outcome events.
type SettlementPublisher interface {
	PublishPaymentSettled(ctx context.Context, event *models.PaymentSettledEvent) error
	PublishPaymentRejected(ctx context.Context, event *models.PaymentRejectedEvent) error
}

// SettlementEngine converts a verified claim into a durable, idempotent
// record set: one settled payment, one audit transaction, and exactly
// quantity ticket rows. The external payment id is the idempotency key, so
// at-least-once completion callbacks never double-issue tickets.
type SettlementEngine struct {
	store     SettlementStore
	publisher SettlementPublisher
	clock     clock.Clock
	currency  string
	method    string
	logger    *zap.Logger
}

// NewSettlementEngine creates a new settlement engine
func NewSettlementEngine(store SettlementStore, publisher SettlementPublisher, clk clock.Clock, currency, method string) *SettlementEngine {
	return &SettlementEngine{
		store:     store,
		publisher: publisher,
		clock:     clk,
		currency:  currency,
		method:    method,
		logger:    util.GetLogger(),
	}
}

// Settle commits a verified claim. Replays return the prior payment and
// ticket ids without writing anything; the quote's reservation is consumed,
// never released.
func (e *SettlementEngine) Settle(ctx context.Context, vc *models.VerifiedClaim) (*models.SettlementResult, error) {
	ctx, span := util.StartSpan(ctx, "SettlementEngine.Settle")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SettlementLatency.Observe(time.Since(start).Seconds())
	}()

	quote := vc.Quote
	claim := vc.Claim

	existing, err := e.store.GetSettledPaymentByExternalID(ctx, claim.ExternalPaymentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.replay(ctx, existing)
	}

	now := e.clock.Now()
	payment := &models.Payment{
		ID:                uuid.New().String(),
		QuoteRef:          quote.Ref,
		BuyerID:           quote.BuyerID,
		OrganizerID:       quote.OrganizerID,
		EventID:           quote.EventID,
		TierIndex:         quote.TierIndex,
		Quantity:          quote.Quantity,
		UnitPrice:         quote.UnitPrice,
		Amount:            quote.Amount,
		Currency:          e.currency,
		Status:            models.PaymentStatusSettled,
		Method:            e.method,
		ExternalPaymentID: claim.ExternalPaymentID,
		ExternalStatus:    claim.ExternalStatus,
		PayerAddress:      claim.PayerAddress,
		PayToAddress:      claim.PayToAddress,
		ChainID:           claim.ChainID,
		TxHash:            claim.TxHash,
		CreatedAt:         now,
	}

	txn := &models.Transaction{
		ID:          uuid.New().String(),
		Kind:        models.TransactionKindTicketPurchase,
		PaymentID:   payment.ID,
		BuyerID:     payment.BuyerID,
		OrganizerID: payment.OrganizerID,
		EventID:     payment.EventID,
		TierIndex:   payment.TierIndex,
		Quantity:    payment.Quantity,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		ToAddress:   payment.PayToAddress,
		FromAddress: payment.PayerAddress,
		ChainID:     payment.ChainID,
		TxHash:      payment.TxHash,
		CreatedAt:   now,
	}

	tickets := make([]models.Ticket, quote.Quantity)
	ticketIDs := make([]string, quote.Quantity)
	for i := range tickets {
		tickets[i] = models.Ticket{
			ID:          uuid.New().String(),
			EventID:     quote.EventID,
			TierIndex:   quote.TierIndex,
			BuyerID:     quote.BuyerID,
			UnitPrice:   quote.UnitPrice,
			PaymentID:   payment.ID,
			Status:      models.TicketStatusValid,
			PurchasedAt: now,
		}
		ticketIDs[i] = tickets[i].ID
	}

	if err := e.store.SettlePayment(ctx, payment, txn, tickets, quote.Ref); err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicatePayment):
			// A concurrent settle for the same external payment id or the
			// same quote won a unique index; hand back its result.
			winner, lookupErr := e.store.GetSettledPaymentByExternalID(ctx, claim.ExternalPaymentID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if winner == nil {
				winner, lookupErr = e.store.GetSettledPaymentByQuoteRef(ctx, quote.Ref)
				if lookupErr != nil {
					return nil, lookupErr
				}
			}
			if winner != nil {
				return e.replay(ctx, winner)
			}
		case errors.Is(err, models.ErrQuoteNotActive):
			return e.resolveInactiveQuote(ctx, quote.Ref, err)
		}
		return nil, err
	}

	util.PaymentsSettledTotal.Inc()
	util.TicketsIssuedTotal.Add(float64(len(tickets)))
	e.logger.Info("Payment settled",
		zap.String("payment_id", payment.ID),
		zap.String("external_payment_id", payment.ExternalPaymentID),
		zap.String("quote_ref", quote.Ref),
		zap.Int("tickets", len(tickets)),
		zap.Float64("amount", payment.Amount))

	if e.publisher != nil {
		event := &models.PaymentSettledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentSettled,
				Timestamp: now,
			},
			PaymentID:         payment.ID,
			ExternalPaymentID: payment.ExternalPaymentID,
			QuoteRef:          quote.Ref,
			TicketEID:         payment.EventID,
			TierIndex:         payment.TierIndex,
			Quantity:          payment.Quantity,
			Amount:            payment.Amount,
			TicketIDs:         ticketIDs,
		}
		if err := e.publisher.PublishPaymentSettled(ctx, event); err != nil {
			e.logger.Error("Failed to publish PaymentSettled event", zap.Error(err))
		}
	}

	return &models.SettlementResult{Payment: payment, TicketIDs: ticketIDs}, nil
}

// resolveInactiveQuote handles a settle whose quote left the active state
// before the commit. A quote settled by an earlier claim, possibly under a
// different external payment id, replays that settlement; a cancelled or
// expired quote surfaces the same error the verifier would have returned.
func (e *SettlementEngine) resolveInactiveQuote(ctx context.Context, quoteRef string, cause error) (*models.SettlementResult, error) {
	prior, err := e.store.GetSettledPaymentByQuoteRef(ctx, quoteRef)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return e.replay(ctx, prior)
	}

	quote, err := e.store.GetQuote(ctx, quoteRef)
	if err != nil {
		return nil, err
	}
	switch quote.Status {
	case models.QuoteStatusCancelled:
		return nil, models.ErrQuoteNotFound
	case models.QuoteStatusExpired:
		return nil, models.ErrQuoteExpired
	}
	return nil, cause
}

func (e *SettlementEngine) replay(ctx context.Context, payment *models.Payment) (*models.SettlementResult, error) {
	ticketIDs, err := e.store.GetTicketIDsByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	util.SettlementReplaysTotal.Inc()
	e.logger.Info("Duplicate completion callback, replaying prior settlement",
		zap.String("payment_id", payment.ID),
		zap.String("external_payment_id", payment.ExternalPaymentID))

	return &models.SettlementResult{Payment: payment, TicketIDs: ticketIDs, Replayed: true}, nil
}

// RejectClaim records an audit row for a claim that failed verification.
// The quote stays reserved so the buyer may retry until TTL expiry.
func (e *SettlementEngine) RejectClaim(ctx context.Context, quote *models.Quote, claim *models.PaymentClaim, reason error) {
	ctx, span := util.StartSpan(ctx, "SettlementEngine.RejectClaim")
	defer span.End()

	util.PaymentsRejectedTotal.WithLabelValues(reason.Error()).Inc()

	now := e.clock.Now()
	payment := &models.Payment{
		ID:             uuid.New().String(),
		Currency:       e.currency,
		Status:         models.PaymentStatusRejected,
		Method:         e.method,
		ExternalStatus: reason.Error(),
		CreatedAt:      now,
	}
	var quoteRef string
	if quote != nil {
		quoteRef = quote.Ref
		payment.QuoteRef = quote.Ref
		payment.BuyerID = quote.BuyerID
		payment.OrganizerID = quote.OrganizerID
		payment.EventID = quote.EventID
		payment.TierIndex = quote.TierIndex
		payment.Quantity = quote.Quantity
		payment.UnitPrice = quote.UnitPrice
		payment.Amount = quote.Amount
	}
	if claim != nil {
		payment.ExternalPaymentID = claim.ExternalPaymentID
		payment.PayerAddress = claim.PayerAddress
		payment.PayToAddress = claim.PayToAddress
		payment.ChainID = claim.ChainID
		payment.TxHash = claim.TxHash
	}

	if err := e.store.CreatePayment(ctx, payment); err != nil {
		e.logger.Error("Failed to record rejected payment",
			zap.String("quote_ref", quoteRef),
			zap.Error(err))
	}

	if e.publisher != nil {
		event := &models.PaymentRejectedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentRejected,
				Timestamp: now,
			},
			QuoteRef: quoteRef,
			Reason:   reason.Error(),
		}
		if claim != nil {
			event.ExternalPaymentID = claim.ExternalPaymentID
		}
		if err := e.publisher.PublishPaymentRejected(ctx, event); err != nil {
			e.logger.Error("Failed to publish PaymentRejected event", zap.Error(err))
		}
	}
}
