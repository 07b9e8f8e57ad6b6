package service

import (
	"context"
	"time"

	"ticket-service/internal/clock"
	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultQuoteTTL = 15 * time.Minute

// QuoteStore persists checkout quotes.
type QuoteStore interface {
	CreateQuote(ctx context.Context, q *models.Quote) error
	GetQuote(ctx context.Context, ref string) (*models.Quote, error)
	CancelQuote(ctx context.Context, ref string) (*models.Quote, error)
	ExpireQuotes(ctx context.Context, now time.Time) ([]models.Quote, error)
}

// CheckoutPublisher emits quote lifecycle events.
type CheckoutPublisher interface {
	PublishQuoteCreated(ctx context.Context, event *models.QuoteCreatedEvent) error
	PublishQuoteCancelled(ctx context.Context, event *models.QuoteCancelledEvent) error
	PublishQuoteExpired(ctx context.Context, event *models.QuoteExpiredEvent) error
}

// CheckoutService creates and retires quotes: priced, TTL-bounded intents
// to buy backed by a committed inventory reservation.
type CheckoutService struct {
	catalog   *TierCatalog
	ledger    *InventoryLedger
	payout    *PayoutResolver
	quotes    QuoteStore
	publisher CheckoutPublisher
	clock     clock.Clock
	chainID   int64
	quoteTTL  time.Duration
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	catalog *TierCatalog,
	ledger *InventoryLedger,
	payout *PayoutResolver,
	quotes QuoteStore,
	publisher CheckoutPublisher,
	clk clock.Clock,
	chainID int64,
	opts ...CheckoutOption,
) *CheckoutService {
	svc := &CheckoutService{
		catalog:   catalog,
		ledger:    ledger,
		payout:    payout,
		quotes:    quotes,
		publisher: publisher,
		clock:     clk,
		chainID:   chainID,
		quoteTTL:  defaultQuoteTTL,
		logger:    util.GetLogger(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CheckoutOption func(*CheckoutService)

// WithQuoteTTL overrides the default TTL for new quotes.
func WithQuoteTTL(d time.Duration) CheckoutOption {
	return func(s *CheckoutService) {
		if d > 0 {
			s.quoteTTL = d
		}
	}
}

// StartQuoteInput describes a buyer's checkout request.
type StartQuoteInput struct {
	EventID   string
	TierIndex int
	Quantity  int
	BuyerID   string
}

// StartQuote reserves inventory and returns a priced quote. The requested
// quantity is clamped to the per-order limit and current availability,
// never rejected for being too large.
func (s *CheckoutService) StartQuote(ctx context.Context, in StartQuoteInput) (*models.Quote, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.StartQuote")
	defer span.End()

	event, tier, err := s.catalog.GetTier(ctx, in.EventID, in.TierIndex)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if !tier.SalesOpen(now) {
		return nil, models.ErrSalesClosed
	}

	availability, err := s.catalog.Availability(ctx, in.EventID, in.TierIndex)
	if err != nil {
		return nil, err
	}
	if availability.Available <= 0 {
		return nil, models.ErrSoldOut
	}

	quantity := clampQuantity(in.Quantity, tier.PerOrderLimit, availability.Available)

	reservation, err := s.ledger.Reserve(ctx, in.EventID, in.TierIndex, quantity, now)
	if err != nil {
		return nil, err
	}

	payoutAddr, err := s.payout.Resolve(ctx, event)
	if err != nil {
		s.releaseReservation(ctx, reservation.Ref)
		return nil, err
	}

	quote := &models.Quote{
		Ref:            uuid.New().String(),
		EventID:        in.EventID,
		OrganizerID:    event.OrganizerID,
		TierIndex:      in.TierIndex,
		Quantity:       quantity,
		UnitPrice:      tier.Price,
		Amount:         models.Round(tier.Price * float64(quantity)),
		PayoutAddress:  payoutAddr,
		ChainID:        s.chainID,
		BuyerID:        in.BuyerID,
		ReservationRef: reservation.Ref,
		Status:         models.QuoteStatusActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.quoteTTL),
	}

	if err := s.quotes.CreateQuote(ctx, quote); err != nil {
		s.releaseReservation(ctx, reservation.Ref)
		return nil, err
	}

	util.QuotesCreatedTotal.Inc()
	s.logger.Info("Quote created",
		zap.String("quote_ref", quote.Ref),
		zap.String("event_id", quote.EventID),
		zap.Int("tier_index", quote.TierIndex),
		zap.Int("quantity", quote.Quantity),
		zap.Float64("amount", quote.Amount))

	if s.publisher != nil {
		event := &models.QuoteCreatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeQuoteCreated,
				Timestamp: now,
			},
			QuoteRef:  quote.Ref,
			TicketEID: quote.EventID,
			TierIndex: quote.TierIndex,
			Quantity:  quote.Quantity,
			Amount:    quote.Amount,
			ExpiresAt: quote.ExpiresAt,
		}
		if err := s.publisher.PublishQuoteCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish QuoteCreated event", zap.Error(err))
		}
	}

	return quote, nil
}

// GetQuote retrieves a quote by reference.
func (s *CheckoutService) GetQuote(ctx context.Context, ref string) (*models.Quote, error) {
	return s.quotes.GetQuote(ctx, ref)
}

// CancelQuote cancels an active quote and releases its reservation. Only
// the first cancel (or the expiry sweep, whichever wins) releases.
func (s *CheckoutService) CancelQuote(ctx context.Context, ref string) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CancelQuote")
	defer span.End()

	quote, err := s.quotes.CancelQuote(ctx, ref)
	if err != nil {
		return err
	}

	s.releaseReservation(ctx, quote.ReservationRef)
	util.QuotesCancelledTotal.Inc()
	s.logger.Info("Quote cancelled", zap.String("quote_ref", ref))

	if s.publisher != nil {
		event := &models.QuoteCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeQuoteCancelled,
				Timestamp: s.clock.Now(),
			},
			QuoteRef:  quote.Ref,
			TicketEID: quote.EventID,
			TierIndex: quote.TierIndex,
			Quantity:  quote.Quantity,
		}
		if err := s.publisher.PublishQuoteCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish QuoteCancelled event", zap.Error(err))
		}
	}

	return nil
}

// ReleaseExpired transitions every quote past its TTL and releases the
// underlying reservations. Called periodically by the sweeper so abandoned
// checkouts do not starve inventory.
func (s *CheckoutService) ReleaseExpired(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ReleaseExpired")
	defer span.End()

	now := s.clock.Now()
	expired, err := s.quotes.ExpireQuotes(ctx, now)
	if err != nil {
		return 0, err
	}

	for i := range expired {
		quote := &expired[i]
		s.releaseReservation(ctx, quote.ReservationRef)
		util.QuotesExpiredTotal.Inc()

		if s.publisher != nil {
			event := &models.QuoteExpiredEvent{
				BaseEvent: models.BaseEvent{
					EventID:   uuid.New().String(),
					EventType: models.EventTypeQuoteExpired,
					Timestamp: now,
				},
				QuoteRef:  quote.Ref,
				TicketEID: quote.EventID,
				TierIndex: quote.TierIndex,
				Quantity:  quote.Quantity,
			}
			if err := s.publisher.PublishQuoteExpired(ctx, event); err != nil {
				s.logger.Error("Failed to publish QuoteExpired event", zap.Error(err))
			}
		}
	}

	if len(expired) > 0 {
		s.logger.Info("Released expired quotes", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

func (s *CheckoutService) releaseReservation(ctx context.Context, ref string) {
	if err := s.ledger.Release(ctx, ref); err != nil && err != models.ErrAlreadyReleased {
		s.logger.Error("Failed to release reservation",
			zap.String("reservation_ref", ref),
			zap.Error(err))
	}
}

// clampQuantity applies the best-effort quantity rule: at least 1, at most
// the per-order limit (when set) and current availability.
func clampQuantity(requested, perOrderLimit, available int) int {
	maxAllowed := available
	if perOrderLimit > 0 && perOrderLimit < maxAllowed {
		maxAllowed = perOrderLimit
	}

	qty := requested
	if qty > maxAllowed {
		qty = maxAllowed
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}
