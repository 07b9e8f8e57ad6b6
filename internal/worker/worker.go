package worker

import (
	"context"
	"errors"
	"time"

	"ticket-service/internal/broker"
	"ticket-service/internal/models"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// ClaimWorker consumes payment completion claims from the payment rail
// topic. Delivery is at-least-once; settlement idempotency absorbs any
// redelivered claim.
type ClaimWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewClaimWorker creates a new claim worker
func NewClaimWorker(
	consumer *broker.Consumer,
	verifier *service.PaymentVerifier,
	settlement *service.SettlementEngine,
) *ClaimWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentCompleted(newClaimHandler(verifier, settlement))

	return &ClaimWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// newClaimHandler builds the per-claim processing function. Returning a
// non-nil error keeps the offset uncommitted so the broker redelivers; only
// errors where redelivery cannot help are swallowed.
func newClaimHandler(verifier *service.PaymentVerifier, settlement *service.SettlementEngine) func(ctx context.Context, claim *models.PaymentCompletedClaim) error {
	logger := util.GetLogger()

	return func(ctx context.Context, claim *models.PaymentCompletedClaim) error {
		vc, err := verifier.Verify(ctx, claim.QuoteRef, &claim.Claim)
		switch {
		case err == nil:
		case service.IsClaimDefect(err):
			// Terminal for this delivery: the buyer retries with a
			// corrected claim, not the broker.
			logger.Warn("Claim rejected",
				zap.String("quote_ref", claim.QuoteRef),
				zap.Error(err))
			settlement.RejectClaim(ctx, nil, &claim.Claim, err)
			return nil
		case errors.Is(err, models.ErrQuoteNotFound), errors.Is(err, models.ErrQuoteExpired):
			// The quote is gone; redelivery cannot revive it and the claim
			// itself is not defective, so no audit row.
			logger.Warn("Claim arrived for a dead quote",
				zap.String("quote_ref", claim.QuoteRef),
				zap.Error(err))
			return nil
		default:
			// Infrastructure failure: leave the offset uncommitted and let
			// the broker redeliver the claim.
			return err
		}

		_, err = settlement.Settle(ctx, vc)
		return err
	}
}

// Start starts the worker
func (w *ClaimWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting claim worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ClaimWorker) Stop() error {
	w.logger.Info("Stopping claim worker")
	return w.consumer.Close()
}

// SweeperWorker periodically releases reservations held by quotes whose TTL
// elapsed, so abandoned checkouts do not starve inventory.
type SweeperWorker struct {
	checkout *service.CheckoutService
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeperWorker creates a new expiry sweeper
func NewSweeperWorker(checkout *service.CheckoutService, interval time.Duration) *SweeperWorker {
	return &SweeperWorker{
		checkout: checkout,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *SweeperWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting quote expiry sweeper", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sweeper context cancelled, stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.checkout.ReleaseExpired(ctx); err != nil {
				w.logger.Error("Expiry sweep failed", zap.Error(err))
			}
		}
	}
}
