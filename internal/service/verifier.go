package service

import (
	"context"
	"errors"
	"math"

	"ticket-service/internal/clock"
	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// QuoteReader is the read-only quote access the verifier needs.
type QuoteReader interface {
	GetQuote(ctx context.Context, ref string) (*models.Quote, error)
}

// PaymentVerifier validates externally supplied payment claims against an
// outstanding quote. Verification never mutates the quote or the ledger, so
// a buyer can retry with a corrected claim until the quote TTL elapses.
type PaymentVerifier struct {
	quotes  QuoteReader
	clock   clock.Clock
	chainID int64
	logger  *zap.Logger
}

// NewPaymentVerifier creates a new payment verifier pinned to the
// deployment's chain id.
func NewPaymentVerifier(quotes QuoteReader, clk clock.Clock, chainID int64) *PaymentVerifier {
	return &PaymentVerifier{
		quotes:  quotes,
		clock:   clk,
		chainID: chainID,
		logger:  util.GetLogger(),
	}
}

// Verify checks a claim against its quote: quote liveness, payload
// completeness, chain id, recipient, then amount within tolerance.
func (v *PaymentVerifier) Verify(ctx context.Context, quoteRef string, claim *models.PaymentClaim) (*models.VerifiedClaim, error) {
	ctx, span := util.StartSpan(ctx, "PaymentVerifier.Verify")
	defer span.End()

	quote, err := v.quotes.GetQuote(ctx, quoteRef)
	if err != nil {
		return nil, err
	}

	switch quote.Status {
	case models.QuoteStatusCancelled:
		return nil, models.ErrQuoteNotFound
	case models.QuoteStatusExpired:
		return nil, models.ErrQuoteExpired
	case models.QuoteStatusActive:
		if quote.Expired(v.clock.Now()) {
			return nil, models.ErrQuoteExpired
		}
	}
	// Settled quotes pass through: settlement replays the prior result.

	if claim.ExternalPaymentID == "" || claim.PayToAddress == "" || claim.ChainID == 0 {
		return nil, models.ErrInvalidPayload
	}

	if claim.ChainID != v.chainID {
		v.logger.Warn("Claim on wrong network",
			zap.String("quote_ref", quoteRef),
			zap.Int64("claim_chain_id", claim.ChainID),
			zap.Int64("expected_chain_id", v.chainID))
		return nil, models.ErrNetworkMismatch
	}

	if claim.PayToAddress != quote.PayoutAddress {
		v.logger.Warn("Claim paid to wrong recipient",
			zap.String("quote_ref", quoteRef),
			zap.String("claimed", claim.PayToAddress))
		return nil, models.ErrRecipientMismatch
	}

	if quote.Amount > 0 && math.Abs(claim.Amount-quote.Amount) > models.AmountTolerance {
		v.logger.Warn("Claim amount outside tolerance",
			zap.String("quote_ref", quoteRef),
			zap.Float64("claimed", claim.Amount),
			zap.Float64("quoted", quote.Amount))
		return nil, models.ErrAmountMismatch
	}

	return &models.VerifiedClaim{Quote: quote, Claim: *claim}, nil
}

// IsClaimDefect reports whether a verification error is a defect in the
// claim itself, worth a rejected audit row. Dead quotes and infrastructure
// failures are not claim defects; the latter are safe to retry.
func IsClaimDefect(err error) bool {
	switch {
	case errors.Is(err, models.ErrInvalidPayload),
		errors.Is(err, models.ErrNetworkMismatch),
		errors.Is(err, models.ErrRecipientMismatch),
		errors.Is(err, models.ErrAmountMismatch):
		return true
	}
	return false
}
