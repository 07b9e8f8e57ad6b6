package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ticket-service/internal/models"
)

// CreateQuote persists a new active quote.
func (s *Store) CreateQuote(ctx context.Context, q *models.Quote) error {
	query := `
		INSERT INTO quotes (ref, event_id, organizer_id, tier_index, quantity, unit_price, amount,
			payout_address, chain_id, buyer_id, reservation_ref, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.db.ExecContext(ctx, query,
		q.Ref, q.EventID, q.OrganizerID, q.TierIndex, q.Quantity, q.UnitPrice, q.Amount,
		q.PayoutAddress, q.ChainID, q.BuyerID, q.ReservationRef, q.Status, q.CreatedAt, q.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}
	return nil
}

// GetQuote retrieves a quote by its client-facing reference.
func (s *Store) GetQuote(ctx context.Context, ref string) (*models.Quote, error) {
	var quote models.Quote
	err := s.db.GetContext(ctx, &quote, "SELECT * FROM quotes WHERE ref = $1", ref)
	if err == sql.ErrNoRows {
		return nil, models.ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

// CancelQuote transitions an active quote to cancelled. The status condition
// means only one caller wins; anyone else sees ErrQuoteNotFound.
func (s *Store) CancelQuote(ctx context.Context, ref string) (*models.Quote, error) {
	var quote models.Quote
	err := s.db.GetContext(ctx, &quote, `
		UPDATE quotes SET status = $2
		WHERE ref = $1 AND status = $3
		RETURNING *`, ref, models.QuoteStatusCancelled, models.QuoteStatusActive)
	if err == sql.ErrNoRows {
		return nil, models.ErrQuoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel quote: %w", err)
	}
	return &quote, nil
}

// ExpireQuotes transitions every active quote past its TTL to expired and
// returns them so the caller can release the underlying reservations. The
// conditional transition guarantees each quote is handed out once.
func (s *Store) ExpireQuotes(ctx context.Context, now time.Time) ([]models.Quote, error) {
	var quotes []models.Quote
	err := s.db.SelectContext(ctx, &quotes, `
		UPDATE quotes SET status = $1
		WHERE status = $2 AND expires_at <= $3
		RETURNING *`, models.QuoteStatusExpired, models.QuoteStatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire quotes: %w", err)
	}
	return quotes, nil
}
