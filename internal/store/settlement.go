package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticket-service/internal/models"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// GetSettledPaymentByExternalID retrieves the settled payment recorded for
// an external payment id. Returns (nil, nil) when none exists; rejected
// audit rows do not count.
func (s *Store) GetSettledPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE external_payment_id = $1 AND status = $2",
		externalID, models.PaymentStatusSettled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetSettledPaymentByQuoteRef retrieves the settled payment recorded for a
// quote. Returns (nil, nil) when none exists.
func (s *Store) GetSettledPaymentByQuoteRef(ctx context.Context, quoteRef string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE quote_ref = $1 AND status = $2",
		quoteRef, models.PaymentStatusSettled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetTicketIDsByPaymentID retrieves ticket ids issued for a payment.
func (s *Store) GetTicketIDsByPaymentID(ctx context.Context, paymentID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM tickets WHERE payment_id = $1 ORDER BY id", paymentID)
	return ids, err
}

// SettlePayment commits a settlement in one transaction: the payment, its
// audit transaction, every ticket row, and the quote transition. Either all
// of it lands or none does. A concurrent settle for the same external
// payment id loses on the unique index and gets ErrDuplicatePayment, which
// the engine resolves by replaying the winner's result. The quote
// transition is conditional on the quote still being active; a quote that
// was settled, cancelled, or expired in the meantime rolls the whole
// commit back with ErrQuoteNotActive, so one quote can never issue tickets
// twice no matter how many distinct external payment ids arrive for it.
func (s *Store) SettlePayment(ctx context.Context, payment *models.Payment, txn *models.Transaction, tickets []models.Ticket, quoteRef string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, quote_ref, buyer_id, organizer_id, event_id, tier_index, quantity,
			unit_price, amount, currency, status, method, external_payment_id,
			external_status, payer_address, pay_to_address, chain_id, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		payment.ID, payment.QuoteRef, payment.BuyerID, payment.OrganizerID, payment.EventID,
		payment.TierIndex, payment.Quantity, payment.UnitPrice, payment.Amount, payment.Currency,
		payment.Status, payment.Method, payment.ExternalPaymentID, payment.ExternalStatus,
		payment.PayerAddress, payment.PayToAddress, payment.ChainID, payment.TxHash, payment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, kind, payment_id, buyer_id, organizer_id, event_id,
			tier_index, quantity, amount, currency, to_address, from_address, chain_id, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		txn.ID, txn.Kind, txn.PaymentID, txn.BuyerID, txn.OrganizerID, txn.EventID,
		txn.TierIndex, txn.Quantity, txn.Amount, txn.Currency, txn.ToAddress,
		txn.FromAddress, txn.ChainID, txn.TxHash, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	for i := range tickets {
		t := &tickets[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tickets (id, event_id, tier_index, buyer_id, unit_price, payment_id, status, purchased_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.EventID, t.TierIndex, t.BuyerID, t.UnitPrice, t.PaymentID, t.Status, t.PurchasedAt)
		if err != nil {
			return fmt.Errorf("failed to insert ticket: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE quotes SET status = $2 WHERE ref = $1 AND status = $3",
		quoteRef, models.QuoteStatusSettled, models.QuoteStatusActive)
	if err != nil {
		return fmt.Errorf("failed to settle quote: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrQuoteNotActive
	}

	return tx.Commit()
}

// CreatePayment inserts a standalone payment row. Used for the rejected
// audit path only; settled payments go through SettlePayment.
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, quote_ref, buyer_id, organizer_id, event_id, tier_index, quantity,
			unit_price, amount, currency, status, method, external_payment_id,
			external_status, payer_address, pay_to_address, chain_id, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		payment.ID, payment.QuoteRef, payment.BuyerID, payment.OrganizerID, payment.EventID,
		payment.TierIndex, payment.Quantity, payment.UnitPrice, payment.Amount, payment.Currency,
		payment.Status, payment.Method, payment.ExternalPaymentID, payment.ExternalStatus,
		payment.PayerAddress, payment.PayToAddress, payment.ChainID, payment.TxHash, payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
