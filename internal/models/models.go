package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// CurrencyDecimals is the precision used for all money math (USDC-style).
const CurrencyDecimals = 6

// AmountTolerance is the maximum difference between a claimed amount and a
// quoted amount that is still considered equal.
const AmountTolerance = 1e-6

// Round rounds an amount to CurrencyDecimals decimal places.
func Round(amount float64) float64 {
	shift := math.Pow(10, CurrencyDecimals)
	return math.Round(amount*shift) / shift
}

// Role is the closed set of account roles. Free-form role strings from
// storage are validated once at the boundary via ParseRole.
type Role string

const (
	RoleOrganizer Role = "organizer"
	RoleAttendee  Role = "attendee"
)

// ParseRole validates a raw role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOrganizer, RoleAttendee:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Event statuses
const (
	EventStatusDraft     = "draft"
	EventStatusPublished = "published"
)

// Event is a published event with its ordered tier list. This service never
// mutates events; content management lives elsewhere.
type Event struct {
	ID            string    `db:"id" json:"id"`
	OrganizerID   string    `db:"organizer_id" json:"organizer_id"`
	Title         string    `db:"title" json:"title"`
	Status        string    `db:"status" json:"status"`
	PayoutAddress string    `db:"payout_address" json:"payout_address,omitempty"`
	WalletAddress string    `db:"wallet_address" json:"wallet_address,omitempty"`
	Tiers         []Tier    `db:"-" json:"tiers"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`

	// RawTiers carries the JSON tier list between sqlx and Tiers.
	RawTiers []byte `db:"tiers" json:"-"`
}

// DecodeTiers populates Tiers from the stored JSON column and assigns each
// tier its index within the event.
func (e *Event) DecodeTiers() error {
	if len(e.RawTiers) == 0 {
		e.Tiers = nil
		return nil
	}
	if err := json.Unmarshal(e.RawTiers, &e.Tiers); err != nil {
		return fmt.Errorf("decode tiers: %w", err)
	}
	for i := range e.Tiers {
		e.Tiers[i].Index = i
	}
	return nil
}

// Tier is a priced class of admission with finite supply. Supply 0 means no
// stock; PerOrderLimit 0 means unbounded; nil sales bounds mean always open.
type Tier struct {
	Index         int        `json:"-"`
	Name          string     `json:"name"`
	Price         float64    `json:"price"`
	Supply        int        `json:"supply"`
	PerOrderLimit int        `json:"per_order_limit"`
	SalesStart    *time.Time `json:"sales_start,omitempty"`
	SalesEnd      *time.Time `json:"sales_end,omitempty"`
	Refundable    bool       `json:"refundable"`
}

// SalesOpen reports whether the tier sales window contains the given
// instant. Both bounds are inclusive.
func (t *Tier) SalesOpen(at time.Time) bool {
	if t.SalesStart != nil && at.Before(*t.SalesStart) {
		return false
	}
	if t.SalesEnd != nil && at.After(*t.SalesEnd) {
		return false
	}
	return true
}

// InventoryCounter holds the authoritative sold count per (event, tier).
// It only changes through atomic conditional increments and decrements.
type InventoryCounter struct {
	EventID   string    `db:"event_id" json:"event_id"`
	TierIndex int       `db:"tier_index" json:"tier_index"`
	Sold      int       `db:"sold" json:"sold"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TierAvailability is a point-in-time read of tier stock.
type TierAvailability struct {
	Supply    int `json:"supply"`
	Sold      int `json:"sold"`
	Available int `json:"available"`
}

// Reservation is a committed inventory hold owned by a quote.
type Reservation struct {
	Ref       string    `db:"ref" json:"ref"`
	EventID   string    `db:"event_id" json:"event_id"`
	TierIndex int       `db:"tier_index" json:"tier_index"`
	Quantity  int       `db:"quantity" json:"quantity"`
	Released  bool      `db:"released" json:"released"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Quote statuses
const (
	QuoteStatusActive    = "active"
	QuoteStatusSettled   = "settled"
	QuoteStatusCancelled = "cancelled"
	QuoteStatusExpired   = "expired"
)

// Quote is a short-lived priced intent to buy. It owns one reservation,
// which is released exactly once on cancel or expiry, or consumed by
// settlement.
type Quote struct {
	Ref            string    `db:"ref" json:"ref"`
	EventID        string    `db:"event_id" json:"event_id"`
	OrganizerID    string    `db:"organizer_id" json:"organizer_id"`
	TierIndex      int       `db:"tier_index" json:"tier_index"`
	Quantity       int       `db:"quantity" json:"quantity"`
	UnitPrice      float64   `db:"unit_price" json:"unit_price"`
	Amount         float64   `db:"amount" json:"amount"`
	PayoutAddress  string    `db:"payout_address" json:"payout_address"`
	ChainID        int64     `db:"chain_id" json:"chain_id"`
	BuyerID        string    `db:"buyer_id" json:"buyer_id"`
	ReservationRef string    `db:"reservation_ref" json:"reservation_ref"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	ExpiresAt      time.Time `db:"expires_at" json:"expires_at"`
}

// Expired reports whether the quote TTL has elapsed at the given instant.
func (q *Quote) Expired(at time.Time) bool {
	return !at.Before(q.ExpiresAt)
}

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusSettled  = "settled"
	PaymentStatusRejected = "rejected"
)

// Payment records one settled (or rejected) external payment. Settled rows
// are immutable. ExternalPaymentID is the idempotency key supplied by the
// payment rail; QuoteRef additionally bounds settled payments to one per
// quote, so a double-charged buyer cannot be issued tickets twice.
type Payment struct {
	ID                string    `db:"id" json:"id"`
	QuoteRef          string    `db:"quote_ref" json:"quote_ref,omitempty"`
	BuyerID           string    `db:"buyer_id" json:"buyer_id"`
	OrganizerID       string    `db:"organizer_id" json:"organizer_id"`
	EventID           string    `db:"event_id" json:"event_id"`
	TierIndex         int       `db:"tier_index" json:"tier_index"`
	Quantity          int       `db:"quantity" json:"quantity"`
	UnitPrice         float64   `db:"unit_price" json:"unit_price"`
	Amount            float64   `db:"amount" json:"amount"`
	Currency          string    `db:"currency" json:"currency"`
	Status            string    `db:"status" json:"status"`
	Method            string    `db:"method" json:"method"`
	ExternalPaymentID string    `db:"external_payment_id" json:"external_payment_id"`
	ExternalStatus    string    `db:"external_status" json:"external_status,omitempty"`
	PayerAddress      string    `db:"payer_address" json:"payer_address,omitempty"`
	PayToAddress      string    `db:"pay_to_address" json:"pay_to_address"`
	ChainID           int64     `db:"chain_id" json:"chain_id"`
	TxHash            string    `db:"tx_hash" json:"tx_hash,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Transaction is the append-only audit mirror of a settled payment.
type Transaction struct {
	ID          string    `db:"id" json:"id"`
	Kind        string    `db:"kind" json:"kind"`
	PaymentID   string    `db:"payment_id" json:"payment_id"`
	BuyerID     string    `db:"buyer_id" json:"buyer_id"`
	OrganizerID string    `db:"organizer_id" json:"organizer_id"`
	EventID     string    `db:"event_id" json:"event_id"`
	TierIndex   int       `db:"tier_index" json:"tier_index"`
	Quantity    int       `db:"quantity" json:"quantity"`
	Amount      float64   `db:"amount" json:"amount"`
	Currency    string    `db:"currency" json:"currency"`
	ToAddress   string    `db:"to_address" json:"to_address"`
	FromAddress string    `db:"from_address" json:"from_address,omitempty"`
	ChainID     int64     `db:"chain_id" json:"chain_id"`
	TxHash      string    `db:"tx_hash" json:"tx_hash,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TransactionKindTicketPurchase is the only transaction kind this engine
// writes.
const TransactionKindTicketPurchase = "ticket_purchase"

// Ticket statuses
const (
	TicketStatusValid     = "valid"
	TicketStatusRefunded  = "refunded"
	TicketStatusCancelled = "cancelled"
)

// Ticket is one purchased unit. Settlement creates exactly quantity rows per
// payment, all valid; refund and cancellation transitions happen elsewhere.
type Ticket struct {
	ID          string    `db:"id" json:"id"`
	EventID     string    `db:"event_id" json:"event_id"`
	TierIndex   int       `db:"tier_index" json:"tier_index"`
	BuyerID     string    `db:"buyer_id" json:"buyer_id"`
	UnitPrice   float64   `db:"unit_price" json:"unit_price"`
	PaymentID   string    `db:"payment_id" json:"payment_id"`
	Status      string    `db:"status" json:"status"`
	PurchasedAt time.Time `db:"purchased_at" json:"purchased_at"`
}

// Organizer carries the payout-related fields of an organizer record.
type Organizer struct {
	ID             string `db:"id" json:"id"`
	PayoutAddress  string `db:"payout_address" json:"payout_address,omitempty"`
	WalletAddress  string `db:"wallet_address" json:"wallet_address,omitempty"`
	TreasuryWallet string `db:"treasury_wallet" json:"treasury_wallet,omitempty"`
}

// User carries the payout-related fields of a user account.
type User struct {
	ID            string `db:"id" json:"id"`
	Role          string `db:"role" json:"role"`
	PayoutAddress string `db:"payout_address" json:"payout_address,omitempty"`
	WalletAddress string `db:"wallet_address" json:"wallet_address,omitempty"`
}

// PaymentClaim is the externally supplied completion callback payload. The
// engine cross-checks it against the quote but does not verify the
// underlying chain transaction with a node.
type PaymentClaim struct {
	PayerAddress      string  `json:"from"`
	PayToAddress      string  `json:"to"`
	ChainID           int64   `json:"chain_id"`
	Amount            float64 `json:"amount"`
	ExternalPaymentID string  `json:"external_payment_id"`
	ExternalStatus    string  `json:"external_status"`
	TxHash            string  `json:"tx_hash,omitempty"`
}

// VerifiedClaim is a claim that passed verification against its quote.
type VerifiedClaim struct {
	Quote *Quote
	Claim PaymentClaim
}

// SettlementResult is the outcome of a settle call. Replayed is true when an
// earlier settlement for the same external payment id was returned instead
// of writing new records.
type SettlementResult struct {
	Payment   *Payment
	TicketIDs []string
	Replayed  bool
}
