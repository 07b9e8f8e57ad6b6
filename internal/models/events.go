package models

import "time"

// Event types
const (
	EventTypeQuoteCreated     = "QUOTE_CREATED"
	EventTypeQuoteCancelled   = "QUOTE_CANCELLED"
	EventTypeQuoteExpired     = "QUOTE_EXPIRED"
	EventTypePaymentCompleted = "PAYMENT_COMPLETED"
	EventTypePaymentSettled   = "PAYMENT_SETTLED"
	EventTypePaymentRejected  = "PAYMENT_REJECTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// QuoteCreatedEvent published when a checkout quote reserves inventory
type QuoteCreatedEvent struct {
	BaseEvent
	QuoteRef  string    `json:"quote_ref"`
	TicketEID string    `json:"ticket_event_id"`
	TierIndex int       `json:"tier_index"`
	Quantity  int       `json:"quantity"`
	Amount    float64   `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

// QuoteCancelledEvent published when a buyer cancels an unsettled quote
type QuoteCancelledEvent struct {
	BaseEvent
	QuoteRef  string `json:"quote_ref"`
	TicketEID string `json:"ticket_event_id"`
	TierIndex int    `json:"tier_index"`
	Quantity  int    `json:"quantity"`
}

// QuoteExpiredEvent published when the sweeper releases an abandoned quote
type QuoteExpiredEvent struct {
	BaseEvent
	QuoteRef  string `json:"quote_ref"`
	TicketEID string `json:"ticket_event_id"`
	TierIndex int    `json:"tier_index"`
	Quantity  int    `json:"quantity"`
}

// PaymentCompletedClaim is the inbound at-least-once completion callback
// delivered over the broker by the payment rail
type PaymentCompletedClaim struct {
	BaseEvent
	QuoteRef string       `json:"quote_ref"`
	Claim    PaymentClaim `json:"claim"`
}

// PaymentSettledEvent published after an idempotent settlement commit
type PaymentSettledEvent struct {
	BaseEvent
	PaymentID         string   `json:"payment_id"`
	ExternalPaymentID string   `json:"external_payment_id"`
	QuoteRef          string   `json:"quote_ref"`
	TicketEID         string   `json:"ticket_event_id"`
	TierIndex         int      `json:"tier_index"`
	Quantity          int      `json:"quantity"`
	Amount            float64  `json:"amount"`
	TicketIDs         []string `json:"ticket_ids"`
	Replayed          bool     `json:"replayed"`
}

// PaymentRejectedEvent published when claim verification fails
type PaymentRejectedEvent struct {
	BaseEvent
	QuoteRef          string `json:"quote_ref"`
	ExternalPaymentID string `json:"external_payment_id,omitempty"`
	Reason            string `json:"reason"`
}
