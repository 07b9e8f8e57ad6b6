package models

import "errors"

var (
	ErrEventNotFound  = errors.New("event not found")
	ErrTierNotFound   = errors.New("tier not found")
	ErrInvalidRole    = errors.New("invalid role")
	ErrInvalidPayload = errors.New("invalid payload")

	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrSoldOut         = errors.New("sold out")
	ErrLimitExceeded   = errors.New("per-order limit exceeded")
	ErrSalesClosed     = errors.New("sales window closed")
	ErrAlreadyReleased = errors.New("reservation already released")

	ErrPayoutNotConfigured = errors.New("payout address not configured")

	ErrQuoteNotFound = errors.New("quote not found")
	ErrQuoteExpired  = errors.New("quote expired")

	ErrNetworkMismatch   = errors.New("network mismatch")
	ErrRecipientMismatch = errors.New("recipient mismatch")
	ErrAmountMismatch    = errors.New("amount mismatch")

	// ErrDuplicatePayment surfaces a unique-constraint hit on the external
	// payment id; settlement resolves it by replaying the prior result.
	ErrDuplicatePayment = errors.New("duplicate external payment id")

	// ErrQuoteNotActive means the quote left the active state before the
	// settlement transaction could consume it. The whole commit rolls back;
	// the engine replays the quote's prior settlement if one exists.
	ErrQuoteNotActive = errors.New("quote not active")
)
