package service

import (
	"context"
	"regexp"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// payoutAddressPattern matches a 0x-prefixed 20-byte hex address.
var payoutAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// PayoutStore looks up organizer and user payout records. Both lookups
// return (nil, nil) for missing records so the chain can fall through.
type PayoutStore interface {
	GetOrganizer(ctx context.Context, id string) (*models.Organizer, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// PayoutResolver resolves the destination payout address for an event by
// walking a strict fallback chain: event fields, the organizer record, the
// owning user account, then the configured global fallback.
type PayoutResolver struct {
	store    PayoutStore
	fallback string
	logger   *zap.Logger
}

// NewPayoutResolver creates a new payout resolver
func NewPayoutResolver(store PayoutStore, fallbackAddress string) *PayoutResolver {
	return &PayoutResolver{
		store:    store,
		fallback: fallbackAddress,
		logger:   util.GetLogger(),
	}
}

// Resolve returns the first syntactically valid payout address in the
// chain, or ErrPayoutNotConfigured when none validates.
func (r *PayoutResolver) Resolve(ctx context.Context, event *models.Event) (string, error) {
	if addr := firstValidAddress(event.PayoutAddress, event.WalletAddress); addr != "" {
		return addr, nil
	}

	if event.OrganizerID != "" {
		org, err := r.store.GetOrganizer(ctx, event.OrganizerID)
		if err != nil {
			return "", err
		}
		if org != nil {
			if addr := firstValidAddress(org.PayoutAddress, org.WalletAddress, org.TreasuryWallet); addr != "" {
				return addr, nil
			}
		}

		user, err := r.store.GetUser(ctx, event.OrganizerID)
		if err != nil {
			return "", err
		}
		if user != nil {
			if addr := firstValidAddress(user.PayoutAddress, user.WalletAddress); addr != "" {
				return addr, nil
			}
		}
	}

	if addr := firstValidAddress(r.fallback); addr != "" {
		r.logger.Warn("Falling back to global payout address",
			zap.String("event_id", event.ID))
		return addr, nil
	}

	return "", models.ErrPayoutNotConfigured
}

func firstValidAddress(candidates ...string) string {
	for _, c := range candidates {
		if payoutAddressPattern.MatchString(c) {
			return c
		}
	}
	return ""
}
