package service

import (
	"context"
	"testing"

	"ticket-service/internal/models"
	"ticket-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrEvent    = "0x1111111111111111111111111111111111111111"
	addrOrg      = "0x2222222222222222222222222222222222222222"
	addrUser     = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	addrFallback = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

func TestResolvePrefersEventAddress(t *testing.T) {
	store := testutil.NewMemStore()
	resolver := NewPayoutResolver(store, addrFallback)
	event := &models.Event{ID: "ev-1", OrganizerID: "org-1", PayoutAddress: addrEvent}
	store.AddOrganizer(&models.Organizer{ID: "org-1", PayoutAddress: addrOrg})

	addr, err := resolver.Resolve(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, addrEvent, addr)
}

func TestResolveFallsThroughToOrganizer(t *testing.T) {
	store := testutil.NewMemStore()
	resolver := NewPayoutResolver(store, addrFallback)
	event := &models.Event{ID: "ev-1", OrganizerID: "org-1"}
	store.AddOrganizer(&models.Organizer{ID: "org-1", WalletAddress: addrOrg})

	addr, err := resolver.Resolve(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, addrOrg, addr)
}

func TestResolveUserWalletBeatsGlobalFallback(t *testing.T) {
	store := testutil.NewMemStore()
	resolver := NewPayoutResolver(store, addrFallback)
	event := &models.Event{ID: "ev-1", OrganizerID: "org-1"}
	store.AddUser(&models.User{ID: "org-1", WalletAddress: addrUser})

	addr, err := resolver.Resolve(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, addrUser, addr)
}

func TestResolveGlobalFallback(t *testing.T) {
	store := testutil.NewMemStore()
	resolver := NewPayoutResolver(store, addrFallback)
	event := &models.Event{ID: "ev-1", OrganizerID: "org-1"}

	addr, err := resolver.Resolve(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, addrFallback, addr)
}

func TestResolveSkipsInvalidCandidates(t *testing.T) {
	store := testutil.NewMemStore()
	resolver := NewPayoutResolver(store, addrFallback)
	// Malformed addresses at every level must be skipped, not returned.
	event := &models.Event{
		ID:            "ev-1",
		OrganizerID:   "org-1",
		PayoutAddress: "not-an-address",
		WalletAddress: "0x123", // too short
	}
	store.AddOrganizer(&models.Organizer{
		ID:             "org-1",
		PayoutAddress:  "0xZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZ", // non-hex
		TreasuryWallet: addrOrg,
	})

	addr, err := resolver.Resolve(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, addrOrg, addr)
}

func TestResolveNotConfigured(t *testing.T) {
	store := testutil.NewMemStore()
	resolver := NewPayoutResolver(store, "")
	event := &models.Event{ID: "ev-1", OrganizerID: "org-1"}

	_, err := resolver.Resolve(context.Background(), event)
	assert.ErrorIs(t, err, models.ErrPayoutNotConfigured)
}

func TestResolveNoOrganizerIDGoesStraightToFallback(t *testing.T) {
	store := testutil.NewMemStore()
	resolver := NewPayoutResolver(store, addrFallback)

	addr, err := resolver.Resolve(context.Background(), &models.Event{ID: "ev-1"})
	require.NoError(t, err)
	assert.Equal(t, addrFallback, addr)
}
