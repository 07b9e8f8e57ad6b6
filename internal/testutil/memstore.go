// Package testutil provides an in-memory implementation of the service
// storage interfaces. The counter mutex gives the same atomic
// check-and-increment semantics as the conditional SQL update, so
// concurrency tests exercise real contention.
package testutil

import (
	"context"
	"sync"
	"time"

	"ticket-service/internal/models"
)

type MemStore struct {
	mu           sync.Mutex
	events       map[string]*models.Event
	organizers   map[string]*models.Organizer
	users        map[string]*models.User
	counters     map[counterKey]int
	reservations map[string]*models.Reservation
	quotes       map[string]*models.Quote
	payments     map[string]*models.Payment
	transactions map[string]*models.Transaction
	tickets      map[string]*models.Ticket

	// SettleCalls counts SettlePayment invocations, for idempotency
	// assertions.
	SettleCalls int
}

type counterKey struct {
	eventID   string
	tierIndex int
}

func NewMemStore() *MemStore {
	return &MemStore{
		events:       make(map[string]*models.Event),
		organizers:   make(map[string]*models.Organizer),
		users:        make(map[string]*models.User),
		counters:     make(map[counterKey]int),
		reservations: make(map[string]*models.Reservation),
		quotes:       make(map[string]*models.Quote),
		payments:     make(map[string]*models.Payment),
		transactions: make(map[string]*models.Transaction),
		tickets:      make(map[string]*models.Ticket),
	}
}

// --- seeding helpers ---

func (m *MemStore) AddEvent(event *models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range event.Tiers {
		event.Tiers[i].Index = i
	}
	m.events[event.ID] = event
}

func (m *MemStore) AddOrganizer(org *models.Organizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.organizers[org.ID] = org
}

func (m *MemStore) AddUser(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *MemStore) TicketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

func (m *MemStore) TransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

func (m *MemStore) PaymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *MemStore) Payment(id string) *models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[id]
}

// --- EventStore ---

func (m *MemStore) GetPublishedEvent(ctx context.Context, eventID string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[eventID]
	if !ok || event.Status != models.EventStatusPublished {
		return nil, models.ErrEventNotFound
	}
	copied := *event
	copied.Tiers = append([]models.Tier(nil), event.Tiers...)
	return &copied, nil
}

// --- PayoutStore ---

func (m *MemStore) GetOrganizer(ctx context.Context, id string) (*models.Organizer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.organizers[id]
	if !ok {
		return nil, nil
	}
	copied := *org
	return &copied, nil
}

func (m *MemStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

// --- CounterReader / ReservationStore ---

func (m *MemStore) GetCounter(ctx context.Context, eventID string, tierIndex int) (*models.InventoryCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.InventoryCounter{
		EventID:   eventID,
		TierIndex: tierIndex,
		Sold:      m.counters[counterKey{eventID, tierIndex}],
	}, nil
}

func (m *MemStore) ReserveCounter(ctx context.Context, eventID string, tierIndex, quantity, supply int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey{eventID, tierIndex}
	if m.counters[key]+quantity > supply {
		return false, nil
	}
	m.counters[key] += quantity
	return true, nil
}

func (m *MemStore) ReleaseCounter(ctx context.Context, eventID string, tierIndex, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey{eventID, tierIndex}
	m.counters[key] -= quantity
	if m.counters[key] < 0 {
		m.counters[key] = 0
	}
	return nil
}

func (m *MemStore) CreateReservation(ctx context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.CreatedAt = time.Now().UTC()
	copied := *r
	m.reservations[r.Ref] = &copied
	return nil
}

func (m *MemStore) ReleaseReservation(ctx context.Context, ref string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[ref]
	if !ok || r.Released {
		return nil, models.ErrAlreadyReleased
	}
	r.Released = true
	copied := *r
	return &copied, nil
}

// --- QuoteStore ---

func (m *MemStore) CreateQuote(ctx context.Context, q *models.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *q
	m.quotes[q.Ref] = &copied
	return nil
}

func (m *MemStore) GetQuote(ctx context.Context, ref string) (*models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[ref]
	if !ok {
		return nil, models.ErrQuoteNotFound
	}
	copied := *q
	return &copied, nil
}

func (m *MemStore) CancelQuote(ctx context.Context, ref string) (*models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[ref]
	if !ok || q.Status != models.QuoteStatusActive {
		return nil, models.ErrQuoteNotFound
	}
	q.Status = models.QuoteStatusCancelled
	copied := *q
	return &copied, nil
}

func (m *MemStore) ExpireQuotes(ctx context.Context, now time.Time) ([]models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []models.Quote
	for _, q := range m.quotes {
		if q.Status == models.QuoteStatusActive && !now.Before(q.ExpiresAt) {
			q.Status = models.QuoteStatusExpired
			expired = append(expired, *q)
		}
	}
	return expired, nil
}

// --- SettlementStore ---

func (m *MemStore) GetSettledPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ExternalPaymentID == externalID && p.Status == models.PaymentStatusSettled {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemStore) GetSettledPaymentByQuoteRef(ctx context.Context, quoteRef string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.QuoteRef == quoteRef && p.Status == models.PaymentStatusSettled {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MemStore) GetTicketIDsByPaymentID(ctx context.Context, paymentID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, t := range m.tickets {
		if t.PaymentID == paymentID {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func (m *MemStore) SettlePayment(ctx context.Context, payment *models.Payment, txn *models.Transaction, tickets []models.Ticket, quoteRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SettleCalls++
	for _, p := range m.payments {
		if p.ExternalPaymentID == payment.ExternalPaymentID && p.Status == models.PaymentStatusSettled {
			return models.ErrDuplicatePayment
		}
	}
	q, ok := m.quotes[quoteRef]
	if !ok || q.Status != models.QuoteStatusActive {
		return models.ErrQuoteNotActive
	}

	copiedPayment := *payment
	m.payments[payment.ID] = &copiedPayment
	copiedTxn := *txn
	m.transactions[txn.ID] = &copiedTxn
	for i := range tickets {
		copied := tickets[i]
		m.tickets[copied.ID] = &copied
	}
	q.Status = models.QuoteStatusSettled
	return nil
}

func (m *MemStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *payment
	m.payments[payment.ID] = &copied
	return nil
}
