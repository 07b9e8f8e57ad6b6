package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetPublishedEvent retrieves a published event with its tiers decoded.
func (s *Store) GetPublishedEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := s.db.GetContext(ctx, &event,
		"SELECT * FROM events WHERE id = $1 AND status = $2", eventID, models.EventStatusPublished)
	if err == sql.ErrNoRows {
		return nil, models.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := event.DecodeTiers(); err != nil {
		return nil, err
	}
	return &event, nil
}

// GetOrganizer retrieves payout fields for an organizer record. Returns
// (nil, nil) when no record exists so the payout chain can fall through.
func (s *Store) GetOrganizer(ctx context.Context, id string) (*models.Organizer, error) {
	var org models.Organizer
	err := s.db.GetContext(ctx, &org,
		"SELECT id, payout_address, wallet_address, treasury_wallet FROM organizers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GetUser retrieves payout fields for a user account. Returns (nil, nil)
// when no record exists.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		"SELECT id, role, payout_address, wallet_address FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetCounter retrieves the sold counter for a tier. A missing row reads as
// zero sold.
func (s *Store) GetCounter(ctx context.Context, eventID string, tierIndex int) (*models.InventoryCounter, error) {
	var counter models.InventoryCounter
	err := s.db.GetContext(ctx, &counter,
		"SELECT * FROM inventory_counters WHERE event_id = $1 AND tier_index = $2", eventID, tierIndex)
	if err == sql.ErrNoRows {
		return &models.InventoryCounter{EventID: eventID, TierIndex: tierIndex, Sold: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// ReserveCounter increments the sold counter by quantity only while the
// supply bound still holds at commit time. The whole check-and-increment is
// one conditional statement; callers must never read the counter and write
// it back separately. Returns false when the tier cannot absorb quantity.
func (s *Store) ReserveCounter(ctx context.Context, eventID string, tierIndex, quantity, supply int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_counters (event_id, tier_index, sold, updated_at)
		SELECT $1, $2, $3, NOW() WHERE $3 <= $4
		ON CONFLICT (event_id, tier_index) DO UPDATE
		SET sold = inventory_counters.sold + $3, updated_at = NOW()
		WHERE inventory_counters.sold + $3 <= $4`,
		eventID, tierIndex, quantity, supply)
	if err != nil {
		return false, fmt.Errorf("failed to reserve counter: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ReleaseCounter decrements the sold counter, floored at zero.
func (s *Store) ReleaseCounter(ctx context.Context, eventID string, tierIndex, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE inventory_counters
		SET sold = GREATEST(sold - $3, 0), updated_at = NOW()
		WHERE event_id = $1 AND tier_index = $2`,
		eventID, tierIndex, quantity)
	if err != nil {
		return fmt.Errorf("failed to release counter: %w", err)
	}
	return nil
}

// CreateReservation records a committed inventory hold.
func (s *Store) CreateReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (ref, event_id, tier_index, quantity, released)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING created_at`

	return s.db.GetContext(ctx, &r.CreatedAt, query, r.Ref, r.EventID, r.TierIndex, r.Quantity)
}

// ReleaseReservation marks a reservation released. The conditional update
// makes release at-most-once: a second call, or a call with an unknown ref,
// reports ErrAlreadyReleased without touching the counter.
func (s *Store) ReleaseReservation(ctx context.Context, ref string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r, `
		UPDATE reservations SET released = TRUE
		WHERE ref = $1 AND released = FALSE
		RETURNING ref, event_id, tier_index, quantity, released, created_at`, ref)
	if err == sql.ErrNoRows {
		return nil, models.ErrAlreadyReleased
	}
	if err != nil {
		return nil, fmt.Errorf("failed to release reservation: %w", err)
	}
	return &r, nil
}
