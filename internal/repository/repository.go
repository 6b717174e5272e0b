package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"resavoice/internal/db"
	"resavoice/internal/entities"
)

type RestaurantRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Restaurant, error)
	GetByPhone(ctx context.Context, phone string) (*db.Restaurant, error)
	First(ctx context.Context) (*db.Restaurant, error)
	Save(ctx context.Context, r *db.Restaurant) error
}

type TableRepository interface {
	// ListByCapacity returns the restaurant's tables sorted by ascending capacity.
	ListByCapacity(ctx context.Context, restaurantID uuid.UUID) ([]db.Table, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]db.Table, error)
	Create(ctx context.Context, t *db.Table) error
}

type ReservationRepository interface {
	// CreateHold stores a HOLD reservation together with its slot locks as one batch.
	// When any lock is already held and unexpired nothing is stored and ErrSlotConflict is returned.
	CreateHold(ctx context.Context, res *db.Reservation, locks []db.SlotLock) error
	Get(ctx context.Context, id uuid.UUID) (*db.Reservation, error)
	// ListOverlapping returns HOLD and CONFIRMED reservations intersecting [start, end).
	ListOverlapping(ctx context.Context, restaurantID uuid.UUID, start, end time.Time) ([]db.Reservation, error)
	LatestHoldForCall(ctx context.Context, callSid string) (*db.Reservation, error)
	// UpdateStatus moves a reservation from one status to another, failing with
	// ErrInvalidTransition when the current status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to db.ReservationStatus) error
	// Transition is UpdateStatus plus a change to the reservation's slot locks,
	// applied together or not at all.
	Transition(ctx context.Context, id uuid.UUID, from, to db.ReservationStatus, locks LockChange) error
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error
	List(ctx context.Context, filter entities.ReservationFilter) ([]db.Reservation, error)
}

// LockChange describes what happens to a reservation's slot locks on a status change.
// The zero value leaves them untouched.
type LockChange struct {
	Release  bool
	ExtendTo time.Time
}

type LockRepository interface {
	ActiveInRange(ctx context.Context, restaurantID uuid.UUID, start, end, now time.Time) ([]db.SlotLock, error)
	ListByReservation(ctx context.Context, reservationID uuid.UUID) ([]db.SlotLock, error)
	ExtendByReservation(ctx context.Context, reservationID uuid.UUID, expiresAt time.Time) (int64, error)
	DeleteByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error)
}

// JobRepository backs the periodic clean-up of holds nobody confirmed.
type JobRepository interface {
	StaleHoldIDs(ctx context.Context, createdBefore time.Time) ([]uuid.UUID, error)
	DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

type SessionRepository interface {
	// GetOrCreate returns the session for callSid, creating it on first contact.
	GetOrCreate(ctx context.Context, callSid string, restaurantID uuid.UUID, fromPhone string) (*db.CallSession, error)
	Get(ctx context.Context, callSid string) (*db.CallSession, error)
	// TryBeginJob atomically flips pendingJob from false to true and reports whether it did.
	TryBeginJob(ctx context.Context, callSid string) (bool, error)
	// EndJob clears pendingJob without loading the session, records lastErr and
	// appends the utterance to the history.
	EndJob(ctx context.Context, callSid, lastErr string, utterance db.HistoryEntry) error
	Save(ctx context.Context, s *db.CallSession) error
}

// Repositories bundles every store the services need.
type Repositories struct {
	Restaurants  RestaurantRepository
	Tables       TableRepository
	Reservations ReservationRepository
	Locks        LockRepository
	Sessions     SessionRepository
	Jobs         JobRepository
	Admins       AdminAuthRepository
}

// NewPostgresRepositories wires every Postgres-backed repository onto one connection pool.
func NewPostgresRepositories(conn *sql.DB) Repositories {
	return Repositories{
		Restaurants:  NewRestaurantRepository(conn),
		Tables:       NewTableRepository(conn),
		Reservations: NewReservationRepository(conn),
		Locks:        NewLockRepository(conn),
		Sessions:     NewSessionRepository(conn),
		Jobs:         NewJobRepository(conn),
		Admins:       NewAdminAuthRepository(conn),
	}
}
