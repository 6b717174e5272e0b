package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"resavoice/internal/db"
)

type LockRepo struct {
	DB *sql.DB
}

func NewLockRepository(conn *sql.DB) *LockRepo {
	return &LockRepo{DB: conn}
}

func (r *LockRepo) ActiveInRange(ctx context.Context, restaurantID uuid.UUID, start, end, now time.Time) ([]db.SlotLock, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT restaurant_id, table_id, slot_start, reservation_id, expires_at
		FROM table_slot_locks
		WHERE restaurant_id = $1
			AND slot_start >= $2
			AND slot_start < $3
			AND expires_at > $4`, restaurantID, start, end, now)
	if err != nil {
		return nil, fmt.Errorf("error querying active slot locks: %w", err)
	}
	return collectLocks(rows)
}

func (r *LockRepo) ListByReservation(ctx context.Context, reservationID uuid.UUID) ([]db.SlotLock, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT restaurant_id, table_id, slot_start, reservation_id, expires_at
		FROM table_slot_locks
		WHERE reservation_id = $1
		ORDER BY table_id, slot_start`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("error querying reservation slot locks: %w", err)
	}
	return collectLocks(rows)
}

func (r *LockRepo) ExtendByReservation(ctx context.Context, reservationID uuid.UUID, expiresAt time.Time) (int64, error) {
	result, err := r.DB.ExecContext(ctx, `UPDATE table_slot_locks SET expires_at = $2 WHERE reservation_id = $1`, reservationID, expiresAt)
	if err != nil {
		return 0, fmt.Errorf("error extending slot locks: %w", err)
	}
	return result.RowsAffected()
}

func (r *LockRepo) DeleteByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM table_slot_locks WHERE reservation_id = $1`, reservationID)
	if err != nil {
		return 0, fmt.Errorf("error deleting slot locks: %w", err)
	}
	return result.RowsAffected()
}

func collectLocks(rows *sql.Rows) ([]db.SlotLock, error) {
	defer rows.Close()

	var out []db.SlotLock
	for rows.Next() {
		var l db.SlotLock
		if err := rows.Scan(&l.RestaurantID, &l.TableID, &l.SlotStart, &l.ReservationID, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("error scanning slot lock: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after iterating slot lock rows: %w", err)
	}
	return out, nil
}
