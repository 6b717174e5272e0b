package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

type JobRepo struct {
	DB *sql.DB
}

func NewJobRepository(conn *sql.DB) *JobRepo {
	return &JobRepo{DB: conn}
}

// StaleHoldIDs returns HOLD reservations created before the given time.
func (r *JobRepo) StaleHoldIDs(ctx context.Context, createdBefore time.Time) ([]uuid.UUID, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM reservations WHERE status = 'HOLD' AND created_at < $1 ORDER BY created_at`, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("error querying stale holds: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning reservation ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after iterating rows: %w", err)
	}
	return ids, nil
}

// DeleteExpiredLocks removes slot locks whose expiry has passed.
func (r *JobRepo) DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM table_slot_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("error deleting expired slot locks: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Printf("Could not get rows affected: %v", err)
		return 0, nil
	}
	return rowsAffected, nil
}
