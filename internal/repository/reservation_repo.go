package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	apperrors "resavoice/internal/errors"
)

const reservationColumns = `id, restaurant_id, status, customer_name, customer_phone, party_size, start_at, end_at,
	table_ids, notes, source, call_sid, language, created_at, updated_at`

type ReservationRepo struct {
	DB *sql.DB
}

func NewReservationRepository(conn *sql.DB) *ReservationRepo {
	return &ReservationRepo{DB: conn}
}

func (r *ReservationRepo) CreateHold(ctx context.Context, res *db.Reservation, locks []db.SlotLock) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hold tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = res.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		res.ID, res.RestaurantID, res.Status, res.CustomerName, res.CustomerPhone, res.PartySize,
		res.StartAt, res.EndAt, pq.Array(uuidStrings(res.TableIDs)), res.Notes, res.Source,
		res.CallSid, res.Language, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert hold reservation: %w", err)
	}

	// Fixed insert order keeps two overlapping batches from deadlocking each other.
	ordered := append([]db.SlotLock(nil), locks...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].TableID != ordered[j].TableID {
			return ordered[i].TableID.String() < ordered[j].TableID.String()
		}
		return ordered[i].SlotStart.Before(ordered[j].SlotStart)
	})

	for _, l := range ordered {
		var owner uuid.UUID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO table_slot_locks (restaurant_id, table_id, slot_start, reservation_id, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (restaurant_id, table_id, slot_start) DO UPDATE
				SET reservation_id = EXCLUDED.reservation_id, expires_at = EXCLUDED.expires_at
				WHERE table_slot_locks.expires_at <= $6
			RETURNING reservation_id`,
			l.RestaurantID, l.TableID, l.SlotStart, l.ReservationID, l.ExpiresAt, now,
		).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return fmt.Errorf("table %s slot %s: %w", l.TableID, l.SlotStart.Format(time.RFC3339), apperrors.ErrSlotConflict)
		}
		if err != nil {
			return fmt.Errorf("insert slot lock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrSlotConflict
		}
		return fmt.Errorf("commit hold: %w", err)
	}
	return nil
}

func (r *ReservationRepo) Get(ctx context.Context, id uuid.UUID) (*db.Reservation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reservation %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying reservation: %w", err)
	}
	return res, nil
}

func (r *ReservationRepo) ListOverlapping(ctx context.Context, restaurantID uuid.UUID, start, end time.Time) ([]db.Reservation, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE restaurant_id = $1
			AND status IN ('HOLD', 'CONFIRMED')
			AND start_at < $3
			AND end_at > $2`, restaurantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("error querying overlapping reservations: %w", err)
	}
	return collectReservations(rows)
}

func (r *ReservationRepo) LatestHoldForCall(ctx context.Context, callSid string) (*db.Reservation, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE call_sid = $1 AND status = 'HOLD'
		ORDER BY created_at DESC
		LIMIT 1`, callSid)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("hold for call %s: %w", callSid, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying hold for call: %w", err)
	}
	return res, nil
}

func (r *ReservationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to db.ReservationStatus) error {
	return r.Transition(ctx, id, from, to, LockChange{})
}

func (r *ReservationRepo) Transition(ctx context.Context, id uuid.UUID, from, to db.ReservationStatus, locks LockChange) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("error updating reservation status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("reservation %s is no longer %s: %w", id, from, apperrors.ErrInvalidTransition)
	}

	switch {
	case locks.Release:
		if _, err := tx.ExecContext(ctx, `DELETE FROM table_slot_locks WHERE reservation_id = $1`, id); err != nil {
			return fmt.Errorf("error releasing locks of %s: %w", id, err)
		}
	case !locks.ExtendTo.IsZero():
		if _, err := tx.ExecContext(ctx,
			`UPDATE table_slot_locks SET expires_at = $2 WHERE reservation_id = $1`, id, locks.ExtendTo); err != nil {
			return fmt.Errorf("error extending locks of %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func (r *ReservationRepo) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	result, err := r.DB.ExecContext(ctx, `UPDATE reservations SET notes = $2, updated_at = NOW() WHERE id = $1`, id, notes)
	if err != nil {
		return fmt.Errorf("error updating reservation notes: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("reservation %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *ReservationRepo) List(ctx context.Context, filter entities.ReservationFilter) ([]db.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if filter.Date != "" {
		query += " AND DATE(start_at) = $" + strconv.Itoa(idx)
		args = append(args, filter.Date)
		idx++
	}
	if filter.Status != "" {
		query += " AND status = $" + strconv.Itoa(idx)
		args = append(args, filter.Status)
		idx++
	}
	query += " ORDER BY start_at DESC"

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing reservations: %w", err)
	}
	return collectReservations(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*db.Reservation, error) {
	var res db.Reservation
	var tableIDs []string
	err := row.Scan(
		&res.ID, &res.RestaurantID, &res.Status, &res.CustomerName, &res.CustomerPhone, &res.PartySize,
		&res.StartAt, &res.EndAt, pq.Array(&tableIDs), &res.Notes, &res.Source, &res.CallSid, &res.Language,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.TableIDs, err = parseUUIDs(tableIDs)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func collectReservations(rows *sql.Rows) ([]db.Reservation, error) {
	defer rows.Close()

	var out []db.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after iterating reservation rows: %w", err)
	}
	return out, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", v, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
