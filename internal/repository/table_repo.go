package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"resavoice/internal/db"
)

const tableColumns = `id, restaurant_id, name, capacity, zone, is_joinable, created_at, updated_at`

type TableRepo struct {
	DB *sql.DB
}

func NewTableRepository(conn *sql.DB) *TableRepo {
	return &TableRepo{DB: conn}
}

func (r *TableRepo) ListByCapacity(ctx context.Context, restaurantID uuid.UUID) ([]db.Table, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+tableColumns+`
		FROM restaurant_tables
		WHERE restaurant_id = $1
		ORDER BY capacity ASC, name ASC`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("error listing tables: %w", err)
	}
	return collectTables(rows)
}

func (r *TableRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]db.Table, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+tableColumns+`
		FROM restaurant_tables
		WHERE id = ANY($1::uuid[])
		ORDER BY capacity ASC, name ASC`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("error querying tables: %w", err)
	}
	return collectTables(rows)
}

func (r *TableRepo) Create(ctx context.Context, t *db.Table) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO restaurant_tables (`+tableColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.RestaurantID, t.Name, t.Capacity, t.Zone, t.IsJoinable, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating table: %w", err)
	}
	return nil
}

func collectTables(rows *sql.Rows) ([]db.Table, error) {
	defer rows.Close()

	var out []db.Table
	for rows.Next() {
		var t db.Table
		if err := rows.Scan(&t.ID, &t.RestaurantID, &t.Name, &t.Capacity, &t.Zone, &t.IsJoinable, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning table: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after iterating table rows: %w", err)
	}
	return out, nil
}
