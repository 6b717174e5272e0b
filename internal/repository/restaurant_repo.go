package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"resavoice/internal/db"
	apperrors "resavoice/internal/errors"
)

const restaurantColumns = `id, name, timezone, phone_number, slot_minutes, avg_duration_min, buffer_min, opening_hours, created_at, updated_at`

type RestaurantRepo struct {
	DB *sql.DB
}

func NewRestaurantRepository(conn *sql.DB) *RestaurantRepo {
	return &RestaurantRepo{DB: conn}
}

func (r *RestaurantRepo) Get(ctx context.Context, id uuid.UUID) (*db.Restaurant, error) {
	return r.one(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = $1`, id)
}

func (r *RestaurantRepo) GetByPhone(ctx context.Context, phone string) (*db.Restaurant, error) {
	return r.one(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE phone_number = $1`, phone)
}

func (r *RestaurantRepo) First(ctx context.Context) (*db.Restaurant, error) {
	return r.one(ctx, `SELECT `+restaurantColumns+` FROM restaurants ORDER BY created_at LIMIT 1`)
}

func (r *RestaurantRepo) Save(ctx context.Context, rest *db.Restaurant) error {
	hours, err := json.Marshal(rest.OpeningHours)
	if err != nil {
		return fmt.Errorf("marshal opening hours: %w", err)
	}
	if rest.ID == uuid.Nil {
		rest.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rest.CreatedAt.IsZero() {
		rest.CreatedAt = now
	}
	rest.UpdatedAt = now

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO restaurants (`+restaurantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			phone_number = EXCLUDED.phone_number,
			slot_minutes = EXCLUDED.slot_minutes,
			avg_duration_min = EXCLUDED.avg_duration_min,
			buffer_min = EXCLUDED.buffer_min,
			opening_hours = EXCLUDED.opening_hours,
			updated_at = EXCLUDED.updated_at`,
		rest.ID, rest.Name, rest.Timezone, rest.PhoneNumber, rest.SlotMinutes, rest.AvgDurationMin,
		rest.BufferMin, hours, rest.CreatedAt, rest.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving restaurant: %w", err)
	}
	return nil
}

func (r *RestaurantRepo) one(ctx context.Context, query string, args ...any) (*db.Restaurant, error) {
	var rest db.Restaurant
	var hours []byte
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&rest.ID, &rest.Name, &rest.Timezone, &rest.PhoneNumber, &rest.SlotMinutes, &rest.AvgDurationMin,
		&rest.BufferMin, &hours, &rest.CreatedAt, &rest.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("restaurant: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying restaurant: %w", err)
	}
	if err := json.Unmarshal(hours, &rest.OpeningHours); err != nil {
		return nil, fmt.Errorf("decode opening hours: %w", err)
	}
	return &rest, nil
}
