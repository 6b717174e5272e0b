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

const sessionColumns = `call_sid, restaurant_id, from_phone, language, state, draft, history, pending_job, last_error, created_at, updated_at`

type SessionRepo struct {
	DB *sql.DB
}

func NewSessionRepository(conn *sql.DB) *SessionRepo {
	return &SessionRepo{DB: conn}
}

func (r *SessionRepo) GetOrCreate(ctx context.Context, callSid string, restaurantID uuid.UUID, fromPhone string) (*db.CallSession, error) {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO call_sessions (call_sid, restaurant_id, from_phone, language, state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (call_sid) DO NOTHING`,
		callSid, restaurantID, fromPhone, db.LanguageUnknown, db.StateCollecting)
	if err != nil {
		return nil, fmt.Errorf("error creating call session: %w", err)
	}
	return r.Get(ctx, callSid)
}

func (r *SessionRepo) Get(ctx context.Context, callSid string) (*db.CallSession, error) {
	var s db.CallSession
	var draft, history []byte
	err := r.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM call_sessions WHERE call_sid = $1`, callSid).Scan(
		&s.CallSid, &s.RestaurantID, &s.FromPhone, &s.Language, &s.State, &draft, &history,
		&s.PendingJob, &s.LastError, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("call session %s: %w", callSid, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("error querying call session: %w", err)
	}
	if err := json.Unmarshal(draft, &s.Draft); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	if err := json.Unmarshal(history, &s.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &s, nil
}

func (r *SessionRepo) TryBeginJob(ctx context.Context, callSid string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `
		UPDATE call_sessions SET pending_job = TRUE, updated_at = NOW()
		WHERE call_sid = $1 AND pending_job = FALSE`, callSid)
	if err != nil {
		return false, fmt.Errorf("error acquiring call session job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, callSid); err != nil {
		return false, err
	}
	return false, nil
}

func (r *SessionRepo) EndJob(ctx context.Context, callSid, lastErr string, utterance db.HistoryEntry) error {
	entry, err := json.Marshal([]db.HistoryEntry{utterance})
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	result, err := r.DB.ExecContext(ctx, `
		UPDATE call_sessions SET
			pending_job = FALSE, last_error = $2, history = COALESCE(history, '[]'::jsonb) || $3::jsonb, updated_at = NOW()
		WHERE call_sid = $1`,
		callSid, lastErr, entry)
	if err != nil {
		return fmt.Errorf("error ending call session job: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("call session %s: %w", callSid, apperrors.ErrNotFound)
	}
	return nil
}

func (r *SessionRepo) Save(ctx context.Context, s *db.CallSession) error {
	draft, err := json.Marshal(s.Draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if s.History == nil {
		s.History = []db.HistoryEntry{}
	}
	history, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	s.UpdatedAt = time.Now().UTC()

	result, err := r.DB.ExecContext(ctx, `
		UPDATE call_sessions SET
			language = $2, state = $3, draft = $4, history = $5, pending_job = $6, last_error = $7, updated_at = $8
		WHERE call_sid = $1`,
		s.CallSid, s.Language, s.State, draft, history, s.PendingJob, s.LastError, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error saving call session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("call session %s: %w", s.CallSid, apperrors.ErrNotFound)
	}
	return nil
}
