package db

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	StatusHold      ReservationStatus = "HOLD"
	StatusConfirmed ReservationStatus = "CONFIRMED"
	StatusCancelled ReservationStatus = "CANCELLED"
	StatusNoShow    ReservationStatus = "NO_SHOW"
)

// Blocking reports whether a reservation in this status occupies its tables.
func (s ReservationStatus) Blocking() bool {
	return s == StatusHold || s == StatusConfirmed
}

func (s ReservationStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusNoShow
}

func ParseStatus(v string) (ReservationStatus, error) {
	switch s := ReservationStatus(v); s {
	case StatusHold, StatusConfirmed, StatusCancelled, StatusNoShow:
		return s, nil
	}
	return "", fmt.Errorf("invalid status %q", v)
}

type Source string

const (
	SourceVoice Source = "VOICE"
	SourceAdmin Source = "ADMIN"
)

type Language string

const (
	LanguageFR      Language = "FR"
	LanguageEN      Language = "EN"
	LanguageUnknown Language = "UNKNOWN"
)

// Known reports whether the language is one the dialogue can speak.
func (l Language) Known() bool {
	return l == LanguageFR || l == LanguageEN
}

type OpeningHours struct {
	DayOfWeek int    `json:"day_of_week"`
	Open      string `json:"open"`
	Close     string `json:"close"`
	Closed    bool   `json:"closed,omitempty"`
}

type Restaurant struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Timezone       string         `json:"timezone"`
	PhoneNumber    string         `json:"phone_number"`
	SlotMinutes    int            `json:"slot_minutes"`
	AvgDurationMin int            `json:"avg_duration_min"`
	BufferMin      int            `json:"buffer_min"`
	OpeningHours   []OpeningHours `json:"opening_hours"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

var hhmm = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

func (r Restaurant) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name required")
	}
	if r.PhoneNumber == "" {
		return fmt.Errorf("phone_number required")
	}
	if r.SlotMinutes < 5 || r.SlotMinutes > 60 {
		return fmt.Errorf("slot_minutes must be between 5 and 60")
	}
	if r.AvgDurationMin < 30 {
		return fmt.Errorf("avg_duration_min must be >= 30")
	}
	if r.BufferMin < 0 {
		return fmt.Errorf("buffer_min must be >= 0")
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", r.Timezone, err)
	}
	for _, h := range r.OpeningHours {
		if h.DayOfWeek < 0 || h.DayOfWeek > 6 {
			return fmt.Errorf("opening hours day_of_week must be between 0 and 6")
		}
		if !hhmm.MatchString(h.Open) || !hhmm.MatchString(h.Close) {
			return fmt.Errorf("opening hours must use HH:MM")
		}
	}
	return nil
}

// Duration is the time a party occupies its tables, buffer included.
func (r Restaurant) Duration() time.Duration {
	return time.Duration(r.AvgDurationMin+r.BufferMin) * time.Minute
}

// Location is the restaurant's time zone, UTC when it cannot be loaded.
func (r Restaurant) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (r Restaurant) Slot() time.Duration {
	return time.Duration(r.SlotMinutes) * time.Minute
}

type Table struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	Name         string    `json:"name"`
	Capacity     int       `json:"capacity"`
	Zone         string    `json:"zone,omitempty"`
	IsJoinable   bool      `json:"is_joinable"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Reservation struct {
	ID            uuid.UUID         `json:"id"`
	RestaurantID  uuid.UUID         `json:"restaurant_id"`
	Status        ReservationStatus `json:"status"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone"`
	PartySize     int               `json:"party_size"`
	StartAt       time.Time         `json:"start_at"`
	EndAt         time.Time         `json:"end_at"`
	TableIDs      []uuid.UUID       `json:"tables_assigned"`
	Notes         string            `json:"notes,omitempty"`
	Source        Source            `json:"source"`
	CallSid       string            `json:"call_sid,omitempty"`
	Language      Language          `json:"language,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// SlotLock marks one slot of one table as taken by a reservation until ExpiresAt.
type SlotLock struct {
	RestaurantID  uuid.UUID `json:"restaurant_id"`
	TableID       uuid.UUID `json:"table_id"`
	SlotStart     time.Time `json:"slot_start"`
	ReservationID uuid.UUID `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type SessionState string

const (
	StateCollecting SessionState = "COLLECTING"
	StateConfirming SessionState = "CONFIRMING"
	StateDone       SessionState = "DONE"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type HistoryEntry struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Draft holds the reservation fields collected so far during a call.
// A nil field has not been provided yet.
type Draft struct {
	StartAt       *time.Time `json:"start_at,omitempty"`
	PartySize     *int       `json:"party_size,omitempty"`
	CustomerName  *string    `json:"customer_name,omitempty"`
	CustomerPhone *string    `json:"customer_phone,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty"`
}

// Merge copies every non-nil field of in over d. Present values are never cleared.
func (d *Draft) Merge(in Draft) {
	if in.StartAt != nil {
		v := *in.StartAt
		d.StartAt = &v
	}
	if in.PartySize != nil {
		v := *in.PartySize
		d.PartySize = &v
	}
	if in.CustomerName != nil {
		v := *in.CustomerName
		d.CustomerName = &v
	}
	if in.CustomerPhone != nil {
		v := *in.CustomerPhone
		d.CustomerPhone = &v
	}
	if in.Notes != nil {
		v := *in.Notes
		d.Notes = &v
	}
	if in.ReservationID != nil {
		v := *in.ReservationID
		d.ReservationID = &v
	}
}

// Bookable reports whether the draft carries enough to request a hold.
func (d Draft) Bookable() bool {
	return d.StartAt != nil && d.PartySize != nil && *d.PartySize > 0
}

type CallSession struct {
	CallSid      string         `json:"call_sid"`
	RestaurantID uuid.UUID      `json:"restaurant_id"`
	FromPhone    string         `json:"from_phone"`
	Language     Language       `json:"language"`
	State        SessionState   `json:"state"`
	Draft        Draft          `json:"draft"`
	History      []HistoryEntry `json:"history"`
	PendingJob   bool           `json:"pending_job"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// LastAssistant returns the most recent assistant utterance, if any.
func (s CallSession) LastAssistant() (HistoryEntry, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			return s.History[i], true
		}
	}
	return HistoryEntry{}, false
}

type Admin struct {
	ID           int
	Email        string
	PasswordHash string
}
