package entities

import (
	"time"

	"github.com/google/uuid"

	"resavoice/internal/db"
)

type Customer struct {
	Name  string `json:"customer_name"`
	Phone string `json:"customer_phone"`
}

// HoldRequest asks the availability engine for a provisional table assignment.
type HoldRequest struct {
	RestaurantID   uuid.UUID   `json:"restaurant_id"`
	RequestedStart time.Time   `json:"start_at"`
	PartySize      int         `json:"party_size"`
	Customer       Customer    `json:"customer"`
	Notes          string      `json:"notes,omitempty"`
	CallSid        string      `json:"call_sid,omitempty"`
	Language       db.Language `json:"language,omitempty"`
}

type HoldResult struct {
	Available     bool        `json:"available"`
	ReservationID uuid.UUID   `json:"reservation_id,omitempty"`
	Tables        []uuid.UUID `json:"tables,omitempty"`
	StartAt       time.Time   `json:"start_at"`
	EndAt         time.Time   `json:"end_at"`
	Alternatives  []time.Time `json:"alternatives,omitempty"`
	Message       string      `json:"message,omitempty"`
}

// Assignment is a conflict-free set of tables for one party.
type Assignment struct {
	Tables      []db.Table
	WastedSeats int
}

func (a Assignment) TableIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(a.Tables))
	for _, t := range a.Tables {
		ids = append(ids, t.ID)
	}
	return ids
}
