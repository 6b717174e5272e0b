package entities

import (
	"time"

	"resavoice/internal/db"
)

const (
	EventReservationCreated   = "reservation:created"
	EventReservationUpdated   = "reservation:updated"
	EventReservationCancelled = "reservation:cancelled"
)

// ReservationView is a reservation with its assigned tables resolved.
type ReservationView struct {
	db.Reservation
	Tables []db.Table `json:"tables"`
}

type ReservationEvent struct {
	EventType   string          `json:"event_type"`
	Reservation ReservationView `json:"reservation"`
	// PreviousStatus is empty for a newly created hold.
	PreviousStatus db.ReservationStatus `json:"previous_status,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// ClassifyEvent names the event emitted for a reservation in the given status.
func ClassifyEvent(status db.ReservationStatus) string {
	switch status {
	case db.StatusHold, db.StatusConfirmed:
		return EventReservationCreated
	case db.StatusCancelled, db.StatusNoShow:
		return EventReservationCancelled
	}
	return EventReservationUpdated
}
