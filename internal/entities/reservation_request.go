package entities

import "time"

// CreateReservationRequest is the admin payload for holds and direct bookings.
type CreateReservationRequest struct {
	StartAt       time.Time `json:"start_at"`
	PartySize     int       `json:"party_size"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	Notes         string    `json:"notes,omitempty"`
	Language      string    `json:"language,omitempty"`
}

// UpdateReservationRequest is the PATCH body; either field may be omitted.
type UpdateReservationRequest struct {
	Status string  `json:"status,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

type ReservationFilter struct {
	Date   string
	Status string
}
