package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	apperrors "resavoice/internal/errors"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// UnavailableResponse is returned with 409 when a booking cannot be placed.
type UnavailableResponse struct {
	Available    bool        `json:"available"`
	Message      string      `json:"message"`
	StartAt      time.Time   `json:"start_at"`
	Alternatives []time.Time `json:"alternatives"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// writeError maps err onto its status code. Server-side failures are logged and hidden.
func writeError(w http.ResponseWriter, err error) {
	status := apperrors.StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("Error handling request: %v", err)
		msg = "Internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ErrBadRequest("Invalid reservation id")
	}
	return id, nil
}
