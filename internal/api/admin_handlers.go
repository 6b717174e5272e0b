package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	apperrors "resavoice/internal/errors"
	"resavoice/internal/service"
)

type AdminHandler struct {
	Admin        *service.AdminService
	Availability *service.AvailabilityService
	Lifecycle    *service.ReservationService
}

func NewAdminHandler(admin *service.AdminService, availability *service.AvailabilityService, lifecycle *service.ReservationService) *AdminHandler {
	return &AdminHandler{Admin: admin, Availability: availability, Lifecycle: lifecycle}
}

func (h *AdminHandler) GetRestaurant(w http.ResponseWriter, r *http.Request) {
	restaurant, err := h.Admin.Restaurant(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, restaurant)
}

func (h *AdminHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.Admin.ListTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (h *AdminHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	filter := entities.ReservationFilter{
		Date:   r.URL.Query().Get("date"),
		Status: strings.ToUpper(r.URL.Query().Get("status")),
	}
	reservations, err := h.Admin.ListReservations(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservations)
}

func (h *AdminHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.Admin.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CreateHold places a provisional hold and reports the engine's answer as is.
func (h *AdminHandler) CreateHold(w http.ResponseWriter, r *http.Request) {
	result, ok := h.requestHold(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateReservation books directly: the hold it places is confirmed in the same request.
func (h *AdminHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	result, ok := h.requestHold(w, r)
	if !ok {
		return
	}
	if !result.Available {
		msg := result.Message
		if msg == "" {
			msg = "no table available at this time"
		}
		writeJSON(w, http.StatusConflict, UnavailableResponse{
			Message:      msg,
			StartAt:      result.StartAt,
			Alternatives: result.Alternatives,
		})
		return
	}

	if _, err := h.Lifecycle.Confirm(r.Context(), result.ReservationID); err != nil {
		writeError(w, err)
		return
	}
	view, err := h.Admin.GetReservation(r.Context(), result.ReservationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *AdminHandler) requestHold(w http.ResponseWriter, r *http.Request) (*entities.HoldResult, bool) {
	var req entities.CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ErrBadRequest("Invalid request body"))
		return nil, false
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		writeError(w, apperrors.ErrBadRequest("customer_name is required"))
		return nil, false
	}

	restaurant, err := h.Admin.Restaurant(r.Context())
	if err != nil {
		writeError(w, err)
		return nil, false
	}

	lang := db.Language(strings.ToUpper(req.Language))
	if !lang.Known() {
		lang = db.LanguageUnknown
	}
	result, err := h.Availability.RequestHold(r.Context(), entities.HoldRequest{
		RestaurantID:   restaurant.ID,
		RequestedStart: req.StartAt,
		PartySize:      req.PartySize,
		Customer:       entities.Customer{Name: req.CustomerName, Phone: req.CustomerPhone},
		Notes:          req.Notes,
		Language:       lang,
	})
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return result, true
}

func (h *AdminHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, db.StatusConfirmed)
}

func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, db.StatusCancelled)
}

func (h *AdminHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, db.StatusNoShow)
}

// UpdateReservation applies a notes change and/or a status change routed to the lifecycle.
func (h *AdminHandler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req entities.UpdateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ErrBadRequest("Invalid request body"))
		return
	}
	if req.Status == "" && req.Notes == nil {
		writeError(w, apperrors.ErrBadRequest("nothing to update"))
		return
	}

	var to db.ReservationStatus
	if req.Status != "" {
		to, err = db.ParseStatus(strings.ToUpper(req.Status))
		if err != nil {
			writeError(w, apperrors.ErrBadRequest(err.Error()))
			return
		}
	}
	if req.Notes != nil {
		if err := h.Lifecycle.UpdateNotes(r.Context(), id, *req.Notes); err != nil {
			writeError(w, err)
			return
		}
	}
	if to != "" {
		if _, err := h.Lifecycle.Transition(r.Context(), id, to); err != nil {
			writeError(w, err)
			return
		}
	}
	h.respondWithView(w, r, id)
}

func (h *AdminHandler) transition(w http.ResponseWriter, r *http.Request, to db.ReservationStatus) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.Lifecycle.Transition(r.Context(), id, to); err != nil {
		writeError(w, err)
		return
	}
	h.respondWithView(w, r, id)
}

func (h *AdminHandler) respondWithView(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	view, err := h.Admin.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
