package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	apperrors "resavoice/internal/errors"
	"resavoice/internal/repository"
)

// ConfirmedLockExpiry keeps a confirmed reservation's locks in place without renewal.
var ConfirmedLockExpiry = time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC)

// ReservationService owns the reservation lifecycle:
// HOLD -> CONFIRMED, HOLD|CONFIRMED -> CANCELLED, CONFIRMED -> NO_SHOW.
type ReservationService struct {
	reservations repository.ReservationRepository
	tables       repository.TableRepository
	publisher    Publisher
	holdTTL      time.Duration
	now          func() time.Time
}

func NewReservationService(repos repository.Repositories, publisher Publisher, holdTTL time.Duration) *ReservationService {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &ReservationService{
		reservations: repos.Reservations,
		tables:       repos.Tables,
		publisher:    publisher,
		holdTTL:      holdTTL,
		now:          time.Now,
	}
}

func (s *ReservationService) WithClock(now func() time.Time) *ReservationService {
	s.now = now
	return s
}

// Confirm promotes a HOLD and pins its locks to ConfirmedLockExpiry.
// A hold older than the hold TTL may have lost its slots and is refused.
func (s *ReservationService) Confirm(ctx context.Context, id uuid.UUID) (*db.Reservation, error) {
	res, err := s.reservations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Status != db.StatusHold {
		return nil, s.rejected(res, db.StatusConfirmed)
	}
	if !res.CreatedAt.Add(s.holdTTL).After(s.now()) {
		log.Printf("Lifecycle: hold %s expired at %s, cannot confirm", id, res.CreatedAt.Add(s.holdTTL).Format(time.RFC3339))
		return nil, fmt.Errorf("hold %s has expired: %w", id, apperrors.ErrInvalidTransition)
	}

	change := repository.LockChange{ExtendTo: ConfirmedLockExpiry}
	if err := s.reservations.Transition(ctx, id, db.StatusHold, db.StatusConfirmed, change); err != nil {
		return nil, s.logFailure(id, db.StatusConfirmed, err)
	}
	return s.finish(ctx, id, db.StatusHold)
}

// Cancel terminalizes a HOLD or CONFIRMED reservation and frees its slots immediately.
func (s *ReservationService) Cancel(ctx context.Context, id uuid.UUID) (*db.Reservation, error) {
	res, err := s.reservations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.Status.Blocking() {
		return nil, s.rejected(res, db.StatusCancelled)
	}
	change := repository.LockChange{Release: true}
	if err := s.reservations.Transition(ctx, id, res.Status, db.StatusCancelled, change); err != nil {
		return nil, s.logFailure(id, db.StatusCancelled, err)
	}
	return s.finish(ctx, id, res.Status)
}

// NoShow marks a CONFIRMED reservation as a no-show. Its locks are left as they are.
func (s *ReservationService) NoShow(ctx context.Context, id uuid.UUID) (*db.Reservation, error) {
	res, err := s.reservations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Status != db.StatusConfirmed {
		return nil, s.rejected(res, db.StatusNoShow)
	}
	if err := s.reservations.UpdateStatus(ctx, id, db.StatusConfirmed, db.StatusNoShow); err != nil {
		return nil, s.logFailure(id, db.StatusNoShow, err)
	}
	return s.finish(ctx, id, db.StatusConfirmed)
}

// Transition routes a requested target status to the matching lifecycle operation.
func (s *ReservationService) Transition(ctx context.Context, id uuid.UUID, to db.ReservationStatus) (*db.Reservation, error) {
	switch to {
	case db.StatusConfirmed:
		return s.Confirm(ctx, id)
	case db.StatusCancelled:
		return s.Cancel(ctx, id)
	case db.StatusNoShow:
		return s.NoShow(ctx, id)
	}
	log.Printf("Lifecycle: rejected transition of %s to %s", id, to)
	return nil, fmt.Errorf("cannot move reservation to %s: %w", to, apperrors.ErrInvalidTransition)
}

// CancelLatestHoldForCall cancels the newest HOLD booked during the call, if there is one.
func (s *ReservationService) CancelLatestHoldForCall(ctx context.Context, callSid string) (*db.Reservation, error) {
	hold, err := s.reservations.LatestHoldForCall(ctx, callSid)
	if err != nil {
		return nil, err
	}
	return s.Cancel(ctx, hold.ID)
}

func (s *ReservationService) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	return s.reservations.UpdateNotes(ctx, id, notes)
}

// View resolves the reservation's assigned tables.
func (s *ReservationService) View(ctx context.Context, res db.Reservation) (entities.ReservationView, error) {
	tables, err := s.tables.GetMany(ctx, res.TableIDs)
	if err != nil {
		return entities.ReservationView{}, fmt.Errorf("error resolving tables: %w", err)
	}
	return entities.ReservationView{Reservation: res, Tables: tables}, nil
}

func (s *ReservationService) rejected(res *db.Reservation, to db.ReservationStatus) error {
	log.Printf("Lifecycle: rejected transition of %s from %s to %s", res.ID, res.Status, to)
	return fmt.Errorf("reservation %s cannot go from %s to %s: %w", res.ID, res.Status, to, apperrors.ErrInvalidTransition)
}

func (s *ReservationService) logFailure(id uuid.UUID, to db.ReservationStatus, err error) error {
	log.Printf("Lifecycle: moving %s to %s failed: %v", id, to, err)
	return err
}

func (s *ReservationService) finish(ctx context.Context, id uuid.UUID, from db.ReservationStatus) (*db.Reservation, error) {
	res, err := s.reservations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.publisher == nil {
		return res, nil
	}
	view, err := s.View(ctx, *res)
	if err != nil {
		log.Printf("Lifecycle: %v", err)
		view = entities.ReservationView{Reservation: *res}
	}
	event := entities.ReservationEvent{
		EventType:      entities.ClassifyEvent(res.Status),
		Reservation:    view,
		PreviousStatus: from,
		OccurredAt:     s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("Event %s for reservation %s not delivered: %v", event.EventType, id, err)
	}
	return res, nil
}
