package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	apperrors "resavoice/internal/errors"
	"resavoice/internal/repository"
	"resavoice/internal/utils"
)

const (
	DefaultHoldTTL  = 3 * time.Minute
	maxAlternatives = 3
)

// alternativeOffsets are tried in order around the normalized start when the requested time is full.
var alternativeOffsets = []time.Duration{
	-30 * time.Minute,
	-15 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	45 * time.Minute,
	60 * time.Minute,
}

type AvailabilityService struct {
	restaurants  repository.RestaurantRepository
	tables       repository.TableRepository
	reservations repository.ReservationRepository
	locks        repository.LockRepository
	publisher    Publisher
	holdTTL      time.Duration
	now          func() time.Time
}

func NewAvailabilityService(repos repository.Repositories, publisher Publisher, holdTTL time.Duration) *AvailabilityService {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &AvailabilityService{
		restaurants:  repos.Restaurants,
		tables:       repos.Tables,
		reservations: repos.Reservations,
		locks:        repos.Locks,
		publisher:    publisher,
		holdTTL:      holdTTL,
		now:          time.Now,
	}
}

// WithClock replaces the wall clock used for lock expiry.
func (s *AvailabilityService) WithClock(now func() time.Time) *AvailabilityService {
	s.now = now
	return s
}

// RequestHold assigns tables for the party at the first slot boundary at or after
// the requested start and stores a HOLD reservation with its slot locks.
// When nothing fits, or a concurrent request wins the locks, the result carries
// up to three alternative start times instead.
func (s *AvailabilityService) RequestHold(ctx context.Context, req entities.HoldRequest) (*entities.HoldResult, error) {
	if req.PartySize < 1 {
		return nil, apperrors.ErrBadRequest("party_size must be at least 1")
	}
	if req.RequestedStart.IsZero() {
		return nil, apperrors.ErrBadRequest("start_at is required")
	}

	restaurant, err := s.restaurants.Get(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	tables, err := s.tables.ListByCapacity(ctx, restaurant.ID)
	if err != nil {
		return nil, fmt.Errorf("error loading tables: %w", err)
	}

	start := utils.NormalizeToSlot(req.RequestedStart, restaurant.Slot(), restaurant.Location())
	end := start.Add(restaurant.Duration())
	result := &entities.HoldResult{StartAt: start, EndAt: end}

	now := s.now()
	assignment, err := s.findAssignment(ctx, restaurant.ID, tables, start, end, req.PartySize, now)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return s.withAlternatives(ctx, result, restaurant, tables, req.PartySize, now)
	}

	res := &db.Reservation{
		ID:            uuid.New(),
		RestaurantID:  restaurant.ID,
		Status:        db.StatusHold,
		CustomerName:  req.Customer.Name,
		CustomerPhone: req.Customer.Phone,
		PartySize:     req.PartySize,
		StartAt:       start,
		EndAt:         end,
		TableIDs:      assignment.TableIDs(),
		Notes:         req.Notes,
		Source:        db.SourceAdmin,
		CallSid:       req.CallSid,
		Language:      req.Language,
		CreatedAt:     now.UTC(),
	}
	if req.CallSid != "" {
		res.Source = db.SourceVoice
	}

	expiresAt := now.Add(s.holdTTL)
	var locks []db.SlotLock
	for _, t := range assignment.Tables {
		for _, slot := range utils.SlotStarts(start, end, restaurant.Slot()) {
			locks = append(locks, db.SlotLock{
				RestaurantID:  restaurant.ID,
				TableID:       t.ID,
				SlotStart:     slot,
				ReservationID: res.ID,
				ExpiresAt:     expiresAt,
			})
		}
	}

	if err := s.reservations.CreateHold(ctx, res, locks); err != nil {
		if errors.Is(err, apperrors.ErrSlotConflict) {
			log.Printf("Hold for %s at %s lost a lock race: %v", restaurant.ID, start.Format(time.RFC3339), err)
			result.Message = "time slot was just booked by another customer"
			return s.withAlternatives(ctx, result, restaurant, tables, req.PartySize, s.now())
		}
		return nil, fmt.Errorf("error creating hold: %w", err)
	}

	result.Available = true
	result.ReservationID = res.ID
	result.Tables = res.TableIDs
	s.publish(ctx, *res, assignment.Tables)
	return result, nil
}

// SelectTables picks the best assignment for partySize among tables sorted by ascending
// capacity: the smallest single table that fits, else the joinable pair wasting the fewest seats.
// Tables in unavailable are skipped. It returns nil when nothing fits.
func SelectTables(tables []db.Table, unavailable map[uuid.UUID]bool, partySize int) *entities.Assignment {
	for _, t := range tables {
		if unavailable[t.ID] {
			continue
		}
		if t.Capacity >= partySize {
			return &entities.Assignment{Tables: []db.Table{t}, WastedSeats: t.Capacity - partySize}
		}
	}

	var joinable []db.Table
	for _, t := range tables {
		if t.IsJoinable && !unavailable[t.ID] {
			joinable = append(joinable, t)
		}
	}

	var best *entities.Assignment
	for i := 0; i < len(joinable); i++ {
		for j := i + 1; j < len(joinable); j++ {
			total := joinable[i].Capacity + joinable[j].Capacity
			if total < partySize {
				continue
			}
			wasted := total - partySize
			if best == nil || wasted < best.WastedSeats {
				best = &entities.Assignment{Tables: []db.Table{joinable[i], joinable[j]}, WastedSeats: wasted}
			}
		}
	}
	return best
}

func (s *AvailabilityService) findAssignment(ctx context.Context, restaurantID uuid.UUID, tables []db.Table, start, end time.Time, partySize int, now time.Time) (*entities.Assignment, error) {
	unavailable, err := s.unavailableTables(ctx, restaurantID, start, end, now)
	if err != nil {
		return nil, err
	}
	return SelectTables(tables, unavailable, partySize), nil
}

// unavailableTables unions the tables of overlapping live reservations and of
// unexpired locks in [start, end). A HOLD older than the hold TTL no longer blocks.
func (s *AvailabilityService) unavailableTables(ctx context.Context, restaurantID uuid.UUID, start, end, now time.Time) (map[uuid.UUID]bool, error) {
	overlapping, err := s.reservations.ListOverlapping(ctx, restaurantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("error loading overlapping reservations: %w", err)
	}
	locks, err := s.locks.ActiveInRange(ctx, restaurantID, start, end, now)
	if err != nil {
		return nil, fmt.Errorf("error loading slot locks: %w", err)
	}

	unavailable := make(map[uuid.UUID]bool)
	for _, r := range overlapping {
		if s.holdExpired(r, now) {
			continue
		}
		for _, id := range r.TableIDs {
			unavailable[id] = true
		}
	}
	for _, l := range locks {
		unavailable[l.TableID] = true
	}
	return unavailable, nil
}

func (s *AvailabilityService) holdExpired(r db.Reservation, now time.Time) bool {
	return r.Status == db.StatusHold && !r.CreatedAt.Add(s.holdTTL).After(now)
}

// Alternatives tries the fixed offsets around start and returns up to three
// normalized start times that would currently fit the party.
func (s *AvailabilityService) Alternatives(ctx context.Context, restaurant *db.Restaurant, tables []db.Table, start time.Time, partySize int, now time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, off := range alternativeOffsets {
		if len(out) >= maxAlternatives {
			break
		}
		candidate := utils.NormalizeToSlot(start.Add(off), restaurant.Slot(), restaurant.Location())
		assignment, err := s.findAssignment(ctx, restaurant.ID, tables, candidate, candidate.Add(restaurant.Duration()), partySize, now)
		if err != nil {
			return nil, err
		}
		if assignment != nil {
			out = append(out, candidate)
		}
	}
	return out, nil
}

func (s *AvailabilityService) withAlternatives(ctx context.Context, result *entities.HoldResult, restaurant *db.Restaurant, tables []db.Table, partySize int, now time.Time) (*entities.HoldResult, error) {
	alternatives, err := s.Alternatives(ctx, restaurant, tables, result.StartAt, partySize, now)
	if err != nil {
		return nil, err
	}
	result.Available = false
	result.Alternatives = alternatives
	return result, nil
}

func (s *AvailabilityService) publish(ctx context.Context, res db.Reservation, tables []db.Table) {
	if s.publisher == nil {
		return
	}
	event := entities.ReservationEvent{
		EventType:   entities.ClassifyEvent(res.Status),
		Reservation: entities.ReservationView{Reservation: res, Tables: tables},
		OccurredAt:  s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("Event %s for reservation %s not delivered: %v", event.EventType, res.ID, err)
	}
}
