package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	apperrors "resavoice/internal/errors"
)

type lockKey struct {
	restaurantID uuid.UUID
	tableID      uuid.UUID
	slotStart    int64
}

// memoryState is shared by every in-memory repository so that a hold batch
// touching reservations and locks is applied under one mutex.
type memoryState struct {
	mu  sync.Mutex
	now func() time.Time

	restaurants  map[uuid.UUID]db.Restaurant
	tables       map[uuid.UUID]db.Table
	reservations map[uuid.UUID]db.Reservation
	locks        map[lockKey]db.SlotLock
	sessions     map[string]db.CallSession
	admins       map[string]db.Admin
}

// NewMemoryRepositories returns repositories kept in process memory.
// clock drives lock expiry; nil means time.Now.
func NewMemoryRepositories(clock func() time.Time) Repositories {
	if clock == nil {
		clock = time.Now
	}
	st := &memoryState{
		now:          clock,
		restaurants:  make(map[uuid.UUID]db.Restaurant),
		tables:       make(map[uuid.UUID]db.Table),
		reservations: make(map[uuid.UUID]db.Reservation),
		locks:        make(map[lockKey]db.SlotLock),
		sessions:     make(map[string]db.CallSession),
		admins:       make(map[string]db.Admin),
	}
	return Repositories{
		Restaurants:  &memRestaurants{st},
		Tables:       &memTables{st},
		Reservations: &memReservations{st},
		Locks:        &memLocks{st},
		Sessions:     &memSessions{st},
		Jobs:         &memJobs{st},
		Admins:       &memAdmins{st},
	}
}

func keyOf(l db.SlotLock) lockKey {
	return lockKey{restaurantID: l.RestaurantID, tableID: l.TableID, slotStart: l.SlotStart.UnixNano()}
}

func cloneReservation(r db.Reservation) db.Reservation {
	r.TableIDs = append([]uuid.UUID(nil), r.TableIDs...)
	return r
}

type memRestaurants struct{ st *memoryState }

func (m *memRestaurants) Get(_ context.Context, id uuid.UUID) (*db.Restaurant, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	r, ok := m.st.restaurants[id]
	if !ok {
		return nil, fmt.Errorf("restaurant %s: %w", id, apperrors.ErrNotFound)
	}
	return &r, nil
}

func (m *memRestaurants) GetByPhone(_ context.Context, phone string) (*db.Restaurant, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	for _, r := range m.st.restaurants {
		if r.PhoneNumber == phone {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("restaurant with phone %s: %w", phone, apperrors.ErrNotFound)
}

func (m *memRestaurants) First(_ context.Context) (*db.Restaurant, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var first *db.Restaurant
	for _, r := range m.st.restaurants {
		r := r
		if first == nil || r.CreatedAt.Before(first.CreatedAt) {
			first = &r
		}
	}
	if first == nil {
		return nil, fmt.Errorf("restaurant: %w", apperrors.ErrNotFound)
	}
	return first, nil
}

func (m *memRestaurants) Save(_ context.Context, r *db.Restaurant) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := m.st.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	stored := *r
	stored.OpeningHours = append([]db.OpeningHours(nil), r.OpeningHours...)
	m.st.restaurants[r.ID] = stored
	return nil
}

type memTables struct{ st *memoryState }

func (m *memTables) ListByCapacity(_ context.Context, restaurantID uuid.UUID) ([]db.Table, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []db.Table
	for _, t := range m.st.tables {
		if t.RestaurantID == restaurantID {
			out = append(out, t)
		}
	}
	sortTables(out)
	return out, nil
}

func (m *memTables) GetMany(_ context.Context, ids []uuid.UUID) ([]db.Table, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []db.Table
	for _, id := range ids {
		if t, ok := m.st.tables[id]; ok {
			out = append(out, t)
		}
	}
	sortTables(out)
	return out, nil
}

func (m *memTables) Create(_ context.Context, t *db.Table) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := m.st.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	m.st.tables[t.ID] = *t
	return nil
}

func sortTables(ts []db.Table) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Capacity != ts[j].Capacity {
			return ts[i].Capacity < ts[j].Capacity
		}
		return ts[i].Name < ts[j].Name
	})
}

type memReservations struct{ st *memoryState }

func (m *memReservations) CreateHold(_ context.Context, res *db.Reservation, locks []db.SlotLock) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	now := m.st.now()
	for _, l := range locks {
		if existing, ok := m.st.locks[keyOf(l)]; ok && existing.ExpiresAt.After(now) {
			return fmt.Errorf("table %s slot %s: %w", l.TableID, l.SlotStart.Format(time.RFC3339), apperrors.ErrSlotConflict)
		}
	}

	if res.CreatedAt.IsZero() {
		res.CreatedAt = now.UTC()
	}
	res.UpdatedAt = res.CreatedAt
	m.st.reservations[res.ID] = cloneReservation(*res)
	for _, l := range locks {
		m.st.locks[keyOf(l)] = l
	}
	return nil
}

func (m *memReservations) Get(_ context.Context, id uuid.UUID) (*db.Reservation, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	r, ok := m.st.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, apperrors.ErrNotFound)
	}
	r = cloneReservation(r)
	return &r, nil
}

func (m *memReservations) ListOverlapping(_ context.Context, restaurantID uuid.UUID, start, end time.Time) ([]db.Reservation, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []db.Reservation
	for _, r := range m.st.reservations {
		if r.RestaurantID != restaurantID || !r.Status.Blocking() {
			continue
		}
		if r.StartAt.Before(end) && r.EndAt.After(start) {
			out = append(out, cloneReservation(r))
		}
	}
	return out, nil
}

func (m *memReservations) LatestHoldForCall(_ context.Context, callSid string) (*db.Reservation, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var latest *db.Reservation
	for _, r := range m.st.reservations {
		if r.CallSid != callSid || r.Status != db.StatusHold {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			c := cloneReservation(r)
			latest = &c
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("hold for call %s: %w", callSid, apperrors.ErrNotFound)
	}
	return latest, nil
}

func (m *memReservations) UpdateStatus(ctx context.Context, id uuid.UUID, from, to db.ReservationStatus) error {
	return m.Transition(ctx, id, from, to, LockChange{})
}

func (m *memReservations) Transition(_ context.Context, id uuid.UUID, from, to db.ReservationStatus, change LockChange) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	r, ok := m.st.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, apperrors.ErrNotFound)
	}
	if r.Status != from {
		return fmt.Errorf("reservation %s is no longer %s: %w", id, from, apperrors.ErrInvalidTransition)
	}
	r.Status = to
	r.UpdatedAt = m.st.now().UTC()
	m.st.reservations[id] = r

	for k, l := range m.st.locks {
		if l.ReservationID != id {
			continue
		}
		switch {
		case change.Release:
			delete(m.st.locks, k)
		case !change.ExtendTo.IsZero():
			l.ExpiresAt = change.ExtendTo
			m.st.locks[k] = l
		}
	}
	return nil
}

func (m *memReservations) UpdateNotes(_ context.Context, id uuid.UUID, notes string) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	r, ok := m.st.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, apperrors.ErrNotFound)
	}
	r.Notes = notes
	r.UpdatedAt = m.st.now().UTC()
	m.st.reservations[id] = r
	return nil
}

func (m *memReservations) List(_ context.Context, filter entities.ReservationFilter) ([]db.Reservation, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []db.Reservation
	for _, r := range m.st.reservations {
		if filter.Status != "" && string(r.Status) != filter.Status {
			continue
		}
		if filter.Date != "" && r.StartAt.UTC().Format("2006-01-02") != filter.Date {
			continue
		}
		out = append(out, cloneReservation(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.After(out[j].StartAt) })
	return out, nil
}

type memLocks struct{ st *memoryState }

func (m *memLocks) ActiveInRange(_ context.Context, restaurantID uuid.UUID, start, end, now time.Time) ([]db.SlotLock, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []db.SlotLock
	for _, l := range m.st.locks {
		if l.RestaurantID != restaurantID || !l.ExpiresAt.After(now) {
			continue
		}
		if !l.SlotStart.Before(start) && l.SlotStart.Before(end) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLocks) ListByReservation(_ context.Context, reservationID uuid.UUID) ([]db.SlotLock, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []db.SlotLock
	for _, l := range m.st.locks {
		if l.ReservationID == reservationID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TableID != out[j].TableID {
			return out[i].TableID.String() < out[j].TableID.String()
		}
		return out[i].SlotStart.Before(out[j].SlotStart)
	})
	return out, nil
}

func (m *memLocks) ExtendByReservation(_ context.Context, reservationID uuid.UUID, expiresAt time.Time) (int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var n int64
	for k, l := range m.st.locks {
		if l.ReservationID == reservationID {
			l.ExpiresAt = expiresAt
			m.st.locks[k] = l
			n++
		}
	}
	return n, nil
}

func (m *memLocks) DeleteByReservation(_ context.Context, reservationID uuid.UUID) (int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var n int64
	for k, l := range m.st.locks {
		if l.ReservationID == reservationID {
			delete(m.st.locks, k)
			n++
		}
	}
	return n, nil
}

type memJobs struct{ st *memoryState }

func (m *memJobs) StaleHoldIDs(_ context.Context, createdBefore time.Time) ([]uuid.UUID, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var stale []db.Reservation
	for _, r := range m.st.reservations {
		if r.Status == db.StatusHold && r.CreatedAt.Before(createdBefore) {
			stale = append(stale, r)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	ids := make([]uuid.UUID, 0, len(stale))
	for _, r := range stale {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *memJobs) DeleteExpiredLocks(_ context.Context, now time.Time) (int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var n int64
	for k, l := range m.st.locks {
		if !l.ExpiresAt.After(now) {
			delete(m.st.locks, k)
			n++
		}
	}
	return n, nil
}

type memSessions struct{ st *memoryState }

func cloneSession(s db.CallSession) db.CallSession {
	s.History = append([]db.HistoryEntry(nil), s.History...)
	d := db.Draft{}
	d.Merge(s.Draft)
	s.Draft = d
	return s
}

func (m *memSessions) GetOrCreate(_ context.Context, callSid string, restaurantID uuid.UUID, fromPhone string) (*db.CallSession, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if s, ok := m.st.sessions[callSid]; ok {
		c := cloneSession(s)
		return &c, nil
	}
	now := m.st.now().UTC()
	s := db.CallSession{
		CallSid:      callSid,
		RestaurantID: restaurantID,
		FromPhone:    fromPhone,
		Language:     db.LanguageUnknown,
		State:        db.StateCollecting,
		History:      []db.HistoryEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.st.sessions[callSid] = s
	c := cloneSession(s)
	return &c, nil
}

func (m *memSessions) Get(_ context.Context, callSid string) (*db.CallSession, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.sessions[callSid]
	if !ok {
		return nil, fmt.Errorf("call session %s: %w", callSid, apperrors.ErrNotFound)
	}
	c := cloneSession(s)
	return &c, nil
}

func (m *memSessions) TryBeginJob(_ context.Context, callSid string) (bool, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.sessions[callSid]
	if !ok {
		return false, fmt.Errorf("call session %s: %w", callSid, apperrors.ErrNotFound)
	}
	if s.PendingJob {
		return false, nil
	}
	s.PendingJob = true
	s.UpdatedAt = m.st.now().UTC()
	m.st.sessions[callSid] = s
	return true, nil
}

func (m *memSessions) EndJob(_ context.Context, callSid, lastErr string, utterance db.HistoryEntry) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.sessions[callSid]
	if !ok {
		return fmt.Errorf("call session %s: %w", callSid, apperrors.ErrNotFound)
	}
	s = cloneSession(s)
	s.PendingJob = false
	s.LastError = lastErr
	s.History = append(s.History, utterance)
	s.UpdatedAt = m.st.now().UTC()
	m.st.sessions[callSid] = s
	return nil
}

func (m *memSessions) Save(_ context.Context, s *db.CallSession) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if _, ok := m.st.sessions[s.CallSid]; !ok {
		return fmt.Errorf("call session %s: %w", s.CallSid, apperrors.ErrNotFound)
	}
	s.UpdatedAt = m.st.now().UTC()
	m.st.sessions[s.CallSid] = cloneSession(*s)
	return nil
}

type memAdmins struct{ st *memoryState }

func (m *memAdmins) GetByEmail(_ context.Context, email string) (*db.Admin, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	a, ok := m.st.admins[email]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memAdmins) CreateNewUser(_ context.Context, email, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	if _, ok := m.st.admins[email]; ok {
		return nil
	}
	m.st.admins[email] = db.Admin{ID: len(m.st.admins) + 1, Email: email, PasswordHash: string(hashed)}
	return nil
}
