package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	"resavoice/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entities.ReservationEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event entities.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	clock        *testClock
	repos        repository.Repositories
	restaurant   *db.Restaurant
	tables       []db.Table
	publisher    *recordingPublisher
	availability *AvailabilityService
	lifecycle    *ReservationService
}

// newFixture seeds one restaurant on the memory store with a table per capacity.
func newFixture(t *testing.T, slot, avg, buffer int, capacities ...int) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := newTestClock()
	repos := repository.NewMemoryRepositories(clock.Now)

	restaurant := &db.Restaurant{
		Name:           "Chez Test",
		Timezone:       "UTC",
		PhoneNumber:    "+33100000000",
		SlotMinutes:    slot,
		AvgDurationMin: avg,
		BufferMin:      buffer,
	}
	require.NoError(t, restaurant.Validate())
	require.NoError(t, repos.Restaurants.Save(ctx, restaurant))

	for i, c := range capacities {
		table := &db.Table{
			RestaurantID: restaurant.ID,
			Name:         fmt.Sprintf("T%d", i+1),
			Capacity:     c,
			IsJoinable:   true,
		}
		require.NoError(t, repos.Tables.Create(ctx, table))
	}
	tables, err := repos.Tables.ListByCapacity(ctx, restaurant.ID)
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	return &fixture{
		clock:        clock,
		repos:        repos,
		restaurant:   restaurant,
		tables:       tables,
		publisher:    publisher,
		availability: NewAvailabilityService(repos, publisher, DefaultHoldTTL).WithClock(clock.Now),
		lifecycle:    NewReservationService(repos, publisher, DefaultHoldTTL).WithClock(clock.Now),
	}
}

// evening returns hh:mm on the fixture's service day, which lies in the clock's future.
func evening(hour, minute int) time.Time {
	return time.Date(2025, 6, 2, hour, minute, 0, 0, time.UTC)
}

func (f *fixture) hold(t *testing.T, start time.Time, party int, callSid string) *entities.HoldResult {
	t.Helper()
	res, err := f.availability.RequestHold(context.Background(), entities.HoldRequest{
		RestaurantID:   f.restaurant.ID,
		RequestedStart: start,
		PartySize:      party,
		Customer:       entities.Customer{Name: "Ada", Phone: "+33611111111"},
		CallSid:        callSid,
	})
	require.NoError(t, err)
	return res
}

func assertSameInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s", want.Format(time.RFC3339), got.Format(time.RFC3339))
}
