package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	"resavoice/internal/utils"
)

func TestRequestHoldNormalizesAndPicksSmallestTable(t *testing.T) {
	f := newFixture(t, 15, 90, 10, 2, 4, 6)
	ctx := context.Background()

	res := f.hold(t, evening(19, 3), 5, "")

	require.True(t, res.Available)
	assertSameInstant(t, evening(19, 15), res.StartAt)
	assertSameInstant(t, evening(20, 55), res.EndAt)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, f.tables[2].ID, res.Tables[0])

	stored, err := f.repos.Reservations.Get(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusHold, stored.Status)
	assert.Equal(t, db.SourceAdmin, stored.Source)

	locks, err := f.repos.Locks.ListByReservation(ctx, res.ReservationID)
	require.NoError(t, err)
	assert.Len(t, locks, 7)
	for _, l := range locks {
		assertSameInstant(t, f.clock.Now().Add(DefaultHoldTTL), l.ExpiresAt)
	}

	assert.Equal(t, []string{entities.EventReservationCreated}, f.publisher.Types())
}

func TestRequestHoldTagsVoiceSource(t *testing.T) {
	f := newFixture(t, 15, 90, 10, 4)
	res := f.hold(t, evening(20, 0), 2, "CA-voice")
	require.True(t, res.Available)

	stored, err := f.repos.Reservations.Get(context.Background(), res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, db.SourceVoice, stored.Source)
	assert.Equal(t, "CA-voice", stored.CallSid)
}

func TestRequestHoldRejectsEmptyParty(t *testing.T) {
	f := newFixture(t, 15, 90, 10, 4)
	_, err := f.availability.RequestHold(context.Background(), entities.HoldRequest{
		RestaurantID:   f.restaurant.ID,
		RequestedStart: evening(19, 0),
	})
	require.Error(t, err)
}

func TestRequestHoldFallsBackToJoinablePair(t *testing.T) {
	f := newFixture(t, 15, 90, 10, 2, 4, 4, 6)

	res := f.hold(t, evening(19, 0), 8, "")

	require.True(t, res.Available)
	require.Len(t, res.Tables, 2)
	tables, err := f.repos.Tables.GetMany(context.Background(), res.Tables)
	require.NoError(t, err)
	assert.Equal(t, 8, tables[0].Capacity+tables[1].Capacity)
}

func TestRequestHoldOffersAlternativesWhenFull(t *testing.T) {
	f := newFixture(t, 15, 30, 0, 4)

	first := f.hold(t, evening(19, 0), 2, "")
	require.True(t, first.Available)

	second := f.hold(t, evening(19, 0), 3, "")
	require.False(t, second.Available)
	require.NotEmpty(t, second.Alternatives)
	assert.LessOrEqual(t, len(second.Alternatives), 3)
	// -30 lands on [18:30, 19:00), the first free window.
	assertSameInstant(t, evening(18, 30), second.Alternatives[0])
	for _, alt := range second.Alternatives {
		assert.False(t, utils.Overlaps(alt, alt.Add(30*time.Minute), evening(19, 0), evening(19, 30)))
	}
}

func TestHoldExpiresAfterTTL(t *testing.T) {
	f := newFixture(t, 15, 90, 10, 4)

	first := f.hold(t, evening(19, 0), 2, "")
	require.True(t, first.Available)

	f.clock.Advance(2 * time.Minute)
	blocked := f.hold(t, evening(19, 0), 2, "")
	require.False(t, blocked.Available)

	f.clock.Advance(time.Minute)
	again := f.hold(t, evening(19, 0), 2, "")
	require.True(t, again.Available)
	assert.Equal(t, first.Tables, again.Tables)
}

func TestConfirmedReservationKeepsBlockingAfterTTL(t *testing.T) {
	f := newFixture(t, 15, 90, 10, 4)
	ctx := context.Background()

	first := f.hold(t, evening(19, 0), 2, "")
	_, err := f.lifecycle.Confirm(ctx, first.ReservationID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res := f.hold(t, evening(19, 30), 2, "")
	assert.False(t, res.Available)
}

func TestConcurrentHoldsForLastTable(t *testing.T) {
	f := newFixture(t, 15, 30, 0, 4)

	const callers = 8
	results := make([]*entities.HoldResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.availability.RequestHold(context.Background(), entities.HoldRequest{
				RestaurantID:   f.restaurant.ID,
				RequestedStart: evening(19, 0),
				PartySize:      2,
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		require.NotNil(t, r)
		if r.Available {
			winners++
			continue
		}
		assert.NotEmpty(t, r.Alternatives)
	}
	assert.Equal(t, 1, winners)
}

func TestRandomConcurrentHoldsNeverDoubleAssign(t *testing.T) {
	f := newFixture(t, 15, 60, 15, 2, 2, 4, 6)
	rng := rand.New(rand.NewSource(7))

	type request struct {
		start time.Time
		party int
	}
	requests := make([]request, 60)
	for i := range requests {
		requests[i] = request{
			start: evening(18, 0).Add(time.Duration(rng.Intn(180)) * time.Minute),
			party: 1 + rng.Intn(8),
		}
	}

	var wg sync.WaitGroup
	for _, req := range requests {
		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			_, err := f.availability.RequestHold(context.Background(), entities.HoldRequest{
				RestaurantID:   f.restaurant.ID,
				RequestedStart: req.start,
				PartySize:      req.party,
			})
			assert.NoError(t, err)
		}(req)
	}
	wg.Wait()

	all, err := f.repos.Reservations.List(context.Background(), entities.ReservationFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, all)

	capacity := make(map[uuid.UUID]int)
	for _, tb := range f.tables {
		capacity[tb.ID] = tb.Capacity
	}
	for i, a := range all {
		seats := 0
		for _, id := range a.TableIDs {
			seats += capacity[id]
		}
		assert.GreaterOrEqual(t, seats, a.PartySize)
		for _, b := range all[i+1:] {
			if !sharesTable(a, b) {
				continue
			}
			assert.Falsef(t, utils.Overlaps(a.StartAt, a.EndAt, b.StartAt, b.EndAt),
				"reservations %s and %s overlap on a shared table", a.ID, b.ID)
		}
	}
}

func sharesTable(a, b db.Reservation) bool {
	for _, x := range a.TableIDs {
		for _, y := range b.TableIDs {
			if x == y {
				return true
			}
		}
	}
	return false
}

func TestSelectTablesBestFit(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(7)
		tables := make([]db.Table, n)
		for i := range tables {
			tables[i] = db.Table{ID: uuid.New(), Capacity: 1 + rng.Intn(8), IsJoinable: rng.Intn(3) > 0}
		}
		sortByCapacity(tables)
		unavailable := map[uuid.UUID]bool{}
		for _, tb := range tables {
			if rng.Intn(4) == 0 {
				unavailable[tb.ID] = true
			}
		}
		party := 1 + rng.Intn(12)

		got := SelectTables(tables, unavailable, party)

		bestSingle, bestPair := -1, -1
		for _, tb := range tables {
			if !unavailable[tb.ID] && tb.Capacity >= party && (bestSingle < 0 || tb.Capacity < bestSingle) {
				bestSingle = tb.Capacity
			}
		}
		for i := range tables {
			for j := i + 1; j < len(tables); j++ {
				a, b := tables[i], tables[j]
				if unavailable[a.ID] || unavailable[b.ID] || !a.IsJoinable || !b.IsJoinable {
					continue
				}
				if w := a.Capacity + b.Capacity - party; w >= 0 && (bestPair < 0 || w < bestPair) {
					bestPair = w
				}
			}
		}

		switch {
		case bestSingle >= 0:
			require.NotNil(t, got)
			require.Len(t, got.Tables, 1)
			assert.Equal(t, bestSingle, got.Tables[0].Capacity)
		case bestPair >= 0:
			require.NotNil(t, got)
			require.Len(t, got.Tables, 2)
			assert.Equal(t, bestPair, got.WastedSeats)
			assert.True(t, got.Tables[0].IsJoinable && got.Tables[1].IsJoinable)
		default:
			assert.Nil(t, got)
		}
	}
}

func TestSelectTablesNeverCombinesThree(t *testing.T) {
	tables := []db.Table{
		{ID: uuid.New(), Capacity: 2, IsJoinable: true},
		{ID: uuid.New(), Capacity: 2, IsJoinable: true},
		{ID: uuid.New(), Capacity: 2, IsJoinable: true},
	}
	assert.Nil(t, SelectTables(tables, nil, 5))
}

func sortByCapacity(tables []db.Table) {
	for i := 1; i < len(tables); i++ {
		for j := i; j > 0 && tables[j].Capacity < tables[j-1].Capacity; j-- {
			tables[j], tables[j-1] = tables[j-1], tables[j]
		}
	}
}

func TestRequestHoldAlignsToRestaurantWallClock(t *testing.T) {
	f := newFixture(t, 60, 90, 10, 4)
	f.restaurant.Timezone = "Asia/Kolkata"
	require.NoError(t, f.repos.Restaurants.Save(context.Background(), f.restaurant))

	// 13:33 UTC is 19:03 in Kolkata; the next local hour is 20:00, 14:30 UTC.
	res := f.hold(t, time.Date(2025, 6, 2, 13, 33, 0, 0, time.UTC), 2, "")

	require.True(t, res.Available)
	assertSameInstant(t, time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC), res.StartAt)
}
