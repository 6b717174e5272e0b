package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resavoice/internal/db"
	"resavoice/internal/entities"
)

func TestReapExpiredHoldsCancelsOnlyStaleHolds(t *testing.T) {
	f := newFixture(t, 15, 90, 10, 4, 4, 4)
	ctx := context.Background()
	jobs := NewJobService(f.repos.Jobs, f.lifecycle, DefaultHoldTTL).WithClock(f.clock.Now)

	stale := f.hold(t, evening(19, 0), 2, "")
	confirmed := f.hold(t, evening(19, 0), 2, "")
	_, err := f.lifecycle.Confirm(ctx, confirmed.ReservationID)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	fresh := f.hold(t, evening(19, 0), 2, "")

	n, err := jobs.ReapExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(90 * time.Second)
	n, err = jobs.ReapExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]db.ReservationStatus{
		stale.ReservationID.String():     db.StatusCancelled,
		confirmed.ReservationID.String(): db.StatusConfirmed,
		fresh.ReservationID.String():     db.StatusHold,
	} {
		res, err := f.repos.Reservations.Get(ctx, uuid.MustParse(id))
		require.NoError(t, err)
		assert.Equalf(t, want, res.Status, "reservation %s", id)
	}

	types := f.publisher.Types()
	assert.Equal(t, entities.EventReservationCancelled, types[len(types)-1])

	locks, err := f.repos.Locks.ListByReservation(ctx, confirmed.ReservationID)
	require.NoError(t, err)
	assert.NotEmpty(t, locks)
}

func TestScheduleRejectsBadCronExpression(t *testing.T) {
	f := newFixture(t, 15, 90, 10, 4)
	jobs := NewJobService(f.repos.Jobs, f.lifecycle, DefaultHoldTTL)

	_, err := jobs.Schedule("not a schedule")
	assert.Error(t, err)

	c, err := jobs.Schedule("@every 1h")
	require.NoError(t, err)
	c.Stop()
}
