package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "resavoice/internal/errors"
	"resavoice/internal/repository"
)

type JobService struct {
	Repo      repository.JobRepository
	lifecycle *ReservationService
	holdTTL   time.Duration
	now       func() time.Time
}

func NewJobService(repo repository.JobRepository, lifecycle *ReservationService, holdTTL time.Duration) *JobService {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &JobService{Repo: repo, lifecycle: lifecycle, holdTTL: holdTTL, now: time.Now}
}

func (s *JobService) WithClock(now func() time.Time) *JobService {
	s.now = now
	return s
}

// ReapExpiredHolds cancels HOLD reservations nobody confirmed within the hold TTL
// and removes slot locks whose expiry has passed. It returns how many holds it cancelled.
func (s *JobService) ReapExpiredHolds(ctx context.Context) (int, error) {
	now := s.now()

	ids, err := s.Repo.StaleHoldIDs(ctx, now.Add(-s.holdTTL))
	if err != nil {
		return 0, fmt.Errorf("cron job: failed to get stale holds: %w", err)
	}

	cancelled := 0
	for _, id := range ids {
		if _, err := s.lifecycle.Cancel(ctx, id); err != nil {
			// Confirmed or cancelled since the query ran.
			if errors.Is(err, apperrors.ErrInvalidTransition) {
				continue
			}
			return cancelled, fmt.Errorf("cron job: failed to cancel hold %s: %w", id, err)
		}
		cancelled++
	}

	deleted, err := s.Repo.DeleteExpiredLocks(ctx, now)
	if err != nil {
		return cancelled, fmt.Errorf("cron job: failed to delete expired locks: %w", err)
	}

	if cancelled > 0 || deleted > 0 {
		log.Printf("Cron Job: cancelled %d stale holds, deleted %d expired slot locks.", cancelled, deleted)
	}
	return cancelled, nil
}

// Schedule registers the reaper on a cron spec such as "@every 1m" and starts it.
// Stop the returned scheduler on shutdown.
func (s *JobService) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.ReapExpiredHolds(ctx); err != nil {
			log.Printf("Cron Job: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", spec, err)
	}
	c.Start()
	log.Printf("Cron Job: hold reaper scheduled %s", spec)
	return c, nil
}
