package service

import (
	"context"
	"errors"
	"log"

	"resavoice/internal/entities"
)

// SenderService fans an event out to every configured sink. A failing sink
// is logged and does not stop the others.
type SenderService struct {
	sinks []Publisher
}

func NewSenderService(sinks ...Publisher) *SenderService {
	return &SenderService{sinks: sinks}
}

func (s *SenderService) Add(p Publisher) {
	s.sinks = append(s.sinks, p)
}

func (s *SenderService) Publish(ctx context.Context, event entities.ReservationEvent) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			log.Printf("ALERT: %T failed to publish %s for reservation %s: %v", sink, event.EventType, event.Reservation.ID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
