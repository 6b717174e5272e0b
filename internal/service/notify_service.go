package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"resavoice/internal/db"
	"resavoice/internal/entities"
)

// Publisher receives every reservation status change.
type Publisher interface {
	Publish(ctx context.Context, event entities.ReservationEvent) error
}

type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event entities.ReservationEvent) error {
	r := event.Reservation
	log.Printf("Event %s: reservation %s %s party=%d start=%s tables=%d",
		event.EventType, r.ID, r.Status, r.PartySize, r.StartAt.Format(time.RFC3339), len(r.Tables))
	return nil
}

type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, event entities.ReservationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.conn.Publish(p.subject, data)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

type smsSender interface {
	Send(toNumber, body string) error
}

type emailSender interface {
	Send(toEmail, toName, subject, plainText, html string) error
}

// SMSPublisher texts the customer when a booking is confirmed or cancelled.
type SMSPublisher struct {
	sender     smsSender
	restaurant string
	location   *time.Location
}

func NewSMSPublisher(sender smsSender, restaurantName string, loc *time.Location) *SMSPublisher {
	if loc == nil {
		loc = time.UTC
	}
	return &SMSPublisher{sender: sender, restaurant: restaurantName, location: loc}
}

func (p *SMSPublisher) Publish(_ context.Context, event entities.ReservationEvent) error {
	r := event.Reservation
	if r.CustomerPhone == "" {
		return nil
	}
	body, ok := customerSMS(r.Reservation, event.PreviousStatus, p.restaurant, p.location)
	if !ok {
		return nil
	}
	return p.sender.Send(r.CustomerPhone, body)
}

// customerSMS only tells the customer about a cancellation of a booking they were told was confirmed.
func customerSMS(r db.Reservation, previous db.ReservationStatus, restaurant string, loc *time.Location) (string, bool) {
	when := r.StartAt.In(loc).Format("02/01 15:04")
	switch r.Status {
	case db.StatusConfirmed:
		if r.Language == db.LanguageFR {
			return fmt.Sprintf("%s : votre table pour %d est confirmée le %s.", restaurant, r.PartySize, when), true
		}
		return fmt.Sprintf("%s: your table for %d is confirmed on %s.", restaurant, r.PartySize, when), true
	case db.StatusCancelled:
		if previous != db.StatusConfirmed {
			return "", false
		}
		if r.Language == db.LanguageFR {
			return fmt.Sprintf("%s : votre réservation du %s est annulée.", restaurant, when), true
		}
		return fmt.Sprintf("%s: your reservation on %s has been cancelled.", restaurant, when), true
	}
	return "", false
}

// StaffEmailPublisher mails the floor staff about confirmed and cancelled bookings.
type StaffEmailPublisher struct {
	sender     emailSender
	staffEmail string
	location   *time.Location
}

func NewStaffEmailPublisher(sender emailSender, staffEmail string, loc *time.Location) *StaffEmailPublisher {
	if loc == nil {
		loc = time.UTC
	}
	return &StaffEmailPublisher{sender: sender, staffEmail: staffEmail, location: loc}
}

func (p *StaffEmailPublisher) Publish(_ context.Context, event entities.ReservationEvent) error {
	r := event.Reservation
	if r.Status != db.StatusConfirmed && r.Status != db.StatusCancelled {
		return nil
	}
	subject, body := staffEmail(event, p.location)
	return p.sender.Send(p.staffEmail, "Staff", subject, body, "")
}

func staffEmail(event entities.ReservationEvent, loc *time.Location) (string, string) {
	r := event.Reservation
	names := make([]string, 0, len(r.Tables))
	for _, t := range r.Tables {
		names = append(names, t.Name)
	}
	subject := fmt.Sprintf("[%s] %s, party of %d, %s", r.Status, r.CustomerName, r.PartySize,
		r.StartAt.In(loc).Format("Mon 02 Jan 15:04"))

	var b strings.Builder
	fmt.Fprintf(&b, "Reservation %s is now %s.\n\n", r.ID, r.Status)
	fmt.Fprintf(&b, "Customer: %s (%s)\n", r.CustomerName, r.CustomerPhone)
	fmt.Fprintf(&b, "Party size: %d\n", r.PartySize)
	fmt.Fprintf(&b, "From %s to %s\n", r.StartAt.In(loc).Format("02 Jan 2006 15:04"), r.EndAt.In(loc).Format("15:04"))
	fmt.Fprintf(&b, "Tables: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "Source: %s\n", r.Source)
	if r.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", r.Notes)
	}
	return subject, b.String()
}
