package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	apperrors "resavoice/internal/errors"
	"resavoice/internal/repository"
)

const defaultGuestName = "Guest"

type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (*entities.Transcription, error)
}

type Extractor interface {
	Extract(ctx context.Context, text string, ec entities.ExtractionContext) (*entities.Extraction, error)
}

type DialoguePolicy interface {
	NextTurn(ctx context.Context, text string, state entities.DialogueState) (*entities.DialogueTurn, error)
}

// CallService runs the per-call dialogue. Each recorded turn is processed in the
// background while the telephony side polls the session until pendingJob clears.
type CallService struct {
	restaurants  repository.RestaurantRepository
	sessions     repository.SessionRepository
	reservations repository.ReservationRepository
	availability *AvailabilityService
	lifecycle    *ReservationService
	stt          Transcriber
	nlu          Extractor
	policy       DialoguePolicy
	turnTimeout  time.Duration
	now          func() time.Time
	wg           sync.WaitGroup
}

func NewCallService(
	repos repository.Repositories,
	availability *AvailabilityService,
	lifecycle *ReservationService,
	stt Transcriber,
	nlu Extractor,
	policy DialoguePolicy,
	turnTimeout time.Duration,
) *CallService {
	if turnTimeout <= 0 {
		turnTimeout = 45 * time.Second
	}
	return &CallService{
		restaurants:  repos.Restaurants,
		sessions:     repos.Sessions,
		reservations: repos.Reservations,
		availability: availability,
		lifecycle:    lifecycle,
		stt:          stt,
		nlu:          nlu,
		policy:       policy,
		turnTimeout:  turnTimeout,
		now:          time.Now,
	}
}

func (s *CallService) WithClock(now func() time.Time) *CallService {
	s.now = now
	return s
}

// Incoming resolves the restaurant by the dialled number and returns the call's session,
// creating it on first contact.
func (s *CallService) Incoming(ctx context.Context, to, from, callSid string) (*db.CallSession, error) {
	restaurant, err := s.restaurants.GetByPhone(ctx, to)
	if err != nil {
		return nil, err
	}
	return s.sessions.GetOrCreate(ctx, callSid, restaurant.ID, from)
}

// SubmitRecording starts the pipeline for a recorded turn unless one is already running
// for the call. started is false when another delivery holds the pending flag.
func (s *CallService) SubmitRecording(ctx context.Context, callSid, recordingURL string) (session *db.CallSession, started bool, err error) {
	session, err = s.sessions.Get(ctx, callSid)
	if err != nil {
		return nil, false, err
	}
	started, err = s.sessions.TryBeginJob(ctx, callSid)
	if err != nil {
		return nil, false, fmt.Errorf("error flagging pending job: %w", err)
	}
	if !started {
		log.Printf("call %s: turn already in flight, joining poll loop", callSid)
		return session, false, nil
	}
	session.PendingJob = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		turnCtx, cancel := context.WithTimeout(context.Background(), s.turnTimeout)
		defer cancel()
		s.ProcessTurn(turnCtx, callSid, recordingURL)
	}()
	return session, true, nil
}

// Wait blocks until every background turn has finished.
func (s *CallService) Wait() {
	s.wg.Wait()
}

// ProcessTurn runs one turn for a session whose pending flag is already set.
// Failures never escape: the caller hears a localized request to repeat instead.
func (s *CallService) ProcessTurn(ctx context.Context, callSid, audioURL string) entities.TurnResult {
	session, err := s.sessions.Get(ctx, callSid)
	if err != nil {
		log.Printf("call %s: cannot load session: %v", callSid, err)
		fallback := text(db.LanguageUnknown, phraseRepeat)
		s.endJob(ctx, callSid, err, fallback)
		return entities.TurnResult{AssistantText: fallback, State: db.StateCollecting, Err: err.Error()}
	}

	result, err := s.runTurn(ctx, session, audioURL)
	if err != nil {
		log.Printf("call %s: turn failed: %v", callSid, err)
		fallback := text(session.Language, phraseRepeat)
		session.History = append(session.History, db.HistoryEntry{Role: db.RoleAssistant, Text: fallback, At: s.now().UTC()})
		session.PendingJob = false
		session.LastError = err.Error()
		if saveErr := s.sessions.Save(context.WithoutCancel(ctx), session); saveErr != nil {
			log.Printf("call %s: cannot save failed turn: %v", callSid, saveErr)
			s.endJob(ctx, callSid, err, fallback)
		}
		return entities.TurnResult{AssistantText: fallback, State: session.State, Err: err.Error()}
	}
	return result
}

// endJob clears the pending flag without the loaded session so polling can resume.
func (s *CallService) endJob(ctx context.Context, callSid string, cause error, fallback string) {
	entry := db.HistoryEntry{Role: db.RoleAssistant, Text: fallback, At: s.now().UTC()}
	if err := s.sessions.EndJob(context.WithoutCancel(ctx), callSid, cause.Error(), entry); err != nil {
		log.Printf("call %s: cannot clear pending job: %v", callSid, err)
	}
}

func (s *CallService) runTurn(ctx context.Context, session *db.CallSession, audioURL string) (entities.TurnResult, error) {
	transcript, err := s.stt.Transcribe(ctx, audioURL)
	if err != nil {
		return entities.TurnResult{}, err
	}
	if session.Language == db.LanguageUnknown && transcript.Language.Known() {
		session.Language = transcript.Language
		if err := s.sessions.Save(ctx, session); err != nil {
			return entities.TurnResult{}, fmt.Errorf("error saving language: %w", err)
		}
	}
	session.History = append(session.History, db.HistoryEntry{Role: db.RoleUser, Text: transcript.Text, At: s.now().UTC()})

	extraction, err := s.nlu.Extract(ctx, transcript.Text, entities.ExtractionContext{
		RestaurantID: session.RestaurantID.String(),
		FromPhone:    session.FromPhone,
		Language:     session.Language,
		Draft:        session.Draft,
		Timezone:     s.location(ctx, session).String(),
	})
	if err != nil {
		return entities.TurnResult{}, err
	}
	if extraction.Intent == entities.IntentReserveTable {
		session.Draft.Merge(extraction.Fields)
	}

	turn, err := s.policy.NextTurn(ctx, transcript.Text, entities.DialogueState{
		Intent:   extraction.Intent,
		Missing:  extraction.Missing,
		Draft:    session.Draft,
		Language: session.Language,
		State:    session.State,
	})
	if err != nil {
		return entities.TurnResult{}, err
	}
	s.say(session, turn.AssistantText)

	switch {
	case turn.ShouldConfirm && extraction.Affirmation == entities.AffirmationYes:
		session.State = db.StateConfirming
		if session.Draft.Bookable() {
			if err := s.book(ctx, session); err != nil {
				return entities.TurnResult{}, err
			}
		}
	case extraction.Affirmation == entities.AffirmationNo:
		if _, err := s.lifecycle.CancelLatestHoldForCall(ctx, session.CallSid); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return entities.TurnResult{}, err
		}
		session.State = db.StateCollecting
	}

	session.PendingJob = false
	session.LastError = ""
	if err := s.sessions.Save(ctx, session); err != nil {
		return entities.TurnResult{}, fmt.Errorf("error saving session: %w", err)
	}

	last, _ := session.LastAssistant()
	return entities.TurnResult{
		AssistantText: last.Text,
		State:         session.State,
		ShouldConfirm: turn.ShouldConfirm,
	}, nil
}

// book holds a table for the draft and confirms it. When the time is gone the
// caller is offered the alternatives and the session stays in CONFIRMING.
func (s *CallService) book(ctx context.Context, session *db.CallSession) error {
	d := session.Draft
	customer := entities.Customer{Name: defaultGuestName, Phone: session.FromPhone}
	if d.CustomerName != nil && *d.CustomerName != "" {
		customer.Name = *d.CustomerName
	}
	if d.CustomerPhone != nil && *d.CustomerPhone != "" {
		customer.Phone = *d.CustomerPhone
	}
	req := entities.HoldRequest{
		RestaurantID:   session.RestaurantID,
		RequestedStart: *d.StartAt,
		PartySize:      *d.PartySize,
		Customer:       customer,
		CallSid:        session.CallSid,
		Language:       session.Language,
	}
	if d.Notes != nil {
		req.Notes = *d.Notes
	}

	result, err := s.availability.RequestHold(ctx, req)
	if err != nil {
		return err
	}
	if !result.Available {
		s.say(session, unavailableText(session.Language, result.Alternatives, s.location(ctx, session)))
		return nil
	}

	hold, err := s.reservations.LatestHoldForCall(ctx, session.CallSid)
	if err != nil {
		return err
	}
	confirmed, err := s.lifecycle.Confirm(ctx, hold.ID)
	if err != nil {
		return err
	}
	session.State = db.StateDone
	id := confirmed.ID
	session.Draft.ReservationID = &id
	log.Printf("call %s: reservation %s confirmed for %d at %s", session.CallSid, id, confirmed.PartySize, confirmed.StartAt.Format(time.RFC3339))
	return nil
}

func (s *CallService) location(ctx context.Context, session *db.CallSession) *time.Location {
	restaurant, err := s.restaurants.Get(ctx, session.RestaurantID)
	if err != nil {
		return time.UTC
	}
	return restaurant.Location()
}

func (s *CallService) say(session *db.CallSession, utterance string) {
	session.History = append(session.History, db.HistoryEntry{Role: db.RoleAssistant, Text: utterance, At: s.now().UTC()})
}

// Poll reports whether the call's turn is still running and, once it is not,
// the latest assistant utterance.
func (s *CallService) Poll(ctx context.Context, callSid string) (*entities.PollResult, error) {
	session, err := s.sessions.Get(ctx, callSid)
	if err != nil {
		return nil, err
	}
	out := &entities.PollResult{
		Pending:  session.PendingJob,
		State:    session.State,
		Language: session.Language,
	}
	if session.PendingJob {
		return out, nil
	}
	if last, ok := session.LastAssistant(); ok {
		out.AssistantText = last.Text
		out.At = last.At
	}
	return out, nil
}
