package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	apperrors "resavoice/internal/errors"
	"resavoice/internal/repository"
)

type scriptedTurn struct {
	transcript  string
	language    db.Language
	sttErr      error
	intent      entities.Intent
	fields      db.Draft
	affirmation entities.Affirmation
	reply       string
	confirm     bool
}

// scriptedAI plays one scriptedTurn per audio URL.
type scriptedAI struct {
	mu       sync.Mutex
	turns    map[string]scriptedTurn
	current  scriptedTurn
	gate     chan struct{}
	sttCalls int32
	drafts   []db.Draft
}

func newScriptedAI(turns map[string]scriptedTurn) *scriptedAI {
	return &scriptedAI{turns: turns}
}

func (a *scriptedAI) Transcribe(ctx context.Context, audioURL string) (*entities.Transcription, error) {
	atomic.AddInt32(&a.sttCalls, 1)
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	turn, ok := a.turns[audioURL]
	if !ok {
		return nil, fmt.Errorf("no script for %s", audioURL)
	}
	a.current = turn
	if turn.sttErr != nil {
		return nil, turn.sttErr
	}
	return &entities.Transcription{Text: turn.transcript, Language: turn.language}, nil
}

func (a *scriptedAI) Extract(_ context.Context, text string, ec entities.ExtractionContext) (*entities.Extraction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drafts = append(a.drafts, ec.Draft)
	affirmation := a.current.affirmation
	if affirmation == "" {
		affirmation = entities.AffirmationUnknown
	}
	return &entities.Extraction{Intent: a.current.intent, Fields: a.current.fields, Affirmation: affirmation}, nil
}

func (a *scriptedAI) NextTurn(_ context.Context, text string, state entities.DialogueState) (*entities.DialogueTurn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &entities.DialogueTurn{AssistantText: a.current.reply, ShouldConfirm: a.current.confirm}, nil
}

type callFixture struct {
	*fixture
	ai    *scriptedAI
	calls *CallService
}

func newCallFixture(t *testing.T, turns map[string]scriptedTurn, capacities ...int) *callFixture {
	t.Helper()
	f := newFixture(t, 15, 90, 10, capacities...)
	ai := newScriptedAI(turns)
	calls := NewCallService(f.repos, f.availability, f.lifecycle, ai, ai, ai, time.Second).WithClock(f.clock.Now)
	return &callFixture{fixture: f, ai: ai, calls: calls}
}

func (c *callFixture) start(t *testing.T, callSid string) *db.CallSession {
	t.Helper()
	session, err := c.calls.Incoming(context.Background(), c.restaurant.PhoneNumber, "+33622222222", callSid)
	require.NoError(t, err)
	return session
}

// turn submits one recording and waits for the background run.
func (c *callFixture) turn(t *testing.T, callSid, audio string) *db.CallSession {
	t.Helper()
	_, started, err := c.calls.SubmitRecording(context.Background(), callSid, audio)
	require.NoError(t, err)
	require.True(t, started)
	c.calls.Wait()
	session, err := c.repos.Sessions.Get(context.Background(), callSid)
	require.NoError(t, err)
	return session
}

func ptr[T any](v T) *T { return &v }

func TestIncomingUnknownRestaurant(t *testing.T) {
	c := newCallFixture(t, nil, 4)
	_, err := c.calls.Incoming(context.Background(), "+19999999999", "+33600000000", "CA0")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTurnMergesDraftAcrossTurns(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {transcript: "une table pour quatre", language: db.LanguageFR, intent: entities.IntentReserveTable,
			fields: db.Draft{PartySize: ptr(4)}, reply: "Pour quelle heure ?"},
		"a2": {transcript: "vingt heures", language: db.LanguageFR, intent: entities.IntentReserveTable,
			fields: db.Draft{StartAt: ptr(evening(20, 0))}, reply: "A quel nom ?"},
	}, 4)
	c.start(t, "CA1")

	c.turn(t, "CA1", "a1")
	session := c.turn(t, "CA1", "a2")

	require.NotNil(t, session.Draft.PartySize)
	assert.Equal(t, 4, *session.Draft.PartySize)
	require.NotNil(t, session.Draft.StartAt)
	assertSameInstant(t, evening(20, 0), *session.Draft.StartAt)
	assert.Equal(t, db.LanguageFR, session.Language)
	assert.Equal(t, db.StateCollecting, session.State)
	assert.False(t, session.PendingJob)

	require.Len(t, session.History, 4)
	assert.Equal(t, db.RoleUser, session.History[0].Role)
	assert.Equal(t, db.RoleAssistant, session.History[1].Role)
	assert.Equal(t, "A quel nom ?", session.History[3].Text)
}

func TestTurnIgnoresFieldsForOtherIntents(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {transcript: "what time do you open", language: db.LanguageEN, intent: entities.IntentHours,
			fields: db.Draft{PartySize: ptr(9)}, reply: "We open at noon."},
	}, 4)
	c.start(t, "CA2")

	session := c.turn(t, "CA2", "a1")
	assert.Nil(t, session.Draft.PartySize)
	assert.Equal(t, db.LanguageEN, session.Language)
}

func TestConfirmationBooksAndFinishesCall(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {transcript: "table for two at eight, name Ada", language: db.LanguageEN, intent: entities.IntentReserveTable,
			fields: db.Draft{PartySize: ptr(2), StartAt: ptr(evening(20, 0)), CustomerName: ptr("Ada")},
			reply: "Table for 2 at 8pm, shall I book?"},
		"a2": {transcript: "yes", language: db.LanguageEN, intent: entities.IntentReserveTable,
			affirmation: entities.AffirmationYes, confirm: true, reply: "Your table is booked."},
	}, 2, 4)
	c.start(t, "CA3")

	c.turn(t, "CA3", "a1")
	session := c.turn(t, "CA3", "a2")

	assert.Equal(t, db.StateDone, session.State)
	require.NotNil(t, session.Draft.ReservationID)
	res, err := c.repos.Reservations.Get(context.Background(), *session.Draft.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusConfirmed, res.Status)
	assert.Equal(t, "Ada", res.CustomerName)
	assert.Equal(t, "+33622222222", res.CustomerPhone)
	assert.Equal(t, db.SourceVoice, res.Source)
	assert.Equal(t, "CA3", res.CallSid)
	assert.Equal(t, db.LanguageEN, res.Language)

	poll, err := c.calls.Poll(context.Background(), "CA3")
	require.NoError(t, err)
	assert.False(t, poll.Pending)
	assert.Equal(t, db.StateDone, poll.State)
	assert.Equal(t, "Your table is booked.", poll.AssistantText)
}

func TestConfirmationWhenFullOffersAlternatives(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {transcript: "oui", language: db.LanguageFR, intent: entities.IntentReserveTable,
			fields: db.Draft{PartySize: ptr(2), StartAt: ptr(evening(20, 0))},
			affirmation: entities.AffirmationYes, confirm: true, reply: "C'est noté."},
	}, 2)
	taken := c.hold(t, evening(20, 0), 2, "")
	require.True(t, taken.Available)
	c.start(t, "CA4")

	session := c.turn(t, "CA4", "a1")

	assert.Equal(t, db.StateConfirming, session.State)
	assert.Nil(t, session.Draft.ReservationID)
	last, ok := session.LastAssistant()
	require.True(t, ok)
	// Every candidate within an hour overlaps the 100 minute sitting already on the only table.
	assert.Equal(t, text(db.LanguageFR, phraseNoAvailability), last.Text)
}

func TestNegativeAffirmationCancelsHold(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {transcript: "non", language: db.LanguageFR, intent: entities.IntentReserveTable,
			affirmation: entities.AffirmationNo, reply: "D'accord, que souhaitez-vous changer ?"},
	}, 4)
	session := c.start(t, "CA5")
	session.State = db.StateConfirming
	require.NoError(t, c.repos.Sessions.Save(context.Background(), session))
	held := c.hold(t, evening(19, 0), 2, "CA5")

	session = c.turn(t, "CA5", "a1")

	assert.Equal(t, db.StateCollecting, session.State)
	res, err := c.repos.Reservations.Get(context.Background(), held.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCancelled, res.Status)
}

func TestNegativeAffirmationWithoutHold(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {transcript: "no", language: db.LanguageEN, intent: entities.IntentOther,
			affirmation: entities.AffirmationNo, reply: "Okay."},
	}, 4)
	c.start(t, "CA6")

	session := c.turn(t, "CA6", "a1")
	assert.Equal(t, db.StateCollecting, session.State)
	assert.Empty(t, session.LastError)
}

func TestUpstreamFailureFallsBackToRepeat(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {sttErr: fmt.Errorf("whisper: %w", apperrors.ErrUpstream)},
	}, 4)
	c.start(t, "CA7")

	session := c.turn(t, "CA7", "a1")

	assert.False(t, session.PendingJob)
	assert.Contains(t, session.LastError, "upstream")
	last, ok := session.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, text(db.LanguageFR, phraseRepeat), last.Text)

	poll, err := c.calls.Poll(context.Background(), "CA7")
	require.NoError(t, err)
	assert.Equal(t, last.Text, poll.AssistantText)
}

func TestDuplicateDeliveryRunsOnePipeline(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {transcript: "hello", language: db.LanguageEN, intent: entities.IntentOther, reply: "Hi."},
	}, 4)
	c.ai.gate = make(chan struct{})
	c.start(t, "CA8")

	var wg sync.WaitGroup
	var started int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.calls.SubmitRecording(context.Background(), "CA8", "a1")
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&started, 1)
			}
		}()
	}
	wg.Wait()

	poll, err := c.calls.Poll(context.Background(), "CA8")
	require.NoError(t, err)
	assert.True(t, poll.Pending)
	assert.Empty(t, poll.AssistantText)

	close(c.ai.gate)
	c.calls.Wait()

	assert.EqualValues(t, 1, started)
	assert.EqualValues(t, 1, atomic.LoadInt32(&c.ai.sttCalls))
	session, err := c.repos.Sessions.Get(context.Background(), "CA8")
	require.NoError(t, err)
	assert.False(t, session.PendingJob)
	assert.Len(t, session.History, 2)
}

func TestTurnTimeoutClearsPendingJob(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {transcript: "hello", language: db.LanguageEN, intent: entities.IntentOther, reply: "Hi."},
	}, 4)
	c.ai.gate = make(chan struct{})
	c.calls.turnTimeout = 20 * time.Millisecond
	c.start(t, "CA10")

	_, started, err := c.calls.SubmitRecording(context.Background(), "CA10", "a1")
	require.NoError(t, err)
	require.True(t, started)
	c.calls.Wait()

	session, err := c.repos.Sessions.Get(context.Background(), "CA10")
	require.NoError(t, err)
	assert.False(t, session.PendingJob)
	assert.Contains(t, session.LastError, context.DeadlineExceeded.Error())
}

func TestSubmitRecordingUnknownSession(t *testing.T) {
	c := newCallFixture(t, nil, 4)
	_, _, err := c.calls.SubmitRecording(context.Background(), "CA-missing", "a1")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

// flakySessions fails every Get after the first allowed ones.
type flakySessions struct {
	repository.SessionRepository
	allowedGets int32
	gets        int32
}

func (f *flakySessions) Get(ctx context.Context, callSid string) (*db.CallSession, error) {
	if atomic.AddInt32(&f.gets, 1) > f.allowedGets {
		return nil, errors.New("db down")
	}
	return f.SessionRepository.Get(ctx, callSid)
}

func TestSessionLoadFailureStillClearsPendingJob(t *testing.T) {
	c := newCallFixture(t, map[string]scriptedTurn{
		"a1": {transcript: "hello", language: db.LanguageEN, intent: entities.IntentOther, reply: "Hi."},
		"a2": {transcript: "hello", language: db.LanguageEN, intent: entities.IntentOther, reply: "Hi again."},
	}, 4)
	c.start(t, "CA11")

	repos := c.repos
	flaky := &flakySessions{SessionRepository: c.repos.Sessions, allowedGets: 1}
	repos.Sessions = flaky
	calls := NewCallService(repos, c.availability, c.lifecycle, c.ai, c.ai, c.ai, time.Second).WithClock(c.clock.Now)

	_, started, err := calls.SubmitRecording(context.Background(), "CA11", "a1")
	require.NoError(t, err)
	require.True(t, started)
	calls.Wait()

	session, err := c.repos.Sessions.Get(context.Background(), "CA11")
	require.NoError(t, err)
	assert.False(t, session.PendingJob)
	assert.Contains(t, session.LastError, "db down")
	last, ok := session.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, text(db.LanguageUnknown, phraseRepeat), last.Text)

	session = c.turn(t, "CA11", "a2")
	assert.False(t, session.PendingJob)
	last, _ = session.LastAssistant()
	assert.Equal(t, "Hi again.", last.Text)
}
