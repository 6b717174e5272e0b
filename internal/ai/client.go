// Package ai talks to the speech, understanding and dialogue services over JSON HTTP.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	apperrors "resavoice/internal/errors"
)

type Client struct {
	hc       *http.Client
	baseURL  string
	timezone string
}

func New(baseURL string, timeout time.Duration, timezone string) *Client {
	if timezone == "" {
		timezone = "Europe/Paris"
	}
	return &Client{
		hc:       &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		timezone: timezone,
	}
}

// wireDraft is the draft as the understanding and dialogue services spell it.
type wireDraft struct {
	StartAt       *time.Time `json:"startAt,omitempty"`
	PartySize     *int       `json:"partySize,omitempty"`
	CustomerName  *string    `json:"customerName,omitempty"`
	CustomerPhone *string    `json:"customerPhone,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	ReservationID *string    `json:"reservationId,omitempty"`
}

func toWire(d db.Draft) wireDraft {
	w := wireDraft{
		StartAt:       d.StartAt,
		PartySize:     d.PartySize,
		CustomerName:  d.CustomerName,
		CustomerPhone: d.CustomerPhone,
		Notes:         d.Notes,
	}
	if d.ReservationID != nil {
		id := d.ReservationID.String()
		w.ReservationID = &id
	}
	return w
}

type transcribeRequest struct {
	AudioURL string `json:"audioUrl"`
}

type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (c *Client) Transcribe(ctx context.Context, audioURL string) (*entities.Transcription, error) {
	var out transcribeResponse
	if err := c.post(ctx, "/stt/whisper", transcribeRequest{AudioURL: audioURL}, &out); err != nil {
		return nil, err
	}
	return &entities.Transcription{Text: out.Text, Language: parseLanguage(out.Language)}, nil
}

type extractRequest struct {
	Text           string         `json:"text"`
	SessionContext sessionContext `json:"sessionContext"`
	Timezone       string         `json:"timezone"`
}

type sessionContext struct {
	RestaurantID string      `json:"restaurantId"`
	FromPhone    string      `json:"fromPhone"`
	Language     db.Language `json:"language"`
	Draft        wireDraft   `json:"draft"`
}

type extractResponse struct {
	Intent        string   `json:"intent"`
	DatetimeISO   *string  `json:"datetimeISO"`
	PartySize     *int     `json:"partySize"`
	CustomerName  *string  `json:"customerName"`
	CustomerPhone *string  `json:"customerPhone"`
	Notes         *string  `json:"notes"`
	Affirmation   string   `json:"affirmation"`
	Missing       []string `json:"missing"`
}

func (c *Client) Extract(ctx context.Context, text string, ec entities.ExtractionContext) (*entities.Extraction, error) {
	req := extractRequest{
		Text: text,
		SessionContext: sessionContext{
			RestaurantID: ec.RestaurantID,
			FromPhone:    ec.FromPhone,
			Language:     ec.Language,
			Draft:        toWire(ec.Draft),
		},
		Timezone: c.timezone,
	}
	if ec.Timezone != "" {
		req.Timezone = ec.Timezone
	}
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		loc = time.UTC
	}
	var out extractResponse
	if err := c.post(ctx, "/nlu/extract", req, &out); err != nil {
		return nil, err
	}
	return out.toExtraction(loc)
}

// localLayouts are the offset-less datetime forms read in the request's time zone.
var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}

func parseDatetime(v string, loc *time.Location) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339, v); err == nil {
		return at, nil
	}
	for _, layout := range localLayouts {
		if at, err := time.ParseInLocation(layout, v, loc); err == nil {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("nlu returned datetime %q: %w", v, apperrors.ErrUpstream)
}

func (r extractResponse) toExtraction(loc *time.Location) (*entities.Extraction, error) {
	ex := &entities.Extraction{
		Intent:      entities.Intent(strings.ToUpper(r.Intent)),
		Affirmation: entities.AffirmationUnknown,
		Missing:     r.Missing,
	}
	switch a := entities.Affirmation(strings.ToUpper(r.Affirmation)); a {
	case entities.AffirmationYes, entities.AffirmationNo:
		ex.Affirmation = a
	}

	if r.DatetimeISO != nil && *r.DatetimeISO != "" {
		at, err := parseDatetime(*r.DatetimeISO, loc)
		if err != nil {
			return nil, err
		}
		ex.Fields.StartAt = &at
	}
	if r.PartySize != nil && *r.PartySize > 0 {
		ex.Fields.PartySize = r.PartySize
	}
	ex.Fields.CustomerName = nonEmpty(r.CustomerName)
	ex.Fields.CustomerPhone = nonEmpty(r.CustomerPhone)
	ex.Fields.Notes = nonEmpty(r.Notes)
	return ex, nil
}

type dialogRequest struct {
	Text         string       `json:"text"`
	SessionState sessionState `json:"sessionState"`
}

type sessionState struct {
	Intent   entities.Intent `json:"intent"`
	Missing  []string        `json:"missing"`
	Draft    wireDraft       `json:"draft"`
	Language db.Language     `json:"language"`
	State    db.SessionState `json:"state"`
}

func (c *Client) NextTurn(ctx context.Context, text string, state entities.DialogueState) (*entities.DialogueTurn, error) {
	req := dialogRequest{
		Text: text,
		SessionState: sessionState{
			Intent:   state.Intent,
			Missing:  state.Missing,
			Draft:    toWire(state.Draft),
			Language: state.Language,
			State:    state.State,
		},
	}
	var out entities.DialogueTurn
	if err := c.post(ctx, "/dialog/next", req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.AssistantText) == "" {
		return nil, fmt.Errorf("dialog returned no utterance: %w", apperrors.ErrUpstream)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", path, err, apperrors.ErrUpstream)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %v: %w", path, err, apperrors.ErrUpstream)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		if e.Error != "" {
			return fmt.Errorf("%s failed: %s (status=%d): %w", path, e.Error, resp.StatusCode, apperrors.ErrUpstream)
		}
		return fmt.Errorf("%s failed (status=%d): %w", path, resp.StatusCode, apperrors.ErrUpstream)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %v: %w", path, err, apperrors.ErrUpstream)
	}
	return nil
}

func parseLanguage(v string) db.Language {
	switch l := db.Language(strings.ToUpper(strings.TrimSpace(v))); l {
	case db.LanguageFR, db.LanguageEN:
		return l
	}
	return db.LanguageUnknown
}

func nonEmpty(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	s := strings.TrimSpace(*v)
	return &s
}
