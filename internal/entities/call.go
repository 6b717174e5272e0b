package entities

import (
	"time"

	"resavoice/internal/db"
)

type Intent string

const (
	IntentReserveTable Intent = "RESERVE_TABLE"
	IntentCancel       Intent = "CANCEL"
	IntentHours        Intent = "HOURS"
	IntentAddress      Intent = "ADDRESS"
	IntentOther        Intent = "OTHER"
)

type Affirmation string

const (
	AffirmationYes     Affirmation = "YES"
	AffirmationNo      Affirmation = "NO"
	AffirmationUnknown Affirmation = "UNKNOWN"
)

type Transcription struct {
	Text     string      `json:"text"`
	Language db.Language `json:"language"`
}

type ExtractionContext struct {
	RestaurantID string      `json:"restaurantId"`
	FromPhone    string      `json:"fromPhone"`
	Language     db.Language `json:"language"`
	Draft        db.Draft    `json:"draft"`
	Timezone     string      `json:"timezone,omitempty"`
}

type Extraction struct {
	Intent      Intent      `json:"intent"`
	Fields      db.Draft    `json:"fields"`
	Affirmation Affirmation `json:"affirmation"`
	Missing     []string    `json:"missing"`
}

type DialogueState struct {
	Intent   Intent          `json:"intent"`
	Missing  []string        `json:"missing"`
	Draft    db.Draft        `json:"draft"`
	Language db.Language     `json:"language"`
	State    db.SessionState `json:"state"`
}

type DialogueTurn struct {
	AssistantText string `json:"assistantText"`
	ShouldConfirm bool   `json:"shouldConfirm"`
}

// TurnResult is what one pipeline run produced for the caller.
type TurnResult struct {
	AssistantText string          `json:"assistant_text"`
	State         db.SessionState `json:"state"`
	ShouldConfirm bool            `json:"should_confirm"`
	Err           string          `json:"error,omitempty"`
}

// PollResult is the session snapshot the call-control layer polls for.
type PollResult struct {
	Pending       bool            `json:"pending"`
	State         db.SessionState `json:"state"`
	Language      db.Language     `json:"language"`
	AssistantText string          `json:"assistant_text,omitempty"`
	At            time.Time       `json:"at,omitempty"`
}
