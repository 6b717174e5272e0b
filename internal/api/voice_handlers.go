package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"

	"resavoice/internal/db"
	apperrors "resavoice/internal/errors"
	"resavoice/internal/service"
)

const (
	recordingPath = "/twilio/voice/recording"
	pollPath      = "/twilio/voice/poll"
)

// VoiceHandler answers Twilio voice webhooks with TwiML. Processing failures are
// spoken to the caller; the HTTP status stays 200.
type VoiceHandler struct {
	calls         *service.CallService
	validator     *client.RequestValidator
	publicBaseURL string
	pollPause     int
	recordMax     int
}

type VoiceOptions struct {
	AuthToken      string
	ValidateSigned bool
	PublicBaseURL  string
	PollPause      int
	RecordMax      int
}

func NewVoiceHandler(calls *service.CallService, opts VoiceOptions) *VoiceHandler {
	h := &VoiceHandler{
		calls:         calls,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		pollPause:     opts.PollPause,
		recordMax:     opts.RecordMax,
	}
	if h.pollPause <= 0 {
		h.pollPause = 2
	}
	if h.recordMax <= 0 {
		h.recordMax = 10
	}
	if opts.ValidateSigned {
		v := client.NewRequestValidator(opts.AuthToken)
		h.validator = &v
	}
	return h
}

// Incoming greets the caller and records the first turn.
func (h *VoiceHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	if !h.parse(w, r) {
		return
	}
	session, err := h.calls.Incoming(r.Context(), r.PostForm.Get("To"), r.PostForm.Get("From"), r.PostForm.Get("CallSid"))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.render(w, h.say(db.LanguageUnknown, service.UnknownRestaurant(db.LanguageUnknown)), &twiml.VoiceHangup{})
			return
		}
		log.Printf("call %s: incoming failed: %v", r.PostForm.Get("CallSid"), err)
		h.render(w, h.say(db.LanguageUnknown, service.ErrorMessage(db.LanguageUnknown)), &twiml.VoiceHangup{})
		return
	}
	h.render(w, h.say(session.Language, service.Greeting(session.Language)), h.record())
}

// Recording hands the recorded turn to the background pipeline and starts polling.
func (h *VoiceHandler) Recording(w http.ResponseWriter, r *http.Request) {
	if !h.parse(w, r) {
		return
	}
	callSid := r.PostForm.Get("CallSid")
	session, _, err := h.calls.SubmitRecording(r.Context(), callSid, r.PostForm.Get("RecordingUrl"))
	if err != nil {
		h.fail(w, callSid, err)
		return
	}
	h.render(w,
		h.say(session.Language, service.WaitMessage(session.Language)),
		h.pause(),
		h.redirect(),
	)
}

// Poll keeps the caller waiting while a turn runs, then speaks its answer.
func (h *VoiceHandler) Poll(w http.ResponseWriter, r *http.Request) {
	if !h.parse(w, r) {
		return
	}
	callSid := r.PostForm.Get("CallSid")
	result, err := h.calls.Poll(r.Context(), callSid)
	if err != nil {
		h.fail(w, callSid, err)
		return
	}
	if result.Pending {
		h.render(w, h.pause(), h.redirect())
		return
	}

	var verbs []twiml.Element
	if result.AssistantText != "" {
		verbs = append(verbs, h.say(result.Language, result.AssistantText))
	}
	if result.State == db.StateDone {
		verbs = append(verbs, h.say(result.Language, service.Goodbye(result.Language)), &twiml.VoiceHangup{})
	} else {
		verbs = append(verbs, h.record())
	}
	h.render(w, verbs...)
}

func (h *VoiceHandler) fail(w http.ResponseWriter, callSid string, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		h.render(w, h.say(db.LanguageUnknown, service.UnknownSession(db.LanguageUnknown)), &twiml.VoiceHangup{})
		return
	}
	log.Printf("call %s: webhook failed: %v", callSid, err)
	h.render(w, h.say(db.LanguageUnknown, service.ErrorMessage(db.LanguageUnknown)), &twiml.VoiceHangup{})
}

// parse reads the form body and checks the Twilio signature when validation is on.
func (h *VoiceHandler) parse(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return false
	}
	if h.validator == nil {
		return true
	}
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	if !h.validator.Validate(h.publicBaseURL+r.URL.RequestURI(), params, r.Header.Get("X-Twilio-Signature")) {
		log.Printf("Rejected Twilio webhook with bad signature on %s", r.URL.Path)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (h *VoiceHandler) say(lang db.Language, message string) twiml.Element {
	return &twiml.VoiceSay{Message: message, Language: service.SayLanguage(lang)}
}

func (h *VoiceHandler) record() twiml.Element {
	return &twiml.VoiceRecord{
		Action:      h.publicBaseURL + recordingPath,
		Method:      http.MethodPost,
		MaxLength:   strconv.Itoa(h.recordMax),
		FinishOnKey: "#",
		PlayBeep:    "true",
	}
}

func (h *VoiceHandler) pause() twiml.Element {
	return &twiml.VoicePause{Length: strconv.Itoa(h.pollPause)}
}

func (h *VoiceHandler) redirect() twiml.Element {
	return &twiml.VoiceRedirect{Url: h.publicBaseURL + pollPath, Method: http.MethodPost}
}

func (h *VoiceHandler) render(w http.ResponseWriter, verbs ...twiml.Element) {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		log.Printf("Error rendering TwiML: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
