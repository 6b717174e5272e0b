package api

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callForm(callSid string) url.Values {
	return url.Values{"CallSid": {callSid}, "To": {testPhone}, "From": {"+33622222222"}}
}

func TestVoiceConversationRoundTrip(t *testing.T) {
	s := newServer(t, VoiceOptions{}, 4)

	rec := s.form("/twilio/voice/incoming", callForm("CA1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "xml")
	assert.Contains(t, rec.Body.String(), "<Say")
	assert.Contains(t, rec.Body.String(), "<Record")
	assert.Contains(t, rec.Body.String(), "/twilio/voice/recording")

	rec = s.form("/twilio/voice/recording", url.Values{"CallSid": {"CA1"}, "RecordingUrl": {"https://audio/1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Pause")
	assert.Contains(t, rec.Body.String(), "/twilio/voice/poll")

	s.calls.Wait()

	rec = s.form("/twilio/voice/poll", url.Values{"CallSid": {"CA1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Pour combien de personnes ?")
	assert.Contains(t, rec.Body.String(), "<Record")
	assert.NotContains(t, rec.Body.String(), "<Hangup")
}

func TestVoiceUnknownNumberApologizes(t *testing.T) {
	s := newServer(t, VoiceOptions{}, 4)

	form := callForm("CA2")
	form.Set("To", "+19999999999")
	rec := s.form("/twilio/voice/incoming", form)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Hangup")
	assert.NotContains(t, rec.Body.String(), "<Record")
}

func TestVoicePollUnknownSessionHangsUp(t *testing.T) {
	s := newServer(t, VoiceOptions{}, 4)

	rec := s.form("/twilio/voice/poll", url.Values{"CallSid": {"CA-missing"}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Hangup")
}

func TestVoiceRejectsUnsignedRequests(t *testing.T) {
	s := newServer(t, VoiceOptions{AuthToken: "token", ValidateSigned: true, PublicBaseURL: "https://example.com"}, 4)

	rec := s.form("/twilio/voice/incoming", callForm("CA3"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
