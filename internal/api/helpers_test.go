package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"resavoice/internal/db"
	"resavoice/internal/entities"
	"resavoice/internal/repository"
	"resavoice/internal/service"
)

const (
	testSecret = "test-secret"
	testPhone  = "+33100000000"
)

// echoAI answers every turn with the same French reply.
type echoAI struct {
	reply string
}

func (a echoAI) Transcribe(context.Context, string) (*entities.Transcription, error) {
	return &entities.Transcription{Text: "bonjour", Language: db.LanguageFR}, nil
}

func (a echoAI) Extract(context.Context, string, entities.ExtractionContext) (*entities.Extraction, error) {
	return &entities.Extraction{Intent: entities.IntentReserveTable, Affirmation: entities.AffirmationUnknown}, nil
}

func (a echoAI) NextTurn(context.Context, string, entities.DialogueState) (*entities.DialogueTurn, error) {
	return &entities.DialogueTurn{AssistantText: a.reply}, nil
}

type server struct {
	repos   repository.Repositories
	calls   *service.CallService
	handler http.Handler
}

func newServer(t *testing.T, voice VoiceOptions, capacities ...int) *server {
	t.Helper()
	ctx := context.Background()
	repos := repository.NewMemoryRepositories(nil)

	restaurant := &db.Restaurant{
		Name:           "Chez Test",
		Timezone:       "UTC",
		PhoneNumber:    testPhone,
		SlotMinutes:    15,
		AvgDurationMin: 90,
		BufferMin:      10,
	}
	require.NoError(t, repos.Restaurants.Save(ctx, restaurant))
	for i, c := range capacities {
		require.NoError(t, repos.Tables.Create(ctx, &db.Table{
			RestaurantID: restaurant.ID,
			Name:         fmt.Sprintf("T%d", i+1),
			Capacity:     c,
			IsJoinable:   true,
		}))
	}
	require.NoError(t, repos.Admins.CreateNewUser(ctx, "boss@example.com", "hunter22"))

	publisher := service.LogPublisher{}
	availability := service.NewAvailabilityService(repos, publisher, service.DefaultHoldTTL)
	lifecycle := service.NewReservationService(repos, publisher, service.DefaultHoldTTL)
	ai := echoAI{reply: "Pour combien de personnes ?"}
	calls := service.NewCallService(repos, availability, lifecycle, ai, ai, ai, 5*time.Second)

	handler := NewRouter(RouterDeps{
		Voice:     NewVoiceHandler(calls, voice),
		Admin:     NewAdminHandler(service.NewAdminService(repos, lifecycle), availability, lifecycle),
		AdminAuth: NewAdminAuthHandler(service.NewAdminAuthService(repos.Admins, testSecret)),
		JWTSecret: testSecret,
	})
	return &server{repos: repos, calls: calls, handler: handler}
}

func (s *server) form(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) json(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}
