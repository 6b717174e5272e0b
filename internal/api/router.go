package api

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"resavoice/internal/auth"
)

type RouterDeps struct {
	Voice       *VoiceHandler
	Admin       *AdminHandler
	AdminAuth   *AdminAuthHandler
	JWTSecret   string
	CORSOrigins []string
}

// NewRouter mounts the Twilio webhooks and the admin API, wrapped in CORS and access logging.
func NewRouter(d RouterDeps) http.Handler {
	r := mux.NewRouter()

	// Twilio webhooks
	voice := r.PathPrefix("/twilio/voice").Subrouter()
	voice.HandleFunc("/incoming", d.Voice.Incoming).Methods("POST")
	voice.HandleFunc("/recording", d.Voice.Recording).Methods("POST")
	voice.HandleFunc("/poll", d.Voice.Poll).Methods("POST")

	r.HandleFunc("/api/admin/login", d.AdminAuth.Login).Methods("POST")

	// Admin endpoints (protected)
	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(auth.AdminAuthMiddleware(d.JWTSecret))
	admin.HandleFunc("/users", d.AdminAuth.CreateUserAdmin).Methods("POST")
	admin.HandleFunc("/restaurant", d.Admin.GetRestaurant).Methods("GET")
	admin.HandleFunc("/tables", d.Admin.ListTables).Methods("GET")
	admin.HandleFunc("/holds", d.Admin.CreateHold).Methods("POST")
	admin.HandleFunc("/reservations", d.Admin.ListReservations).Methods("GET")
	admin.HandleFunc("/reservations", d.Admin.CreateReservation).Methods("POST")
	admin.HandleFunc("/reservations/{id}", d.Admin.GetReservation).Methods("GET")
	admin.HandleFunc("/reservations/{id}", d.Admin.UpdateReservation).Methods("PATCH")
	admin.HandleFunc("/reservations/{id}/confirm", d.Admin.Confirm).Methods("POST")
	admin.HandleFunc("/reservations/{id}/cancel", d.Admin.Cancel).Methods("POST")
	admin.HandleFunc("/reservations/{id}/no-show", d.Admin.NoShow).Methods("POST")

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PATCH", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	return handlers.LoggingHandler(os.Stdout, cors(r))
}
