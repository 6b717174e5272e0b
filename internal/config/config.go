package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port        string
	DatabaseURL string
	StoreDriver string

	AIServiceURL string
	AITimeout    time.Duration
	TurnTimeout  time.Duration

	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioFromNumber      string
	TwilioValidateSigning bool
	PublicBaseURL         string
	PollPause             int
	RecordMaxSeconds      int

	HoldTTL        time.Duration
	ReaperSchedule string

	NATSURL     string
	NATSSubject string

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	StaffEmail        string
	SMSConfirmations  bool

	JWTSecret   string
	CORSOrigins []string

	DefaultRestaurantName  string
	DefaultRestaurantPhone string
	DefaultTimezone        string
	SeedAdminEmail         string
	SeedAdminPassword      string
}

// FromEnv reads the configuration from the environment after loading an optional .env file.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:        envDefault("PORT", "8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StoreDriver: envDefault("STORE_DRIVER", StorePostgres),

		AIServiceURL: envDefault("AI_SERVICE_URL", "http://localhost:4000"),

		TwilioAccountSID: strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:  strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		TwilioFromNumber: strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER")),
		PublicBaseURL:    strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/"),

		ReaperSchedule: envDefault("REAPER_SCHEDULE", "@every 1m"),

		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),
		NATSSubject: envDefault("NATS_SUBJECT", "reservations.events"),

		SendGridAPIKey:    strings.TrimSpace(os.Getenv("SENDGRID_API_KEY")),
		SendGridFromEmail: strings.TrimSpace(os.Getenv("SENDGRID_FROM_EMAIL")),
		SendGridFromName:  strings.TrimSpace(os.Getenv("SENDGRID_FROM_NAME")),
		StaffEmail:        strings.TrimSpace(os.Getenv("STAFF_EMAIL")),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		CORSOrigins: splitCSV(envDefault("CORS_ORIGINS", "*")),

		DefaultRestaurantName:  envDefault("DEFAULT_RESTAURANT_NAME", "Le Bistrot"),
		DefaultRestaurantPhone: envDefault("DEFAULT_RESTAURANT_PHONE", "+33100000000"),
		DefaultTimezone:        envDefault("DEFAULT_TIMEZONE", "Europe/Paris"),
		SeedAdminEmail:         envDefault("SEED_ADMIN_EMAIL", "admin@example.com"),
		SeedAdminPassword:      os.Getenv("SEED_ADMIN_PASSWORD"),
	}

	switch cfg.StoreDriver {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return cfg, fmt.Errorf("invalid STORE_DRIVER %q", cfg.StoreDriver)
	}

	var err error
	if cfg.AITimeout, err = envSeconds("AI_TIMEOUT_SECONDS", 20); err != nil {
		return cfg, err
	}
	if cfg.TurnTimeout, err = envSeconds("TURN_TIMEOUT_SECONDS", 45); err != nil {
		return cfg, err
	}
	if cfg.HoldTTL, err = envSeconds("HOLD_TTL_SECONDS", 180); err != nil {
		return cfg, err
	}
	if cfg.PollPause, err = envInt("POLL_PAUSE_SECONDS", 2); err != nil {
		return cfg, err
	}
	if cfg.RecordMaxSeconds, err = envInt("RECORD_MAX_SECONDS", 10); err != nil {
		return cfg, err
	}
	if cfg.TwilioValidateSigning, err = envBool("TWILIO_VALIDATE_SIGNATURE", false); err != nil {
		return cfg, err
	}
	if cfg.SMSConfirmations, err = envBool("SMS_CONFIRMATIONS", false); err != nil {
		return cfg, err
	}
	if cfg.TwilioValidateSigning && cfg.TwilioAuthToken == "" {
		return cfg, fmt.Errorf("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is set")
	}
	return cfg, nil
}

// TwilioConfigured reports whether outbound SMS can be sent.
func (c Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

func (c Config) EmailConfigured() bool {
	return c.SendGridAPIKey != "" && c.SendGridFromEmail != "" && c.StaffEmail != ""
}

func envDefault(k, d string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	return v
}

func envInt(k string, d int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", k)
	}
	return n, nil
}

func envSeconds(k string, d int) (time.Duration, error) {
	n, err := envInt(k, d)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func envBool(k string, d bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s", k)
	}
	return b, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
