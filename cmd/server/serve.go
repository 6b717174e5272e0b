package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"resavoice/internal/ai"
	"resavoice/internal/api"
	"resavoice/internal/config"
	"resavoice/internal/repository"
	"resavoice/internal/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the voice webhooks, the admin API and the hold reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			repos, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			sender, closeSinks := buildPublisher(ctx, cfg, repos)
			defer closeSinks()

			availability := service.NewAvailabilityService(repos, sender, cfg.HoldTTL)
			lifecycle := service.NewReservationService(repos, sender, cfg.HoldTTL)
			aiClient := ai.New(cfg.AIServiceURL, cfg.AITimeout, restaurantTimezone(ctx, cfg, repos))
			calls := service.NewCallService(repos, availability, lifecycle, aiClient, aiClient, aiClient, cfg.TurnTimeout)

			reaper, err := service.NewJobService(repos.Jobs, lifecycle, cfg.HoldTTL).Schedule(cfg.ReaperSchedule)
			if err != nil {
				return err
			}

			router := api.NewRouter(api.RouterDeps{
				Voice: api.NewVoiceHandler(calls, api.VoiceOptions{
					AuthToken:      cfg.TwilioAuthToken,
					ValidateSigned: cfg.TwilioValidateSigning,
					PublicBaseURL:  cfg.PublicBaseURL,
					PollPause:      cfg.PollPause,
					RecordMax:      cfg.RecordMaxSeconds,
				}),
				Admin:       api.NewAdminHandler(service.NewAdminService(repos, lifecycle), availability, lifecycle),
				AdminAuth:   api.NewAdminAuthHandler(service.NewAdminAuthService(repos.Admins, cfg.JWTSecret)),
				JWTSecret:   cfg.JWTSecret,
				CORSOrigins: cfg.CORSOrigins,
			})
			if cfg.JWTSecret == "" {
				log.Println("JWT_SECRET not set: admin routes will refuse every request")
			}

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Printf("Server running on port %s", cfg.Port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			log.Println("Shutting down")
			shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.TurnTimeout+5*time.Second)
			defer stop()
			<-reaper.Stop().Done()
			err = srv.Shutdown(shutdownCtx)
			calls.Wait()
			return err
		},
	}
}

// buildPublisher fans reservation events out to every configured sink.
func buildPublisher(ctx context.Context, cfg config.Config, repos repository.Repositories) (*service.SenderService, func()) {
	sender := service.NewSenderService(service.LogPublisher{})
	closers := []func(){}

	if cfg.NATSURL != "" {
		nc, err := service.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			log.Printf("NATS disabled: %v", err)
		} else {
			sender.Add(nc)
			closers = append(closers, func() { _ = nc.Close() })
		}
	}

	name, loc := cfg.DefaultRestaurantName, time.UTC
	if restaurant, err := repos.Restaurants.First(ctx); err == nil {
		name = restaurant.Name
		if l, err := time.LoadLocation(restaurant.Timezone); err == nil {
			loc = l
		}
	}

	if cfg.EmailConfigured() {
		email := service.NewEmailSender(cfg.SendGridAPIKey, cfg.SendGridFromEmail, cfg.SendGridFromName)
		sender.Add(service.NewStaffEmailPublisher(email, cfg.StaffEmail, loc))
	}
	if cfg.SMSConfirmations {
		if cfg.TwilioConfigured() {
			sms := service.NewSMSSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
			sender.Add(service.NewSMSPublisher(sms, name, loc))
		} else {
			log.Println("SMS_CONFIRMATIONS set without Twilio credentials: SMS disabled")
		}
	}

	return sender, func() {
		for _, c := range closers {
			c()
		}
	}
}

// restaurantTimezone is the served restaurant's zone, the configured default before seeding.
func restaurantTimezone(ctx context.Context, cfg config.Config, repos repository.Repositories) string {
	if restaurant, err := repos.Restaurants.First(ctx); err == nil && restaurant.Timezone != "" {
		return restaurant.Timezone
	}
	return cfg.DefaultTimezone
}
