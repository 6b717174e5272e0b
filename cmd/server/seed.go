package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"resavoice/internal/config"
	"resavoice/internal/db"
	apperrors "resavoice/internal/errors"
	"resavoice/internal/repository"
)

var seedCapacities = []int{2, 2, 4, 4, 4, 6, 6, 8}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default restaurant, its tables and the admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			conn, err := openPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			return seed(cmd.Context(), repository.NewPostgresRepositories(conn), cfg)
		},
	}
}

// seed is idempotent: an existing restaurant on the configured number is left untouched.
func seed(ctx context.Context, repos repository.Repositories, cfg config.Config) error {
	if cfg.SeedAdminEmail != "" && cfg.SeedAdminPassword != "" {
		if err := repos.Admins.CreateNewUser(ctx, cfg.SeedAdminEmail, cfg.SeedAdminPassword); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	_, err := repos.Restaurants.GetByPhone(ctx, cfg.DefaultRestaurantPhone)
	if err == nil {
		log.Printf("Seed: restaurant %s already exists", cfg.DefaultRestaurantPhone)
		return nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	restaurant := &db.Restaurant{
		Name:           cfg.DefaultRestaurantName,
		Timezone:       cfg.DefaultTimezone,
		PhoneNumber:    cfg.DefaultRestaurantPhone,
		SlotMinutes:    15,
		AvgDurationMin: 90,
		BufferMin:      10,
	}
	for day := 1; day <= 6; day++ {
		restaurant.OpeningHours = append(restaurant.OpeningHours,
			db.OpeningHours{DayOfWeek: day, Open: "12:00", Close: "14:30"},
			db.OpeningHours{DayOfWeek: day, Open: "19:00", Close: "22:30"},
		)
	}
	restaurant.OpeningHours = append(restaurant.OpeningHours, db.OpeningHours{DayOfWeek: 0, Open: "00:00", Close: "00:00", Closed: true})
	if err := restaurant.Validate(); err != nil {
		return fmt.Errorf("seed restaurant: %w", err)
	}
	if err := repos.Restaurants.Save(ctx, restaurant); err != nil {
		return fmt.Errorf("seed restaurant: %w", err)
	}

	for i, c := range seedCapacities {
		t := &db.Table{RestaurantID: restaurant.ID, Name: fmt.Sprintf("T%d", i+1), Capacity: c, IsJoinable: true}
		if err := repos.Tables.Create(ctx, t); err != nil {
			return fmt.Errorf("seed table %s: %w", t.Name, err)
		}
	}
	log.Printf("Seed: created %s (%s) with %d tables", restaurant.Name, restaurant.PhoneNumber, len(seedCapacities))
	return nil
}
