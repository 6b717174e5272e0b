package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"resavoice/internal/config"
	"resavoice/internal/db"
	"resavoice/internal/repository"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "resavoice",
		Short:         "Restaurant table reservations over the phone",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
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
			log.Println("Migrations applied")
			return nil
		},
	}
}

// openPostgres connects and brings the schema up to date.
func openPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// openStore returns the configured repositories and a close func.
func openStore(ctx context.Context, cfg config.Config) (repository.Repositories, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		repos := repository.NewMemoryRepositories(nil)
		if err := seed(ctx, repos, cfg); err != nil {
			return repository.Repositories{}, nil, err
		}
		log.Println("Using in-memory store with seeded defaults")
		return repos, func() {}, nil
	}
	conn, err := openPostgres(ctx, cfg)
	if err != nil {
		return repository.Repositories{}, nil, err
	}
	return repository.NewPostgresRepositories(conn), func() { conn.Close() }, nil
}
