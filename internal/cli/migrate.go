package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-session-service/internal/config"
	pgmigrations "quiz-session-service/internal/infra/postgres/migrations"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if rollback {
				return RollbackMigrations(cmd.Context(), cfg.Postgres.URL)
			}
			return RunMigrations(cmd.Context(), cfg.Postgres.URL)
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration group")
	return cmd
}

// RunMigrations applies every pending migration to the database at dsn.
func RunMigrations(ctx context.Context, dsn string) error {
	return withMigrator(ctx, dsn, func(migrator *migrate.Migrator) error {
		if err := migrator.Init(ctx); err != nil {
			return err
		}
		group, err := migrator.Migrate(ctx)
		if err != nil {
			return err
		}
		if group.IsZero() {
			log.Printf("no new migrations")
			return nil
		}
		log.Printf("migrations applied: %s", group)
		return nil
	})
}

// RollbackMigrations undoes the most recent migration group.
func RollbackMigrations(ctx context.Context, dsn string) error {
	return withMigrator(ctx, dsn, func(migrator *migrate.Migrator) error {
		if err := migrator.Init(ctx); err != nil {
			return err
		}
		group, err := migrator.Rollback(ctx)
		if err != nil {
			return err
		}
		log.Printf("rolled back: %s", group)
		return nil
	})
}

func withMigrator(ctx context.Context, dsn string, fn func(*migrate.Migrator) error) error {
	if dsn == "" {
		return fmt.Errorf("postgres url not configured")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	return fn(migrate.NewMigrator(db, pgmigrations.Migrations))
}
