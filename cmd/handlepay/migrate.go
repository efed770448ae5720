package main

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
)

func migrateCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate [up|down|goto N|status]",
		Short: "Apply SQL schema migrations to the MySQL database",
		Long: `Apply the SQL migrations in ./migrations to the configured MySQL database.

Examples:
  handlepay migrate up
  handlepay migrate down
  handlepay migrate goto 1
  handlepay migrate status`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DB.Driver != "mysql" {
				return fmt.Errorf("migrate supports the mysql driver only (DB_DRIVER=%s uses AutoMigrate)", cfg.DB.Driver)
			}

			log.Printf("Connecting to database: %s@%s:%s/%s", cfg.DB.User, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
			m, err := migrate.New(source, migrationURL(cfg.DB))
			if err != nil {
				return fmt.Errorf("failed to initialise migrations: %w", err)
			}
			defer func() {
				if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
					log.Printf("Failed to close migration resources: %v, %v", sourceErr, dbErr)
				}
			}()

			return runMigration(m, args)
		},
	}

	cmd.Flags().StringVar(&source, "source", "file://migrations", "migration source URL")
	return cmd
}

func migrationURL(db config.DBConfig) string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		db.User, db.Password, db.Host, db.Port, db.Name)
}

func runMigration(m *migrate.Migrate, args []string) error {
	switch args[0] {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No changes: database is already up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		log.Println("Migrations applied")

	case "down":
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("failed to roll back last migration: %w", err)
		}
		log.Println("Rolled back last migration")

	case "goto":
		if len(args) < 2 {
			return errors.New("goto requires a version number")
		}
		version, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version number: %w", err)
		}
		err = m.Migrate(uint(version))
		if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("No changes: database is already at version %d", version)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to migrate to version %d: %w", version, err)
		}
		log.Printf("Migrated to version %d", version)

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("No migrations have been applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		dirtyStatus := ""
		if dirty {
			dirtyStatus = " (dirty)"
		}
		log.Printf("Current migration version: %d%s", version, dirtyStatus)

	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
	return nil
}
