package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrateOptions controls migration behavior at startup.
type MigrateOptions struct {
	FolderPath string
	Version    int // 0 means migrate to latest
	Force      int // non-zero forces the schema version before migrating
}

// Migrate runs pending schema migrations against the connected database.
func Migrate(d DB, dbName string, opts MigrateOptions) error {
	driver, err := postgres.WithInstance(d.Unwrap().DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", opts.FolderPath),
		dbName,
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if opts.Force != 0 {
		if err := m.Force(opts.Force); err != nil {
			return fmt.Errorf("failed to force migration version %d: %w", opts.Force, err)
		}
	}

	if opts.Version > 0 {
		err = m.Migrate(uint(opts.Version))
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
