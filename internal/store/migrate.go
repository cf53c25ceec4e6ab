package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/gridframe-data/gridframe/internal/monitoring"
)

// Schema changes beyond the bootstrap tables ship as versioned SQL pairs
// under db/migrations. The bootstrap schema in NewIndex stays frozen at
// version 1 semantics; anything newer must be expressed as a migration.

// MigrateUp applies all pending migrations from migrationsDir.
func (ix *Index) MigrateUp(migrationsDir string) error {
	m, err := ix.newMigrate(migrationsDir)
	if err != nil {
		return err
	}
	// Not closed: closing would tear down the shared DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (ix *Index) MigrateDown(migrationsDir string) error {
	m, err := ix.newMigrate(migrationsDir)
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion reports the current migration version and dirty state.
// A database with no applied migrations reports 0, false, nil.
func (ix *Index) MigrateVersion(migrationsDir string) (version uint, dirty bool, err error) {
	m, err := ix.newMigrate(migrationsDir)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// MigrateForce pins the recorded version without running migrations. Only
// for recovering from a dirty state.
func (ix *Index) MigrateForce(migrationsDir string, version int) error {
	m, err := ix.newMigrate(migrationsDir)
	if err != nil {
		return err
	}

	if err := m.Force(version); err != nil {
		return fmt.Errorf("force migration to version %d failed: %w", version, err)
	}
	return nil
}

// RunMigrateCommand executes one named migration command against the
// index: "up", "down", "version", or "force=<n>". The CLIs route their
// migrate flag here.
func (ix *Index) RunMigrateCommand(migrationsDir, command string) error {
	switch {
	case command == "up":
		return ix.MigrateUp(migrationsDir)
	case command == "down":
		return ix.MigrateDown(migrationsDir)
	case command == "version":
		version, dirty, err := ix.MigrateVersion(migrationsDir)
		if err != nil {
			return err
		}
		monitoring.Logf("[migrate] version=%d dirty=%v", version, dirty)
		return nil
	case strings.HasPrefix(command, "force="):
		version, err := strconv.Atoi(strings.TrimPrefix(command, "force="))
		if err != nil {
			return fmt.Errorf("migrate: bad force version %q: %w", command, err)
		}
		return ix.MigrateForce(migrationsDir, version)
	default:
		return fmt.Errorf("migrate: unknown command %q (want up, down, version, or force=<n>)", command)
	}
}

func (ix *Index) newMigrate(migrationsDir string) (*migrate.Migrate, error) {
	absPath, err := filepath.Abs(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations path: %w", err)
	}

	driver, err := sqlite.WithInstance(ix.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", absPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }
