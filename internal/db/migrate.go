package db

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/carputer/internal/monitoring"
)

// SchemaStatus describes where the session index schema stands relative to
// the embedded migrations.
type SchemaStatus struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// UpToDate reports whether every embedded migration has been applied cleanly.
func (s SchemaStatus) UpToDate() bool {
	return !s.Dirty && s.Current == s.Latest
}

// MigrateUp applies every pending migration. An index that is already current
// is not an error.
func (db *DB) MigrateUp() error {
	return db.migrate("up", func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back one migration.
func (db *DB) MigrateDown() error {
	return db.migrate("down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

// MigrateForce records version as applied without running anything. It is
// the way out of a dirty schema after a failed migration.
func (db *DB) MigrateForce(version int) error {
	return db.migrate(fmt.Sprintf("force %d", version), func(m *migrate.Migrate) error { return m.Force(version) })
}

// SchemaStatus reports the applied and latest migration versions. A fresh
// database reports version 0.
func (db *DB) SchemaStatus() (SchemaStatus, error) {
	latest, err := latestMigrationVersion(MigrationsFS())
	if err != nil {
		return SchemaStatus{}, err
	}
	st := SchemaStatus{Latest: latest}

	m, err := db.newMigrate()
	if err != nil {
		return st, err
	}
	st.Current, st.Dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read schema version: %w", err)
	}
	return st, nil
}

func (db *DB) migrate(action string, run func(*migrate.Migrate) error) error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is never closed: closing it closes db.DB.
	if err := run(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", action, err)
	}
	return nil
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(MigrationsFS(), ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger sends golang-migrate output to the monitoring logger; its
// verbose chatter follows -verbose.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool {
	return monitoring.Verbose()
}

// latestMigrationVersion scans NNNNNN_name.up.sql file names.
func latestMigrationVersion(migrations fs.FS) (uint, error) {
	names, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}
	var latest uint
	for _, name := range names {
		var v uint
		if _, err := fmt.Sscanf(name, "%d_", &v); err == nil && v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return 0, errors.New("no migration files found")
	}
	return latest, nil
}
