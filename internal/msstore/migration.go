package msstore

import (
	"database/sql"
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/radiotel/ingestd/pkg/ingesterr"
)

//go:embed migrations/sqlite3
var migrationFiles embed.FS

func migrate(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}

	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}
	return nil
}
