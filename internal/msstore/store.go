// Package msstore is the measurement-set-like storage backend
// MSSinkTask appends visibility rows to: one SQLite file per active
// rank, with scan and spectral-window sub-tables opened lazily when the
// incoming chunk's scan or channel layout changes.
package msstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/radiotel/ingestd/internal/ccalog"
	"github.com/radiotel/ingestd/pkg/ingesterr"
)

var registerOnce sync.Once

// Store wraps one rank's measurement-set-like SQLite file.
type Store struct {
	DB *sqlx.DB
}

// Open connects to path (creating it if absent) and brings it up to the
// latest migration. Each rank owns its own file, so unlike the
// multi-writer services this pattern is borrowed from, one connection
// is always enough.
func Open(path string) (*Store, error) {
	registerOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryLog{}))
	})

	db, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.TransportError, "msstore", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// queryLog satisfies sqlhooks.Hooks, logging every statement at debug
// level.
type queryLog struct{}

func (h *queryLog) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	ccalog.Debugf("msstore: query %s %v", query, args)
	return context.WithValue(ctx, queryBeginKey{}, time.Now()), nil
}

func (h *queryLog) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(queryBeginKey{}).(time.Time); ok {
		ccalog.Debugf("msstore: query took %s", time.Since(begin))
	}
	return ctx, nil
}

type queryBeginKey struct{}
