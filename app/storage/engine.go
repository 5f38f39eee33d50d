// Package storage keeps labeled training samples in a sql database. It
// supports sqlite for local setups and postgres for shared ones; all queries
// are written with "?" placeholders and rebound per dialect.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// EngineType is a type of database engine
type EngineType string

// enum of supported database engines
const (
	EngineSqlite   EngineType = "sqlite"
	EnginePostgres EngineType = "postgres"
)

// SQL is a wrapper for sqlx.DB with the engine type attached, allowing
// dialect-specific queries.
type SQL struct {
	sqlx.DB
	dbType EngineType
}

// New connects to the database identified by conn: a postgres url for
// postgres, anything else is treated as a sqlite file path.
func New(ctx context.Context, conn string) (*SQL, error) {
	if conn == "" {
		return nil, fmt.Errorf("empty connection string")
	}

	if strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://") {
		db, err := sqlx.ConnectContext(ctx, "postgres", conn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return &SQL{DB: *db, dbType: EnginePostgres}, nil
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite", conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db %s: %w", conn, err)
	}
	return &SQL{DB: *db, dbType: EngineSqlite}, nil
}

// Type returns the database engine type
func (e *SQL) Type() EngineType { return e.dbType }

// MakeLock creates a lock for the engine. Sqlite needs real locking, other
// engines get a no-op locker.
func (e *SQL) MakeLock() RWLocker {
	if e.dbType == EngineSqlite {
		return new(sync.RWMutex)
	}
	return &NoopLocker{}
}

// RWLocker is a read-write locker interface, satisfied by sync.RWMutex and NoopLocker
type RWLocker interface {
	sync.Locker
	RLock()
	RUnlock()
}

// NoopLocker is a no-op locker
type NoopLocker struct{}

// Lock does nothing
func (NoopLocker) Lock() {}

// Unlock does nothing
func (NoopLocker) Unlock() {}

// RLock does nothing
func (NoopLocker) RLock() {}

// RUnlock does nothing
func (NoopLocker) RUnlock() {}

// query holds per-dialect variants of a statement
type query struct {
	sqlite   string
	postgres string
}

// pick returns the statement for the given engine type
func (q query) pick(t EngineType) string {
	if t == EnginePostgres {
		return q.postgres
	}
	return q.sqlite
}
