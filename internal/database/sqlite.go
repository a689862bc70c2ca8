// Package database provides SQLite and Postgres persistence for reset requests.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"git.sr.ht/~jakintosh/setpass/internal/service"
	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath (":memory:" for tests) and
// ensures the schema exists. The pool is capped at one connection, which
// serializes claims and keeps in-memory databases on a single handle.
func NewSQLiteStore(
	dbPath string,
) (
	*SQLiteStore,
	error,
) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ResetStore() service.ResetStore {
	return s
}

func initSchema(db *sql.DB) error {
	return initTable(db, "reset_request", `
		CREATE TABLE IF NOT EXISTS reset_request (
			id          INTEGER PRIMARY KEY,
			user_id     TEXT NOT NULL UNIQUE,
			token       TEXT NOT NULL UNIQUE,
			pin         BLOB NOT NULL,
			password    TEXT NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			updated_at  INTEGER NOT NULL
		);`,
	)
}

func initTable(
	db *sql.DB,
	name string,
	sql string,
) error {
	if _, err := db.ExecContext(context.Background(), sql); err != nil {
		return fmt.Errorf("failed to init '%s' table schema: %v", name, err)
	}
	return nil
}

func resultsEmpty(result sql.Result) bool {
	count, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return count == 0
}
