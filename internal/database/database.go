package database

import (
	"context"
	"fmt"
	"io"

	"git.sr.ht/~jakintosh/setpass/internal/service"
)

// Store is a ResetStore backed by a closable connection.
type Store interface {
	service.ResetStore
	io.Closer
}

// Open connects to the backend named by driver ("sqlite" or "postgres").
func Open(
	ctx context.Context,
	driver string,
	dsn string,
) (
	Store,
	error,
) {
	switch driver {
	case "", "sqlite":
		store, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver '%s'", driver)
	}
}
