package database

import (
	"context"
	"errors"
	"fmt"

	"git.sr.ht/~jakintosh/setpass/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements service.ResetStore on PostgreSQL. Claims take a
// row lock, so concurrent redemptions of one token serialize on the row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(
	ctx context.Context,
	dsn string,
) (
	*PostgresStore,
	error,
) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return NewPostgresStoreWithPool(ctx, pool)
}

// NewPostgresStoreWithPool uses an existing pool and ensures the schema exists.
// The store takes ownership of pool.
func NewPostgresStoreWithPool(
	ctx context.Context,
	pool *pgxpool.Pool,
) (
	*PostgresStore,
	error,
) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reset_request (
			user_id     TEXT PRIMARY KEY,
			token       TEXT NOT NULL UNIQUE,
			pin         BYTEA NOT NULL,
			password    TEXT NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ NOT NULL
		);`,
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to init 'reset_request' table schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ResetStore() service.ResetStore {
	return s
}

const selectPgResetRequest = `
	SELECT user_id, token, pin, password, attempts, updated_at
	FROM reset_request`

func scanPgResetRequest(row pgx.Row) (*service.ResetRequest, error) {
	var req service.ResetRequest
	err := row.Scan(&req.UserID, &req.Token, &req.PinHash, &req.Password, &req.Attempts, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan reset_request: %w", err)
	}
	return &req, nil
}

func (s *PostgresStore) FindByToken(
	ctx context.Context,
	token string,
) (
	*service.ResetRequest,
	error,
) {
	return scanPgResetRequest(s.pool.QueryRow(ctx, selectPgResetRequest+" WHERE token=$1", token))
}

func (s *PostgresStore) FindByUserID(
	ctx context.Context,
	userID string,
) (
	*service.ResetRequest,
	error,
) {
	return scanPgResetRequest(s.pool.QueryRow(ctx, selectPgResetRequest+" WHERE user_id=$1", userID))
}

func (s *PostgresStore) Upsert(
	ctx context.Context,
	params service.UpsertParams,
) (
	*service.ResetRequest,
	error,
) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = scanPgResetRequest(tx.QueryRow(ctx, selectPgResetRequest+" WHERE user_id=$1 FOR UPDATE", params.UserID))
	exists := err == nil
	if err != nil && !errors.Is(err, service.ErrNotFound) {
		return nil, err
	}
	if !exists && (params.PinHash == nil || params.Password == nil) {
		return nil, service.ErrMissingField
	}

	// concurrent first-time provisioning of one user resolves last-writer-wins
	req, err := scanPgResetRequest(tx.QueryRow(ctx, `
		INSERT INTO reset_request AS r (user_id, token, pin, password, attempts, updated_at)
		VALUES ($1, $2, COALESCE($3::bytea, ''::bytea), COALESCE($4::text, ''), 0, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET token = EXCLUDED.token,
			pin = COALESCE($3::bytea, r.pin),
			password = COALESCE($4::text, r.password),
			attempts = 0,
			updated_at = EXCLUDED.updated_at
		RETURNING user_id, token, pin, password, attempts, updated_at`,
		params.UserID,
		newToken(),
		nullableBytes(params.PinHash),
		nullableString(params.Password),
		params.Now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert reset_request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) RecordFailedAttempt(
	ctx context.Context,
	req *service.ResetRequest,
) error {
	tag, err := s.pool.Exec(ctx, `UPDATE reset_request SET attempts = attempts + 1 WHERE token=$1`, req.Token)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	req.Attempts++
	return nil
}

func (s *PostgresStore) Delete(
	ctx context.Context,
	req *service.ResetRequest,
) (
	bool,
	error,
) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reset_request WHERE token=$1`, req.Token)
	if err != nil {
		return false, fmt.Errorf("failed to delete reset_request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Claim(
	ctx context.Context,
	token string,
) (
	service.Claim,
	error,
) {
	tx, err := s.pool.Begin(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	req, err := scanPgResetRequest(tx.QueryRow(ctx, selectPgResetRequest+" WHERE token=$1 FOR UPDATE", token))
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	return &pgClaim{tx: tx, req: req}, nil
}

type pgClaim struct {
	tx   pgx.Tx
	req  *service.ResetRequest
	done bool
}

func (c *pgClaim) Request() *service.ResetRequest {
	return c.req
}

func (c *pgClaim) RecordFailedAttempt(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	_, err := c.tx.Exec(ctx, `UPDATE reset_request SET attempts = attempts + 1 WHERE token=$1`, c.req.Token)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	c.req.Attempts++
	return nil
}

func (c *pgClaim) Consume(ctx context.Context) error {
	if c.done {
		return nil
	}
	c.done = true

	// a consumed request must go even if the caller has gone away
	ctx = context.WithoutCancel(ctx)
	tag, err := c.tx.Exec(ctx, `DELETE FROM reset_request WHERE token=$1`, c.req.Token)
	if err != nil {
		_ = c.tx.Rollback(ctx)
		return fmt.Errorf("failed to delete reset_request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = c.tx.Rollback(ctx)
		return service.ErrNotFound
	}
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (c *pgClaim) Release(ctx context.Context) error {
	if c.done {
		return nil
	}
	c.done = true

	if err := c.tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
