package database

import (
	"context"
	"database/sql"
	"fmt"

	"git.sr.ht/~jakintosh/setpass/internal/service"
)

// Claim opens a transaction on the store's only connection and reads the
// request for token inside it. Other store calls wait until the claim ends.
func (s *SQLiteStore) Claim(
	ctx context.Context,
	token string,
) (
	service.Claim,
	error,
) {
	// the claim outlives request cancellation so a counted attempt is kept
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't begin claim: %v", err)
	}

	_, req, err := findResetRequest(ctx, tx, "token", token)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return &sqliteClaim{tx: tx, req: req}, nil
}

type sqliteClaim struct {
	tx   *sql.Tx
	req  *service.ResetRequest
	done bool
}

func (c *sqliteClaim) Request() *service.ResetRequest {
	return c.req
}

func (c *sqliteClaim) RecordFailedAttempt(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if err := incrementAttempts(ctx, c.tx, c.req.Token); err != nil {
		return err
	}
	c.req.Attempts++
	return nil
}

func (c *sqliteClaim) Consume(ctx context.Context) error {
	if c.done {
		return nil
	}
	c.done = true

	// a consumed request must go even if the caller has gone away
	ctx = context.WithoutCancel(ctx)
	deleted, err := deleteResetRequest(ctx, c.tx, c.req.Token)
	if err != nil {
		_ = c.tx.Rollback()
		return err
	}
	if !deleted {
		_ = c.tx.Rollback()
		return service.ErrNotFound
	}
	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("couldn't commit claim: %v", err)
	}
	return nil
}

func (c *sqliteClaim) Release(ctx context.Context) error {
	if c.done {
		return nil
	}
	c.done = true

	if err := c.tx.Commit(); err != nil {
		return fmt.Errorf("couldn't commit claim: %v", err)
	}
	return nil
}
