package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~jakintosh/setpass/internal/service"
	"github.com/google/uuid"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectResetRequest = `
	SELECT id, user_id, token, pin, password, attempts, updated_at
	FROM reset_request r`

func (s *SQLiteStore) FindByToken(
	ctx context.Context,
	token string,
) (
	*service.ResetRequest,
	error,
) {
	_, req, err := findResetRequest(ctx, s.db, "token", token)
	return req, err
}

func (s *SQLiteStore) FindByUserID(
	ctx context.Context,
	userID string,
) (
	*service.ResetRequest,
	error,
) {
	_, req, err := findResetRequest(ctx, s.db, "user_id", userID)
	return req, err
}

func (s *SQLiteStore) Upsert(
	ctx context.Context,
	params service.UpsertParams,
) (
	*service.ResetRequest,
	error,
) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't begin upsert: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, _, err := findResetRequest(ctx, tx, "user_id", params.UserID)
	switch {
	case errors.Is(err, service.ErrNotFound):
		if params.PinHash == nil || params.Password == nil {
			return nil, service.ErrMissingField
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reset_request (user_id, token, pin, password, attempts, updated_at)
			VALUES (?1, ?2, ?3, ?4, 0, ?5);`,
			params.UserID,
			newToken(),
			params.PinHash,
			*params.Password,
			params.Now.UnixNano(),
		)
		if err != nil {
			return nil, fmt.Errorf("couldn't insert into reset_request: %v", err)
		}

	case err != nil:
		return nil, err

	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE reset_request
			SET token = ?1,
				pin = COALESCE(?2, pin),
				password = COALESCE(?3, password),
				attempts = 0,
				updated_at = ?4
			WHERE id = ?5;`,
			newToken(),
			nullableBytes(params.PinHash),
			nullableString(params.Password),
			params.Now.UnixNano(),
			id,
		)
		if err != nil {
			return nil, fmt.Errorf("couldn't update reset_request: %v", err)
		}
	}

	_, req, err := findResetRequest(ctx, tx, "user_id", params.UserID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("couldn't commit upsert: %v", err)
	}
	return req, nil
}

func (s *SQLiteStore) RecordFailedAttempt(
	ctx context.Context,
	req *service.ResetRequest,
) error {
	if err := incrementAttempts(ctx, s.db, req.Token); err != nil {
		return err
	}
	req.Attempts++
	return nil
}

func (s *SQLiteStore) Delete(
	ctx context.Context,
	req *service.ResetRequest,
) (
	bool,
	error,
) {
	return deleteResetRequest(ctx, s.db, req.Token)
}

func findResetRequest(
	ctx context.Context,
	q queryer,
	column string,
	value string,
) (
	int64,
	*service.ResetRequest,
	error,
) {
	// column is one of two constants chosen by this package
	row := q.QueryRowContext(ctx, selectResetRequest+" WHERE r."+column+"=?1;", value)

	var (
		id        int64
		req       service.ResetRequest
		updatedAt int64
	)
	err := row.Scan(&id, &req.UserID, &req.Token, &req.PinHash, &req.Password, &req.Attempts, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, service.ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("couldn't scan reset_request: %v", err)
	}
	req.UpdatedAt = time.Unix(0, updatedAt)
	return id, &req, nil
}

func incrementAttempts(
	ctx context.Context,
	q queryer,
	token string,
) error {
	result, err := q.ExecContext(ctx, `
		UPDATE reset_request
		SET attempts = attempts + 1
		WHERE token=?1;`,
		token,
	)
	if err != nil {
		return fmt.Errorf("couldn't increment attempts: %v", err)
	}
	if resultsEmpty(result) {
		return service.ErrNotFound
	}
	return nil
}

func deleteResetRequest(
	ctx context.Context,
	q queryer,
	token string,
) (
	bool,
	error,
) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM reset_request
		WHERE token=?1;`,
		token,
	)
	if err != nil {
		return false, fmt.Errorf("couldn't delete from reset_request: %v", err)
	}
	return !resultsEmpty(result), nil
}

func newToken() string {
	return uuid.NewString()
}

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
