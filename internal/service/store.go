package service

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a ResetStore when no record matches.
	ErrNotFound = errors.New("reset request not found")
	// ErrMissingField is returned by Upsert when a new record lacks a pin or password.
	ErrMissingField = errors.New("missing required field")
)

// ResetRequest is a pending password reset for one upstream user.
type ResetRequest struct {
	UserID    string
	Token     string
	PinHash   []byte
	Password  string
	Attempts  int
	UpdatedAt time.Time
}

// UpsertParams describes a provisioning write. Nil PinHash or Password leaves the
// stored value untouched on an existing record.
type UpsertParams struct {
	UserID   string
	PinHash  []byte
	Password *string
	Now      time.Time
}

// ResetStore handles persistence of reset requests
type ResetStore interface {
	FindByToken(ctx context.Context, token string) (*ResetRequest, error)
	FindByUserID(ctx context.Context, userID string) (*ResetRequest, error)
	Upsert(ctx context.Context, params UpsertParams) (*ResetRequest, error)
	RecordFailedAttempt(ctx context.Context, req *ResetRequest) error
	Delete(ctx context.Context, req *ResetRequest) (deleted bool, err error)
	Claim(ctx context.Context, token string) (Claim, error)
}

// Claim holds exclusive access to one reset request for the length of a
// redemption. Exactly one of Consume or Release must be called.
type Claim interface {
	Request() *ResetRequest
	// RecordFailedAttempt increments the attempt counter; the increment is
	// persisted by Release.
	RecordFailedAttempt(ctx context.Context) error
	// Consume deletes the request and ends the claim.
	Consume(ctx context.Context) error
	// Release ends the claim, keeping the request and any attempt increment.
	Release(ctx context.Context) error
}
