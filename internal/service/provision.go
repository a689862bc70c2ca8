package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// ProvisionRequest carries the optional fields of a provisioning call.
type ProvisionRequest struct {
	Pin      *string
	Password *string
}

// Provision creates or refreshes the reset request for userID and returns its
// new token. The caller's credential is checked against the upstream provider
// before anything is written.
func (s *Service) Provision(
	ctx context.Context,
	credential string,
	userID string,
	req ProvisionRequest,
) (
	string,
	error,
) {
	if err := s.AuthorizeAdmin(ctx, credential); err != nil {
		return "", err
	}

	if userID == "" {
		return "", &ValidationError{Field: "user_id", Err: ErrMissingField}
	}

	params := UpsertParams{
		UserID:   userID,
		Password: req.Password,
		Now:      s.now(),
	}
	if req.Pin != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Pin), s.opts.PasswordMode.Cost())
		if err != nil {
			return "", &ValidationError{Field: "pin", Err: err}
		}
		params.PinHash = hash
	}

	reset, err := s.store.Upsert(ctx, params)
	if err != nil {
		if errors.Is(err, ErrMissingField) {
			return "", &ValidationError{Field: missingField(req), Err: err}
		}
		return "", fmt.Errorf("%w: failed to upsert reset request: %v", ErrInternal, err)
	}

	slog.Info("reset token provisioned", "user_id", userID)
	return reset.Token, nil
}

// AuthorizeAdmin checks credential against the upstream provider. An empty
// credential or a failed check is ErrUnauthorized; a valid non-admin
// credential is ErrForbidden.
func (s *Service) AuthorizeAdmin(
	ctx context.Context,
	credential string,
) error {
	if credential == "" {
		return ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.UpstreamTimeout)
	defer cancel()

	ok, err := s.verifier.CheckAdminCredential(ctx, credential)
	if err != nil {
		return fmt.Errorf("%w: admin check failed: %v", ErrUnauthorized, err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func missingField(req ProvisionRequest) string {
	if req.Pin == nil {
		return "pin"
	}
	return "password"
}
