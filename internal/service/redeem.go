package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// Redeem sets a new upstream password for the user behind token. The request
// is consumed only when the upstream change succeeds; a wrong PIN is counted
// even though the call fails.
func (s *Service) Redeem(
	ctx context.Context,
	token string,
	pin string,
	newPassword string,
) error {
	claim, err := s.store.Claim(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("%w: failed to claim reset request: %v", ErrInternal, err)
	}

	consumed := false
	defer func() {
		if consumed {
			return
		}
		if err := claim.Release(ctx); err != nil {
			slog.Error("failed to release reset request", "err", err)
		}
	}()

	req := claim.Request()

	// a locked account gets no pin feedback and no further increments
	if req.Attempts > s.opts.MaxAttempts {
		return ErrAccountLocked
	}

	if !pinMatches(req.PinHash, pin) {
		if err := claim.RecordFailedAttempt(ctx); err != nil {
			return fmt.Errorf("%w: failed to record attempt: %v", ErrInternal, err)
		}
		return ErrWrongPin
	}

	if s.now().Sub(req.UpdatedAt) > s.opts.TokenExpiration {
		return ErrTokenExpired
	}

	if err := s.changePassword(ctx, req, newPassword); err != nil {
		return err
	}

	consumed = true
	if err := claim.Consume(ctx); err != nil {
		return fmt.Errorf("%w: failed to delete reset request: %v", ErrInternal, err)
	}

	slog.Info("password reset", "user_id", req.UserID)
	return nil
}

func (s *Service) changePassword(
	ctx context.Context,
	req *ResetRequest,
	newPassword string,
) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.UpstreamTimeout)
	defer cancel()

	err := s.changer.ChangePassword(ctx, req.UserID, req.Password, newPassword)
	if err == nil {
		return nil
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}
	return &UpstreamError{Message: err.Error()}
}

func pinMatches(
	hash []byte,
	pin string,
) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(pin)) == nil
}
