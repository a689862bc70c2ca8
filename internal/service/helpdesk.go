package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrEmailMismatch = errors.New("email addresses do not match")
	ErrPinFormat     = errors.New("pin should be a 4-digit number")
)

// HelpdeskRequest is a reset request that a human operator must handle.
type HelpdeskRequest struct {
	Name     string
	Username string
	Pin      string
}

// RequestHelpdeskReset validates a helpdesk reset request and forwards it.
// Nothing is persisted.
func (s *Service) RequestHelpdeskReset(
	ctx context.Context,
	name string,
	email string,
	confirmEmail string,
	pin string,
) error {
	for _, f := range []struct{ name, value string }{
		{"name", name},
		{"email", email},
		{"confirm_email", confirmEmail},
		{"pin", pin},
	} {
		if f.value == "" {
			return &ValidationError{Field: f.name, Err: ErrMissingField}
		}
	}

	if email != confirmEmail {
		return &ValidationError{Field: "confirm_email", Err: ErrEmailMismatch}
	}

	if !isFourDigits(pin) {
		return &ValidationError{Field: "pin", Err: ErrPinFormat}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.UpstreamTimeout)
	defer cancel()

	err := s.notifier.NotifyHelpdesk(ctx, HelpdeskRequest{
		Name:     name,
		Username: email,
		Pin:      pin,
	})
	if err != nil {
		return &UpstreamError{Message: fmt.Sprintf("failed to notify helpdesk: %v", err)}
	}

	slog.Info("helpdesk reset requested", "username", email)
	return nil
}

func isFourDigits(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
