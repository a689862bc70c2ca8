// Package service implements the password-reset workflow for setpass.
// It handles token provisioning, PIN-gated redemption with lockout and expiry,
// and validation of helpdesk reset requests.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	ErrWrongPin      = errors.New("wrong pin")
	ErrAccountLocked = errors.New("account locked")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrInternal      = errors.New("internal error")
)

// UpstreamError reports a failure of an external capability. Message is the
// text returned by the upstream provider.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return "upstream error: " + e.Message
}

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid field '%s'", e.Field)
	}
	return fmt.Sprintf("invalid field '%s': %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// PasswordChanger changes a password at the upstream identity provider.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
}

// AdminVerifier reports whether a credential grants admin rights upstream.
type AdminVerifier interface {
	CheckAdminCredential(ctx context.Context, credential string) (bool, error)
}

// HelpdeskNotifier forwards a human-mediated reset request.
type HelpdeskNotifier interface {
	NotifyHelpdesk(ctx context.Context, req HelpdeskRequest) error
}

// PasswordMode controls bcrypt cost for PIN hashing.
// Use PasswordModeProduction for real deployments and PasswordModeTesting only in tests.
type PasswordMode int

const (
	// PasswordModeProduction uses bcrypt.DefaultCost (10).
	PasswordModeProduction PasswordMode = iota
	// PasswordModeTesting uses bcrypt.MinCost (4) for fast test execution.
	// WARNING: This mode will panic if used outside of go test.
	PasswordModeTesting
)

// Cost returns the bcrypt cost for this mode.
// Panics if PasswordModeTesting is used outside of a test environment.
func (m PasswordMode) Cost() int {
	switch m {
	case PasswordModeTesting:
		if !runningUnderTest() {
			panic("service: PasswordModeTesting used outside of test environment")
		}
		return bcrypt.MinCost
	default:
		return bcrypt.DefaultCost
	}
}

func runningUnderTest() bool {
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

// Options configures the workflow. Zero durations and a nil Clock fall back
// to defaults.
type Options struct {
	MaxAttempts     int
	TokenExpiration time.Duration
	UpstreamTimeout time.Duration
	PasswordMode    PasswordMode
	Clock           func() time.Time
}

const (
	DefaultMaxAttempts     = 5
	DefaultTokenExpiration = 24 * time.Hour
	DefaultUpstreamTimeout = 10 * time.Second
)

// Service coordinates the reset workflow. It depends on a ResetStore for
// persistence and on ports for every network call.
type Service struct {
	store    ResetStore
	changer  PasswordChanger
	verifier AdminVerifier
	notifier HelpdeskNotifier
	opts     Options
}

func New(
	store ResetStore,
	changer PasswordChanger,
	verifier AdminVerifier,
	notifier HelpdeskNotifier,
	opts Options,
) *Service {
	if opts.TokenExpiration <= 0 {
		opts.TokenExpiration = DefaultTokenExpiration
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.PasswordMode == PasswordModeTesting {
		slog.Warn("using insecure pin hashing (testing mode)")
	}
	return &Service{
		store:    store,
		changer:  changer,
		verifier: verifier,
		notifier: notifier,
		opts:     opts,
	}
}

// Options returns the effective workflow configuration.
func (s *Service) Options() Options {
	return s.opts
}

func (s *Service) now() time.Time {
	return s.opts.Clock()
}
