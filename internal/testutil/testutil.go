// Package testutil provides test environment setup and utilities for internal package tests.
package testutil

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/setpass/internal/api"
	"git.sr.ht/~jakintosh/setpass/internal/app"
	"git.sr.ht/~jakintosh/setpass/internal/database"
	"git.sr.ht/~jakintosh/setpass/internal/service"
)

const (
	// AdminCredential is the only credential the fake provider treats as admin.
	AdminCredential = "admin-token"
	MaxAttempts     = 5
	TokenExpiration = 24 * time.Hour
)

// StartTime is the initial reading of every test clock.
var StartTime = time.Date(2016, 1, 1, 12, 0, 0, 0, time.UTC)

// TestEnv provides all dependencies needed for testing
type TestEnv struct {
	DB       *database.SQLiteStore
	Service  *service.Service
	Pages    *app.Pages
	Router   http.Handler
	Provider *FakeProvider
	Notifier *FakeNotifier
	Clock    *Clock
}

// SetupTestEnv creates an isolated test environment with in-memory SQLite
func SetupTestEnv(
	t *testing.T,
) *TestEnv {
	t.Helper()

	// create in-memory SQLite database
	db, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	provider := NewFakeProvider()
	notifier := &FakeNotifier{}
	clock := NewClock(StartTime)

	svc := service.New(
		db.ResetStore(),
		provider,
		provider,
		notifier,
		service.Options{
			MaxAttempts:     MaxAttempts,
			TokenExpiration: TokenExpiration,
			UpstreamTimeout: time.Second,
			PasswordMode:    service.PasswordModeTesting,
			Clock:           clock.Now,
		},
	)

	pages, err := app.NewPages("")
	if err != nil {
		t.Fatalf("failed to load pages: %v", err)
	}

	return &TestEnv{
		DB:       db,
		Service:  svc,
		Pages:    pages,
		Provider: provider,
		Notifier: notifier,
		Clock:    clock,
	}
}

// SetupTestEnvWithRouter creates TestEnv and configures the API router
func SetupTestEnvWithRouter(
	t *testing.T,
) *TestEnv {
	t.Helper()
	env := SetupTestEnv(t)
	a := api.New(env.Service, env.Pages, nil)
	env.Router = a.Router()
	return env
}

// ProvisionTestUser registers userID with the fake provider and provisions a
// reset request for it, returning the token.
func (env *TestEnv) ProvisionTestUser(
	t *testing.T,
	userID string,
	pin string,
	password string,
) string {
	t.Helper()
	env.Provider.SetPassword(userID, password)
	token, err := env.Service.Provision(
		context.Background(),
		AdminCredential,
		userID,
		service.ProvisionRequest{Pin: &pin, Password: &password},
	)
	if err != nil {
		t.Fatalf("failed to provision test user: %v", err)
	}
	return token
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FakeProvider is an in-process identity provider. It implements both
// service.PasswordChanger and service.AdminVerifier.
type FakeProvider struct {
	mu        sync.Mutex
	passwords map[string]string
	changes   int

	// ChangeErr, when set, is returned by every ChangePassword call.
	ChangeErr error
	// AdminErr, when set, is returned by every CheckAdminCredential call.
	AdminErr error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{passwords: make(map[string]string)}
}

func (p *FakeProvider) SetPassword(userID, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passwords[userID] = password
}

// Password returns the current password of userID.
func (p *FakeProvider) Password(userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passwords[userID]
}

// Changes counts successful password changes.
func (p *FakeProvider) Changes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changes
}

func (p *FakeProvider) ChangePassword(
	ctx context.Context,
	userID string,
	oldPassword string,
	newPassword string,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ChangeErr != nil {
		return p.ChangeErr
	}
	current, ok := p.passwords[userID]
	if !ok || current != oldPassword {
		return &service.UpstreamError{Message: "The request you have made requires authentication."}
	}
	p.passwords[userID] = newPassword
	p.changes++
	return nil
}

func (p *FakeProvider) CheckAdminCredential(
	ctx context.Context,
	credential string,
) (
	bool,
	error,
) {
	if p.AdminErr != nil {
		return false, p.AdminErr
	}
	return credential == AdminCredential, nil
}

// FakeNotifier records helpdesk requests instead of sending them.
type FakeNotifier struct {
	mu       sync.Mutex
	requests []service.HelpdeskRequest

	// Err, when set, is returned by every NotifyHelpdesk call.
	Err error
}

func (n *FakeNotifier) NotifyHelpdesk(
	ctx context.Context,
	req service.HelpdeskRequest,
) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.requests = append(n.requests, req)
	return nil
}

// Requests returns a copy of every recorded request.
func (n *FakeNotifier) Requests() []service.HelpdeskRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]service.HelpdeskRequest(nil), n.requests...)
}
