package keystone_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"git.sr.ht/~jakintosh/setpass/internal/keystone"
	"git.sr.ht/~jakintosh/setpass/internal/service"
	"git.sr.ht/~jakintosh/setpass/pkg/keystonetest"
)

func setupKeystone(t *testing.T) (*keystonetest.Fake, *keystone.Client) {
	t.Helper()
	fake := keystonetest.New(keystonetest.Config{MinPasswordLength: 8})
	srv := fake.Start()
	t.Cleanup(srv.Close)

	client := keystone.New(keystone.Config{
		AuthURL:              srv.URL + "/v3/",
		AdminProjectName:     keystonetest.DefaultAdminProjectName,
		AdminProjectDomainID: keystonetest.DefaultAdminProjectDomainID,
	})
	return fake, client
}

func TestChangePassword_Success(t *testing.T) {
	t.Parallel()
	fake, client := setupKeystone(t)
	fake.AddUser("u-1", "old-password")

	err := client.ChangePassword(context.Background(), "u-1", "old-password", "new-password")
	if err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if got := fake.Password("u-1"); got != "new-password" {
		t.Errorf("password = %s, want new-password", got)
	}
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	t.Parallel()
	fake, client := setupKeystone(t)
	fake.AddUser("u-1", "old-password")

	// authentication failure surfaces keystone's body
	err := client.ChangePassword(context.Background(), "u-1", "stale-password", "new-password")
	var upstream *service.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !strings.Contains(upstream.Message, "requires authentication") {
		t.Errorf("unexpected message: %s", upstream.Message)
	}
	if fake.Changes() != 0 {
		t.Error("password should not change")
	}
}

func TestChangePassword_PolicyRejection(t *testing.T) {
	t.Parallel()
	fake, client := setupKeystone(t)
	fake.AddUser("u-1", "old-password")

	err := client.ChangePassword(context.Background(), "u-1", "old-password", "short")
	var upstream *service.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !strings.Contains(upstream.Message, "Password does not meet requirements.") {
		t.Errorf("unexpected message: %s", upstream.Message)
	}
}

func TestChangePassword_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := keystone.New(keystone.Config{AuthURL: url + "/v3"})
	err := client.ChangePassword(context.Background(), "u-1", "a", "b")
	var upstream *service.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func TestCheckAdminCredential(t *testing.T) {
	t.Parallel()
	fake, client := setupKeystone(t)
	fake.AddAdminToken("admin-token")
	fake.AddToken("member-token")

	tests := []struct {
		name       string
		credential string
		want       bool
	}{
		{"admin token", "admin-token", true},
		{"member token", "member-token", false},
		{"unknown token", "bogus", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.CheckAdminCredential(context.Background(), tt.credential)
			if err != nil {
				t.Fatalf("CheckAdminCredential failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("admin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckAdminCredential_WrongProject(t *testing.T) {
	t.Parallel()
	fake := keystonetest.New(keystonetest.Config{AdminProjectName: "cloud-admin"})
	fake.AddAdminToken("admin-token")
	srv := fake.Start()
	t.Cleanup(srv.Close)

	client := keystone.New(keystone.Config{
		AuthURL:              srv.URL + "/v3",
		AdminProjectName:     "admin",
		AdminProjectDomainID: keystonetest.DefaultAdminProjectDomainID,
	})
	got, err := client.CheckAdminCredential(context.Background(), "admin-token")
	if err != nil {
		t.Fatalf("CheckAdminCredential failed: %v", err)
	}
	if got {
		t.Error("token should not scope to a different project")
	}
}

func TestCheckAdminCredential_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := keystone.New(keystone.Config{AuthURL: srv.URL + "/v3"})
	_, err := client.CheckAdminCredential(context.Background(), "admin-token")
	if err == nil {
		t.Fatal("expected error for 5xx response")
	}
}

func TestCheckAdminCredential_SendsScope(t *testing.T) {
	t.Parallel()

	bodies := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		bodies <- buf.String()
		w.Header().Set("X-Subject-Token", "scoped")
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	client := keystone.New(keystone.Config{
		AuthURL:              srv.URL + "/v3",
		AdminProjectName:     "admin",
		AdminProjectDomainID: "default",
	})
	ok, err := client.CheckAdminCredential(context.Background(), "tok")
	if err != nil || !ok {
		t.Fatalf("CheckAdminCredential = %v, %v", ok, err)
	}
	body := <-bodies
	for _, want := range []string{`"methods":["token"]`, `"id":"tok"`, `"name":"admin"`, `"domain":{"id":"default"}`} {
		if !strings.Contains(body, want) {
			t.Errorf("request body %s missing %s", body, want)
		}
	}
}
