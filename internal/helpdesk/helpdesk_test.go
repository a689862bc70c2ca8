package helpdesk_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.sr.ht/~jakintosh/setpass/internal/helpdesk"
	"git.sr.ht/~jakintosh/setpass/internal/service"
)

func testConfig() helpdesk.Config {
	return helpdesk.Config{
		Host:    "localhost",
		Port:    2525,
		TLS:     true,
		From:    "setpass@example.org",
		To:      "helpdesk@example.org",
		Subject: "Reset request",
	}
}

func renderMessage(t *testing.T, n *helpdesk.Notifier, req service.HelpdeskRequest) string {
	t.Helper()
	msg, err := n.BuildMessage(req)
	if err != nil {
		t.Fatalf("BuildMessage failed: %v", err)
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	return buf.String()
}

func TestBuildMessage_DefaultTemplate(t *testing.T) {
	t.Parallel()
	n, err := helpdesk.New(testConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	raw := renderMessage(t, n, service.HelpdeskRequest{Name: "Alice", Username: "alice@example.org", Pin: "0042"})
	for _, want := range []string{
		"Subject: Reset request",
		"From: <setpass@example.org>",
		"To: <helpdesk@example.org>",
		"Name: Alice",
		"Username: alice@example.org",
		"PIN: 0042",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestBuildMessage_TemplateFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "helpdesk.txt")
	if err := os.WriteFile(path, []byte("{{.Username}} asked for a reset, pin {{.Pin}}"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg := testConfig()
	cfg.TemplatePath = path
	n, err := helpdesk.New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	raw := renderMessage(t, n, service.HelpdeskRequest{Name: "Bob", Username: "bob@example.org", Pin: "1234"})
	if !strings.Contains(raw, "bob@example.org asked for a reset, pin 1234") {
		t.Errorf("message body not rendered from file:\n%s", raw)
	}
}

func TestBuildMessage_PlaceholderTemplateFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "helpdesk.txt")
	text := "Name: {name}\nUsername: {username}\nPin: {pin}\n"
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg := testConfig()
	cfg.TemplatePath = path
	n, err := helpdesk.New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	raw := renderMessage(t, n, service.HelpdeskRequest{Name: "Carol", Username: "carol@example.org", Pin: "9876"})
	for _, want := range []string{"Name: Carol", "Username: carol@example.org", "Pin: 9876"} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q:\n%s", want, raw)
		}
	}
	for _, placeholder := range []string{"{name}", "{username}", "{pin}"} {
		if strings.Contains(raw, placeholder) {
			t.Errorf("placeholder %s left in message:\n%s", placeholder, raw)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*helpdesk.Config)
	}{
		{"missing sender", func(c *helpdesk.Config) { c.From = "" }},
		{"missing recipient", func(c *helpdesk.Config) { c.To = "" }},
		{"missing template file", func(c *helpdesk.Config) { c.TemplatePath = "/nonexistent/helpdesk.txt" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := helpdesk.New(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildMessage_BadAddress(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.To = "not an address"
	n, err := helpdesk.New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := n.BuildMessage(service.HelpdeskRequest{Name: "A", Username: "a@b", Pin: "1234"}); err == nil {
		t.Error("expected error for invalid recipient")
	}
}

func TestNotifyHelpdesk_Unreachable(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Port = 1
	cfg.Timeout = time.Second
	n, err := helpdesk.New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = n.NotifyHelpdesk(context.Background(), service.HelpdeskRequest{Name: "A", Username: "a@b", Pin: "1234"})
	if err == nil {
		t.Error("expected error when no SMTP server is listening")
	}
}

func TestUnconfigured(t *testing.T) {
	t.Parallel()

	err := helpdesk.Unconfigured{}.NotifyHelpdesk(context.Background(), service.HelpdeskRequest{})
	if !errors.Is(err, helpdesk.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
