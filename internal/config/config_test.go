package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"git.sr.ht/~jakintosh/setpass/internal/config"
	"github.com/spf13/cobra"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "setpass.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func validConfig() config.Config {
	var c config.Config
	c.AuthURL = "https://keystone.example.org/v3"
	c.MaxAttempts = 5
	c.TokenExpiration = 86400
	c.UpstreamTimeout = 10
	c.Port = 5000
	c.Database.Driver = "sqlite"
	c.Database.DSN = "setpass.db"
	c.Log.Format = "text"
	return c
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	c, err := config.Load(&cobra.Command{}, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", c.MaxAttempts)
	}
	if c.TokenExpiration != 86400 {
		t.Errorf("TokenExpiration = %d, want 86400", c.TokenExpiration)
	}
	if c.Port != 5000 {
		t.Errorf("Port = %d, want 5000", c.Port)
	}
	if c.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %s, want sqlite", c.Database.Driver)
	}
	if !c.MailTLS {
		t.Error("MailTLS should default to true")
	}
	if c.RateLimit.MaxRequests != 20 || c.RateLimit.Window != 60 {
		t.Errorf("RateLimit = %+v, want 20/60", c.RateLimit)
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := writeConfig(t, `
auth_url: https://keystone.example.org/v3
max_attempts: 3
database:
  driver: postgres
  dsn: postgres://setpass@db/setpass
mail_ip: 10.0.0.5
`)

	c, err := config.Load(&cobra.Command{}, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.AuthURL != "https://keystone.example.org/v3" {
		t.Errorf("AuthURL = %s", c.AuthURL)
	}
	if c.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", c.MaxAttempts)
	}
	if c.Database.Driver != "postgres" || c.Database.DSN != "postgres://setpass@db/setpass" {
		t.Errorf("Database = %+v", c.Database)
	}
	if c.MailIP != "10.0.0.5" {
		t.Errorf("MailIP = %s", c.MailIP)
	}
	// untouched keys keep their defaults
	if c.Port != 5000 {
		t.Errorf("Port = %d, want 5000", c.Port)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(&cobra.Command{}, filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "port: 6000\ndatabase:\n  dsn: file.db\n")
	t.Setenv("SETPASS_PORT", "7000")
	t.Setenv("SETPASS_DATABASE_DSN", "env.db")

	c, err := config.Load(&cobra.Command{}, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Port != 7000 {
		t.Errorf("Port = %d, want 7000", c.Port)
	}
	if c.Database.DSN != "env.db" {
		t.Errorf("Database.DSN = %s, want env.db", c.Database.DSN)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("SETPASS_PORT", "7000")

	cmd := &cobra.Command{}
	cmd.Flags().Int("port", 5000, "")
	if err := cmd.Flags().Set("port", "8000"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	c, err := config.Load(cmd, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Port != 8000 {
		t.Errorf("Port = %d, want 8000", c.Port)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"no auth url", func(c *config.Config) { c.AuthURL = "" }, "auth_url"},
		{"negative attempts", func(c *config.Config) { c.MaxAttempts = -1 }, "max_attempts"},
		{"zero expiration", func(c *config.Config) { c.TokenExpiration = 0 }, "token_expiration"},
		{"bad port", func(c *config.Config) { c.Port = 70000 }, "port"},
		{"bad driver", func(c *config.Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"mail without addresses", func(c *config.Config) { c.MailIP = "10.0.0.5" }, "helpdesk_email"},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %s", err, tt.want)
			}
		})
	}
}

func TestRedactedYAML(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.MailPassword = "smtp-secret"
	c.Redis.Password = "redis-secret"

	out, err := c.Redacted().YAML()
	if err != nil {
		t.Fatalf("YAML failed: %v", err)
	}
	s := string(out)
	if strings.Contains(s, "smtp-secret") || strings.Contains(s, "redis-secret") {
		t.Errorf("secrets leaked:\n%s", s)
	}
	if !strings.Contains(s, "auth_url:") || !strings.Contains(s, "keystone.example.org") {
		t.Errorf("missing auth_url:\n%s", s)
	}

	// the original is untouched
	if c.MailPassword != "smtp-secret" {
		t.Error("Redacted modified the receiver")
	}
}
