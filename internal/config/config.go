// Package config loads setpass configuration from defaults, a YAML file,
// SETPASS_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configName = "setpass"
	envPrefix  = "setpass"
	redacted   = "********"
)

type Config struct {
	AuthURL              string `mapstructure:"auth_url" yaml:"auth_url"`
	AdminProjectName     string `mapstructure:"admin_project_name" yaml:"admin_project_name"`
	AdminProjectDomainID string `mapstructure:"admin_project_domain_id" yaml:"admin_project_domain_id"`
	KeystoneRetries      int    `mapstructure:"keystone_retries" yaml:"keystone_retries"`

	MaxAttempts     int `mapstructure:"max_attempts" yaml:"max_attempts"`
	TokenExpiration int `mapstructure:"token_expiration" yaml:"token_expiration"`
	UpstreamTimeout int `mapstructure:"upstream_timeout" yaml:"upstream_timeout"`

	Port         int    `mapstructure:"port" yaml:"port"`
	TemplatesDir string `mapstructure:"templates_dir" yaml:"templates_dir"`

	Database struct {
		Driver string `mapstructure:"driver" yaml:"driver"`
		DSN    string `mapstructure:"dsn" yaml:"dsn"`
	} `mapstructure:"database" yaml:"database"`

	Redis struct {
		Addr     string `mapstructure:"addr" yaml:"addr"`
		Password string `mapstructure:"password" yaml:"password"`
		DB       int    `mapstructure:"db" yaml:"db"`
	} `mapstructure:"redis" yaml:"redis"`

	RateLimit struct {
		MaxRequests int `mapstructure:"max_requests" yaml:"max_requests"`
		Window      int `mapstructure:"window" yaml:"window"`
	} `mapstructure:"ratelimit" yaml:"ratelimit"`

	MailIP           string `mapstructure:"mail_ip" yaml:"mail_ip"`
	MailPort         int    `mapstructure:"mail_port" yaml:"mail_port"`
	MailUsername     string `mapstructure:"mail_username" yaml:"mail_username"`
	MailPassword     string `mapstructure:"mail_password" yaml:"mail_password"`
	MailTLS          bool   `mapstructure:"mail_tls" yaml:"mail_tls"`
	TicketSender     string `mapstructure:"ticket_sender" yaml:"ticket_sender"`
	HelpdeskEmail    string `mapstructure:"helpdesk_email" yaml:"helpdesk_email"`
	TicketSubject    string `mapstructure:"ticket_subject" yaml:"ticket_subject"`
	HelpdeskTemplate string `mapstructure:"helpdesk_template" yaml:"helpdesk_template"`

	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`
}

// Defaults lists every key with its default value. Keys without a default
// are listed with a zero value so environment variables can set them.
func Defaults() map[string]any {
	return map[string]any{
		"auth_url":                "",
		"admin_project_name":      "admin",
		"admin_project_domain_id": "default",
		"keystone_retries":        2,
		"max_attempts":            5,
		"token_expiration":        86400,
		"upstream_timeout":        10,
		"port":                    5000,
		"templates_dir":           "",
		"database.driver":         "sqlite",
		"database.dsn":            "setpass.db",
		"redis.addr":              "",
		"redis.password":          "",
		"redis.db":                0,
		"ratelimit.max_requests":  20,
		"ratelimit.window":        60,
		"mail_ip":                 "",
		"mail_port":               25,
		"mail_username":           "",
		"mail_password":           "",
		"mail_tls":                true,
		"ticket_sender":           "",
		"helpdesk_email":          "",
		"ticket_subject":          "Password reset request",
		"helpdesk_template":       "",
		"log.level":               "info",
		"log.format":              "text",
	}
}

// Load reads the configuration. An explicit configFile must exist; otherwise
// setpass.yaml is looked up in the working directory, the user config
// directory and /etc/setpass, and its absence is not an error.
func Load(
	cmd *cobra.Command,
	configFile string,
) (
	Config,
	error,
) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, configName))
	}
	v.AddConfigPath("/etc/setpass")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to parse config: %w", err)
	}
	return c, nil
}

// Validate checks the settings needed to serve.
func (c Config) Validate() error {
	var errs []error
	if c.AuthURL == "" {
		errs = append(errs, errors.New("auth_url is required"))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, errors.New("max_attempts must not be negative"))
	}
	if c.TokenExpiration <= 0 {
		errs = append(errs, errors.New("token_expiration must be positive"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("upstream_timeout must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver '%s'", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Redis.Addr != "" && (c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("ratelimit.max_requests and ratelimit.window must be positive"))
	}
	if c.MailEnabled() && (c.TicketSender == "" || c.HelpdeskEmail == "") {
		errs = append(errs, errors.New("ticket_sender and helpdesk_email are required when mail_ip is set"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format '%s'", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c Config) MailEnabled() bool {
	return c.MailIP != ""
}

func (c Config) TokenExpirationDuration() time.Duration {
	return time.Duration(c.TokenExpiration) * time.Second
}

func (c Config) UpstreamTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamTimeout) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.Window) * time.Second
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.MailPassword)
	mask(&c.Redis.Password)
	if c.Database.Driver == "postgres" {
		mask(&c.Database.DSN)
	}
	return c
}

// YAML renders c in the config file format.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
