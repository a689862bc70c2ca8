// setpass-testserver runs setpass against an in-process fake Keystone and
// prints a one-line JSON contract describing it on stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"git.sr.ht/~jakintosh/setpass/internal/api"
	"git.sr.ht/~jakintosh/setpass/internal/app"
	"git.sr.ht/~jakintosh/setpass/internal/database"
	"git.sr.ht/~jakintosh/setpass/internal/keystone"
	"git.sr.ht/~jakintosh/setpass/internal/service"
	"git.sr.ht/~jakintosh/setpass/pkg/keystonetest"
	flag "github.com/spf13/pflag"
)

type Config struct {
	ListenAddr      string
	AdminToken      string
	Users           []UserCredentials
	MaxAttempts     int
	TokenExpiration time.Duration
	DataDir         string
	Keep            bool
	Quiet           bool
}

type UserCredentials struct {
	ID       string
	Password string
}

// OutputContract is the JSON structure emitted on stdout
type OutputContract struct {
	BaseURL     string       `json:"base_url"`
	KeystoneURL string       `json:"keystone_url"`
	AdminToken  string       `json:"admin_token"`
	MaxAttempts int          `json:"max_attempts"`
	Paths       OutputPaths  `json:"paths"`
	Users       []OutputUser `json:"users"`
}

type OutputPaths struct {
	DataDir string `json:"data_dir"`
	DBPath  string `json:"db_path"`
}

type OutputUser struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.Quiet {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	}

	if err := run(cfg); err != nil {
		slog.Error("testserver failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	dataDir, cleanup, err := createDataDir(cfg)
	if err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	defer cleanup()
	dbPath := filepath.Join(dataDir, "setpass.db")

	// fake keystone
	fake := keystonetest.New(keystonetest.Config{})
	fake.AddAdminToken(cfg.AdminToken)
	for _, user := range cfg.Users {
		fake.AddUser(user.ID, user.Password)
	}
	ksListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	defer ksListener.Close()
	keystoneURL := "http://" + ksListener.Addr().String() + "/v3"
	go http.Serve(ksListener, fake.Handler())

	// setpass
	store, err := database.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ks := keystone.New(keystone.Config{
		AuthURL:              keystoneURL,
		AdminProjectName:     keystonetest.DefaultAdminProjectName,
		AdminProjectDomainID: keystonetest.DefaultAdminProjectDomainID,
	})
	svc := service.New(store, ks, ks, logNotifier{}, service.Options{
		MaxAttempts:     cfg.MaxAttempts,
		TokenExpiration: cfg.TokenExpiration,
	})
	pages, err := app.NewPages("")
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer listener.Close()

	contract := OutputContract{
		BaseURL:     "http://" + listener.Addr().String(),
		KeystoneURL: keystoneURL,
		AdminToken:  cfg.AdminToken,
		MaxAttempts: svc.Options().MaxAttempts,
		Paths: OutputPaths{
			DataDir: dataDir,
			DBPath:  dbPath,
		},
		Users: make([]OutputUser, len(cfg.Users)),
	}
	for i, user := range cfg.Users {
		contract.Users[i] = OutputUser{ID: user.ID, Password: user.Password}
	}
	if err := json.NewEncoder(os.Stdout).Encode(contract); err != nil {
		return fmt.Errorf("failed to encode JSON contract: %w", err)
	}

	srv := &http.Server{Handler: api.New(svc, pages, nil).Router()}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Serve(listener)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parseFlags(args []string) (Config, error) {
	var cfg Config
	var users []string

	fs := flag.NewFlagSet("setpass-testserver", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", "127.0.0.1:0", "listen address (default uses ephemeral port)")
	fs.StringVar(&cfg.AdminToken, "admin-token", "admin-token", "Keystone token accepted as admin")
	fs.StringArrayVar(&users, "user", nil, "Keystone user in format 'id:password' (repeatable)")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", service.DefaultMaxAttempts, "wrong PINs tolerated before lockout")
	fs.DurationVar(&cfg.TokenExpiration, "token-expiration", service.DefaultTokenExpiration, "reset token lifetime")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "data directory (uses temp dir if not set)")
	fs.BoolVar(&cfg.Keep, "keep", false, "keep data directory on exit")
	fs.BoolVarP(&cfg.Quiet, "quiet", "q", false, "suppress log output")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	for _, user := range users {
		id, password, ok := strings.Cut(user, ":")
		if !ok || id == "" {
			return cfg, fmt.Errorf("user must be in format 'id:password', got '%s'", user)
		}
		cfg.Users = append(cfg.Users, UserCredentials{ID: id, Password: password})
	}
	if len(cfg.Users) == 0 {
		cfg.Users = []UserCredentials{{ID: "test", Password: "test"}}
	}
	return cfg, nil
}

func createDataDir(cfg Config) (string, func(), error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return "", nil, err
		}
		return cfg.DataDir, func() {}, nil
	}

	dir, err := os.MkdirTemp("", "setpass-testserver-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		if !cfg.Keep {
			_ = os.RemoveAll(dir)
		}
	}
	return dir, cleanup, nil
}

// logNotifier logs helpdesk requests instead of mailing them.
type logNotifier struct{}

func (logNotifier) NotifyHelpdesk(ctx context.Context, req service.HelpdeskRequest) error {
	slog.Info("helpdesk request", "name", req.Name, "username", req.Username)
	return nil
}
