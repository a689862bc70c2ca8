package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.sr.ht/~jakintosh/setpass/internal/api"
	"git.sr.ht/~jakintosh/setpass/internal/app"
	"git.sr.ht/~jakintosh/setpass/internal/config"
	"git.sr.ht/~jakintosh/setpass/internal/database"
	"git.sr.ht/~jakintosh/setpass/internal/helpdesk"
	"git.sr.ht/~jakintosh/setpass/internal/keystone"
	"git.sr.ht/~jakintosh/setpass/internal/logging"
	"git.sr.ht/~jakintosh/setpass/internal/ratelimit"
	"git.sr.ht/~jakintosh/setpass/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 5000, "listen port")
	cmd.Flags().String("auth_url", "", "Keystone v3 endpoint")
	cmd.Flags().String("templates_dir", "", "directory of page overrides")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd, cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	ks := keystone.New(keystone.Config{
		AuthURL:              cfg.AuthURL,
		AdminProjectName:     cfg.AdminProjectName,
		AdminProjectDomainID: cfg.AdminProjectDomainID,
		RetryMax:             cfg.KeystoneRetries,
	})

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	svc := service.New(store, ks, ks, notifier, service.Options{
		MaxAttempts:     cfg.MaxAttempts,
		TokenExpiration: cfg.TokenExpirationDuration(),
		UpstreamTimeout: cfg.UpstreamTimeoutDuration(),
		PasswordMode:    service.PasswordModeProduction,
	})

	pages, err := app.NewPages(cfg.TemplatesDir)
	if err != nil {
		return err
	}
	defer pages.Close()

	var limiter api.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		limiter = ratelimit.New(rdb, ratelimit.Config{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimitWindow(),
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.New(svc, pages, limiter).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr, "database", cfg.Database.Driver, "mail", cfg.MailEnabled())
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildNotifier(cfg config.Config) (service.HelpdeskNotifier, error) {
	if !cfg.MailEnabled() {
		slog.Warn("mail_ip not set, helpdesk requests will fail")
		return helpdesk.Unconfigured{}, nil
	}
	notifier, err := helpdesk.New(helpdesk.Config{
		Host:         cfg.MailIP,
		Port:         cfg.MailPort,
		TLS:          cfg.MailTLS,
		Username:     cfg.MailUsername,
		Password:     cfg.MailPassword,
		Timeout:      cfg.UpstreamTimeoutDuration(),
		From:         cfg.TicketSender,
		To:           cfg.HelpdeskEmail,
		Subject:      cfg.TicketSubject,
		TemplatePath: cfg.HelpdeskTemplate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure helpdesk mail: %w", err)
	}
	return notifier, nil
}
