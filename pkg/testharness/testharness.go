// Package testharness runs setpass-testserver as a subprocess for
// end-to-end tests of programs that talk to setpass.
package testharness

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"
)

// Config holds configuration for starting the test harness.
type Config struct {
	Users           []User
	AdminToken      string
	MaxAttempts     int
	TokenExpiration time.Duration
	ListenAddr      string
	DataDir         string
	Keep            bool
	BinaryPath      string
	Quiet           bool
}

// User is a Keystone user known to the fake identity provider.
type User struct {
	ID       string
	Password string
}

// Harness represents a running setpass-testserver instance.
type Harness struct {
	BaseURL     string
	KeystoneURL string
	AdminToken  string
	MaxAttempts int
	DBPath      string
	Users       []User

	cmd    *exec.Cmd
	cancel context.CancelFunc
}

type outputContract struct {
	BaseURL     string       `json:"base_url"`
	KeystoneURL string       `json:"keystone_url"`
	AdminToken  string       `json:"admin_token"`
	MaxAttempts int          `json:"max_attempts"`
	Paths       outputPaths  `json:"paths"`
	Users       []outputUser `json:"users"`
}

type outputPaths struct {
	DataDir string `json:"data_dir"`
	DBPath  string `json:"db_path"`
}

type outputUser struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

// Start spawns a setpass-testserver and returns a handle to it.
// It registers cleanup with t.Cleanup().
func Start(t *testing.T, cfg Config) *Harness {
	t.Helper()

	binaryPath := FindBinary(cfg.BinaryPath)
	if binaryPath == "" {
		t.Fatal("setpass-testserver binary not found (check PATH or set Config.BinaryPath or SETPASS_TESTSERVER_BIN)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, binaryPath, buildArgs(cfg)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		t.Fatalf("failed to create stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		t.Fatalf("failed to create stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("failed to start setpass-testserver: %v", err)
	}

	// first stdout line is the JSON contract
	scanner := bufio.NewScanner(stdout)
	if !scanner.Scan() {
		cancel()
		_ = cmd.Wait()
		t.Fatal("failed to read JSON contract from setpass-testserver")
	}

	var contract outputContract
	if err := json.Unmarshal(scanner.Bytes(), &contract); err != nil {
		cancel()
		_ = cmd.Wait()
		t.Fatalf("failed to parse JSON contract: %v", err)
	}

	if !cfg.Quiet {
		go func() {
			for scanner.Scan() {
				t.Logf("[setpass-testserver] %s", scanner.Text())
			}
		}()
		go func() {
			stderrScanner := bufio.NewScanner(stderr)
			for stderrScanner.Scan() {
				t.Logf("[setpass-testserver stderr] %s", stderrScanner.Text())
			}
		}()
	}

	harness := &Harness{
		BaseURL:     contract.BaseURL,
		KeystoneURL: contract.KeystoneURL,
		AdminToken:  contract.AdminToken,
		MaxAttempts: contract.MaxAttempts,
		DBPath:      contract.Paths.DBPath,
		Users:       make([]User, len(contract.Users)),
		cmd:         cmd,
		cancel:      cancel,
	}
	for i, user := range contract.Users {
		harness.Users[i] = User{ID: user.ID, Password: user.Password}
	}

	t.Cleanup(func() {
		if err := harness.Close(); err != nil {
			t.Logf("warning: harness cleanup failed: %v", err)
		}
	})

	return harness
}

// Close stops the setpass-testserver process.
func (h *Harness) Close() error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- h.cmd.Wait()
	}()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return err
		}
		return nil
	case <-time.After(5 * time.Second):
		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("force kill: %w", err)
		}
		return fmt.Errorf("timeout waiting for graceful shutdown, process killed")
	}
}

// FindBinary resolves the setpass-testserver executable from configPath,
// $SETPASS_TESTSERVER_BIN or $PATH. It returns "" when none exists.
func FindBinary(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	if envPath := os.Getenv("SETPASS_TESTSERVER_BIN"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	if pathBinary, err := exec.LookPath("setpass-testserver"); err == nil {
		return pathBinary
	}

	return ""
}

func buildArgs(cfg Config) []string {
	var args []string

	if cfg.AdminToken != "" {
		args = append(args, "--admin-token", cfg.AdminToken)
	}
	if cfg.MaxAttempts > 0 {
		args = append(args, "--max-attempts", strconv.Itoa(cfg.MaxAttempts))
	}
	if cfg.TokenExpiration > 0 {
		args = append(args, "--token-expiration", cfg.TokenExpiration.String())
	}
	if cfg.ListenAddr != "" {
		args = append(args, "--listen", cfg.ListenAddr)
	}
	if cfg.DataDir != "" {
		args = append(args, "--data-dir", cfg.DataDir)
	}
	if cfg.Keep {
		args = append(args, "--keep")
	}
	if cfg.Quiet {
		args = append(args, "--quiet")
	}
	for _, user := range cfg.Users {
		args = append(args, "--user", fmt.Sprintf("%s:%s", user.ID, user.Password))
	}

	return args
}
