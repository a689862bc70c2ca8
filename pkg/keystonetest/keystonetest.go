// Package keystonetest provides an in-process fake of the Keystone v3
// endpoints setpass depends on: password and token authentication with
// project scoping, and the self-service password change.
//
// The fake keeps users and tokens in memory:
//
//	fake := keystonetest.New(keystonetest.Config{AdminProjectName: "admin", AdminProjectDomainID: "default"})
//	fake.AddUser("u-123", "old-password")
//	fake.AddAdminToken("admin-token")
//	srv := fake.Start()
//	defer srv.Close()
//
//	client := keystone.New(keystone.Config{AuthURL: srv.URL + "/v3", ...})
package keystonetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	DefaultAdminProjectName     = "admin"
	DefaultAdminProjectDomainID = "default"
)

type Config struct {
	AdminProjectName     string
	AdminProjectDomainID string
	// MinPasswordLength rejects shorter new passwords with a 400, like a
	// Keystone password policy would.
	MinPasswordLength int
}

type Fake struct {
	config Config

	mu          sync.Mutex
	users       map[string]string
	userTokens  map[string]string
	adminTokens map[string]bool
	otherTokens map[string]bool
	changes     int
}

func New(cfg Config) *Fake {
	if cfg.AdminProjectName == "" {
		cfg.AdminProjectName = DefaultAdminProjectName
	}
	if cfg.AdminProjectDomainID == "" {
		cfg.AdminProjectDomainID = DefaultAdminProjectDomainID
	}
	return &Fake{
		config:      cfg,
		users:       make(map[string]string),
		userTokens:  make(map[string]string),
		adminTokens: make(map[string]bool),
		otherTokens: make(map[string]bool),
	}
}

// Start serves the fake on a local listener. The v3 API lives under
// srv.URL + "/v3".
func (f *Fake) Start() *httptest.Server {
	return httptest.NewServer(f.Handler())
}

func (f *Fake) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v3/auth/tokens", f.handleIssueToken()).Methods(http.MethodPost)
	r.HandleFunc("/v3/users/{user_id}/password", f.handleChangePassword()).Methods(http.MethodPost)
	return r
}

func (f *Fake) AddUser(userID, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = password
}

// Password returns the current password of userID.
func (f *Fake) Password(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID]
}

// AddAdminToken registers a token that can be scoped to the admin project.
func (f *Fake) AddAdminToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adminTokens[token] = true
}

// AddToken registers a valid token without admin project access.
func (f *Fake) AddToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otherTokens[token] = true
}

// Changes counts successful password changes.
func (f *Fake) Changes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changes
}

type authRequest struct {
	Auth struct {
		Identity struct {
			Methods  []string `json:"methods"`
			Password *struct {
				User struct {
					ID       string `json:"id"`
					Password string `json:"password"`
				} `json:"user"`
			} `json:"password"`
			Token *struct {
				ID string `json:"id"`
			} `json:"token"`
		} `json:"identity"`
		Scope *struct {
			Project *struct {
				Name   string `json:"name"`
				Domain struct {
					ID string `json:"id"`
				} `json:"domain"`
			} `json:"project"`
		} `json:"scope"`
	} `json:"auth"`
}

func (f *Fake) handleIssueToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeKeystoneError(w, http.StatusBadRequest, "Expecting to find auth in request body.")
			return
		}
		id := req.Auth.Identity

		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case id.Password != nil:
			password, ok := f.users[id.Password.User.ID]
			if !ok || password != id.Password.User.Password {
				writeKeystoneError(w, http.StatusUnauthorized, "The request you have made requires authentication.")
				return
			}
			token := uuid.NewString()
			f.userTokens[token] = id.Password.User.ID
			w.Header().Set("X-Subject-Token", token)
			w.WriteHeader(http.StatusCreated)

		case id.Token != nil:
			token := id.Token.ID
			if !f.adminTokens[token] && !f.otherTokens[token] {
				writeKeystoneError(w, http.StatusNotFound, fmt.Sprintf("Could not find token: %s.", token))
				return
			}
			scope := req.Auth.Scope
			if scope != nil && scope.Project != nil {
				p := scope.Project
				if !f.adminTokens[token] ||
					p.Name != f.config.AdminProjectName ||
					p.Domain.ID != f.config.AdminProjectDomainID {
					writeKeystoneError(w, http.StatusUnauthorized, "User has no access to project.")
					return
				}
			}
			w.Header().Set("X-Subject-Token", uuid.NewString())
			w.WriteHeader(http.StatusCreated)

		default:
			writeKeystoneError(w, http.StatusBadRequest, "Expecting to find identity in auth.")
		}
	}
}

type changePasswordRequest struct {
	User struct {
		Password         string `json:"password"`
		OriginalPassword string `json:"original_password"`
	} `json:"user"`
}

func (f *Fake) handleChangePassword() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["user_id"]

		var req changePasswordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeKeystoneError(w, http.StatusBadRequest, "Expecting to find user in request body.")
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		current, ok := f.users[userID]
		if !ok || current != req.User.OriginalPassword {
			writeKeystoneError(w, http.StatusUnauthorized, "The request you have made requires authentication.")
			return
		}
		if len(req.User.Password) < f.config.MinPasswordLength {
			writeKeystoneError(w, http.StatusBadRequest, "Password does not meet requirements.")
			return
		}

		f.users[userID] = req.User.Password
		f.changes++
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeKeystoneError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"title":   http.StatusText(status),
		},
	})
}
