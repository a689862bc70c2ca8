// Package keystone talks to an OpenStack Keystone v3 identity service. It
// changes user passwords and decides whether a token belongs to an admin.
package keystone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/setpass/internal/service"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	subjectTokenHeader = "X-Subject-Token"
	authTokenHeader    = "X-Auth-Token"
	maxErrorBody       = 64 << 10
)

var ErrNoSubjectToken = errors.New("keystone response carried no subject token")

type Config struct {
	// AuthURL is the v3 endpoint, e.g. https://keystone.example.org:5000/v3
	AuthURL              string
	AdminProjectName     string
	AdminProjectDomainID string
	// RetryMax bounds retries of token requests on connection errors and 5xx.
	RetryMax int
}

// Client implements service.PasswordChanger and service.AdminVerifier.
type Client struct {
	authURL string
	project projectScope
	tokens  *retryablehttp.Client
	http    *http.Client
}

func New(cfg Config) *Client {
	tokens := retryablehttp.NewClient()
	tokens.RetryMax = cfg.RetryMax
	tokens.RetryWaitMin = 100 * time.Millisecond
	tokens.RetryWaitMax = time.Second
	tokens.Logger = slog.Default()
	tokens.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		authURL: strings.TrimRight(cfg.AuthURL, "/"),
		project: projectScope{
			Name:   cfg.AdminProjectName,
			Domain: domainRef{ID: cfg.AdminProjectDomainID},
		},
		tokens: tokens,
		// password changes are never retried
		http: tokens.HTTPClient,
	}
}

// ChangePassword authenticates as userID with oldPassword and sets
// newPassword. A rejection from Keystone is returned as a
// *service.UpstreamError carrying the response body.
func (c *Client) ChangePassword(
	ctx context.Context,
	userID string,
	oldPassword string,
	newPassword string,
) error {
	var body authRequest
	body.Auth.Identity = identity{
		Methods:  []string{"password"},
		Password: &passwordMethod{User: passwordUser{ID: userID, Password: oldPassword}},
	}
	userToken, err := c.issueToken(ctx, body)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(changePasswordRequest{
		User: changePasswordUser{
			Password:         newPassword,
			OriginalPassword: oldPassword,
		},
	})
	if err != nil {
		return err
	}

	endpoint := c.authURL + "/users/" + url.PathEscape(userID) + "/password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authTokenHeader, userToken)

	res, err := c.http.Do(req)
	if err != nil {
		return &service.UpstreamError{Message: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return upstreamError(res)
	}
	return nil
}

// CheckAdminCredential reports whether credential can be rescoped to the
// admin project. Keystone answering 401, 403 or 404 means it can't.
func (c *Client) CheckAdminCredential(
	ctx context.Context,
	credential string,
) (
	bool,
	error,
) {
	var body authRequest
	body.Auth.Identity = identity{
		Methods: []string{"token"},
		Token:   &tokenMethod{ID: credential},
	}
	body.Auth.Scope = &scope{Project: &c.project}

	_, err := c.issueToken(ctx, body)
	var upstream *statusError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &upstream) && isRejection(upstream.status):
		return false, nil
	default:
		return false, err
	}
}

func (c *Client) issueToken(
	ctx context.Context,
	body authRequest,
) (
	string,
	error,
) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/auth/tokens", payload)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.tokens.Do(req)
	if err != nil {
		return "", &service.UpstreamError{Message: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &statusError{status: res.StatusCode, err: upstreamError(res)}
	}

	token := res.Header.Get(subjectTokenHeader)
	if token == "" {
		return "", &service.UpstreamError{Message: ErrNoSubjectToken.Error()}
	}
	return token, nil
}

// statusError keeps the HTTP status of a failed token request next to the
// upstream error reported to callers.
type statusError struct {
	status int
	err    *service.UpstreamError
}

func (e *statusError) Error() string {
	return fmt.Sprintf("keystone returned %d: %v", e.status, e.err)
}

func (e *statusError) Unwrap() error {
	return e.err
}

func isRejection(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func upstreamError(res *http.Response) *service.UpstreamError {
	body, err := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return &service.UpstreamError{Message: res.Status}
	}
	return &service.UpstreamError{Message: string(body)}
}
