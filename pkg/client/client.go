package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	ErrWrongPin      = errors.New("wrong pin")
	ErrAccountLocked = errors.New("account locked")
	ErrRateLimited   = errors.New("rate limited")
	ErrServer        = errors.New("server error")
)

const maxResponseBody = 64 << 10

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("setpass: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProvisionRequest fields left nil keep the stored value of an existing
// request. Both are required the first time a user is provisioned.
type ProvisionRequest struct {
	Pin      *string `json:"pin,omitempty"`
	Password *string `json:"password,omitempty"`
}

// String returns a pointer to s, for ProvisionRequest fields.
func String(s string) *string {
	return &s
}

// Provision creates or refreshes the reset request of userID and returns
// the new token.
func (c *Client) Provision(
	ctx context.Context,
	adminToken string,
	userID string,
	req ProvisionRequest,
) (
	string,
	error,
) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/token/" + url.PathEscape(userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if adminToken != "" {
		httpReq.Header.Set("X-Auth-Token", adminToken)
	}

	return c.do(httpReq)
}

// Redeem sets newPassword for the user behind token.
func (c *Client) Redeem(
	ctx context.Context,
	token string,
	pin string,
	newPassword string,
) error {
	form := url.Values{
		"password":         {newPassword},
		"confirm_password": {newPassword},
		"pin":              {pin},
	}
	endpoint := c.baseURL + "/?" + url.Values{"token": {token}}.Encode()
	_, err := c.postForm(ctx, endpoint, form)
	return err
}

type HelpdeskRequest struct {
	Name  string
	Email string
	Pin   string
}

// RequestHelpdeskReset asks the helpdesk to reset a password by hand.
func (c *Client) RequestHelpdeskReset(
	ctx context.Context,
	req HelpdeskRequest,
) error {
	form := url.Values{
		"name":          {req.Name},
		"email":         {req.Email},
		"confirm_email": {req.Email},
		"pin":           {req.Pin},
	}
	_, err := c.postForm(ctx, c.baseURL+"/reset", form)
	return err
}

// Health returns nil when the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *Client) postForm(
	ctx context.Context,
	endpoint string,
	form url.Values,
) (
	string,
	error,
) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	message := string(body)

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return message, nil
	}
	return "", &APIError{
		StatusCode: res.StatusCode,
		Message:    message,
		kind:       classify(res.StatusCode, message),
	}
}

func classify(status int, message string) error {
	switch status {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrTokenNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusForbidden:
		switch {
		case message == "Token expired":
			return ErrTokenExpired
		case message == "Wrong pin":
			return ErrWrongPin
		case strings.HasPrefix(message, "Account locked"):
			return ErrAccountLocked
		default:
			return ErrForbidden
		}
	default:
		return ErrServer
	}
}
