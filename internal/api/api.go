// Package api serves the setpass HTTP endpoints. Responses are plain text;
// the status code is the contract.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"git.sr.ht/~jakintosh/setpass/internal/app"
	"git.sr.ht/~jakintosh/setpass/internal/service"
)

const (
	msgTokenNotFound  = "Token not found"
	msgMissingField   = "Missing required field!"
	msgPasswordsDiff  = "Passwords do not match"
	msgTokenExpired   = "Token expired"
	msgWrongPin       = "Wrong pin"
	msgAccountLocked  = "Account locked, too many wrong attempts!"
	msgPasswordSet    = "Password set."
	msgEmailsDiff     = "Email addresses do not match."
	msgPinFormat      = "Pin should be 4-digit number"
	msgHelpdeskSent   = "The request has been forwarded to the helpdesk."
	msgUnauthorized   = "Unauthorized"
	msgForbidden      = "Forbidden"
	msgBadRequest     = "Bad request"
	msgRateLimited    = "Too many requests, try again later."
	msgInternalError  = "Internal server error"
	authTokenHeader   = "X-Auth-Token"
	maxRequestBodyLen = 1 << 20
)

// Limiter throttles requests per scope and client key.
type Limiter interface {
	Allow(ctx context.Context, scope, key string) error
}

type API struct {
	service *service.Service
	pages   *app.Pages
	limiter Limiter
}

// New builds the API. limiter may be nil, which disables rate limiting.
func New(
	svc *service.Service,
	pages *app.Pages,
	limiter Limiter,
) *API {
	return &API{
		service: svc,
		pages:   pages,
		limiter: limiter,
	}
}

func decodeRequest[T any](r *http.Request, req *T) error {
	return json.NewDecoder(r.Body).Decode(req)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// writeError maps a workflow error to its status code and response body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		upstream   *service.UpstreamError
		validation *service.ValidationError
	)

	switch {
	case errors.Is(err, service.ErrTokenNotFound):
		writeText(w, http.StatusNotFound, msgTokenNotFound)
	case errors.Is(err, service.ErrTokenExpired):
		writeText(w, http.StatusForbidden, msgTokenExpired)
	case errors.Is(err, service.ErrWrongPin):
		writeText(w, http.StatusForbidden, msgWrongPin)
	case errors.Is(err, service.ErrAccountLocked):
		writeText(w, http.StatusForbidden, msgAccountLocked)
	case errors.Is(err, service.ErrUnauthorized):
		logApiErr(r, err.Error())
		writeText(w, http.StatusUnauthorized, msgUnauthorized)
	case errors.Is(err, service.ErrForbidden):
		writeText(w, http.StatusForbidden, msgForbidden)
	case errors.As(err, &validation):
		writeValidationError(w, validation)
	case errors.As(err, &upstream):
		logApiErr(r, err.Error())
		writeText(w, http.StatusInternalServerError, upstream.Message)
	default:
		logApiErr(r, err.Error())
		writeText(w, http.StatusInternalServerError, msgInternalError)
	}
}

func writeValidationError(w http.ResponseWriter, err *service.ValidationError) {
	switch {
	case errors.Is(err, service.ErrMissingField):
		writeText(w, http.StatusBadRequest, msgMissingField)
	case errors.Is(err, service.ErrEmailMismatch):
		writeText(w, http.StatusBadRequest, msgEmailsDiff)
	case errors.Is(err, service.ErrPinFormat):
		writeText(w, http.StatusBadRequest, msgPinFormat)
	default:
		writeText(w, http.StatusBadRequest, "Invalid field: "+err.Field)
	}
}

func logApiErr(r *http.Request, msg string) {
	slog.Warn(msg, "method", r.Method, "uri", r.RequestURI)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
