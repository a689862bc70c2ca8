package api

import (
	"errors"
	"net/http"

	"git.sr.ht/~jakintosh/setpass/internal/ratelimit"
	"github.com/gorilla/mux"
)

func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", a.ShowPasswordForm()).Methods(http.MethodGet)
	r.Handle("/", a.rateLimited("redeem", a.Redeem())).Methods(http.MethodPost)
	r.HandleFunc("/reset", a.ShowResetForm()).Methods(http.MethodGet)
	r.Handle("/reset", a.rateLimited("helpdesk", a.RequestHelpdeskReset())).Methods(http.MethodPost)
	r.HandleFunc("/token/{user_id}", a.Provision()).Methods(http.MethodPut)
	r.HandleFunc("/healthz", a.Health()).Methods(http.MethodGet)
	return r
}

func (a *API) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ok")
	}
}

// rateLimited throttles next per client IP. A limiter outage lets requests
// through.
func (a *API) rateLimited(scope string, next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := a.limiter.Allow(r.Context(), scope, clientIP(r))
		switch {
		case errors.Is(err, ratelimit.ErrRateLimited):
			logApiErr(r, "rate limited")
			writeText(w, http.StatusTooManyRequests, msgRateLimited)
			return
		case err != nil:
			logApiErr(r, err.Error())
		}
		next.ServeHTTP(w, r)
	})
}
