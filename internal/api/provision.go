package api

import (
	"net/http"

	"git.sr.ht/~jakintosh/setpass/internal/service"
	"github.com/gorilla/mux"
)

type ProvisionRequest struct {
	Pin      *string `json:"pin"`
	Password *string `json:"password"`
}

func (a *API) Provision() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := r.Header.Get(authTokenHeader)
		userID := mux.Vars(r)["user_id"]

		var req ProvisionRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyLen)
		if err := decodeRequest(r, &req); err != nil {
			// callers learn about a bad body only once authorized
			if err := a.service.AuthorizeAdmin(r.Context(), credential); err != nil {
				writeError(w, r, err)
				return
			}
			logApiErr(r, "bad json request")
			writeText(w, http.StatusBadRequest, msgBadRequest)
			return
		}

		token, err := a.service.Provision(
			r.Context(),
			credential,
			userID,
			service.ProvisionRequest{
				Pin:      req.Pin,
				Password: req.Password,
			},
		)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeText(w, http.StatusOK, token)
	}
}
