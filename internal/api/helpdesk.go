package api

import (
	"net/http"

	"git.sr.ht/~jakintosh/setpass/internal/app"
)

func (a *API) ShowResetForm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.pages.Render(w, r, app.ResetForm, nil)
	}
}

func (a *API) RequestHelpdeskReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyLen)
		if err := r.ParseForm(); err != nil {
			logApiErr(r, "bad form request")
			writeText(w, http.StatusBadRequest, msgMissingField)
			return
		}

		err := a.service.RequestHelpdeskReset(
			r.Context(),
			r.PostForm.Get("name"),
			r.PostForm.Get("email"),
			r.PostForm.Get("confirm_email"),
			r.PostForm.Get("pin"),
		)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeText(w, http.StatusOK, msgHelpdeskSent)
	}
}
