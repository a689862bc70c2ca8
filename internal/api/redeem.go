package api

import (
	"net/http"

	"git.sr.ht/~jakintosh/setpass/internal/app"
)

// ShowPasswordForm serves the set-password page. The token is only required
// to be present here; it is looked up on submit.
func (a *API) ShowPasswordForm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			writeText(w, http.StatusNotFound, msgTokenNotFound)
			return
		}
		a.pages.Render(w, r, app.PasswordForm, nil)
	}
}

func (a *API) Redeem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyLen)
		if err := r.ParseForm(); err != nil {
			logApiErr(r, "bad form request")
			writeText(w, http.StatusBadRequest, msgMissingField)
			return
		}

		token := r.URL.Query().Get("token")
		password := r.PostForm.Get("password")
		confirmPassword := r.PostForm.Get("confirm_password")
		pin := r.PostForm.Get("pin")

		if token == "" || password == "" || confirmPassword == "" || pin == "" {
			writeText(w, http.StatusBadRequest, msgMissingField)
			return
		}

		if password != confirmPassword {
			writeText(w, http.StatusBadRequest, msgPasswordsDiff)
			return
		}

		if err := a.service.Redeem(r.Context(), token, pin, password); err != nil {
			writeError(w, r, err)
			return
		}

		writeText(w, http.StatusOK, msgPasswordSet)
	}
}
