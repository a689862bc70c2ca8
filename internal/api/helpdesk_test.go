package api_test

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"git.sr.ht/~jakintosh/setpass/internal/testutil"
)

func helpdeskForm(name, email, confirm, pin string) url.Values {
	return url.Values{
		"name":          {name},
		"email":         {email},
		"confirm_email": {confirm},
		"pin":           {pin},
	}
}

func TestShowResetForm(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	result := testutil.Get(env.Router, "/reset", nil)
	testutil.ExpectStatus(t, http.StatusOK, result)
	if !strings.Contains(string(result.Body), `name="confirm_email"`) {
		t.Error("expected reset form")
	}
}

func TestRequestHelpdeskReset_Success(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	result := testutil.PostForm(env.Router, "/reset", helpdeskForm("Alice", "a@example.org", "a@example.org", "1234"), nil)
	testutil.ExpectBody(t, http.StatusOK, "The request has been forwarded to the helpdesk.", result)

	if n := len(env.Notifier.Requests()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestRequestHelpdeskReset_Errors(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	tests := []struct {
		name string
		form url.Values
		body string
	}{
		{"missing name", helpdeskForm("", "a@b", "a@b", "1234"), "Missing required field!"},
		{"missing pin", helpdeskForm("A", "a@b", "a@b", ""), "Missing required field!"},
		{"email mismatch", helpdeskForm("A", "a@b", "b@a", "1234"), "Email addresses do not match."},
		{"short pin", helpdeskForm("A", "a@b", "a@b", "123"), "Pin should be 4-digit number"},
		{"letters in pin", helpdeskForm("A", "a@b", "a@b", "12ab"), "Pin should be 4-digit number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := testutil.PostForm(env.Router, "/reset", tt.form, nil)
			testutil.ExpectBody(t, http.StatusBadRequest, tt.body, result)
		})
	}
}

func TestRequestHelpdeskReset_NotifierDown(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)
	env.Notifier.Err = errors.New("dial tcp: connection refused")

	result := testutil.PostForm(env.Router, "/reset", helpdeskForm("Alice", "a@b", "a@b", "1234"), nil)
	testutil.ExpectStatus(t, http.StatusInternalServerError, result)
}
