package api_test

import (
	"errors"
	"net/http"
	"testing"

	"git.sr.ht/~jakintosh/setpass/internal/testutil"
)

func TestProvision_Success(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	// admin provisions a new user and gets the token back
	result := testutil.Put(env.Router, "/token/alice", `{"pin": "1234", "password": "old-secret"}`, nil,
		testutil.AuthToken(testutil.AdminCredential), testutil.ContentTypeJSON())
	testutil.ExpectStatus(t, http.StatusOK, result)

	token := string(result.Body)
	if token == "" {
		t.Fatal("expected token in body")
	}

	// the token can be redeemed
	env.Provider.SetPassword("alice", "old-secret")
	result = testutil.PostForm(env.Router, "/?token="+token, redeemForm("pw", "pw", "1234"), nil)
	testutil.ExpectBody(t, http.StatusOK, "Password set.", result)
}

func TestProvision_NoCredential(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	result := testutil.Put(env.Router, "/token/alice", `{"pin": "1234", "password": "pw"}`, nil)
	testutil.ExpectBody(t, http.StatusUnauthorized, "Unauthorized", result)
}

func TestProvision_NotAdmin(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	result := testutil.Put(env.Router, "/token/alice", `{"pin": "1234", "password": "pw"}`, nil,
		testutil.AuthToken("member-token"))
	testutil.ExpectBody(t, http.StatusForbidden, "Forbidden", result)
}

func TestProvision_VerifierDown(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)
	env.Provider.AdminErr = errors.New("timeout")

	result := testutil.Put(env.Router, "/token/alice", `{"pin": "1234", "password": "pw"}`, nil,
		testutil.AuthToken(testutil.AdminCredential))
	testutil.ExpectBody(t, http.StatusUnauthorized, "Unauthorized", result)
}

func TestProvision_BadJSON(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	// admins get a 400 for a malformed body
	result := testutil.Put(env.Router, "/token/alice", `{not json`, nil,
		testutil.AuthToken(testutil.AdminCredential))
	testutil.ExpectStatus(t, http.StatusBadRequest, result)

	// anonymous callers are rejected before the body is considered
	result = testutil.Put(env.Router, "/token/alice", `{not json`, nil)
	testutil.ExpectStatus(t, http.StatusUnauthorized, result)
}

func TestProvision_NewUserMissingField(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	result := testutil.Put(env.Router, "/token/alice", `{"password": "pw"}`, nil,
		testutil.AuthToken(testutil.AdminCredential))
	testutil.ExpectBody(t, http.StatusBadRequest, "Missing required field!", result)
}

func TestProvision_ExistingUserEmptyBody(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	// setup env
	first := env.ProvisionTestUser(t, "alice", "1234", "old-secret")

	// an empty object refreshes the token
	result := testutil.Put(env.Router, "/token/alice", `{}`, nil,
		testutil.AuthToken(testutil.AdminCredential))
	testutil.ExpectStatus(t, http.StatusOK, result)
	if string(result.Body) == first {
		t.Error("expected a new token")
	}
}

func TestProvision_WrongMethod(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	result := testutil.Post(env.Router, "/token/alice", `{}`, nil,
		testutil.AuthToken(testutil.AdminCredential))
	testutil.ExpectStatus(t, http.StatusMethodNotAllowed, result)
}
