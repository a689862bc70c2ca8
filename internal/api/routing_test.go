package api_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"git.sr.ht/~jakintosh/setpass/internal/api"
	"git.sr.ht/~jakintosh/setpass/internal/ratelimit"
	"git.sr.ht/~jakintosh/setpass/internal/testutil"
)

type countingLimiter struct {
	mu    sync.Mutex
	max   int
	count map[string]int
	err   error
}

func (l *countingLimiter) Allow(ctx context.Context, scope, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.count == nil {
		l.count = make(map[string]int)
	}
	l.count[scope+":"+key]++
	if l.count[scope+":"+key] > l.max {
		return ratelimit.ErrRateLimited
	}
	return nil
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnvWithRouter(t)

	result := testutil.Get(env.Router, "/healthz", nil)
	testutil.ExpectBody(t, http.StatusOK, "ok", result)
}

func TestRateLimit_Redeem(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	router := api.New(env.Service, env.Pages, &countingLimiter{max: 2}).Router()

	// requests within the limit reach the handler
	for i := 0; i < 2; i++ {
		result := testutil.PostForm(router, "/?token=nope", redeemForm("pw", "pw", "1234"), nil)
		testutil.ExpectStatus(t, http.StatusNotFound, result)
	}

	// the next one is rejected
	result := testutil.PostForm(router, "/?token=nope", redeemForm("pw", "pw", "1234"), nil)
	testutil.ExpectStatus(t, http.StatusTooManyRequests, result)

	// GET pages are not limited
	result = testutil.Get(router, "/reset", nil)
	testutil.ExpectStatus(t, http.StatusOK, result)
}

func TestRateLimit_LimiterDownFailsOpen(t *testing.T) {
	t.Parallel()
	env := testutil.SetupTestEnv(t)
	limiter := &countingLimiter{err: errors.New("redis down")}
	router := api.New(env.Service, env.Pages, limiter).Router()

	result := testutil.PostForm(router, "/reset", helpdeskForm("A", "a@b", "a@b", "1234"), nil)
	testutil.ExpectStatus(t, http.StatusOK, result)
}
