// Package ratelimit implements a Redis-backed fixed-window request limiter.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("rate limiter unavailable")
)

const (
	DefaultMaxRequests = 20
	DefaultWindow      = time.Minute
	DefaultPrefix      = "setpass:rl"
)

type Config struct {
	MaxRequests int
	Window      time.Duration
	Prefix      string
}

// Limiter counts requests per key in fixed windows. The first request of a
// window sets the key's expiry; later requests only increment.
type Limiter struct {
	redis  *redis.Client
	config Config
}

func New(
	client *redis.Client,
	cfg Config,
) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Limiter{
		redis:  client,
		config: cfg,
	}
}

// Allow records one request for key within scope. It returns ErrRateLimited
// once more than MaxRequests were made in the current window.
func (l *Limiter) Allow(
	ctx context.Context,
	scope string,
	key string,
) error {
	k := l.config.Prefix + ":" + scope + ":" + key

	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		// NX leaves a running window alone and repairs a key without expiry
		pipe.ExpireNX(ctx, k, l.config.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	count := incr.Val()

	if count > int64(l.config.MaxRequests) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) Window() time.Duration {
	return l.config.Window
}
