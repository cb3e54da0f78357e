// Package ratelimit implements sliding window abuse control with
// exponential blocking. Entries are keyed by operation class and client
// fingerprint and expire after an hour without use.
package ratelimit

import (
	"context"
	"time"

	"github.com/surrealdb/canvassync/pkg/logger"
)

type Limiter struct {
	store    Store
	identity string
	now      func() time.Time
	log      logger.Logger
}

type Option func(*Limiter)

// WithIdentity sets the client identity used by Check.
func WithIdentity(id string) Option {
	return func(l *Limiter) {
		l.identity = id
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func WithLogger(log logger.Logger) Option {
	return func(l *Limiter) {
		l.log = log
	}
}

// New returns a limiter over store. Without a store, entries are kept in memory.
func New(store Store, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	l := &Limiter{store: store, identity: "anonymous", now: time.Now, log: logger.Discard()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one attempt of cfg for the limiter's own identity.
func (l *Limiter) Check(ctx context.Context, cfg Config) (Result, error) {
	return l.CheckFor(ctx, cfg, l.identity)
}

// CheckFor counts one attempt of cfg for identity.
func (l *Limiter) CheckFor(ctx context.Context, cfg Config, identity string) (Result, error) {
	now := l.now()
	var res Result
	_, err := l.store.Update(ctx, entryKey(cfg, identity), func(e Entry, found bool) (Entry, time.Duration) {
		var next Entry
		next, res = evaluate(cfg, e, found, now)
		return next, ttl(next, now)
	})
	if err != nil {
		return Result{}, err
	}
	if !res.Allowed {
		l.log.Warn("ratelimit: rejected", "key", cfg.Key, "retryAfter", res.RetryAfter)
	}
	return res, nil
}

// Reset forgets the entry of cfg for the limiter's identity, e.g. after a
// successful login.
func (l *Limiter) Reset(ctx context.Context, cfg Config) error {
	return l.store.Delete(ctx, entryKey(cfg, l.identity))
}

func (l *Limiter) Identity() string {
	return l.identity
}

func (l *Limiter) Close() error {
	return l.store.Close()
}

func entryKey(cfg Config, identity string) string {
	return cfg.Key + ":" + identity
}
