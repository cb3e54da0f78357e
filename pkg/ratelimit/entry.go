package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/surrealdb/canvassync/pkg/constants"
)

// Entry is the state kept for one (config key, client) pair.
type Entry struct {
	Attempts     int       `json:"attempts"`
	FirstAttempt time.Time `json:"firstAttempt"`
	LastAttempt  time.Time `json:"lastAttempt"`
	Blocked      bool      `json:"blocked"`
	BlockUntil   time.Time `json:"blockUntil"`
	// Violations counts blocks since the entry was created. Each block
	// lasts twice as long as the previous one.
	Violations int `json:"violations"`
}

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Err returns nil when the call was allowed, a *LimitError otherwise.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &LimitError{RetryAfter: r.RetryAfter}
}

// LimitError matches constants.ErrRateLimited with errors.Is.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", constants.ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error {
	return constants.ErrRateLimited
}

// RetryAfter extracts the wait from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le.RetryAfter, true
	}
	return 0, false
}

// evaluate advances e by one attempt at now.
func evaluate(cfg Config, e Entry, found bool, now time.Time) (Entry, Result) {
	if !found {
		e = Entry{FirstAttempt: now}
	}

	if e.Blocked {
		if e.BlockUntil.After(now) {
			return e, Result{ResetAt: e.BlockUntil, RetryAfter: e.BlockUntil.Sub(now)}
		}
		e.Blocked = false
		e.Attempts = 0
		e.FirstAttempt = now
	}

	if now.Sub(e.FirstAttempt) > cfg.Window {
		e.Attempts = 0
		e.FirstAttempt = now
	}

	e.Attempts++
	e.LastAttempt = now

	if e.Attempts > cfg.MaxAttempts {
		e.Violations++
		e.Blocked = true
		e.BlockUntil = now.Add(blockDuration(cfg, e.Violations))
		return e, Result{ResetAt: e.BlockUntil, RetryAfter: e.BlockUntil.Sub(now)}
	}

	return e, Result{
		Allowed:   true,
		Remaining: cfg.MaxAttempts - e.Attempts,
		ResetAt:   e.FirstAttempt.Add(cfg.Window),
	}
}

func blockDuration(cfg Config, violations int) time.Duration {
	if violations < 1 {
		violations = 1
	}
	// cap the exponent so the shift cannot overflow
	if violations > 20 {
		violations = 20
	}
	return cfg.Window * time.Duration(1<<(violations-1))
}

// ttl keeps an entry for the idle period past its last relevant instant.
func ttl(e Entry, now time.Time) time.Duration {
	d := constants.RateLimitIdleTTL
	if e.Blocked && e.BlockUntil.After(now) {
		d += e.BlockUntil.Sub(now)
	}
	return d
}
