// Package session keeps caller context between tool calls of one voice call.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound means no live context exists for the call id.
var ErrNotFound = errors.New("session context not found")

// Context is what the authentication step learns about the caller.
type Context struct {
	UserID      string            `json:"user_id"`
	TenantID    string            `json:"tenant_id"`
	CallerPhone string            `json:"caller_phone,omitempty"`
	UserName    string            `json:"user_name,omitempty"`
	TenantName  string            `json:"tenant_name,omitempty"`
	Values      map[string]string `json:"values,omitempty"`
}

// Store persists contexts by call id. Put overwrites; there is no merge.
type Store interface {
	Put(ctx context.Context, callID string, sc Context) error
	Get(ctx context.Context, callID string) (Context, error)
}

// Pruner removes expired entries.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Retrying wraps a Store so that Get tolerates a context that was written by
// another instance but is not yet visible.
type Retrying struct {
	Store    Store
	Attempts int
	Backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
}

// WithRetry returns s with bounded, exponentially backed-off lookups.
func WithRetry(s Store, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{Store: s, Attempts: attempts, Backoff: backoff, sleep: sleepCtx}
}

func (r *Retrying) Put(ctx context.Context, callID string, sc Context) error {
	return r.Store.Put(ctx, callID, sc)
}

// Get retries only on ErrNotFound. Other errors return immediately.
func (r *Retrying) Get(ctx context.Context, callID string) (Context, error) {
	delay := r.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		var sc Context
		sc, err = r.Store.Get(ctx, callID)
		if err == nil || !errors.Is(err, ErrNotFound) || attempt >= r.Attempts {
			return sc, err
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return Context{}, err
		}
		delay *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
