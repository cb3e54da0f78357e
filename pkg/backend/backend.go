// Package backend defines the keyed store the session stores synchronize
// against: path addressed writes, atomic multi-path writes, push
// subscriptions delivering whole values, and server-side disconnect hooks.
//
// Implementations live in subpackages: memory (in-process), wsrelay
// (websocket relay over a memory server) and surreal (SurrealDB).
package backend

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Backend is the contract every session store consumes.
type Backend interface {
	// Write replaces the value at path. A nil value deletes the path.
	Write(ctx context.Context, path string, value any) error

	// MultiPathWrite applies every path in updates atomically.
	// Subscribers observe either none or all of the updates.
	MultiPathWrite(ctx context.Context, updates map[string]any) error

	// Read returns the current value at path.
	Read(ctx context.Context, path string) (Snapshot, error)

	// Subscribe delivers the current value at path, then the full value
	// again after every change at, above or below path. Slow consumers
	// may miss intermediate values but always receive the latest one.
	Subscribe(ctx context.Context, path string) (*Subscription, error)

	// OnDisconnect registers a server-side update of the children of path
	// applied when this connection goes away, cleanly or not.
	OnDisconnect(ctx context.Context, path string, update map[string]any) error

	// NewKey returns a unique, time ordered key for creates.
	NewKey() string

	Close() error
}

// Delete removes path.
func Delete(ctx context.Context, b Backend, path string) error {
	return b.Write(ctx, path, nil)
}

// NewKey returns a ULID string. Keys generated later sort after earlier ones.
func NewKey() string {
	return ulid.Make().String()
}

// ServerTimestamp returns a placeholder replaced by the server's clock,
// as unix milliseconds, when the write is applied.
func ServerTimestamp() map[string]any {
	return map[string]any{serverValueKey: serverValueTimestamp}
}

const (
	serverValueKey       = ".sv"
	serverValueTimestamp = "timestamp"
)

func isServerTimestamp(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	s, ok := m[serverValueKey].(string)
	return ok && s == serverValueTimestamp
}

// Join builds a path from segments, skipping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}
