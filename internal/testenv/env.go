// Package testenv locates the external services integration tests run
// against and records log output for assertions.
package testenv

import (
	"os"
	"strings"
	"testing"
)

const (
	// EnvSurrealURL points at a running SurrealDB. Tests needing one are
	// skipped when it is unset.
	EnvSurrealURL  = "SURREALDB_URL"
	EnvSurrealUser = "SURREALDB_USER"
	EnvSurrealPass = "SURREALDB_PASS"

	// EnvRedisAddr points at a running redis.
	EnvRedisAddr = "REDIS_ADDR"
)

// SurrealURL returns the websocket URL of the test database. An http(s)
// URL is rewritten to ws(s).
func SurrealURL(t testing.TB) string {
	t.Helper()
	u := os.Getenv(EnvSurrealURL)
	if u == "" {
		t.Skipf("%s not set", EnvSurrealURL)
	}
	if strings.HasPrefix(u, "http") {
		u = "ws" + strings.TrimPrefix(u, "http")
	}
	return u
}

// SurrealCredentials defaults to root/root, the credentials of the
// database started by the CI workflow.
func SurrealCredentials() (user, pass string) {
	user, pass = os.Getenv(EnvSurrealUser), os.Getenv(EnvSurrealPass)
	if user == "" {
		user = "root"
	}
	if pass == "" {
		pass = "root"
	}
	return user, pass
}

func RedisAddr(t testing.TB) string {
	t.Helper()
	addr := os.Getenv(EnvRedisAddr)
	if addr == "" {
		t.Skipf("%s not set", EnvRedisAddr)
	}
	return addr
}
