package ratelimit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/surrealdb/canvassync/internal/rand"
)

const deviceIDLength = 32

// Fingerprint derives a best effort client identity from a random device id
// persisted at deviceIDPath and coarse environment signals. It exists for
// flows that run before any durable user identity.
func Fingerprint(deviceIDPath string) (string, error) {
	id, err := loadOrCreateDeviceID(deviceIDPath)
	if err != nil {
		return "", err
	}
	host, _ := os.Hostname()
	zone, _ := time.Now().Zone()
	return fingerprintOf(id, runtime.GOOS, runtime.GOARCH, host, zone), nil
}

func fingerprintOf(signals ...string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(signals, "|")))
}

func loadOrCreateDeviceID(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id, err := rand.NewSecureID(deviceIDLength)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create device id dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}
