package rand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestID(t *testing.T) {
	id := NewRequestID(16)
	assert.Len(t, id, 16)
	for _, c := range id {
		assert.True(t, strings.ContainsRune(charset, c))
	}
	assert.NotEqual(t, id, NewRequestID(16))
}

func TestNewSecureID(t *testing.T) {
	seen := map[string]struct{}{}
	for range 100 {
		id, err := NewSecureID(24)
		require.NoError(t, err)
		require.Len(t, id, 24)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func BenchmarkNewRequestID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewRequestID(16)
	}
}
