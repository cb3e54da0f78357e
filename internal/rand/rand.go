// Package rand produces the random identifiers used on the wire: relay
// request ids, invite token ids and device ids.
package rand

import (
	cryptorand "crypto/rand"
	"math/rand/v2"
	"sync"
)

// charset is base62 so ids are safe in paths, URLs and JWT claims.
const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	charsetLen     = len(charset)
	unbiasedMaxVal = byte((256 / charsetLen) * charsetLen)
)

var requestIDs = struct {
	sync.Mutex
	rng *rand.Rand
}{rng: newSeeded()}

func newSeeded() *rand.Rand {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("rand: crypto source unavailable: " + err.Error())
	}
	//nolint:gosec // request ids are not secrets
	return rand.New(rand.NewChaCha8(seed))
}

// NewRequestID returns a base62 id that correlates one relay request with
// its response. It only has to be unique among a connection's in-flight
// requests.
func NewRequestID(length int) string {
	buf := make([]byte, length)

	requestIDs.Lock()
	for i := range buf {
		buf[i] = charset[requestIDs.rng.IntN(charsetLen)]
	}
	requestIDs.Unlock()

	return string(buf)
}

// NewSecureID returns an unguessable, uniformly distributed base62 string
// drawn from crypto/rand. Bytes that would bias the distribution are rejected.
func NewSecureID(length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)

	for len(out) < length {
		if _, err := cryptorand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= unbiasedMaxVal {
				continue
			}
			out = append(out, charset[int(b)%charsetLen])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
