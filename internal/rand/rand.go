// Package rand produces non-cryptographic random values for polling cache busters and backoff jitter.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// TokenLength is the length of the cache-busting token sent with every poll.
	TokenLength = 12
)

var source = newSource()

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSource() *lockedSource {
	seed := make([]byte, 16)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &lockedSource{
		//nolint:gosec // no security required
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

// Token returns an alphanumeric string of length n.
// Distribution is uniform over the charset.
func Token(n int) string {
	buf := make([]byte, n)

	source.mu.Lock()
	for i := range buf {
		buf[i] = charset[source.rng.IntN(len(charset))]
	}
	source.mu.Unlock()

	return string(buf)
}

// Float64 returns a number in [0.0, 1.0).
func Float64() float64 {
	source.mu.Lock()
	defer source.mu.Unlock()
	return source.rng.Float64()
}
