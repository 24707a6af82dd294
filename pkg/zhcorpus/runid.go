package zhcorpus

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

// runIDs issues monotonically increasing run identifiers.
type runIDs struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newRunIDs() *runIDs {
	return &runIDs{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (r *runIDs) next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Now(), r.entropy).String()
}
