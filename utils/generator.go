package utils

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewChargeReference returns a fresh, time-sortable reference for one
// charge attempt. References are never reused across attempts.
func NewChargeReference(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "CHG-" + ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
