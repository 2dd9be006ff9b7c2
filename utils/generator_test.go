package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewChargeReferenceIsUnique(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		ref := NewChargeReference(now)
		assert.True(t, strings.HasPrefix(ref, "CHG-"))
		assert.Len(t, ref, 30)
		_, dup := seen[ref]
		assert.False(t, dup, "duplicate reference %s", ref)
		seen[ref] = struct{}{}
	}
}
