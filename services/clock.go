package services

import (
	"context"
	"time"
)

// Clock is the only source of "now" for service logic.
type Clock interface {
	Now(ctx context.Context) time.Time
}

type SystemClock struct{}

func (SystemClock) Now(context.Context) time.Time {
	return time.Now().UTC()
}

// FixedClock always reports the same instant. Used by jobs replaying a
// specific time and by tests.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now(context.Context) time.Time {
	return c.T.UTC()
}
