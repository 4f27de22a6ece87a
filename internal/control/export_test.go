package control

import (
	"context"
	"time"
)

// SetWait replaces the loop's sleep so tests run without real delays.
func (l *Loop) SetWait(fn func(ctx context.Context, d time.Duration) error) {
	l.wait = fn
}
