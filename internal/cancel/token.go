// Package cancel provides the cooperative cancellation token shared by the
// bulk index builder and the filter/search workers (spec section 2: "the
// cancel token (atomic flag polled by workers)").
package cancel

import "sync/atomic"

// Token is an atomic flag a worker polls periodically. It is not a
// context.Context: workers here are not I/O-bound goroutines that should
// unwind the call stack on cancellation, they are tight scan loops that
// check a boolean every N lines.
type Token struct {
	flag atomic.Bool
}

// New returns a fresh, unset token.
func New() *Token { return &Token{} }

// Cancel sets the flag. Safe to call from any goroutine, any number of
// times.
func (t *Token) Cancel() { t.flag.Store(true) }

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool { return t.flag.Load() }
