package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// AbortKind classifies the current cancellation state of a session.
type AbortKind int32

const (
	// AbortActive is the normal, non-cancelled state.
	AbortActive AbortKind = iota
	// AbortSoft requests the current exchange stop at the next safe point
	// (between LLM calls, between tool rounds) without closing the session —
	// the user can submit again afterwards.
	AbortSoft
	// AbortHard requests immediate, unrecoverable shutdown: the session
	// transitions to Closed and cannot be reused.
	AbortHard
)

// AbortSignal is the session's cooperative cancellation primitive (§5): an
// atomic tri-state kind plus a context/cancel pair so the three suspension
// points named in §5 (LLM call, tool-execution batch, retry backoff sleep)
// can each express "wait for this or abort" as a select on Done(). Both Soft
// and Hard cancel the current context, interrupting in-flight work; only
// Hard additionally closes the session. ResetSoft swaps in a fresh
// soft-cancel context so a later submit() is not born already cancelled —
// mirroring AbortSignal::reset_soft() in original_source.
type AbortSignal struct {
	mu     sync.Mutex
	kind   atomic.Int32
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAbortSignal constructs an AbortSignal derived from parent.
func NewAbortSignal(parent context.Context) *AbortSignal {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &AbortSignal{parent: parent, ctx: ctx, cancel: cancel}
}

// Kind reports the current abort state with a single atomic load.
func (a *AbortSignal) Kind() AbortKind {
	if a == nil {
		return AbortActive
	}
	return AbortKind(a.kind.Load())
}

// TriggerSoft requests that the current exchange stop without closing the
// session.
func (a *AbortSignal) TriggerSoft() {
	if a == nil {
		return
	}
	a.kind.Store(int32(AbortSoft))
	a.mu.Lock()
	a.cancel()
	a.mu.Unlock()
}

// TriggerHard requests unrecoverable shutdown.
func (a *AbortSignal) TriggerHard() {
	if a == nil {
		return
	}
	a.kind.Store(int32(AbortHard))
	a.mu.Lock()
	a.cancel()
	a.mu.Unlock()
}

// ResetSoft clears a Soft abort and installs a fresh cancellation context so
// the next submit() starts uncancelled. A no-op when the current kind is not
// Soft (in particular, never resets a Hard abort).
func (a *AbortSignal) ResetSoft() {
	if a == nil {
		return
	}
	if a.Kind() != AbortSoft {
		return
	}
	a.mu.Lock()
	ctx, cancel := context.WithCancel(a.parent)
	a.ctx, a.cancel = ctx, cancel
	a.mu.Unlock()
	a.kind.Store(int32(AbortActive))
}

// Done returns the channel that closes when the current context is
// cancelled, for use in a select alongside the suspension point's own
// channel/future.
func (a *AbortSignal) Done() <-chan struct{} {
	if a == nil {
		ch := make(chan struct{})
		return ch
	}
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	return ctx.Done()
}
