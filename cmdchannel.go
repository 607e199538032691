// SPDX-License-Identifier: GPL-3.0-or-later

package oncp

import (
	"context"
	"sync/atomic"
)

// CmdKind identifies a command delivered on a [*CmdChannel].
type CmdKind int

const (
	// CmdCancel aborts the session immediately; in-flight I/O returns
	// an [ErrKind] of [KindInterrupted].
	CmdCancel CmdKind = iota

	// CmdPause sets the flag reported by [*CmdChannel.Paused]. It does
	// not cancel the contexts returned by [*CmdChannel.Watch], so
	// in-flight I/O is not interrupted; the reconnect/backoff loop reads
	// the flag and returns success rather than a failure.
	CmdPause

	// CmdDetach is handled exactly like CmdCancel: in-flight I/O
	// returns [KindInterrupted]. [*CmdChannel.Cancelled] reports which
	// of the two commands arrived; nothing else in this module treats
	// them differently.
	CmdDetach

	// CmdStats requests a synchronous snapshot of the live session
	// counters via the installed stats callback.
	CmdStats
)

// StatsHandler receives a snapshot of session counters in response to a
// CmdStats command. Injected at construction; there is no process-global
// callback registry.
type StatsHandler func(stats Stats)

// Stats is a snapshot of live session counters, reported to a
// [StatsHandler] when a CmdStats command arrives.
type Stats struct {
	BytesIn    uint64
	BytesOut   uint64
	PacketsIn  uint64
	PacketsOut uint64
	Reconnects uint64
}

// CmdChannel is the external control channel for a VPN session. It plays
// the role of the original "command file descriptor": every blocking
// operation performed by [*CancellableIO], [*HttpsTransport], and the
// reconnect backoff loop races its own completion against a context
// derived from this channel and returns promptly when a command
// arrives.
//
// CmdChannel is the single source of external control for a session:
// there is no process-global cancel flag. Construct one per
// [SessionContext] and pass it down to every component that needs to be
// interruptible.
//
// The zero value is not ready to use; construct with [NewCmdChannel].
type CmdChannel struct {
	cancelled    atomic.Bool
	cancelKind   atomic.Int32
	paused       atomic.Bool
	statsHandler StatsHandler

	// cancelCtx is done exactly once, the first time a CmdCancel or
	// CmdDetach is delivered. [*CmdChannel.Watch] derives every
	// watched context from this same ctx via [context.AfterFunc], so a
	// single cancellation wakes every concurrently outstanding
	// watcher rather than just one.
	cancelCtx  context.Context
	cancelFunc context.CancelFunc
}

// NewCmdChannel returns a ready-to-use [*CmdChannel].
//
// statsHandler may be nil, in which case CmdStats commands are silently
// acknowledged without invoking a callback.
func NewCmdChannel(statsHandler StatsHandler) *CmdChannel {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &CmdChannel{
		statsHandler: statsHandler,
		cancelCtx:    cancelCtx,
		cancelFunc:   cancelFunc,
	}
}

// Send delivers a command. CmdStats is handled synchronously here
// (invoking the stats handler with the given snapshot); CmdCancel and
// CmdDetach are recorded in flags and broadcast to every outstanding
// [*CmdChannel.Watch] context by cancelling cancelCtx; CmdPause only
// sets a flag, since a paused session's contexts must not be cancelled
// (see [CmdChannel.Paused]).
func (c *CmdChannel) Send(ctx context.Context, kind CmdKind, stats Stats) {
	switch kind {
	case CmdStats:
		if c.statsHandler != nil {
			c.statsHandler(stats)
		}
	case CmdCancel, CmdDetach:
		c.cancelled.Store(true)
		c.cancelKind.Store(int32(kind))
		c.cancelFunc()
	case CmdPause:
		c.paused.Store(true)
	}
}

// Cancelled reports whether a CmdCancel or CmdDetach was ever delivered.
func (c *CmdChannel) Cancelled() (bool, CmdKind) {
	return c.cancelled.Load(), CmdKind(c.cancelKind.Load())
}

// Paused reports whether a CmdPause was delivered and not yet cleared.
func (c *CmdChannel) Paused() bool {
	return c.paused.Load()
}

// ClearPause clears the pause flag, e.g. once the controller has
// resumed a previously paused session.
func (c *CmdChannel) ClearPause() {
	c.paused.Store(false)
}

// Watch returns a context that is done as soon as a CmdCancel or
// CmdDetach is delivered to c, or when parent is done, whichever
// happens first. This is the primitive every cancellable operation in
// this package composes with: see [CmdWatch].
//
// Every call registers against the same cancelCtx via
// [context.AfterFunc], the pattern [*CancelWatchFunc] uses to arrange
// cleanup without a dedicated always-blocked goroutine per watcher: a
// single CmdCancel/CmdDetach wakes every context Watch has ever
// returned, not just the one that happened to win a channel receive.
// The registration is released as soon as the returned context is
// done for any reason, so a normally-completing operation does not
// leak it past that point.
func (c *CmdChannel) Watch(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(c.cancelCtx, cancel)
	context.AfterFunc(ctx, func() { stop() })
	return ctx
}

// CmdWatch derives a context from ctx that is additionally cancelled
// when cmd observes CmdCancel/CmdDetach. It is the Go rendition of
// CancellableIO's original "readiness wait that also watches the
// command fd": instead of racing a select() over fd sets, every
// cancellable operation below derives its working context once via
// CmdWatch and then uses ordinary context-aware I/O.
func CmdWatch(ctx context.Context, cmd *CmdChannel) context.Context {
	if cmd == nil {
		return ctx
	}
	return cmd.Watch(ctx)
}
