// SPDX-License-Identifier: GPL-3.0-or-later

package esp

import (
	"context"
	"time"

	"github.com/bassosimone/oncp"
)

// ReconnectIntervalMax bounds the linearly growing backoff between
// reconnect attempts.
const ReconnectIntervalMax = 300 * time.Second

// ConnectFunc re-establishes the underlying TCP/TLS transport and
// resumes the ESP session. A [oncp.KindCookieExpired] error ends
// reconnection definitively, matching an EPERM response from the
// gateway.
type ConnectFunc func(ctx context.Context) error

// Reconnect tears down and retries connect in a loop, sleeping
// interval seconds before each retry and growing interval by step each
// time up to [ReconnectIntervalMax], until connect succeeds, the total
// elapsed time exceeds timeout, the session is cancelled through cmd,
// or connect reports the cookie expired.
//
// A pause request (cmd.Paused()) returns nil immediately: the caller
// is expected to resume the session later rather than treating pause
// as a failure.
func Reconnect(ctx context.Context, cmd *oncp.CmdChannel, connect ConnectFunc, interval, step, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if cancelled, _ := cmd.Cancelled(); cancelled {
			return oncp.NewError(oncp.KindInterrupted, "esp.Reconnect", errCancelled)
		}
		if cmd.Paused() {
			return nil
		}

		err := connect(ctx)
		if err == nil {
			return nil
		}
		if oncp.KindOf(err) == oncp.KindCookieExpired {
			return err
		}

		if time.Now().After(deadline) {
			return oncp.NewError(oncp.KindTimedOut, "esp.Reconnect", errTimeout)
		}

		select {
		case <-ctx.Done():
			return oncp.NewError(oncp.KindInterrupted, "esp.Reconnect", ctx.Err())
		case <-time.After(interval):
		}

		interval += step
		if interval > ReconnectIntervalMax {
			interval = ReconnectIntervalMax
		}
	}
}

var errCancelled = espErr("reconnect cancelled")
var errTimeout = espErr("reconnect timed out")
