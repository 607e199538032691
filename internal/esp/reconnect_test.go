// SPDX-License-Identifier: GPL-3.0-or-later

package esp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassosimone/oncp"
)

func TestReconnectSucceedsOnSecondAttempt(t *testing.T) {
	cmd := oncp.NewCmdChannel(nil)
	attempts := 0
	connect := func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return oncp.NewError(oncp.KindIo, "connect", assert.AnError)
		}
		return nil
	}

	err := Reconnect(context.Background(), cmd, connect, time.Millisecond, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestReconnectStopsOnCookieExpired(t *testing.T) {
	cmd := oncp.NewCmdChannel(nil)
	attempts := 0
	connect := func(ctx context.Context) error {
		attempts++
		return oncp.NewError(oncp.KindCookieExpired, "connect", assert.AnError)
	}

	err := Reconnect(context.Background(), cmd, connect, time.Millisecond, time.Millisecond, time.Second)
	require.Error(t, err)
	assert.Equal(t, oncp.KindCookieExpired, oncp.KindOf(err))
	assert.Equal(t, 1, attempts)
}

func TestReconnectRespectsTimeout(t *testing.T) {
	cmd := oncp.NewCmdChannel(nil)
	connect := func(ctx context.Context) error {
		return oncp.NewError(oncp.KindIo, "connect", assert.AnError)
	}

	err := Reconnect(context.Background(), cmd, connect, 10*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, oncp.KindTimedOut, oncp.KindOf(err))
}

func TestReconnectAbortsOnCancel(t *testing.T) {
	cmd := oncp.NewCmdChannel(nil)
	cmd.Send(context.Background(), oncp.CmdCancel, oncp.Stats{})

	connect := func(ctx context.Context) error {
		t.Fatal("connect should not be called once cancelled")
		return nil
	}

	err := Reconnect(context.Background(), cmd, connect, time.Millisecond, time.Millisecond, time.Second)
	require.Error(t, err)
	assert.Equal(t, oncp.KindInterrupted, oncp.KindOf(err))
}

func TestReconnectReturnsNilOnPause(t *testing.T) {
	cmd := oncp.NewCmdChannel(nil)
	cmd.Send(context.Background(), oncp.CmdPause, oncp.Stats{})

	connect := func(ctx context.Context) error {
		t.Fatal("connect should not be called once paused")
		return nil
	}

	err := Reconnect(context.Background(), cmd, connect, time.Millisecond, time.Millisecond, time.Second)
	require.NoError(t, err)
}
