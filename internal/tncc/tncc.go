// SPDX-License-Identifier: GPL-3.0-or-later

// Package tncc implements the Trusted Network Connect Client
// endpoint-compliance pre-auth handshake: a subprocess helper is
// spawned and exchanges a line-oriented protocol over a socket pair.
//
// The original implementation double-forks so that the helper's
// grandchild is re-parented to init and never zombies. Go's exec.Cmd
// achieves the same end — a reaped, non-zombie helper process — with
// cmd.Start, SysProcAttr's process-group detachment, and a reaping
// goroutine, which is the portable equivalent called for by the
// subprocess management design note.
package tncc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/bassosimone/oncp"
)

// maxTolerableExtraLines bounds how many informational lines after the
// replacement DSPREAUTH cookie are tolerated before the reply is
// considered malformed.
const maxTolerableExtraLines = 10

// Agent spawns the TNCC helper executable and exchanges the line
// protocol with it over a socket pair.
type Agent struct {
	// HelperPath is the path to the helper executable.
	HelperPath string

	// Hostname is passed to the helper as its single argument and as
	// the IC= line of the start message.
	Hostname string

	Logger oncp.SLogger

	cmd     *exec.Cmd
	conn    *socketConn
	waited  chan struct{}
	waitErr error
}

// NewAgent returns an [*Agent] for the given helper executable and VPN
// hostname.
func NewAgent(helperPath, hostname string, logger oncp.SLogger) *Agent {
	if logger == nil {
		logger = oncp.DefaultSLogger()
	}
	return &Agent{HelperPath: helperPath, Hostname: hostname, Logger: logger}
}

// Handshake performs the pre-auth handshake: it requires a DSPREAUTH
// cookie already present in jar, spawns the helper, sends the start
// frame, and replaces DSPREAUTH with the helper's reply.
func (a *Agent) Handshake(ctx context.Context, jar *oncp.CookieJar) error {
	preauth, ok := jar.Get(oncp.CookieDSPreAuth)
	if !ok {
		return oncp.NewError(oncp.KindInvalidArg, "tncc.Handshake", errMissingPreAuth)
	}

	dssignin, _ := jar.Get(oncp.CookieDSSignIn)
	if dssignin == "" {
		dssignin = "null"
	}

	if err := a.spawn(ctx); err != nil {
		return oncp.NewError(oncp.KindIo, "tncc.spawn", err)
	}

	frame := fmt.Sprintf("start\nIC=%s\nCookie=%s\nDSSIGNIN=%s\n", a.Hostname, preauth, dssignin)
	if err := a.conn.writeLines(frame); err != nil {
		return oncp.NewError(oncp.KindIo, "tncc.write", err)
	}

	status, _, newPreAuth, err := a.readReply(ctx)
	if err != nil {
		return err
	}
	if status != "200" {
		return oncp.NewError(oncp.KindProtocolError, "tncc.status", fmt.Errorf("status %q", status))
	}

	jar.Set(oncp.CookieDSPreAuth, newPreAuth)
	return nil
}

// SetCookie pushes a mid-session cookie update to the already-running
// helper.
func (a *Agent) SetCookie(ctx context.Context, cookie string) error {
	if a.conn == nil {
		return oncp.NewError(oncp.KindInvalidArg, "tncc.SetCookie", errNoHandshake)
	}
	frame := fmt.Sprintf("setcookie\nCookie=%s\n", cookie)
	if err := a.conn.writeLines(frame); err != nil {
		return oncp.NewError(oncp.KindIo, "tncc.write", err)
	}
	return nil
}

// readReply reads the three mandatory reply lines (status, info,
// newPreAuth) followed by up to [maxTolerableExtraLines] tolerated
// extra lines, terminated by a blank line.
func (a *Agent) readReply(ctx context.Context) (status, info, newPreAuth string, err error) {
	status, err = a.conn.readLine(ctx)
	if err != nil {
		return "", "", "", oncp.NewError(oncp.KindIo, "tncc.read", err)
	}
	info, err = a.conn.readLine(ctx)
	if err != nil {
		return "", "", "", oncp.NewError(oncp.KindIo, "tncc.read", err)
	}
	newPreAuth, err = a.conn.readLine(ctx)
	if err != nil {
		return "", "", "", oncp.NewError(oncp.KindIo, "tncc.read", err)
	}

	for i := 0; ; i++ {
		line, err := a.conn.readLine(ctx)
		if err != nil {
			return "", "", "", oncp.NewError(oncp.KindIo, "tncc.read", err)
		}
		if line == "" {
			break
		}
		if i >= maxTolerableExtraLines {
			return "", "", "", oncp.NewError(oncp.KindProtocolError, "tncc.read", errTooManyExtraLines)
		}
		a.Logger.Debug("tnccExtraLine", "line", line)
	}

	return status, info, newPreAuth, nil
}

// Close closes the helper's socket and blocks until the reaping
// goroutine started by spawn has observed the process exit.
func (a *Agent) Close() error {
	if a.conn != nil {
		a.conn.Close()
	}
	if a.waited != nil {
		<-a.waited
	}
	return a.waitErr
}

// spawn creates the socket pair, dup's one end to the helper's stdin,
// and starts the helper in its own session so that it is detached from
// this process's group and reaped by the goroutine started here rather
// than by a double-forked intermediate.
func (a *Agent) spawn(ctx context.Context) error {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, syscall.SOCK_CLOEXEC)
	if err != nil {
		return err
	}

	parentConn, err := newSocketConn(fds[0])
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, a.HelperPath, a.Hostname)
	cmd.SysProcAttr = childProcAttr()
	childFile, err := fdToFile(fds[1], "tncc-child")
	if err != nil {
		parentConn.Close()
		return err
	}
	cmd.Stdin = childFile

	if err := cmd.Start(); err != nil {
		parentConn.Close()
		childFile.Close()
		return err
	}
	childFile.Close()

	a.cmd = cmd
	a.conn = parentConn
	a.waited = make(chan struct{})

	// cmd.Wait is only ever called here: os/exec forbids calling it
	// twice on the same *exec.Cmd, so Close must not call it again and
	// instead blocks on waited.
	go func() {
		a.waitErr = cmd.Wait()
		close(a.waited)
	}()

	return nil
}

type socketConn struct {
	reader    *bufio.Reader
	fd        int
	closeonce sync.Once
}

func (c *socketConn) writeLines(s string) error {
	_, err := syscall.Write(c.fd, []byte(s))
	return err
}

// readLine reads one line, racing the blocking read against ctx: if ctx
// is done first, the socket is closed to unblock the pending syscall
// and readLine returns ctx's error. This is the same race-a-read-
// against-ctx.Done idiom as [oncp.CancellableIO.Gets], applied to the
// helper's raw fd instead of a [net.Conn].
func (c *socketConn) readLine(ctx context.Context) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	done := make(chan lineResult, 1)
	go func() {
		line, err := c.reader.ReadString('\n')
		done <- lineResult{line, err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimRight(res.line, "\r\n"), nil
	case <-ctx.Done():
		c.Close()
		return "", ctx.Err()
	}
}

// Close closes the fd exactly once: readLine may close it from a
// cancelled ctx and Agent.Close also closes it unconditionally, and
// closing the same fd number twice risks closing a fd the OS has since
// reused for something else.
func (c *socketConn) Close() error {
	err := net.ErrClosed
	c.closeonce.Do(func() {
		err = syscall.Close(c.fd)
	})
	return err
}

var errMissingPreAuth = tnccErr("missing DSPREAUTH cookie")
var errNoHandshake = tnccErr("handshake has not been performed")
var errTooManyExtraLines = tnccErr("too many extra lines in TNCC reply")

type tnccErr string

func (e tnccErr) Error() string { return string(e) }
