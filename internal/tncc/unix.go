// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package tncc

import (
	"bufio"
	"os"
	"syscall"
)

// fdReader reads directly from a raw fd via syscall.Read, used instead
// of wrapping the fd in an *os.File to avoid a finalizer racing the
// explicit syscall.Close in socketConn.Close.
type fdReader int

func (r fdReader) Read(p []byte) (int, error) {
	n, err := syscall.Read(int(r), p)
	if n == 0 && err == nil {
		return 0, os.ErrClosed
	}
	return n, err
}

// newSocketConn wraps one end of a socket pair fd for buffered line
// reads and raw writes.
func newSocketConn(fd int) (*socketConn, error) {
	return &socketConn{fd: fd, reader: bufio.NewReader(fdReader(fd))}, nil
}

// fdToFile wraps fd in an *os.File suitable for assignment to
// exec.Cmd.Stdin. exec.Cmd dup's the fd for the child during Start;
// the caller closes the returned file afterwards to release the
// parent's copy.
func fdToFile(fd int, name string) (*os.File, error) {
	return os.NewFile(uintptr(fd), name), nil
}

// childProcAttr detaches the helper into its own session so that it is
// not killed by signals delivered to this process's group and is
// reparented to init on exit, mirroring the double-fork's effect
// without needing an intermediate process.
func childProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
