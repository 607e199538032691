// SPDX-License-Identifier: GPL-3.0-or-later

package oncp

import (
	"errors"
	"fmt"
)

// ErrKind classifies a session-level failure into one of a closed set of
// categories. Unlike [ErrClassifier], which produces a string for
// structured logging, ErrKind drives control flow: the controller,
// transport, and ESP layers all branch on kind rather than on error
// strings or type assertions against concrete error types.
type ErrKind int

const (
	// KindIo covers ordinary POSIX-style I/O failures.
	KindIo ErrKind = iota

	// KindInterrupted marks an operation aborted by a CmdChannel
	// cancel/detach signal. Never auto-retried.
	KindInterrupted

	// KindTimedOut marks a deadline exceeded.
	KindTimedOut

	// KindInvalidArg marks a precondition violation (e.g. missing
	// DSPREAUTH cookie before a TNCC handshake).
	KindInvalidArg

	// KindNotFound marks a missing secret-store entry or cookie.
	KindNotFound

	// KindPermissionDenied marks a denied OS-level operation.
	KindPermissionDenied

	// KindProtocolError marks a violation of the HTTP or TNCC wire
	// contract (e.g. too many redirects, malformed TNCC reply).
	KindProtocolError

	// KindAuthFailed marks an authentication state machine failure
	// (unknown auth_id, rejected credentials).
	KindAuthFailed

	// KindTokenFailed marks a token generator failure; the controller
	// reacts by setting token_bypassed and aborting the current attempt.
	KindTokenFailed

	// KindBadPacket marks a dropped ESP datagram (SPI mismatch, HMAC
	// failure, bad padding, unsupported next header). Never fatal.
	KindBadPacket

	// KindCookieExpired marks an EPERM-equivalent response during
	// reconnect; terminates the session definitively.
	KindCookieExpired

	// KindUnsupported marks a feature the gateway requested that this
	// client does not implement (e.g. an unknown ESP cipher suite).
	KindUnsupported

	// KindOutOfMemory is fatal for the current operation.
	KindOutOfMemory
)

// String returns the ErrKind's label.
func (k ErrKind) String() string {
	switch k {
	case KindIo:
		return "Io"
	case KindInterrupted:
		return "Interrupted"
	case KindTimedOut:
		return "TimedOut"
	case KindInvalidArg:
		return "InvalidArg"
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindProtocolError:
		return "ProtocolError"
	case KindAuthFailed:
		return "AuthFailed"
	case KindTokenFailed:
		return "TokenFailed"
	case KindBadPacket:
		return "BadPacket"
	case KindCookieExpired:
		return "CookieExpired"
	case KindUnsupported:
		return "Unsupported"
	case KindOutOfMemory:
		return "OutOfMemory"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with an [ErrKind].
//
// Use [NewError] to construct one and [errors.As] to recover it from a
// wrapped error chain.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

// NewError wraps err with kind, tagging it with the operation name op.
//
// If err is nil, NewError returns nil: this allows callers to write
//
//	return oncp.NewError(KindIo, "connect", err)
//
// even when err may be nil, mirroring the idiom used by [fmt.Errorf] with %w.
func NewError(kind ErrKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

// Unwrap enables errors.Is/errors.As traversal into the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the [ErrKind] of err, or KindIo if err does not wrap an
// [*Error].
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIo
}
