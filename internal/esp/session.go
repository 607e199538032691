// SPDX-License-Identifier: GPL-3.0-or-later

package esp

import (
	"context"
	"encoding/binary"

	"github.com/bassosimone/oncp"
)

// State is one point in the ESP session lifecycle.
type State int

const (
	// Disabled means no keys have been provisioned; key setup is
	// refused in this state.
	Disabled State = iota
	Secret
	Connected
	Established
	Sleeping
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Secret:
		return "Secret"
	case Connected:
		return "Connected"
	case Established:
		return "Established"
	case Sleeping:
		return "Sleeping"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// replayWindowSize is the number of trailing sequence numbers tracked
// for duplicate/out-of-window rejection, anchored at the highest
// accepted sequence number.
const replayWindowSize = 64

// replayWindow rejects duplicate or too-far-behind ESP sequence
// numbers. The zero value accepts any first packet.
type replayWindow struct {
	highest uint32
	seen    uint64
	started bool
}

// Accept reports whether seq is new with respect to the window,
// recording it if so.
func (w *replayWindow) Accept(seq uint32) bool {
	if !w.started {
		w.started = true
		w.highest = seq
		w.seen = 1
		return true
	}
	switch {
	case seq == w.highest && w.seen&1 != 0:
		return false
	case int64(seq)-int64(w.highest) > 0:
		shift := seq - w.highest
		if shift >= replayWindowSize {
			w.seen = 0
		} else {
			w.seen <<= shift
		}
		w.highest = seq
		w.seen |= 1
		return true
	default:
		back := w.highest - seq
		if back >= replayWindowSize {
			return false
		}
		bit := uint64(1) << back
		if w.seen&bit != 0 {
			return false
		}
		w.seen |= bit
		return true
	}
}

// Session owns one inbound and one outbound [Direction], the incoming
// packet FIFO shared with the tun writer, and the lifecycle state
// machine that gates key setup and reconnection.
type Session struct {
	In  *Direction
	Out *Direction

	state  State
	replay replayWindow
	queue  *incomingQueue
}

// NewSession returns a [*Session] in the [Disabled] state, with its
// incoming packet queue ready to accept Enqueue/Dequeue calls even
// before keys are provisioned.
func NewSession() *Session {
	return &Session{state: Disabled, queue: newIncomingQueue()}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Activate moves the session out of Disabled, allowing key setup.
func (s *Session) Activate() { s.state = Secret }

// SetKeys provisions both directions. Refused unless the session is
// not Disabled, matching the invariant that key setup requires prior
// activation.
func (s *Session) SetKeys(in, out *Direction) error {
	if s.state == Disabled {
		return oncp.NewError(oncp.KindInvalidArg, "esp.SetKeys", errDisabled)
	}
	s.In = in
	s.Out = out
	s.state = Connected
	return nil
}

// Establish marks the session as carrying traffic. It only sets the
// state; it does not check whether any packet has been exchanged.
func (s *Session) Establish() { s.state = Established }

// Sleep marks the session as paused; DecryptAndQueue/Encrypt still
// function but the caller is expected to stop driving the tunnel.
func (s *Session) Sleep() { s.state = Sleeping }

// BeginReconnect marks the session as tearing down and retrying the
// underlying transport.
func (s *Session) BeginReconnect() { s.state = Reconnecting }

// DecryptAndQueue verifies, decrypts, and replay-checks one inbound ESP
// datagram, then enqueues the resulting [Packet] on the session's
// incoming queue for the tun writer to consume. A BadPacket error (SPI
// mismatch, HMAC failure, bad padding, unsupported next-header, or
// replay) is never fatal to the session and nothing is enqueued —
// callers log and drop. Decrypt and enqueue happen as one call so the
// tun writer never observes a packet that failed verification.
func (s *Session) DecryptAndQueue(ctx context.Context, datagram []byte) error {
	if s.In == nil {
		return oncp.NewError(oncp.KindInvalidArg, "esp.DecryptAndQueue", errDisabled)
	}
	payload, _, err := s.In.Decrypt(datagram)
	if err != nil {
		return err
	}
	seq := binary.BigEndian.Uint32(datagram[spiLen : spiLen+seqLen])
	if !s.replay.Accept(seq) {
		return oncp.NewError(oncp.KindBadPacket, "esp.DecryptAndQueue", errReplayed)
	}
	return s.queue.Enqueue(ctx, Packet{Len: len(payload), Data: payload})
}

// Dequeue blocks for the next packet the tun writer should emit, in
// FIFO order with respect to every prior successful DecryptAndQueue
// call.
func (s *Session) Dequeue(ctx context.Context) (Packet, error) {
	return s.queue.Dequeue(ctx)
}

// Encrypt builds one outbound ESP datagram carrying payload as an IPv4
// datagram (next_header 0x04).
func (s *Session) Encrypt(payload []byte) ([]byte, error) {
	if s.Out == nil {
		return nil, oncp.NewError(oncp.KindInvalidArg, "esp.Encrypt", errDisabled)
	}
	return s.Out.Encrypt(payload, nextHeaderIPv4)
}

var errDisabled = espErr("ESP session is not ready for this operation")
var errReplayed = espErr("sequence number rejected by replay window")
