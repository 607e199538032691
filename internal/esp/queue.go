// SPDX-License-Identifier: GPL-3.0-or-later

package esp

import (
	"context"

	"github.com/bassosimone/oncp"
)

// incomingQueueCapacity bounds how many decrypted packets may sit
// ahead of the tun writer before the ESP decrypt path blocks. Sized
// generously enough to absorb a burst without the decrypt path
// stalling on every single packet.
const incomingQueueCapacity = 256

// Packet is one decrypted datagram handed from the ESP decrypt path to
// the tun-writer consumer. Len excludes the trailing pad-length and
// next-header bytes, matching what Direction.Decrypt already strips.
type Packet struct {
	Len  int
	Data []byte
}

// incomingQueue is the FIFO between Session.DecryptAndQueue (the single
// producer) and the tun writer (the single consumer). A buffered
// channel gives both the FIFO ordering and the enqueue/dequeue
// atomicity the datapath requires without a separate lock.
type incomingQueue struct {
	ch chan Packet
}

// newIncomingQueue returns a ready-to-use FIFO.
func newIncomingQueue() *incomingQueue {
	return &incomingQueue{ch: make(chan Packet, incomingQueueCapacity)}
}

// Enqueue hands pkt to the consumer, blocking only if the queue is
// full; it never blocks on the consumer having caught up, only on
// backpressure. Returns KindInterrupted if ctx is done first.
func (q *incomingQueue) Enqueue(ctx context.Context, pkt Packet) error {
	select {
	case q.ch <- pkt:
		return nil
	case <-ctx.Done():
		return oncp.NewError(oncp.KindInterrupted, "esp.incomingQueue.Enqueue", ctx.Err())
	}
}

// Dequeue blocks for the next packet, or returns KindInterrupted if ctx
// is done first.
func (q *incomingQueue) Dequeue(ctx context.Context) (Packet, error) {
	select {
	case pkt := <-q.ch:
		return pkt, nil
	case <-ctx.Done():
		return Packet{}, oncp.NewError(oncp.KindInterrupted, "esp.incomingQueue.Dequeue", ctx.Err())
	}
}
