// SPDX-License-Identifier: GPL-3.0-or-later

package esp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionDirections(t *testing.T) (*Direction, *Direction) {
	t.Helper()
	encKey := make([]byte, 16)
	hmacKey := make([]byte, 20)
	in, err := NewDirection([4]byte{1, 2, 3, 4}, CipherAES128, HMACSHA1, encKey, hmacKey)
	require.NoError(t, err)
	out, err := NewDirection([4]byte{5, 6, 7, 8}, CipherAES128, HMACSHA1, encKey, hmacKey)
	require.NoError(t, err)
	return in, out
}

func TestSessionSetKeysRequiresActivation(t *testing.T) {
	s := NewSession()
	in, out := testSessionDirections(t)

	err := s.SetKeys(in, out)
	require.Error(t, err)

	s.Activate()
	require.NoError(t, s.SetKeys(in, out))
	assert.Equal(t, Connected, s.State())
}

func TestSessionDecryptAndQueueRoundTrip(t *testing.T) {
	s := NewSession()
	s.Activate()
	in, out := testSessionDirections(t)
	// Loop the session's own outbound direction back into its inbound
	// side so Session.Encrypt/DecryptAndQueue exercise one another.
	require.NoError(t, s.SetKeys(out, in))

	payload := []byte("hello tunnel")
	datagram, err := s.Encrypt(payload)
	require.NoError(t, err)

	// Build a matching inbound direction (same key/SPI as s.Out) to
	// decode what Session.Encrypt produced.
	inbound, err := NewDirection(in.SPI, CipherAES128, HMACSHA1, in.EncKey, in.HMACKey)
	require.NoError(t, err)
	other := NewSession()
	other.Activate()
	require.NoError(t, other.SetKeys(inbound, out))

	ctx := context.Background()
	require.NoError(t, other.DecryptAndQueue(ctx, datagram))

	pkt, err := other.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, pkt.Data)
	assert.Equal(t, len(payload), pkt.Len)
}

func TestSessionDecryptAndQueueRejectsBadPacketWithoutEnqueue(t *testing.T) {
	s := NewSession()
	s.Activate()
	in, out := testSessionDirections(t)
	require.NoError(t, s.SetKeys(out, in))

	payload := []byte("hello tunnel")
	datagram, err := s.Encrypt(payload)
	require.NoError(t, err)
	datagram[len(datagram)-1] ^= 0xff // flip a HMAC byte

	inbound, err := NewDirection(in.SPI, CipherAES128, HMACSHA1, in.EncKey, in.HMACKey)
	require.NoError(t, err)
	other := NewSession()
	other.Activate()
	require.NoError(t, other.SetKeys(inbound, out))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Error(t, other.DecryptAndQueue(ctx, datagram))

	cancel()
	_, err = other.Dequeue(ctx)
	require.Error(t, err, "a rejected packet must never reach the queue")
}

func TestReplayWindowRejectsDuplicateAndOldSequence(t *testing.T) {
	var w replayWindow
	assert.True(t, w.Accept(100))
	assert.False(t, w.Accept(100), "duplicate of the current highest must be rejected")

	assert.True(t, w.Accept(101))
	assert.True(t, w.Accept(99), "within-window reorder must be accepted once")
	assert.False(t, w.Accept(99), "replays of an accepted reorder must be rejected")

	assert.False(t, w.Accept(101-replayWindowSize), "far enough behind the window must be rejected")
}

func TestReplayWindowAcceptsForwardJumpBeyondWindow(t *testing.T) {
	var w replayWindow
	require.True(t, w.Accept(10))
	require.True(t, w.Accept(10+replayWindowSize+5))
	assert.False(t, w.Accept(10), "sequence numbers below the new window must be rejected")
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{Disabled, "Disabled"},
		{Secret, "Secret"},
		{Connected, "Connected"},
		{Established, "Established"},
		{Sleeping, "Sleeping"},
		{Reconnecting, "Reconnecting"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.state.String())
	}
}
