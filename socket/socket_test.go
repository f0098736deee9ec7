package socket

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"testing"

	flynnnoise "github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairedCiphers drives a real in-memory NN handshake between two
// HandshakeState instances (no network involved) and returns the resulting
// transport cipher pairs, independent of the noise package's handshake
// driver: good enough to exercise the socket's framing, chunking, and
// nonce bookkeeping without re-deriving the driver loop in every test.
func pairedCiphers(t *testing.T) (TransportCiphers, TransportCiphers) {
	t.Helper()
	suite := flynnnoise.NewCipherSuite(flynnnoise.DH25519, flynnnoise.CipherChaChaPoly, flynnnoise.HashSHA256)

	kpA, err := flynnnoise.DH25519.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	kpB, err := flynnnoise.DH25519.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	stateA, err := flynnnoise.NewHandshakeState(flynnnoise.Config{
		CipherSuite: suite, Pattern: flynnnoise.HandshakeNN, Initiator: true, StaticKeypair: kpA,
	})
	require.NoError(t, err)
	stateB, err := flynnnoise.NewHandshakeState(flynnnoise.Config{
		CipherSuite: suite, Pattern: flynnnoise.HandshakeNN, Initiator: false, StaticKeypair: kpB,
	})
	require.NoError(t, err)

	msg1, _, _, err := stateA.WriteMessage(nil, nil)
	require.NoError(t, err)
	_, _, _, err = stateB.ReadMessage(nil, msg1)
	require.NoError(t, err)

	msg2, sendB, recvB, err := stateB.WriteMessage(nil, nil)
	require.NoError(t, err)
	_, recvA, sendA, err := stateA.ReadMessage(nil, msg2)
	require.NoError(t, err)

	return TransportCiphers{Send: sendA, Recv: recvA}, TransportCiphers{Send: sendB, Recv: recvB}
}

func newSocketPair(t *testing.T) (*Socket, *Socket) {
	t.Helper()
	connA, connB := net.Pipe()
	ciphersA, ciphersB := pairedCiphers(t)
	return New(connA, ciphersA), New(connB, ciphersB)
}

func TestWriteReadRoundTrip(t *testing.T) {
	a, b := newSocketPair(t)
	defer a.Close()
	defer b.Close()

	msg := []byte("hello encrypted world")
	go func() {
		_, err := a.Write(msg)
		assert.NoError(t, err)
	}()

	buf := make([]byte, len(msg))
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])
}

// TestLargeWriteFragmentsIntoPlaintextMaxChunks covers scenario S4: a write
// larger than PlaintextMax is split across multiple inner frames within one
// outer pack and reassembled transparently on read.
func TestLargeWriteFragmentsIntoPlaintextMaxChunks(t *testing.T) {
	a, b := newSocketPair(t)
	defer a.Close()
	defer b.Close()

	payload := make([]byte, 2*PlaintextMax+3443)
	for i := range payload {
		payload[i] = byte(i)
	}

	go func() {
		_, err := a.Write(payload)
		assert.NoError(t, err)
	}()

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 1<<20)
	for len(got) < len(payload) {
		n, err := b.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, payload, got)
}

func TestNonceMonotonicity(t *testing.T) {
	a, b := newSocketPair(t)
	defer a.Close()
	defer b.Close()

	for i := 0; i < 5; i++ {
		go func() {
			_, err := a.Write([]byte("tick"))
			assert.NoError(t, err)
		}()
		buf := make([]byte, 4)
		_, err := b.Read(buf)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(5), a.sendNonce)
	assert.Equal(t, uint64(5), b.recvNonce)
}

func TestTruncatedOuterFrameIsUnexpectedEOF(t *testing.T) {
	connA, connB := net.Pipe()
	ciphersA, ciphersB := pairedCiphers(t)
	a := New(connA, ciphersA)
	b := New(connB, ciphersB)
	defer a.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 10)
		_, _ = connA.Write(header[:])
		_, _ = connA.Write([]byte{1, 2, 3}) // short of the declared 10 bytes
		connA.Close()
	}()

	buf := make([]byte, 16)
	_, err := b.Read(buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCorruptedCiphertextIsCryptoError(t *testing.T) {
	connA, connB := net.Pipe()
	ciphersA, _ := pairedCiphers(t)
	mismatched, _ := pairedCiphers(t) // an unrelated cipher pair, wrong key entirely
	a := New(connA, ciphersA)
	bBad := New(connB, TransportCiphers{Send: mismatched.Send, Recv: mismatched.Recv})
	defer a.Close()

	go func() {
		_, err := a.Write([]byte("tamper me"))
		assert.NoError(t, err)
	}()

	buf := make([]byte, 32)
	_, err := bBad.Read(buf)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestSplitAndJoinRoundTrip(t *testing.T) {
	a, b := newSocketPair(t)
	defer b.Close()

	sendA, recvA := a.Split()

	go func() {
		_, err := sendA.Write([]byte("split hello"))
		assert.NoError(t, err)
	}()
	buf := make([]byte, 32)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "split hello", string(buf[:n]))

	rejoined, err := Join(sendA, recvA)
	require.NoError(t, err)
	require.NotNil(t, rejoined)
}

func TestJoinRejectsClosedHalf(t *testing.T) {
	a, _ := newSocketPair(t)
	sendA, recvA := a.Split()
	require.NoError(t, sendA.Close())

	_, err := Join(sendA, recvA)
	assert.ErrorIs(t, err, ErrSplitHalfClosed)
}

func TestPoisonedSocketRejectsFurtherOps(t *testing.T) {
	connA, connB := net.Pipe()
	ciphersA, ciphersB := pairedCiphers(t)
	a := New(connA, ciphersA)
	b := New(connB, ciphersB)
	defer b.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 0) // empty pack: protocol violation
		_, _ = connA.Write(header[:])
	}()

	buf := make([]byte, 16)
	_, err := b.Read(buf)
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = b.Read(buf)
	assert.ErrorIs(t, err, ErrProtocol)

	a.Close()
}
