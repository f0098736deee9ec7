package typed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/quietpipe/noisewire/socket"
)

var (
	// ErrEncode wraps a Codec.Encode failure.
	ErrEncode = errors.New("typed: encode failed")
	// ErrDecode wraps a Codec.Decode failure or a malformed record length.
	ErrDecode = errors.New("typed: decode failed")
	// ErrClosed indicates an operation on a closed Transport.
	ErrClosed = errors.New("typed: transport closed")
	// ErrBorrowed indicates Send or Next was called while GetMut holds the
	// underlying socket on loan.
	ErrBorrowed = errors.New("typed: underlying socket is exclusively borrowed")
)

// maxRecordBytes bounds a trusted incoming record length before Next
// allocates a buffer for it.
const maxRecordBytes = 32 << 20

// Transport wraps a *socket.Socket with a typed record interface: each Out
// value is encoded and written as one u32-length-prefixed record (one
// Socket.Write call, hence one outer Noise pack); each Next call reads
// exactly one such record and decodes it into an In value.
type Transport[Out, In any] struct {
	mu        sync.Mutex
	sock      *socket.Socket
	sendCodec Codec[Out]
	recvCodec Codec[In]
	closed    bool
	borrowed  bool
}

// New wraps sock with the given per-direction codecs.
func New[Out, In any](sock *socket.Socket, sendCodec Codec[Out], recvCodec Codec[In]) *Transport[Out, In] {
	return &Transport[Out, In]{sock: sock, sendCodec: sendCodec, recvCodec: recvCodec}
}

// Send encodes v and writes it as one length-prefixed record.
func (t *Transport[Out, In]) Send(v Out) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return err
	}

	payload, err := t.sendCodec.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(payload) > maxRecordBytes {
		return fmt.Errorf("typed: encoded record length %d exceeds maximum: %w", len(payload), ErrEncode)
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := t.sock.Write(buf); err != nil {
		t.closed = true
		return err
	}
	return nil
}

// Next reads and decodes exactly one record.
func (t *Transport[Out, In]) Next() (In, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero In
	if err := t.checkUsable(); err != nil {
		return zero, err
	}

	var header [4]byte
	if _, err := io.ReadFull(t.sock, header[:]); err != nil {
		t.closed = true
		return zero, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxRecordBytes {
		t.closed = true
		return zero, fmt.Errorf("typed: record length %d exceeds maximum: %w", length, ErrDecode)
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(t.sock, body); err != nil {
			t.closed = true
			return zero, err
		}
	}

	v, err := t.recvCodec.Decode(body)
	if err != nil {
		t.closed = true
		return zero, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

// GetMut lends the underlying socket out for direct byte-stream use (e.g.
// bulk copies that should not pay the per-record framing and codec cost).
// While the loan is outstanding, Send and Next return ErrBorrowed; call
// Release to return it.
func (t *Transport[Out, In]) GetMut() *socket.Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.borrowed = true
	return t.sock
}

// Release ends a loan started by GetMut.
func (t *Transport[Out, In]) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.borrowed = false
}

// Close closes the underlying socket. Idempotent.
func (t *Transport[Out, In]) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.sock.Close()
}

func (t *Transport[Out, In]) checkUsable() error {
	if t.closed {
		return ErrClosed
	}
	if t.borrowed {
		return ErrBorrowed
	}
	return nil
}
