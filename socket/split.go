package socket

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	flynnnoise "github.com/flynn/noise"
	"github.com/quietpipe/noisewire/frame"
)

// ErrSplitHalfClosed is returned by Join when either half has already been
// independently closed or already joined.
var ErrSplitHalfClosed = errors.New("socket: split half already closed or consumed")

// closeState coordinates the shared underlying transport between a
// SendHalf and a RecvHalf produced by the same Split call: the transport is
// only actually closed once both halves have been closed. Join does not go
// through closeState; a joined Socket closes the transport itself.
type closeState struct {
	mu          sync.Mutex
	transport   io.ReadWriteCloser
	sendClosed  bool
	recvClosed  bool
	sendConsumed bool
	recvConsumed bool
}

func (cs *closeState) closeSend() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.sendClosed {
		return nil
	}
	cs.sendClosed = true
	if cs.recvClosed {
		return cs.transport.Close()
	}
	return nil
}

func (cs *closeState) closeRecv() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.recvClosed {
		return nil
	}
	cs.recvClosed = true
	if cs.sendClosed {
		return cs.transport.Close()
	}
	return nil
}

// SendHalf is the send-only half of a split Socket: it exclusively owns the
// send cipher and the outbound direction of the underlying transport.
type SendHalf struct {
	mu           sync.Mutex
	cs           *closeState
	send         *flynnnoise.CipherState
	sendNonce    uint64
	maxPackBytes uint32
	closed       bool
	consumed     bool
	poisoned     error
}

// RecvHalf is the receive-only half of a split Socket: it exclusively owns
// the receive cipher and the inbound direction of the underlying transport.
type RecvHalf struct {
	mu           sync.Mutex
	cs           *closeState
	recv         *flynnnoise.CipherState
	recvNonce    uint64
	maxPackBytes uint32
	inbound      []byte
	closed       bool
	consumed     bool
	poisoned     error
}

// Split divides the socket into independent send and receive halves for
// full-duplex concurrent use. The original Socket must not be used again
// after Split; only the returned halves (or a Socket produced by Join on
// them) are valid.
func (s *Socket) Split() (*SendHalf, *RecvHalf) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := &closeState{transport: s.transport}
	sh := &SendHalf{cs: cs, send: s.send, sendNonce: s.sendNonce, maxPackBytes: s.maxPackBytes}
	rh := &RecvHalf{cs: cs, recv: s.recv, recvNonce: s.recvNonce, maxPackBytes: s.maxPackBytes, inbound: s.inbound}
	s.split = true
	return sh, rh
}

// Join recombines a previously split send and receive half into a whole
// Socket, provided neither half has been closed or already joined.
func Join(send *SendHalf, recv *RecvHalf) (*Socket, error) {
	send.mu.Lock()
	recv.mu.Lock()
	defer send.mu.Unlock()
	defer recv.mu.Unlock()

	if send.closed || send.consumed || recv.closed || recv.consumed {
		return nil, ErrSplitHalfClosed
	}
	if send.cs != recv.cs {
		return nil, errors.New("socket: send and receive halves did not come from the same split")
	}

	send.consumed = true
	recv.consumed = true

	return &Socket{
		transport:    send.cs.transport,
		send:         send.send,
		recv:         recv.recv,
		sendNonce:    send.sendNonce,
		recvNonce:    recv.recvNonce,
		maxPackBytes: recv.maxPackBytes,
		inbound:      recv.inbound,
	}, nil
}

// Write behaves like Socket.Write, restricted to the send direction.
func (h *SendHalf) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.poisoned != nil {
		return 0, h.poisoned
	}
	if h.closed || h.consumed {
		return 0, ErrClosed
	}

	var staging bytes.Buffer
	total := len(p)
	remaining := p
	for {
		chunkLen := len(remaining)
		if chunkLen > PlaintextMax {
			chunkLen = PlaintextMax
		}
		chunk := remaining[:chunkLen]
		remaining = remaining[chunkLen:]

		if h.sendNonce == math.MaxUint64 {
			h.poison(ErrNonceExhausted)
			return 0, ErrNonceExhausted
		}
		h.sendNonce++

		ciphertext, err := h.send.Encrypt(nil, nil, chunk)
		if err != nil {
			h.poison(fmt.Errorf("%w: %v", ErrCrypto, err))
			return 0, h.poisoned
		}
		if err := frame.WriteInner(&staging, ciphertext); err != nil {
			h.poison(err)
			return 0, err
		}
		if len(remaining) == 0 {
			break
		}
	}

	if err := frame.WriteOuter(h.cs.transport, staging.Bytes(), h.maxPackBytes); err != nil {
		h.poison(fmt.Errorf("socket: flush outer pack: %w", err))
		return 0, h.poisoned
	}
	return total, nil
}

// Close marks this half unusable. The underlying transport is only
// actually closed once both halves produced by the same Split call have
// been closed.
func (h *SendHalf) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.cs.closeSend()
}

func (h *SendHalf) poison(err error) {
	if h.poisoned == nil {
		h.poisoned = err
	}
}

// Read behaves like Socket.Read, restricted to the receive direction.
func (h *RecvHalf) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.poisoned != nil {
		return 0, h.poisoned
	}
	if len(h.inbound) == 0 {
		if h.closed || h.consumed {
			return 0, ErrClosed
		}
		if err := h.fillInbound(); err != nil {
			return 0, err
		}
	}
	n := copy(p, h.inbound)
	h.inbound = h.inbound[n:]
	return n, nil
}

func (h *RecvHalf) fillInbound() error {
	maxPack := h.maxPackBytes
	if maxPack == 0 {
		maxPack = frame.DefaultMaxPackBytes
	}
	body, err := frame.ReadOuter(h.cs.transport, maxPack)
	if err != nil {
		switch {
		case err == io.EOF:
			return io.EOF
		case err == frame.ErrEmptyPack, errors.Is(err, frame.ErrFrameOversize):
			h.poison(fmt.Errorf("%w: %v", ErrProtocol, err))
			return h.poisoned
		default:
			h.poison(err)
			return err
		}
	}

	r := bytes.NewReader(body)
	var plaintext bytes.Buffer
	for r.Len() > 0 {
		ciphertext, err := frame.ReadInner(r)
		if err != nil {
			h.poison(fmt.Errorf("%w: truncated inner frame in pack: %v", ErrProtocol, err))
			return h.poisoned
		}
		if len(ciphertext) < aeadTagLen {
			h.poison(fmt.Errorf("%w: ciphertext length %d below AEAD tag size", ErrProtocol, len(ciphertext)))
			return h.poisoned
		}
		if h.recvNonce == math.MaxUint64 {
			h.poison(ErrNonceExhausted)
			return ErrNonceExhausted
		}
		h.recvNonce++

		pt, err := h.recv.Decrypt(nil, nil, ciphertext)
		if err != nil {
			h.poison(fmt.Errorf("%w: %v", ErrCrypto, err))
			return h.poisoned
		}
		plaintext.Write(pt)
	}
	h.inbound = plaintext.Bytes()
	return nil
}

// Close marks this half unusable. The underlying transport is only
// actually closed once both halves produced by the same Split call have
// been closed.
func (h *RecvHalf) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.cs.closeRecv()
}

func (h *RecvHalf) poison(err error) {
	if h.poisoned == nil {
		h.poisoned = err
	}
}
