// Package socket implements the encrypted duplex byte stream that sits
// between a completed Noise handshake and the typed transport: it
// transparently fragments writes into Noise-sized plaintext chunks,
// encrypts and inner-frames each chunk, groups every chunk from one write
// call into a single outer-framed pack, and inverts all of that on read.
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
	"github.com/sirupsen/logrus"
)

const (
	// PlaintextMax is the largest plaintext chunk encryptable into a
	// single Noise transport message (65535 minus the 16-byte AEAD tag).
	PlaintextMax = 65519
	// CiphertextMax is the largest ciphertext a single inner frame can
	// carry.
	CiphertextMax = 65535

	aeadTagLen = 16
)

var (
	// ErrProtocol indicates malformed framing: an oversized or empty pack,
	// undersized ciphertext, or trailing garbage after the last complete
	// inner frame in a pack. Fatal.
	ErrProtocol = errors.New("socket: protocol violation")
	// ErrCrypto indicates an AEAD failure in transport mode. The cipher
	// state is poisoned; the socket is unusable afterward.
	ErrCrypto = errors.New("socket: AEAD authentication failure")
	// ErrNonceExhausted indicates a cipher's 64-bit nonce counter
	// saturated. Terminal; no rekey is defined.
	ErrNonceExhausted = errors.New("socket: nonce counter exhausted")
	// ErrClosed indicates an operation was attempted on a closed or
	// poisoned socket.
	ErrClosed = errors.New("socket: use of closed socket")
)

// TransportCiphers is the pair of post-handshake cipher states a completed
// Noise handshake hands off to a Socket: one to encrypt outbound messages,
// one to decrypt inbound ones.
type TransportCiphers struct {
	Send *flynnnoise.CipherState
	Recv *flynnnoise.CipherState
}

// Socket is a duplex byte stream backed by an underlying transport and a
// pair of Noise transport ciphers. It implements io.ReadWriteCloser. A
// Socket is owned by one logical task at a time; for concurrent full-duplex
// use, call Split.
type Socket struct {
	mu           sync.Mutex
	transport    io.ReadWriteCloser
	send         *flynnnoise.CipherState
	recv         *flynnnoise.CipherState
	sendNonce    uint64
	recvNonce    uint64
	maxPackBytes uint32
	inbound      []byte
	closed       bool
	split        bool
	poisoned     error
}

// Option configures a Socket at construction time.
type Option func(*Socket)

// WithMaxPackBytes overrides the default ceiling on a trusted outer-frame
// body length (frame.DefaultMaxPackBytes).
func WithMaxPackBytes(n uint32) Option {
	return func(s *Socket) { s.maxPackBytes = n }
}

// New wraps transport with the given transport ciphers. transport is owned
// by the returned Socket from this point on.
func New(transport io.ReadWriteCloser, ciphers TransportCiphers, opts ...Option) *Socket {
	s := &Socket{
		transport:    transport,
		send:         ciphers.Send,
		recv:         ciphers.Recv,
		maxPackBytes: frame.DefaultMaxPackBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write partitions p into ceil(len(p)/PlaintextMax) chunks, encrypts each as
// one Noise transport message, and flushes the whole set as a single outer
// pack. A write is atomic at the pack level: either the entire pack reaches
// the transport or the socket is poisoned and every subsequent operation
// fails. Write does not honor caller cancellation once the send cipher has
// advanced: per the design note this library follows, a write that has
// begun consuming nonces must complete or poison the socket, it cannot be
// unwound.
func (s *Socket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsable(); err != nil {
		return 0, err
	}

	var staging bytes.Buffer
	total := len(p)
	remaining := p
	if len(remaining) == 0 {
		remaining = []byte{}
	}
	for {
		chunkLen := len(remaining)
		if chunkLen > PlaintextMax {
			chunkLen = PlaintextMax
		}
		chunk := remaining[:chunkLen]
		remaining = remaining[chunkLen:]

		if s.sendNonce == math.MaxUint64 {
			s.poison(ErrNonceExhausted)
			return 0, ErrNonceExhausted
		}
		s.sendNonce++

		ciphertext, err := s.send.Encrypt(nil, nil, chunk)
		if err != nil {
			s.poison(fmt.Errorf("%w: %v", ErrCrypto, err))
			return 0, s.poisoned
		}
		if err := frame.WriteInner(&staging, ciphertext); err != nil {
			s.poison(err)
			return 0, err
		}
		if len(remaining) == 0 {
			break
		}
	}

	if err := frame.WriteOuter(s.transport, staging.Bytes(), s.maxPackBytes); err != nil {
		s.poison(fmt.Errorf("socket: flush outer pack: %w", err))
		return 0, s.poisoned
	}
	return total, nil
}

// Read drains the inbound plaintext buffer if non-empty; otherwise it reads
// and decrypts one outer pack from the transport before draining from it.
// It never returns more bytes than one outer pack's worth of plaintext in
// a single call if the buffer was empty, but honors len(p) like a normal
// io.Reader once bytes are buffered.
func (s *Socket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned != nil {
		return 0, s.poisoned
	}
	if len(s.inbound) == 0 {
		if s.closed {
			return 0, ErrClosed
		}
		if err := s.fillInbound(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.inbound)
	s.inbound = s.inbound[n:]
	return n, nil
}

// fillInbound reads one outer pack, decrypts every inner frame in it in
// order, and appends the concatenated plaintext to the inbound buffer.
func (s *Socket) fillInbound() error {
	body, err := frame.ReadOuter(s.transport, s.maxPackBytes)
	if err != nil {
		switch {
		case err == io.EOF:
			return io.EOF
		case err == frame.ErrEmptyPack, errors.Is(err, frame.ErrFrameOversize):
			s.poison(fmt.Errorf("%w: %v", ErrProtocol, err))
			return s.poisoned
		case err == io.ErrUnexpectedEOF:
			s.poison(err)
			return err
		default:
			s.poison(err)
			return err
		}
	}

	r := bytes.NewReader(body)
	var plaintext bytes.Buffer
	for r.Len() > 0 {
		ciphertext, err := frame.ReadInner(r)
		if err != nil {
			s.poison(fmt.Errorf("%w: truncated inner frame in pack: %v", ErrProtocol, err))
			return s.poisoned
		}
		if len(ciphertext) < aeadTagLen {
			s.poison(fmt.Errorf("%w: ciphertext length %d below AEAD tag size", ErrProtocol, len(ciphertext)))
			return s.poisoned
		}
		if s.recvNonce == math.MaxUint64 {
			s.poison(ErrNonceExhausted)
			return ErrNonceExhausted
		}
		s.recvNonce++

		pt, err := s.recv.Decrypt(nil, nil, ciphertext)
		if err != nil {
			s.poison(fmt.Errorf("%w: %v", ErrCrypto, err))
			return s.poisoned
		}
		plaintext.Write(pt)
	}
	s.inbound = plaintext.Bytes()
	return nil
}

// Close flushes nothing beyond what Write already guarantees (the staging
// buffer is always empty between calls), then shuts down the underlying
// transport. There is no Noise-level close frame; the peer observes EOF.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	logrus.WithFields(logrus.Fields{
		"component":  "socket",
		"send_nonce": s.sendNonce,
		"recv_nonce": s.recvNonce,
	}).Debug("closing encrypted byte socket")
	return s.transport.Close()
}

func (s *Socket) checkUsable() error {
	if s.poisoned != nil {
		return s.poisoned
	}
	if s.closed {
		return ErrClosed
	}
	if s.split {
		return fmt.Errorf("socket: %w: socket was split, use the returned halves", ErrClosed)
	}
	return nil
}

func (s *Socket) poison(err error) {
	if s.poisoned == nil {
		s.poisoned = err
		logrus.WithFields(logrus.Fields{
			"component": "socket",
			"error":     err.Error(),
		}).Warn("encrypted byte socket poisoned")
	}
}
