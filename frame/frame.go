// Package frame implements the two length-delimited wire codecs the rest of
// noisewire is built on: a 16-bit big-endian framer for individual Noise
// messages (handshake and transport), and a 32-bit big-endian framer for
// packs of them. Both operate directly on an io.Reader/io.Writer byte
// stream, not on discrete datagram reads, so they compose cleanly on top of
// a plain net.Conn.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// InnerHeaderLen is the size of the inner (Noise message) length prefix.
	InnerHeaderLen = 2
	// InnerMaxBody is the largest body an inner frame can carry.
	InnerMaxBody = 65535

	// OuterHeaderLen is the size of the outer (pack) length prefix.
	OuterHeaderLen = 4
	// DefaultMaxPackBytes is the default ceiling on an outer frame's body,
	// comfortably larger than one write's worth of inner frames.
	DefaultMaxPackBytes = 32 << 20 // 32 MiB
)

var (
	// ErrFrameOversize is returned when a frame body exceeds its codec's
	// maximum (the inner codec's 16-bit header makes this unreachable in
	// practice; it exists so the error path is total).
	ErrFrameOversize = errors.New("frame: body exceeds maximum frame size")
	// ErrEmptyPack is returned when an outer frame's body length is zero.
	ErrEmptyPack = errors.New("frame: outer pack body must not be empty")
)

// WriteInner writes body as one 2-byte-length-prefixed inner frame.
// A zero-length body is legal (empty Noise messages occur during the
// handshake).
func WriteInner(w io.Writer, body []byte) error {
	if len(body) > InnerMaxBody {
		return fmt.Errorf("frame: inner body length %d: %w", len(body), ErrFrameOversize)
	}
	var header [InnerHeaderLen]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("frame: write inner header: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("frame: write inner body: %w", err)
	}
	return nil
}

// ReadInner reads one 2-byte-length-prefixed inner frame and returns its
// body. A short read anywhere in the header or body surfaces as
// io.ErrUnexpectedEOF, except a clean EOF at the very start of the header,
// which is returned unwrapped so callers can distinguish "peer closed
// between frames" from "peer closed mid-frame".
func ReadInner(r io.Reader) ([]byte, error) {
	var header [InnerHeaderLen]byte
	if err := readFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[:])
	if length == 0 {
		return []byte{}, nil
	}
	body := make([]byte, length)
	if err := readFullBody(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteOuter writes body as one 4-byte-length-prefixed outer frame. body
// must be non-empty; every outer pack carries at least one inner frame.
// maxPackBytes bounds how large a body this call will write; pass 0 to use
// DefaultMaxPackBytes.
func WriteOuter(w io.Writer, body []byte, maxPackBytes uint32) error {
	if len(body) == 0 {
		return ErrEmptyPack
	}
	if maxPackBytes == 0 {
		maxPackBytes = DefaultMaxPackBytes
	}
	if uint32(len(body)) > maxPackBytes {
		return fmt.Errorf("frame: outer body length %d: %w", len(body), ErrFrameOversize)
	}
	var header [OuterHeaderLen]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("frame: write outer header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("frame: write outer body: %w", err)
	}
	return nil
}

// ReadOuter reads one 4-byte-length-prefixed outer frame and returns its
// body. maxPackBytes bounds how large a claimed body length this call will
// trust before allocating a buffer for it; pass 0 to use
// DefaultMaxPackBytes. A zero-length body is a protocol violation
// (ErrEmptyPack). A clean EOF at the very start of the header is returned
// unwrapped; any other truncation is io.ErrUnexpectedEOF.
func ReadOuter(r io.Reader, maxPackBytes uint32) ([]byte, error) {
	if maxPackBytes == 0 {
		maxPackBytes = DefaultMaxPackBytes
	}
	var header [OuterHeaderLen]byte
	if err := readFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrEmptyPack
	}
	if length > maxPackBytes {
		return nil, fmt.Errorf("frame: outer body length %d: %w", length, ErrFrameOversize)
	}
	body := make([]byte, length)
	if err := readFullBody(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// readFull reads exactly len(buf) bytes, treating EOF with zero bytes read
// as a clean peer close (returned unwrapped) and any other short read as
// io.ErrUnexpectedEOF.
func readFull(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF && n == 0 {
		return io.EOF
	}
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	if err != nil {
		return fmt.Errorf("frame: read header: %w", err)
	}
	return nil
}

// readFullBody reads exactly len(buf) bytes for a frame body whose header
// has already been consumed; any EOF here means the peer closed mid-frame.
func readFullBody(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return io.ErrUnexpectedEOF
		}
		return fmt.Errorf("frame: read body: %w", err)
	}
	return nil
}
