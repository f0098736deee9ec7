package noise

import "errors"

var (
	// ErrHandshakeIO wraps a failure reading or writing the underlying
	// transport while the handshake is in progress. Fatal to the session.
	ErrHandshakeIO = errors.New("noise: handshake i/o failure")
	// ErrHandshakeCrypto wraps a Noise cryptographic validation failure
	// (bad MAC, invalid DH share, malformed handshake config). Fatal and
	// terminal.
	ErrHandshakeCrypto = errors.New("noise: handshake cryptographic failure")
	// ErrPeerMismatch indicates the post-handshake remote static key does
	// not match the key the builder was configured to expect.
	ErrPeerMismatch = errors.New("noise: remote static key does not match expected peer key")
	// ErrHandshakeTimeout indicates the configured handshake deadline
	// elapsed before the handshake completed.
	ErrHandshakeTimeout = errors.New("noise: handshake deadline exceeded")
	// ErrUnsupportedPattern indicates the requested local/peer role
	// combination does not correspond to a realizable Noise handshake
	// pattern (see the pattern resolution rules in pattern.go).
	ErrUnsupportedPattern = errors.New("noise: local/peer role combination is not a valid Noise pattern")
	// ErrMissingLocalKeys indicates the builder was asked to build without
	// local static keys configured.
	ErrMissingLocalKeys = errors.New("noise: local static keys are required")
	// ErrMissingTransport indicates the builder was asked to build without
	// an underlying transport configured.
	ErrMissingTransport = errors.New("noise: underlying transport is required")
	// ErrMissingPeerKey indicates a peer role of Known or Expected was
	// configured without an accompanying expected public key.
	ErrMissingPeerKey = errors.New("noise: peer role requires a 32-byte expected public key")
)
