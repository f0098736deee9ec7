package noise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	flynnnoise "github.com/flynn/noise"
	"github.com/quietpipe/noisewire/frame"
	"github.com/quietpipe/noisewire/socket"
	"github.com/sirupsen/logrus"
)

// Builder configures and drives one Noise handshake. Fields are set via the
// fluent With* methods and validated at BuildAsInitiator/BuildAsResponder
// time; there is no map of options, so an unrecognized configuration is a
// compile error rather than a runtime one.
type Builder struct {
	localKeys    KeyPair
	hasLocalKeys bool
	transport    io.ReadWriteCloser
	localRole    Role
	peerRole     Role
	peerKey      [32]byte
	hasPeerKey   bool
	prologue     []byte
	psk          []byte
	timeout      time.Duration
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithLocalKeys sets this side's static identity keypair. Required.
func (b *Builder) WithLocalKeys(kp KeyPair) *Builder {
	b.localKeys = kp
	b.hasLocalKeys = true
	return b
}

// WithTransport sets the underlying byte transport the handshake runs over
// and the resulting Socket wraps. Required.
func (b *Builder) WithTransport(t io.ReadWriteCloser) *Builder {
	b.transport = t
	return b
}

// WithLocalRole sets how this side handles its own static key in the
// Noise pattern (N/I/X/K).
func (b *Builder) WithLocalRole(r Role) *Builder {
	b.localRole = r
	return b
}

// WithPeerRole sets how the peer's static key is handled (N/I/X/K).
// RoleKnown and RoleExpected both require an accompanying WithPeerKey.
func (b *Builder) WithPeerRole(r Role) *Builder {
	b.peerRole = r
	return b
}

// WithPeerKey sets the expected remote static public key, required when
// the peer role is RoleKnown (pinned before the handshake starts) or
// RoleExpected (verified against the handshake's result afterward).
func (b *Builder) WithPeerKey(key [32]byte) *Builder {
	b.peerKey = key
	b.hasPeerKey = true
	return b
}

// WithPrologue sets the Noise prologue, mixed into the handshake hash
// before the first message. Both sides must configure the same value.
func (b *Builder) WithPrologue(prologue []byte) *Builder {
	b.prologue = prologue
	return b
}

// WithPSK sets an optional pre-shared key, mixed in before the first
// message (PresharedKeyPlacement 0), the one placement flynn/noise
// supports uniformly across every pattern this package resolves.
func (b *Builder) WithPSK(psk []byte) *Builder {
	b.psk = psk
	return b
}

// WithHandshakeTimeout bounds the whole handshake. If the deadline elapses
// before the handshake completes, Build* returns ErrHandshakeTimeout. Zero
// (the default) means no additional deadline beyond the passed context.
func (b *Builder) WithHandshakeTimeout(d time.Duration) *Builder {
	b.timeout = d
	return b
}

// Result is a completed handshake: the encrypted socket ready for transport
// traffic, plus the peer's static public key as observed during the
// handshake (present whenever the peer's letter in the resolved pattern is
// not N, whether the key was transmitted or pinned as a pre-message).
type Result struct {
	Socket *socket.Socket

	remoteStaticKey []byte
}

// GetRemoteStaticKey returns the peer's static public key observed during
// the handshake, or nil if the resolved pattern never transmitted one.
// Callers using RoleNone/RoleImmediate peer roles can use this for
// trust-on-first-use verification themselves.
func (r *Result) GetRemoteStaticKey() []byte {
	return r.remoteStaticKey
}

// BuildAsInitiator runs the handshake as the Noise-protocol initiator (the
// side that speaks first).
func (b *Builder) BuildAsInitiator(ctx context.Context) (*Result, error) {
	return b.build(ctx, true)
}

// BuildAsResponder runs the handshake as the Noise-protocol responder.
func (b *Builder) BuildAsResponder(ctx context.Context) (*Result, error) {
	return b.build(ctx, false)
}

func (b *Builder) build(ctx context.Context, isInitiator bool) (*Result, error) {
	if !b.hasLocalKeys {
		return nil, ErrMissingLocalKeys
	}
	if b.transport == nil {
		return nil, ErrMissingTransport
	}
	if err := validateStaticKey(b.localKeys.Private); err != nil {
		return nil, fmt.Errorf("noise: local static key: %w", err)
	}
	if (b.peerRole == RoleKnown || b.peerRole == RoleExpected) && !b.hasPeerKey {
		return nil, ErrMissingPeerKey
	}

	pattern, patternName, err := resolvePattern(b.localRole, b.peerRole, isInitiator)
	if err != nil {
		return nil, err
	}

	cipherSuite := flynnnoise.NewCipherSuite(flynnnoise.DH25519, flynnnoise.CipherChaChaPoly, flynnnoise.HashSHA256)
	config := flynnnoise.Config{
		CipherSuite: cipherSuite,
		Pattern:     pattern,
		Initiator:   isInitiator,
		StaticKeypair: flynnnoise.DHKey{
			Private: append([]byte(nil), b.localKeys.Private[:]...),
			Public:  append([]byte(nil), b.localKeys.Public[:]...),
		},
		Prologue: b.prologue,
	}
	defer ZeroBytes(config.StaticKeypair.Private)
	if len(b.psk) > 0 {
		config.PresharedKey = b.psk
		config.PresharedKeyPlacement = 0
	}
	if b.peerRole == RoleKnown {
		config.PeerStatic = append([]byte(nil), b.peerKey[:]...)
	}

	state, err := flynnnoise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeCrypto, err)
	}

	logrus.WithFields(logrus.Fields{
		"component":    "noise",
		"pattern":      patternName,
		"is_initiator": isInitiator,
		"local_role":   b.localRole.String(),
		"peer_role":    b.peerRole.String(),
	}).Debug("starting handshake")

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	send, recv, err := b.drive(ctx, state, isInitiator)
	if err != nil {
		// A pinned RoleKnown peer key feeds directly into the pre-message
		// DH terms, so a wrong pin does not survive to a post-handshake
		// comparison the way a RoleExpected mismatch does: it corrupts the
		// handshake hash from the first message, and when this side reads a
		// message that depends on it, surfaces as an AEAD failure out of
		// drive. In patterns where this side never reads such a message, the
		// wrong pin is not detected here. Recognize that shape here instead of
		// leaving it indistinguishable from an unrelated crypto error.
		if b.peerRole == RoleKnown && errors.Is(err, ErrHandshakeCrypto) {
			err = fmt.Errorf("noise: peer %s pinned key rejected during handshake: %w: %w",
				patternName, ErrPeerMismatch, err)
		}
		logrus.WithFields(logrus.Fields{
			"component": "noise",
			"pattern":   patternName,
			"error":     err.Error(),
		}).Warn("handshake failed")
		return nil, err
	}

	remoteStatic := state.PeerStatic()

	if b.peerRole == RoleExpected {
		if len(remoteStatic) == 0 || !bytesEqual(remoteStatic, b.peerKey[:]) {
			return nil, fmt.Errorf("noise: peer %s expected %s: %w",
				patternName, keyPreview(b.peerKey[:]), ErrPeerMismatch)
		}
	}

	logrus.WithFields(logrus.Fields{
		"component":   "noise",
		"pattern":     patternName,
		"remote_key":  keyPreview(remoteStatic),
	}).Info("handshake complete")

	sock := socket.New(b.transport, socket.TransportCiphers{Send: send, Recv: recv})
	return &Result{Socket: sock, remoteStaticKey: remoteStatic}, nil
}

// drive alternates WriteMessage/ReadMessage calls over the transport,
// inner-framing each handshake message, until flynn/noise reports the
// handshake complete by returning non-nil cipher states. flynn/noise's
// returned cipher pair is (send, recv) out of WriteMessage and (recv, send)
// out of ReadMessage: cs1 always names the direction matching the call just
// made.
func (b *Builder) drive(ctx context.Context, state *flynnnoise.HandshakeState, isInitiator bool) (send, recv *flynnnoise.CipherState, err error) {
	turn := isInitiator
	for {
		if turn {
			msg, cs1, cs2, werr := state.WriteMessage(nil, nil)
			if werr != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrHandshakeCrypto, werr)
			}
			if ioErr := writeFrameCtx(ctx, b.transport, msg); ioErr != nil {
				if errors.Is(ioErr, ErrHandshakeTimeout) {
					return nil, nil, ioErr
				}
				return nil, nil, fmt.Errorf("%w: %v", ErrHandshakeIO, ioErr)
			}
			if cs1 != nil {
				return cs1, cs2, nil
			}
		} else {
			msg, ioErr := readFrameCtx(ctx, b.transport)
			if ioErr != nil {
				if errors.Is(ioErr, ErrHandshakeTimeout) {
					return nil, nil, ioErr
				}
				return nil, nil, fmt.Errorf("%w: %v", ErrHandshakeIO, ioErr)
			}
			_, cs1, cs2, rerr := state.ReadMessage(nil, msg)
			if rerr != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrHandshakeCrypto, rerr)
			}
			if cs1 != nil {
				return cs2, cs1, nil
			}
		}
		turn = !turn
	}
}

func writeFrameCtx(ctx context.Context, w io.Writer, body []byte) error {
	done := make(chan error, 1)
	go func() { done <- frame.WriteInner(w, body) }()
	select {
	case <-ctx.Done():
		return contextErr(ctx)
	case err := <-done:
		return err
	}
}

func readFrameCtx(ctx context.Context, r io.Reader) ([]byte, error) {
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := frame.ReadInner(r)
		done <- result{body, err}
	}()
	select {
	case <-ctx.Done():
		return nil, contextErr(ctx)
	case res := <-done:
		return res.body, res.err
	}
}

func contextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrHandshakeTimeout
	}
	return ctx.Err()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
