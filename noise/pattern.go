package noise

import (
	"fmt"

	flynnnoise "github.com/flynn/noise"
)

// Role is one side's letter in the Noise pattern-naming scheme: how that
// side handles its own static key. The zero value is RoleNone.
type Role uint8

const (
	// RoleNone means this side has no static key in the pattern (N).
	RoleNone Role = iota
	// RoleImmediate means this side sends its static key in the very
	// first handshake message (I). Only realizable for whichever side is
	// the Noise-protocol initiator.
	RoleImmediate
	// RoleExpected means this side's static key is transmitted during the
	// handshake and verified against an expected value afterward (X).
	RoleExpected
	// RoleKnown means this side's static key is already known to the
	// other party out of band, via a Noise pre-message (K).
	RoleKnown
)

func (r Role) letter() byte {
	switch r {
	case RoleNone:
		return 'N'
	case RoleImmediate:
		return 'I'
	case RoleExpected:
		return 'X'
	case RoleKnown:
		return 'K'
	default:
		return '?'
	}
}

func (r Role) String() string {
	return string(r.letter())
}

// patternTable maps "<initiator letter><responder letter>" to the matching
// flynn/noise handshake pattern. Only the twelve canonical interactive
// patterns exist; "I" is never valid in the responder position because the
// initiator always speaks first, so no pattern defines an immediate
// transmission for the second party.
var patternTable = map[[2]byte]flynnnoise.HandshakePattern{
	{'N', 'N'}: flynnnoise.HandshakeNN,
	{'N', 'K'}: flynnnoise.HandshakeNK,
	{'N', 'X'}: flynnnoise.HandshakeNX,
	{'X', 'N'}: flynnnoise.HandshakeXN,
	{'X', 'K'}: flynnnoise.HandshakeXK,
	{'X', 'X'}: flynnnoise.HandshakeXX,
	{'K', 'N'}: flynnnoise.HandshakeKN,
	{'K', 'K'}: flynnnoise.HandshakeKK,
	{'K', 'X'}: flynnnoise.HandshakeKX,
	{'I', 'N'}: flynnnoise.HandshakeIN,
	{'I', 'K'}: flynnnoise.HandshakeIK,
	{'I', 'X'}: flynnnoise.HandshakeIX,
}

// resolvePattern turns a (local role, peer role, are-we-the-initiator)
// triple into the Noise handshake pattern both sides must agree on.
//
// The pattern name's first letter always describes the Noise-protocol
// initiator's own static-key handling, the second the responder's. So when
// we are building as initiator, our local role is the first letter and the
// peer role the second; when building as responder, it is the other way
// around: the peer (who is initiating) contributes the first letter, and
// our own local role the second. A responder position can never be "I";
// that combination is rejected as ErrUnsupportedPattern.
func resolvePattern(localRole, peerRole Role, isInitiator bool) (flynnnoise.HandshakePattern, string, error) {
	var initiatorLetter, responderLetter Role
	if isInitiator {
		initiatorLetter, responderLetter = localRole, peerRole
	} else {
		initiatorLetter, responderLetter = peerRole, localRole
	}

	if responderLetter == RoleImmediate {
		return flynnnoise.HandshakePattern{}, "", fmt.Errorf(
			"noise: responder role cannot be Immediate (local=%s peer=%s initiator=%v): %w",
			localRole, peerRole, isInitiator, ErrUnsupportedPattern)
	}

	key := [2]byte{initiatorLetter.letter(), responderLetter.letter()}
	pattern, ok := patternTable[key]
	if !ok {
		return flynnnoise.HandshakePattern{}, "", fmt.Errorf(
			"noise: no Noise pattern for %c%c: %w", key[0], key[1], ErrUnsupportedPattern)
	}

	name := fmt.Sprintf("Noise_%c%c_25519_ChaChaPoly_SHA256", key[0], key[1])
	return pattern, name, nil
}
