package noise

import (
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/nacl/box"
)

// KeyPair is a static Curve25519 DH keypair, the LocalIdentity of the data
// model: 32 bytes of private scalar, 32 bytes of public point. NaCl box
// keypairs are ordinary X25519 keypairs, so one generator serves both the
// legacy box primitives an application may already use elsewhere and the
// DH25519 Noise cipher suite this package drives.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a new random static keypair suitable for use as a
// noisewire LocalIdentity. Key loading and storage are out of this
// library's scope; this exists so callers and tests have an easy way to
// produce one.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("noise: generate keypair: %w", err)
	}
	return KeyPair{Private: *priv, Public: *pub}, nil
}

var errZeroKey = errors.New("noise: key must not be all zeros")

func validateStaticKey(k [32]byte) error {
	var zero [32]byte
	if k == zero {
		return errZeroKey
	}
	return nil
}

// ZeroBytes overwrites data with zeros. Used internally to wipe transient
// copies of private key material as soon as they are no longer needed.
func ZeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

func keyPreview(key []byte) string {
	if len(key) == 0 {
		return "nil"
	}
	n := 8
	if len(key) < n {
		n = len(key)
	}
	return fmt.Sprintf("%x", key[:n])
}
