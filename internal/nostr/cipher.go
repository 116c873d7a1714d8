package nostr

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Cipher seals direct message payloads between two keys. Both directions
// derive the same secret: Encrypt(senderPriv, recipientPub) is opened by
// Decrypt(recipientPriv, senderPub).
type Cipher interface {
	Name() string
	Encrypt(sender *PrivateKey, recipient PublicKey, plaintext string) (string, error)
	Decrypt(recipient *PrivateKey, sender PublicKey, content string) (string, error)
}

// Registered cipher names.
const (
	CipherNIP04 = "nip04"
	CipherNIP44 = "nip44"
)

var (
	// NIP04 is AES-256-CBC over the raw ECDH x-coordinate.
	NIP04 Cipher = nip04Cipher{rand: rand.Reader}
	// NIP44 is the versioned ChaCha20/HMAC-SHA256 scheme (version 2).
	NIP44 Cipher = nip44Cipher{rand: rand.Reader}
)

// CipherByName resolves a configured cipher name.
func CipherByName(name string) (Cipher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CipherNIP04:
		return NIP04, nil
	case CipherNIP44:
		return NIP44, nil
	default:
		return nil, fmt.Errorf("unknown cipher %q (supported: %s, %s)", name, CipherNIP04, CipherNIP44)
	}
}

// SharedSecret returns the x-coordinate of priv * pub, the input keying
// material of both ciphers.
func SharedSecret(priv *PrivateKey, pub PublicKey) ([]byte, error) {
	point, err := pub.point()
	if err != nil {
		return nil, fmt.Errorf("shared secret: %w", err)
	}
	return btcec.GenerateSharedSecret(priv.key, point), nil
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("reading randomness: %w", err)
	}
	return b, nil
}
