// Package nostr implements the subset of the Nostr protocol the contact
// dispatch needs: secp256k1 keys with their bech32 forms (npub/nsec),
// NIP-01 event ids and BIP-340 signatures, and the NIP-04 and NIP-44
// payload encryption schemes for direct messages.
package nostr

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	// HRPPublicKey is the bech32 prefix of public keys.
	HRPPublicKey = "npub"
	// HRPPrivateKey is the bech32 prefix of private keys.
	HRPPrivateKey = "nsec"

	keySize = 32
)

// PrivateKey is a secp256k1 signing key.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// PublicKey is an x-only (BIP-340) secp256k1 public key.
type PublicKey [keySize]byte

// GeneratePrivateKey returns a fresh random key.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}

	return &PrivateKey{key: key}, nil
}

// ParsePrivateKey accepts a 64 character hex key or an nsec bech32 string.
func ParsePrivateKey(s string) (*PrivateKey, error) {
	raw, err := decodeKey(strings.TrimSpace(s), HRPPrivateKey)
	if err != nil {
		return nil, err
	}

	n := new(big.Int).SetBytes(raw)
	if n.Sign() == 0 || n.Cmp(btcec.S256().N) >= 0 {
		return nil, fmt.Errorf("private key out of range")
	}

	key, _ := btcec.PrivKeyFromBytes(raw)
	return &PrivateKey{key: key}, nil
}

// PublicKey returns the x-only public key.
func (k *PrivateKey) PublicKey() PublicKey {
	var pub PublicKey
	copy(pub[:], schnorr.SerializePubKey(k.key.PubKey()))
	return pub
}

// Hex returns the raw key as hex.
func (k *PrivateKey) Hex() string {
	return hex.EncodeToString(k.key.Serialize())
}

// NSec returns the bech32 form of the key.
func (k *PrivateKey) NSec() string {
	s, err := encodeKey(HRPPrivateKey, k.key.Serialize())
	if err != nil {
		// 32 bytes always convert; a failure here is a programming error.
		panic(err)
	}
	return s
}

// ParsePublicKey accepts a 64 character hex key or an npub bech32 string and
// checks that it names a point on the curve.
func ParsePublicKey(s string) (PublicKey, error) {
	var pub PublicKey

	raw, err := decodeKey(strings.TrimSpace(s), HRPPublicKey)
	if err != nil {
		return pub, err
	}

	if _, err := schnorr.ParsePubKey(raw); err != nil {
		return pub, fmt.Errorf("public key is not a valid curve point: %w", err)
	}

	copy(pub[:], raw)
	return pub, nil
}

// Hex returns the key as lowercase hex, the form used in events and tags.
func (p PublicKey) Hex() string {
	return hex.EncodeToString(p[:])
}

// NPub returns the bech32 form of the key.
func (p PublicKey) NPub() string {
	s, err := encodeKey(HRPPublicKey, p[:])
	if err != nil {
		panic(err)
	}
	return s
}

// String implements fmt.Stringer.
func (p PublicKey) String() string {
	return p.NPub()
}

// IsZero reports whether the key is unset.
func (p PublicKey) IsZero() bool {
	return p == PublicKey{}
}

func (p PublicKey) point() (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(p[:])
}

func decodeKey(s, hrp string) ([]byte, error) {
	if strings.HasPrefix(strings.ToLower(s), hrp+"1") {
		gotHRP, data, err := bech32.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", hrp, err)
		}
		if gotHRP != hrp {
			return nil, fmt.Errorf("unexpected bech32 prefix %q, want %q", gotHRP, hrp)
		}
		raw, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", hrp, err)
		}
		if len(raw) != keySize {
			return nil, fmt.Errorf("%s decodes to %d bytes, want %d", hrp, len(raw), keySize)
		}
		return raw, nil
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key is neither %s nor hex: %w", hrp, err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("hex key is %d bytes, want %d", len(raw), keySize)
	}
	return raw, nil
}

func encodeKey(hrp string, raw []byte) (string, error) {
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, data)
}
