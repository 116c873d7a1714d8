package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// KindEncryptedDirectMessage is the NIP-04 direct message kind.
const KindEncryptedDirectMessage = 4

// Tag is one event tag, e.g. ["p", <pubkey-hex>].
type Tag []string

// Tags is the ordered tag list of an event.
type Tags []Tag

// Event is a NIP-01 event.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// FirstTagValue returns the value of the first tag with the given name.
func (e *Event) FirstTagValue(name string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// Serialize returns the canonical NIP-01 form hashed into the event id:
// [0, pubkey, created_at, kind, tags, content].
func (e *Event) Serialize() []byte {
	tags := e.Tags
	if tags == nil {
		tags = Tags{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding strings, ints and [][]string cannot fail.
	_ = enc.Encode([]interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// ComputeID hashes the canonical serialization.
func (e *Event) ComputeID() [32]byte {
	return sha256.Sum256(e.Serialize())
}

// Sign sets PubKey, ID and Sig using key.
func (e *Event) Sign(key *PrivateKey) error {
	e.PubKey = key.PublicKey().Hex()
	if e.Tags == nil {
		e.Tags = Tags{}
	}

	id := e.ComputeID()
	sig, err := schnorr.Sign(key.key, id[:])
	if err != nil {
		return fmt.Errorf("signing event: %w", err)
	}

	e.ID = hex.EncodeToString(id[:])
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks that ID matches the content and Sig is a valid signature by
// PubKey over it.
func (e *Event) Verify() error {
	id := e.ComputeID()
	if hex.EncodeToString(id[:]) != e.ID {
		return fmt.Errorf("event id does not match content")
	}

	pub, err := ParsePublicKey(e.PubKey)
	if err != nil {
		return fmt.Errorf("event pubkey: %w", err)
	}
	point, err := pub.point()
	if err != nil {
		return err
	}

	rawSig, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("event signature is not hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(rawSig)
	if err != nil {
		return fmt.Errorf("event signature: %w", err)
	}
	if !sig.Verify(id[:], point) {
		return fmt.Errorf("event signature does not verify")
	}

	return nil
}
