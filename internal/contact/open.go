package contact

import (
	"encoding/json"
	"fmt"

	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/nostr"
)

// OpenMessage is the operator side of a dispatch: it checks that ev is a
// signed direct message addressed to recipient and decrypts its payload.
func OpenMessage(recipient *nostr.PrivateKey, ev *nostr.Event, cipher nostr.Cipher) (Payload, error) {
	var p Payload

	if ev.Kind != nostr.KindEncryptedDirectMessage {
		return p, errors.NewValidationError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("event kind is %d, want %d", ev.Kind, nostr.KindEncryptedDirectMessage))
	}
	if err := ev.Verify(); err != nil {
		return p, errors.WrapEncryption(err, errors.ErrCodeBadSignature, "event signature does not verify")
	}

	to, ok := ev.FirstTagValue("p")
	if !ok {
		return p, errors.NewValidationError(errors.ErrCodeValidationFailed, "event has no recipient tag")
	}
	if want := recipient.PublicKey().Hex(); to != want {
		return p, errors.NewValidationError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("event is addressed to %s, not %s", to, want))
	}

	sender, err := nostr.ParsePublicKey(ev.PubKey)
	if err != nil {
		return p, errors.WrapEncryption(err, errors.ErrCodeInvalidKey, "event author key is invalid")
	}

	if cipher == nil {
		cipher = nostr.NIP04
	}
	plaintext, err := cipher.Decrypt(recipient, sender, ev.Content)
	if err != nil {
		return p, errors.WrapEncryption(err, errors.ErrCodeDecryptFailed, "decrypting payload")
	}

	if err := json.Unmarshal([]byte(plaintext), &p); err != nil {
		return p, errors.NewInternalError(errors.ErrCodeInternalError, "payload is not a contact message", err)
	}
	return p, nil
}
