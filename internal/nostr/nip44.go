package nostr

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	nip44Version    = 2
	nip44Salt       = "nip44-v2"
	nip44NonceSize  = 32
	nip44MACSize    = 32
	nip44MinPlain   = 1
	nip44MaxPlain   = 65535
	nip44MinPayload = 132
	nip44MaxPayload = 87472
)

type nip44Cipher struct {
	rand io.Reader
}

func (nip44Cipher) Name() string { return CipherNIP44 }

// ConversationKey derives the long-lived NIP-44 key between two parties.
func ConversationKey(priv *PrivateKey, pub PublicKey) ([]byte, error) {
	shared, err := SharedSecret(priv, pub)
	if err != nil {
		return nil, err
	}
	return hkdf.Extract(sha256.New, shared, []byte(nip44Salt)), nil
}

func (c nip44Cipher) Encrypt(sender *PrivateKey, recipient PublicKey, plaintext string) (string, error) {
	convKey, err := ConversationKey(sender, recipient)
	if err != nil {
		return "", err
	}
	nonce, err := randomBytes(c.rand, nip44NonceSize)
	if err != nil {
		return "", err
	}
	return nip44Encrypt(convKey, nonce, plaintext)
}

func (nip44Cipher) Decrypt(recipient *PrivateKey, sender PublicKey, content string) (string, error) {
	convKey, err := ConversationKey(recipient, sender)
	if err != nil {
		return "", err
	}
	return nip44Decrypt(convKey, content)
}

func nip44Encrypt(convKey, nonce []byte, plaintext string) (string, error) {
	chachaKey, chachaNonce, hmacKey, err := nip44MessageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	padded, err := nip44Pad(plaintext)
	if err != nil {
		return "", err
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	mac := nip44MAC(hmacKey, nonce, ciphertext)

	payload := make([]byte, 0, 1+len(nonce)+len(ciphertext)+len(mac))
	payload = append(payload, nip44Version)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	payload = append(payload, mac...)

	return base64.StdEncoding.EncodeToString(payload), nil
}

func nip44Decrypt(convKey []byte, content string) (string, error) {
	if content == "" || content[0] == '#' {
		return "", fmt.Errorf("nip44: unsupported encoding")
	}
	if len(content) < nip44MinPayload || len(content) > nip44MaxPayload {
		return "", fmt.Errorf("nip44: invalid payload size %d", len(content))
	}

	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", fmt.Errorf("nip44: %w", err)
	}
	if data[0] != nip44Version {
		return "", fmt.Errorf("nip44: unknown version %d", data[0])
	}

	nonce := data[1 : 1+nip44NonceSize]
	ciphertext := data[1+nip44NonceSize : len(data)-nip44MACSize]
	mac := data[len(data)-nip44MACSize:]

	chachaKey, chachaNonce, hmacKey, err := nip44MessageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare(mac, nip44MAC(hmacKey, nonce, ciphertext)) != 1 {
		return "", fmt.Errorf("nip44: invalid MAC")
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	padded := make([]byte, len(ciphertext))
	stream.XORKeyStream(padded, ciphertext)

	return nip44Unpad(padded)
}

func nip44MessageKeys(convKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(convKey) != 32 {
		return nil, nil, nil, fmt.Errorf("nip44: conversation key is %d bytes", len(convKey))
	}
	if len(nonce) != nip44NonceSize {
		return nil, nil, nil, fmt.Errorf("nip44: nonce is %d bytes", len(nonce))
	}

	keys := make([]byte, 76)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, convKey, nonce), keys); err != nil {
		return nil, nil, nil, err
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

func nip44MAC(key, nonce, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(nonce)
	h.Write(ciphertext)
	return h.Sum(nil)
}

// nip44PaddedLen rounds a plaintext length up to the NIP-44 bucket size.
func nip44PaddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(n-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}

func nip44Pad(plaintext string) ([]byte, error) {
	n := len(plaintext)
	if n < nip44MinPlain || n > nip44MaxPlain {
		return nil, fmt.Errorf("nip44: plaintext length %d out of range", n)
	}

	padded := make([]byte, 2+nip44PaddedLen(n))
	binary.BigEndian.PutUint16(padded, uint16(n))
	copy(padded[2:], plaintext)
	return padded, nil
}

func nip44Unpad(padded []byte) (string, error) {
	if len(padded) < 2 {
		return "", fmt.Errorf("nip44: invalid padding")
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n < nip44MinPlain || 2+n > len(padded) || len(padded) != 2+nip44PaddedLen(n) {
		return "", fmt.Errorf("nip44: invalid padding")
	}
	return string(padded[2 : 2+n]), nil
}
