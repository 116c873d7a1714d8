package nostr

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const nip04IVSeparator = "?iv="

type nip04Cipher struct {
	rand io.Reader
}

func (nip04Cipher) Name() string { return CipherNIP04 }

// Encrypt produces "<base64 ciphertext>?iv=<base64 iv>".
func (c nip04Cipher) Encrypt(sender *PrivateKey, recipient PublicKey, plaintext string) (string, error) {
	key, err := SharedSecret(sender, recipient)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	iv, err := randomBytes(c.rand, aes.BlockSize)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + nip04IVSeparator + base64.StdEncoding.EncodeToString(iv), nil
}

func (nip04Cipher) Decrypt(recipient *PrivateKey, sender PublicKey, content string) (string, error) {
	ctPart, ivPart, ok := strings.Cut(content, nip04IVSeparator)
	if !ok {
		return "", fmt.Errorf("nip04: content has no iv")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil {
		return "", fmt.Errorf("nip04: ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil {
		return "", fmt.Errorf("nip04: iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("nip04: iv is %d bytes, want %d", len(iv), aes.BlockSize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("nip04: ciphertext is not a whole number of blocks")
	}

	key, err := SharedSecret(recipient, sender)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("nip04: %w", err)
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("bad padding")
		}
	}
	return data[:len(data)-n], nil
}
