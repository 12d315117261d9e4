// Package secrets encrypts secret values at rest with AES-256-GCM.
//
// The wire format is "iv:authTag:ciphertext", each part hex encoded,
// with a 12 byte IV and a 16 byte auth tag.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	keySize = 32
	ivSize  = 12
	tagSize = 16
)

var (
	ErrInvalidKey          = errors.New("invalid_key")
	ErrMalformedCiphertext = errors.New("malformed_ciphertext")
	ErrDecryptFailed       = errors.New("decrypt_failed")
)

// Cipher seals and opens secret values with a fixed 32 byte key.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(keyHex string) (*Cipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != keySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypted reports whether value carries the sealed wire format.
// Used to tell encrypted-at-rest config values from plaintext ones.
func Encrypted(value string) bool {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return false
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return false
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return false
	}
	_, err = hex.DecodeString(parts[2])
	return err == nil
}

// Encrypt seals plaintext under a fresh random IV. Two calls with the
// same plaintext never produce the same output.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens a value produced by Encrypt. A value that is not three
// hex parts fails with ErrMalformedCiphertext; an authentication
// failure (wrong key, tampered data) fails with ErrDecryptFailed.
func (c *Cipher) Decrypt(value string) (string, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return "", ErrMalformedCiphertext
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrMalformedCiphertext
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrMalformedCiphertext
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	plaintext, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
