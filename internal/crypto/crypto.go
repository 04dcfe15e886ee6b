// Package crypto provides authenticated encryption for credential secrets
// stored at rest. Encrypted values carry an explicit version tag so plaintext
// legacy values are never mistaken for ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// encPrefix tags every encrypted value. The version segment allows future
// key or algorithm rotation without shape-sniffing stored values.
const encPrefix = "enc:v1:"

// ErrDecrypt is returned when a ciphertext fails authentication or parsing.
var ErrDecrypt = errors.New("decryption failed")

// Cipher performs AES-256-GCM encryption with a process-wide key.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from a hex-encoded 32-byte key.
func New(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns a tagged, base64 value of the form
// enc:v1:<base64(nonce || ciphertext)>. The nonce is unique per call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a tagged value produced by Encrypt. It fails closed: any
// parse or authentication failure returns ErrDecrypt, never altered plaintext.
func (c *Cipher) Decrypt(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, encPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing version tag", ErrDecrypt)
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	plaintext, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the encryption tag.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// DecryptIfEncrypted decrypts tagged values and returns untagged values as
// stored, supporting migration from an unencrypted legacy state.
func (c *Cipher) DecryptIfEncrypted(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return c.Decrypt(value)
}
