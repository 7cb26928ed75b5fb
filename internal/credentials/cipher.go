package credentials

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrInvalidKey is returned when an encryption key is not 32 base64 bytes.
var ErrInvalidKey = errors.New("encryption key must be 32 bytes, base64 encoded")

// Cipher seals credential documents with NaCl secretbox. The key lives in a
// memguard enclave and is only decrypted into locked memory while in use.
type Cipher struct {
	key *memguard.Enclave
}

// GenerateKey returns a fresh base64-encoded 32-byte key.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("read random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// NewCipher parses a base64 key. The decoded key bytes are wiped once moved
// into the enclave.
func NewCipher(encodedKey string) (*Cipher, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(encodedKey)
	}
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	return &Cipher{key: memguard.NewEnclave(raw)}, nil
}

// Encrypt seals plaintext and returns nonce||box as base64.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	buf, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, buf.ByteArray32())
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errors.New("ciphertext too short")
	}

	buf, err := c.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, buf.ByteArray32())
	if !ok {
		return nil, errors.New("ciphertext authentication failed")
	}
	return plain, nil
}
