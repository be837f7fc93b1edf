package transport

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Socket is a connected, peer-addressed datagram socket. *net.UDPConn
// (after Dial) satisfies this; tests use an in-process pipe.
type Socket interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrDecrypt is returned by Cipher.Open when a datagram fails
// authentication — wrong key, truncated ciphertext, or a tampered wire.
var ErrDecrypt = errors.New("transport: decrypt failure")

// Cipher seals and opens datagrams with a handshake-derived symmetric
// key. The endpoint never sees key material beyond what it was handed.
type Cipher interface {
	Seal(plaintext []byte) (ciphertext []byte, err error)
	Open(ciphertext []byte) (plaintext []byte, err error)
}

const nonceSize = 24

// SecretboxCipher implements Cipher with NaCl secretbox: a random
// 24-byte nonce prefixed to each ciphertext, XSalsa20-Poly1305 sealed
// underneath.
type SecretboxCipher struct {
	key [32]byte
}

// NewSecretboxCipher wraps a 32-byte symmetric key delivered by the
// (external) key-agreement subsystem.
func NewSecretboxCipher(key [32]byte) *SecretboxCipher {
	return &SecretboxCipher{key: key}
}

func (c *SecretboxCipher) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, &c.key), nil
}

func (c *SecretboxCipher) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &c.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// NullCipher passes datagrams through unmodified; useful for tests that
// want to inspect the wire format directly without key material.
type NullCipher struct{}

func (NullCipher) Seal(p []byte) ([]byte, error) { return p, nil }
func (NullCipher) Open(p []byte) ([]byte, error) { return p, nil }
