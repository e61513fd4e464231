// Package vault provides authenticated symmetric encryption for short-lived
// runtime secrets. Ciphertext self-describes its version and nonce, and the
// Poly1305 tag makes tampering or a wrong key fail loudly.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// blobVersion is prepended to every ciphertext and included as additional
// authenticated data, so tampering with it causes authentication failure.
const blobVersion byte = 0x01

// Overhead is the total byte overhead per ciphertext:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfo provides domain separation for the vault's key derivation path.
// Changing it invalidates all previously written ciphertext.
var hkdfInfo = []byte("mcpdex.vault.v1")

// ErrNoKey is returned by New when the operator key is absent.
var ErrNoKey = errors.New("vault: operator key is required")

// Vault encrypts and decrypts secret maps under a key derived once from an
// operator-provided value at startup.
type Vault struct {
	key []byte
}

// New derives the vault key from the operator-provided value via
// HKDF-SHA256. An empty value is a fatal configuration error for callers.
func New(operatorKey string) (*Vault, error) {
	if operatorKey == "" {
		return nil, ErrNoKey
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(operatorKey), nil, hkdfInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("vault: deriving key: %w", err)
	}
	return &Vault{key: key}, nil
}

// Encrypt seals the secret map into a self-describing ciphertext:
//
//	[Version: 1 byte] [Nonce: 24 bytes (random)] [Ciphertext+Tag]
func (v *Vault) Encrypt(secrets map[string]string) ([]byte, error) {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("vault: encoding secrets: %w", err)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	out[0] = blobVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, []byte{blobVersion}), nil
}

// Decrypt opens a ciphertext produced by Encrypt. It fails if the blob is
// truncated, carries an unknown version, was tampered with, or was sealed
// under a different key.
func (v *Vault) Decrypt(ciphertext []byte) (map[string]string, error) {
	if len(ciphertext) < Overhead {
		return nil, fmt.Errorf("vault: ciphertext is %d bytes, minimum is %d", len(ciphertext), Overhead)
	}
	version := ciphertext[0]
	if version != blobVersion {
		return nil, fmt.Errorf("vault: ciphertext version %d is not supported", version)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}

	nonce := ciphertext[1 : 1+chacha20poly1305.NonceSizeX]
	sealed := ciphertext[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, sealed, []byte{version})
	if err != nil {
		return nil, fmt.Errorf("vault: authentication failed (wrong key or tampered data): %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("vault: decoding secrets: %w", err)
	}
	return secrets, nil
}
