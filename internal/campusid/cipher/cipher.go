// Package cipher seals QR payloads with AES-256-GCM and computes the keyed
// tamper hash bound into every payload.
//
// Wire format: <ivHex>:<tagHex>:<ciphertextHex>. Decryption fails closed.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

const (
	// DomainAAD binds ciphertexts to this context.
	DomainAAD = "campus-access-qr"

	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	ivSize  = 12
	tagSize = 16
)

var (
	ErrKeySize   = errors.New("cipher: key must be 32 bytes")
	ErrMalformed = errors.New("cipher: malformed ciphertext")
	ErrAuth      = errors.New("cipher: authentication failed")
)

// Cipher seals and opens QR payloads under one key. It is safe for
// concurrent use.
type Cipher struct {
	aead gocipher.AEAD
	aad  []byte
}

// New returns a Cipher for a KeySize-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: aes: %w", err)
	}
	aead, err := gocipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("cipher: gcm: %w", err)
	}
	return &Cipher{aead: aead, aad: []byte(DomainAAD)}, nil
}

// Encrypt seals plaintext under a fresh random IV and returns the hex wire
// form.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("cipher: iv: %w", err)
	}
	sealed := c.aead.Seal(nil, iv, plaintext, c.aad)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. It returns ErrMalformed for a blob that does
// not parse and ErrAuth when the tag does not verify.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	parts := strings.Split(strings.TrimSpace(blob), ":")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return nil, ErrMalformed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, ErrMalformed
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	pt, err := c.aead.Open(nil, iv, sealed, c.aad)
	if err != nil {
		return nil, ErrAuth
	}
	return pt, nil
}

// SealPayload encodes p as JSON and encrypts it.
func (c *Cipher) SealPayload(p types.QRPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("cipher: encode payload: %w", err)
	}
	return c.Encrypt(b)
}

// OpenPayload decrypts and decodes a QR blob. Any failure is reported as a
// decryption error with no partial payload.
func (c *Cipher) OpenPayload(blob string) (types.QRPayload, error) {
	pt, err := c.Decrypt(blob)
	if err != nil {
		return types.QRPayload{}, types.NewError(types.KindDecryption, "OpenPayload", "invalid_qr", err)
	}
	var p types.QRPayload
	if err := json.Unmarshal(pt, &p); err != nil {
		return types.QRPayload{}, types.NewError(types.KindDecryption, "OpenPayload", "invalid_qr", ErrMalformed)
	}
	if p.CredentialID == "" || p.SubjectID == "" || p.Nonce == "" || p.SecurityHash == "" {
		return types.QRPayload{}, types.NewError(types.KindDecryption, "OpenPayload", "invalid_qr", ErrMalformed)
	}
	return p, nil
}
