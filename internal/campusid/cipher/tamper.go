package cipher

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

// fieldSep cannot appear in IDs, timestamps or hex nonces.
const fieldSep = "\x1f"

// ComputeTamperHash is HMAC-SHA256 keyed by the credential's tamper secret
// over credentialId, subjectId, issuedAt (unix ms) and nonce.
func ComputeTamperHash(p types.QRPayload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join([]string{
		p.CredentialID,
		p.SubjectID,
		strconv.FormatInt(p.IssuedAt.UTC().UnixMilli(), 10),
		p.Nonce,
	}, fieldSep)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyTamperHash recomputes the hash in constant time. An empty secret
// never verifies.
func VerifyTamperHash(p types.QRPayload, secret string) bool {
	if secret == "" {
		return false
	}
	want := ComputeTamperHash(p, secret)
	return hmac.Equal([]byte(want), []byte(p.SecurityHash))
}

// NewTamperSecret returns a random per-credential HMAC secret.
func NewTamperSecret() (string, error) {
	return randomHex(32)
}

func NewNonce() (string, error) {
	return randomHex(16)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("cipher: random: %w", err)
	}
	return hex.EncodeToString(b), nil
}
