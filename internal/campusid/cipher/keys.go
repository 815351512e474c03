package cipher

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Keys are the working keys derived from the provisioned master key.
type Keys struct {
	QR       []byte
	Snapshot []byte
}

const (
	infoQR       = "campusid/qr-encryption/v1"
	infoSnapshot = "campusid/snapshot-signing/v1"
)

// DeriveKeys expands the master key with HKDF-SHA256 into separate QR and
// snapshot keys.
func DeriveKeys(master []byte) (Keys, error) {
	if len(master) != KeySize {
		return Keys{}, ErrKeySize
	}
	qr, err := derive(master, infoQR)
	if err != nil {
		return Keys{}, err
	}
	snap, err := derive(master, infoSnapshot)
	if err != nil {
		return Keys{}, err
	}
	return Keys{QR: qr, Snapshot: snap}, nil
}

func derive(master []byte, info string) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("cipher: hkdf %s: %w", info, err)
	}
	return out, nil
}

// ParseMasterKey accepts a 32-byte key encoded as hex or standard base64.
func ParseMasterKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("master key is empty")
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	return nil, ErrKeySize
}

// GenerateMasterKey returns a fresh base64-encoded master key.
func GenerateMasterKey() (string, error) {
	h, err := randomHex(KeySize)
	if err != nil {
		return "", err
	}
	b, _ := hex.DecodeString(h)
	return base64.StdEncoding.EncodeToString(b), nil
}
