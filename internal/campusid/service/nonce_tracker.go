package service

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NonceTracker remembers QR nonces until the QR they came from expires.
// Entries outside that lifetime are rejected elsewhere, so nothing older
// needs keeping.
type NonceTracker struct {
	seen *gocache.Cache
}

func NewNonceTracker() *NonceTracker {
	return &NonceTracker{seen: gocache.New(5*time.Minute, time.Minute)}
}

// Seen records the nonce and reports whether it had already been presented.
func (n *NonceTracker) Seen(credentialID, nonce string, expiresAt, now time.Time) bool {
	if n == nil || nonce == "" {
		return false
	}
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}
	// Add fails only when a live entry exists.
	return n.seen.Add(credentialID+"|"+nonce, struct{}{}, ttl) != nil
}
