package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"peerlink/internal/domain"
)

// Fingerprint returns a short hex fingerprint of b.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(b []byte) domain.Fingerprint {
	sum := sha256.Sum256(b)
	return domain.Fingerprint(hex.EncodeToString(sum[:10]))
}
