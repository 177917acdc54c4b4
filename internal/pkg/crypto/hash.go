package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString calculates a SHA256 hash of a string, used by the persistent
// pool backend to derive a filesystem-safe fingerprint sidecar name from a
// caller-supplied pool path.
func HashString(s string) string {
	h := sha256.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
