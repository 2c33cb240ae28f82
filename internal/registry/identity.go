// Package registry holds the authoritative mapping from stable session
// identities to their live transport sessions and cached state.
package registry

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Identity derives the stable session identity from an endpoint's
// transport address string. The same address always yields the same
// identity, so reconnecting to the same remote process reuses its
// registry entry instead of duplicating it.
func Identity(addr string) string {
	sum := blake3.Sum256([]byte(addr))
	return hex.EncodeToString(sum[:8])
}

// Fingerprint computes the change-detection hash of a content payload.
// It is a dedup key, not an integrity check.
func Fingerprint(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}
