// Package sha256 provides content addressing for cached assets.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the lowercase hex SHA-256 digest of data. Two assets with
// the same bytes always map to the same key, which is what lets the
// cache share one file between games that reuse an image.
func Sum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
