// Package checksum fingerprints note content and persisted snapshots.
package checksum

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Sum returns the hex-encoded 256-bit BLAKE3 digest of data.
func Sum(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

