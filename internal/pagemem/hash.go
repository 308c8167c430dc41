package pagemem

import (
	"crypto/sha256"
	"encoding/hex"
)

func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// reverseBytes returns digest with its byte order reversed. The original
// implementation reverses the SHA-256 digest before persisting and
// comparing it; preserved bit-for-bit for peer compatibility (spec.md §9).
func reverseBytes(digest [32]byte) [32]byte {
	var out [32]byte
	for i := range digest {
		out[i] = digest[len(digest)-1-i]
	}
	return out
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}
