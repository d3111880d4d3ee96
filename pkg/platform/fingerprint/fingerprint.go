// Package fingerprint provides the deterministic SHA-256 hashing used for
// two distinct purposes:
//
//   - pseudonymizing client identity material (IP address, user agent)
//     before it is stored with a conversion, and
//   - computing payout snapshot fingerprints over the exact conversion-id
//     set a payout calculation was based on.
//
// Both must be recomputable at any time from stored data, so the encoding
// is fixed: lowercase hex over a canonical byte string.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"refledger/pkg/domain"
)

// Hash returns the 64-character lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString hashes the UTF-8 bytes of s.
func HashString(s string) string {
	return Hash([]byte(s))
}

// Snapshot computes the payout snapshot fingerprint for a conversion-id set:
// the SHA-256 hex digest of the sorted string forms joined by commas. The
// input slice is not mutated; ordering of the input does not affect the
// result.
func Snapshot(ids []domain.ConversionID) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	sort.Strings(strs)
	return HashString(strings.Join(strs, ","))
}
