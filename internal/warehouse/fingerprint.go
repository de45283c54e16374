package warehouse

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint is the lowercase hex SHA-256 of parts joined with '|'.
//
// Rows are fingerprinted from invoice id, branch, product line, normalized
// date, time and the parsed total in shortest decimal form, in that order.
// A missing part contributes the empty string.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
