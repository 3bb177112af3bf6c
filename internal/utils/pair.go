// internal/utils/pair.go
package utils

import (
	"github.com/google/uuid"
)

// CanonicalPair orders two user ids so the same two people always map to one key.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() <= b.String() {
		return a, b
	}
	return b, a
}
