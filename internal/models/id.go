package models

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 16-char random hex id. Collision odds are negligible
// at this fleet size and the ids stay copy-pasteable in logs.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
