package model

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 32-char hex id for notes, jobs and requests.
func NewID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
