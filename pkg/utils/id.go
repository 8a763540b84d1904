package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// GenerateTransactionID returns a 12 character id for gateway requests.
func GenerateTransactionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// GenerateTraceID generates a unique trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
