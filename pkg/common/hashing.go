package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256FromBytes returns the hex-encoded SHA-256 digest of data.
func Sha256FromBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
