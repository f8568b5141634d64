package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HmacSHA256Hex returns the lowercase hex HMAC-SHA256 of payload under key.
func HmacSHA256Hex(key string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualHex compares two hex signatures in constant time. Comparison is exact and case-sensitive.
func EqualHex(expected, provided string) bool {
	return hmac.Equal([]byte(expected), []byte(provided))
}
