package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix tags hex HMAC-SHA256 signatures in headers.
const SignaturePrefix = "sha256="

// SignHMAC returns the hex HMAC-SHA256 of msg under key.
func SignHMAC(key, msg []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC recomputes the HMAC of msg and compares it with sig in
// constant time. sig may carry the "sha256=" prefix.
func VerifyHMAC(key, msg []byte, sig string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sig), SignaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hmac.Equal(mac.Sum(nil), got)
}
