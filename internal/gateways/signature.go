package gateways

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// validSignature checks an HMAC-SHA512 hex signature over the raw payload in
// constant time.
func validSignature(payload []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// constantTimeEquals compares two shared-secret strings without leaking
// length-prefix timing.
func constantTimeEquals(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return hmac.Equal([]byte(a), []byte(b))
}
