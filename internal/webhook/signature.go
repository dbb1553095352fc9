package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignaturePrefix is the scheme tag carried in the signature header.
const SignaturePrefix = "sha256="

// Sign computes "sha256=" + lowercase hex of HMAC-SHA256(secret, body).
// The body must be the exact bytes that go on the wire; signing a
// re-serialized object instead of the final buffer causes signature drift.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Validate recomputes the signature over the raw received body and compares
// it to the provided one in constant time. A mismatch is an expected
// outcome, not an error: the expected signature is returned for diagnostics.
func Validate(body []byte, secret, provided string) (bool, string) {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(provided), []byte(expected)), expected
}
