// Package webhook authenticates and decodes deliveries from the commerce
// platform.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifySignature checks that body was signed with secret. The platform
// sends base64(HMAC-SHA256(secret, body)) in a header; the comparison must
// run over the exact raw bytes received, before any JSON decoding, since
// re-serialization can change whitespace or key order and break the digest.
//
// Returns false on empty body, empty secret, or any mismatch. Never returns
// an error: a false result means "reject the request", nothing more.
func VerifySignature(body []byte, signature, secret string) bool {
	if len(body) == 0 || secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(signature))
}
