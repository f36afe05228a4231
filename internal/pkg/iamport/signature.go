package iamport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader carries the request signature.
const SignatureHeader = "X-Iamport-Signature"

// Sign returns base64(HMAC-SHA256(secret, body)).
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	given, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hmac.Equal(given, h.Sum(nil))
}
