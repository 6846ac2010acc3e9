package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signatureHeader = "X-Hub-Signature-256"

// ValidateSignature checks the X-Hub-Signature-256 header Meta attaches to
// webhook deliveries: "sha256=" followed by the hex HMAC of the raw body.
func ValidateSignature(body []byte, header, appSecret string) bool {
	if appSecret == "" {
		return false
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(got, computeSignature(body, appSecret))
}

func computeSignature(body []byte, key string) []byte {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return h.Sum(nil)
}
