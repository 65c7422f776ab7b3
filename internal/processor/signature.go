package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

const signaturePrefix = "sha256="

// Sign returns the signature header value for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" HMAC of body. An empty secret
// disables the check.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return utils.NewAppError(utils.ErrCodeUnauthorized, "Missing webhook signature")
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return utils.NewAppError(utils.ErrCodeUnauthorized, "Unsupported webhook signature scheme")
	}

	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeUnauthorized, "Malformed webhook signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return utils.NewAppError(utils.ErrCodeUnauthorized, "Invalid webhook signature")
	}
	return nil
}
