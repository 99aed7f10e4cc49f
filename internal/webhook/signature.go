package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/postloom/postloom/internal/webhook/domain"
)

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// request body using the app secret. Constant-time comparison.
func VerifySignature(payload []byte, header, secret string) error {
	header = strings.TrimSpace(header)
	if secret == "" || !strings.HasPrefix(header, "sha256=") {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	provided := strings.TrimPrefix(header, "sha256=")
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return domain.ErrInvalidSignature
	}
	return nil
}
