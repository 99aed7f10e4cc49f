package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/postloom/postloom/internal/webhook/domain"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"object":"instagram"}`)
	secret := "app-secret"

	if err := VerifySignature(payload, sign(payload, secret), secret); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	if err := VerifySignature(payload, sign(payload, "other-secret"), secret); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	if err := VerifySignature([]byte(`tampered`), sign(payload, secret), secret); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for tampered payload, got %v", err)
	}

	if err := VerifySignature(payload, "", secret); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for missing header, got %v", err)
	}

	raw := hex.EncodeToString([]byte("no-prefix"))
	if err := VerifySignature(payload, raw, secret); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for unprefixed header, got %v", err)
	}
}
