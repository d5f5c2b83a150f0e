// Package webhooks authenticates inbound Marketplace webhook calls. It is a
// pure gate: no order state is touched here.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SecretSource resolves the shared secret for a product.
type SecretSource interface {
	WebhookSecret(productID string) (string, bool)
}

type Authenticator struct {
	secrets SecretSource
}

func NewAuthenticator(secrets SecretSource) *Authenticator {
	return &Authenticator{secrets: secrets}
}

// Verify checks the HMAC-SHA256 signature over the raw request body using the
// product's configured secret. It returns false on a missing secret, a
// malformed signature or a mismatch; it never panics. The caller must treat
// false as "reject with 401" and must not process the payload.
func (a *Authenticator) Verify(productID string, body []byte, provided string) bool {
	secret, ok := a.secrets.WebhookSecret(productID)
	if !ok || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, b)
}

// Sign returns the lowercase hex HMAC-SHA256 of body. Exported for callers
// and tests that need to produce valid signatures.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
