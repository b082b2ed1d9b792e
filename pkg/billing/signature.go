package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/stripe/stripe-go/v82/webhook"
)

// ProcessorStripe names the processor whose notifications use Stripe's
// timestamped signature scheme.
const ProcessorStripe = "stripe"

var errSignatureMismatch = errors.New("signature mismatch")

// verifySignature checks payload against the processor's signing scheme.
// Stripe signs with its own header format; every other processor sends
// "sha256=<hex hmac>" of the raw body.
func verifySignature(processor string, payload []byte, header, secret string) error {
	if processor == ProcessorStripe {
		return webhook.ValidatePayload(payload, header, secret)
	}
	if !VerifySignature(payload, header, secret) {
		return errSignatureMismatch
	}
	return nil
}

// VerifySignature verifies an HMAC-SHA256 signature produced by Sign
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign returns the "sha256=<hex>" signature of payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
