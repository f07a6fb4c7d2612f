package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignPayment computes the hex HMAC-SHA256 digest over "orderID|paymentID".
func SignPayment(secret, gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s", gatewayOrderID, gatewayPaymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaymentSignature checks the client supplied signature against the expected digest
// using a constant time comparison.
func VerifyPaymentSignature(secret, gatewayOrderID, gatewayPaymentID, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return fmt.Errorf("%w: missing signature", ErrSignatureMismatch)
	}
	expected := SignPayment(secret, gatewayOrderID, gatewayPaymentID)
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyWebhookSignature checks the webhook signature computed over the raw request body.
// The body must be the exact bytes received, prior to any JSON decoding.
func VerifyWebhookSignature(secret string, body []byte, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return fmt.Errorf("%w: missing signature", ErrSignatureMismatch)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}
