package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func TestVerifyPaymentSignatureAcceptsValidDigest(t *testing.T) {
	secret := "test-secret"
	sig := SignPayment(secret, "order_abc", "pay_xyz")

	if err := VerifyPaymentSignature(secret, "order_abc", "pay_xyz", sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyPaymentSignatureRejectsTampering(t *testing.T) {
	secret := "test-secret"
	sig := SignPayment(secret, "order_abc", "pay_xyz")

	cases := map[string]struct {
		orderID   string
		paymentID string
		signature string
	}{
		"different order":   {"order_other", "pay_xyz", sig},
		"different payment": {"order_abc", "pay_other", sig},
		"wrong secret":      {"order_abc", "pay_xyz", SignPayment("other-secret", "order_abc", "pay_xyz")},
		"empty signature":   {"order_abc", "pay_xyz", ""},
		"garbage signature": {"order_abc", "pay_xyz", "deadbeef"},
	}

	for name, tc := range cases {
		if err := VerifyPaymentSignature(secret, tc.orderID, tc.paymentID, tc.signature); !errors.Is(err, ErrSignatureMismatch) {
			t.Fatalf("%s: expected ErrSignatureMismatch, got %v", name, err)
		}
	}
}

func TestVerifyPaymentSignatureUsesPipeSeparator(t *testing.T) {
	secret := "test-secret"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("order_abc|pay_xyz"))
	expected := hex.EncodeToString(mac.Sum(nil))

	if got := SignPayment(secret, "order_abc", "pay_xyz"); got != expected {
		t.Fatalf("expected %s, got %s", expected, got)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"event":"payment.captured","payload":{}}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if err := VerifyWebhookSignature(secret, body, sig); err != nil {
		t.Fatalf("expected valid webhook signature, got %v", err)
	}

	mutated := append([]byte(nil), body...)
	mutated[0] = ' '
	if err := VerifyWebhookSignature(secret, mutated, sig); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch for mutated body, got %v", err)
	}
	if err := VerifyWebhookSignature(secret, body, ""); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch for missing signature, got %v", err)
	}
}
