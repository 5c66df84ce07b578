package gateway

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"testing"

	"github.com/licenseworks/ms-go-paygate/app/types"
)

func newPayFastForTest(t *testing.T, passphrase string) *PayFast {
	t.Helper()
	p, err := NewPayFast(PayFastConfig{
		MerchantID:  "10000100",
		MerchantKey: "46f0cd694581a",
		Passphrase:  passphrase,
		NotifyURL:   "https://pay.example.com/webhooks/payfast",
		ReturnURL:   "https://shop.example.com/return",
		CancelURL:   "https://shop.example.com/cancel",
	})
	if err != nil {
		t.Fatalf("NewPayFast: %v", err)
	}
	return p
}

func signedITN(fields map[string]string, passphrase string) string {
	values := url.Values{}
	for key, value := range fields {
		values.Set(key, value)
	}
	values.Set("signature", signFormFields(fields, passphrase))
	return values.Encode()
}

func TestSignFormFieldsEncoding(t *testing.T) {
	digest := signFormFields(map[string]string{
		"item_name": "Pro Licence",
		"amount":    "199.00",
		"empty":     "",
	}, "")

	sum := md5.Sum([]byte("amount=199.00&item_name=Pro+Licence"))
	if digest != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected digest: %s", digest)
	}
}

func TestSignFormFieldsPassphraseSuffix(t *testing.T) {
	digest := signFormFields(map[string]string{"amount": "10.00"}, "jt7NOE43FZPn")

	sum := md5.Sum([]byte("amount=10.00&passphrase=jt7NOE43FZPn"))
	if digest != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected digest with passphrase: %s", digest)
	}
}

func TestPayFastSignatureRoundTrip(t *testing.T) {
	p := newPayFastForTest(t, "jt7NOE43FZPn")

	fields := map[string]string{
		"m_payment_id":   "pi_100",
		"pf_payment_id":  "1089250",
		"payment_status": "COMPLETE",
		"amount_gross":   "199.00",
	}
	payload := signedITN(fields, "jt7NOE43FZPn")

	if !p.VerifyWebhookSignature([]byte(payload), "") {
		t.Fatal("expected valid ITN signature to verify")
	}

	tampered := map[string]string{}
	for k, v := range fields {
		tampered[k] = v
	}
	tampered["amount_gross"] = "1.00"
	values, _ := url.ParseQuery(payload)
	badValues := url.Values{}
	for k, v := range tampered {
		badValues.Set(k, v)
	}
	badValues.Set("signature", values.Get("signature"))
	if p.VerifyWebhookSignature([]byte(badValues.Encode()), "") {
		t.Fatal("expected tampered ITN to fail verification")
	}

	wrongPassphrase := newPayFastForTest(t, "other-passphrase")
	if wrongPassphrase.VerifyWebhookSignature([]byte(payload), "") {
		t.Fatal("expected ITN signed with another passphrase to fail")
	}
}

func TestPayFastVerifyRejectsMissingSignature(t *testing.T) {
	p := newPayFastForTest(t, "")
	if p.VerifyWebhookSignature([]byte("m_payment_id=pi_1&payment_status=COMPLETE"), "") {
		t.Fatal("expected ITN without signature field to fail")
	}
}

func TestPayFastCreateSessionSignsForm(t *testing.T) {
	p := newPayFastForTest(t, "jt7NOE43FZPn")

	session, err := p.CreateSession(context.Background(), &SessionInput{
		PaymentIntentID: "pi_100",
		AmountCents:     19900,
		Currency:        "ZAR",
		Description:     "Pro Licence",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.RedirectURL != payfastDefaultProcessURL {
		t.Fatalf("unexpected redirect url: %s", session.RedirectURL)
	}
	if session.RedirectForm["amount"] != "199.00" {
		t.Fatalf("unexpected amount: %s", session.RedirectForm["amount"])
	}
	if session.RedirectForm["m_payment_id"] != "pi_100" {
		t.Fatalf("unexpected m_payment_id: %s", session.RedirectForm["m_payment_id"])
	}

	signature := session.RedirectForm["signature"]
	unsigned := map[string]string{}
	for k, v := range session.RedirectForm {
		if k != "signature" {
			unsigned[k] = v
		}
	}
	if signFormFields(unsigned, "jt7NOE43FZPn") != signature {
		t.Fatal("form signature does not match recomputation")
	}
}

func TestPayFastParseWebhookEvent(t *testing.T) {
	p := newPayFastForTest(t, "")

	event := p.ParseWebhookEvent([]byte("m_payment_id=pi_100&pf_payment_id=1089250&payment_status=COMPLETE&amount_gross=199.00"))
	if event == nil {
		t.Fatal("expected event")
	}
	if event.Status != types.EventStatusCompleted {
		t.Fatalf("unexpected status: %v", event.Status)
	}
	if event.PaymentIntentID != "pi_100" {
		t.Fatalf("unexpected intent id: %s", event.PaymentIntentID)
	}
	if event.ProviderPaymentID != "1089250" {
		t.Fatalf("unexpected provider payment id: %s", event.ProviderPaymentID)
	}
	if event.AmountCents != 19900 {
		t.Fatalf("unexpected amount: %d", event.AmountCents)
	}

	failed := p.ParseWebhookEvent([]byte("m_payment_id=pi_100&payment_status=CANCELLED"))
	if failed == nil || failed.Status != types.EventStatusFailed {
		t.Fatalf("expected cancelled to map to failed, got %+v", failed)
	}
	if failed.Reason == "" {
		t.Fatal("expected failure reason")
	}

	if p.ParseWebhookEvent([]byte("payment_status=COMPLETE")) != nil {
		t.Fatal("expected event without any id to parse to nil")
	}
	if p.ParseWebhookEvent([]byte("%zz")) != nil {
		t.Fatal("expected malformed form to parse to nil")
	}
}

func TestPayFastStatusCheckUnsupported(t *testing.T) {
	p := newPayFastForTest(t, "")
	if _, err := p.GetPaymentStatus(context.Background(), "1089250"); !errors.Is(err, ErrStatusCheckUnsupported) {
		t.Fatalf("expected ErrStatusCheckUnsupported, got %v", err)
	}
	if _, err := p.ConfirmPayment(context.Background(), "1089250"); !errors.Is(err, ErrStatusCheckUnsupported) {
		t.Fatalf("expected ErrStatusCheckUnsupported, got %v", err)
	}
}

func TestNewPayFastRequiresCredentials(t *testing.T) {
	if _, err := NewPayFast(PayFastConfig{MerchantKey: "k", NotifyURL: "https://x"}); err == nil {
		t.Fatal("expected error for missing merchant id")
	}
	if _, err := NewPayFast(PayFastConfig{MerchantID: "m", NotifyURL: "https://x"}); err == nil {
		t.Fatal("expected error for missing merchant key")
	}
	if _, err := NewPayFast(PayFastConfig{MerchantID: "m", MerchantKey: "k"}); err == nil {
		t.Fatal("expected error for missing notify url")
	}
}
