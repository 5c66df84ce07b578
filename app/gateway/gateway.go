package gateway

import (
	"context"
	"time"

	"github.com/licenseworks/ms-go-paygate/app/types"
)

type SessionInput struct {
	PaymentIntentID string

	AmountCents int64
	Currency    string
	Description string

	CustomerRef string
	Metadata    map[string]string

	ReturnURL string
	CancelURL string
}

// Session is what a provider hands back for a newly created checkout.
// Hosted providers fill CheckoutURL; redirect-form providers fill
// RedirectURL plus the signed form fields the caller posts the customer
// with. ProviderPaymentID may be empty for providers that only assign
// their id once the first notification arrives.
type Session struct {
	ProviderPaymentID string
	CheckoutURL       string
	RedirectURL       string
	RedirectForm      map[string]string
}

// Event is the provider-neutral form of a webhook notification.
// Raw keeps the payload bytes the event was parsed from; nothing
// downstream re-parses provider JSON.
type Event struct {
	EventType         string
	PaymentIntentID   string
	ProviderPaymentID string
	ProviderEventID   string
	Status            types.EventStatus
	AmountCents       int64
	Currency          string
	Reason            string
	Raw               []byte
}

type StatusResult struct {
	Status            types.EventStatus
	ProviderPaymentID string
	Reason            string
	Raw               []byte
}

// Gateway is the uniform provider contract. VerifyWebhookSignature and
// ParseWebhookEvent are separate on purpose: payloads get parsed only
// after the signature holds, and parsing itself never fails. A payload
// the adapter does not recognize parses to nil and the caller drops it.
type Gateway interface {
	Code() types.ProviderCode
	Name() string

	// SignatureHeader names the HTTP header carrying the webhook
	// signature, or "" for providers that embed it in the payload.
	SignatureHeader() string

	CreateSession(ctx context.Context, input *SessionInput) (*Session, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
	ParseWebhookEvent(payload []byte) *Event
	GetPaymentStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error)
	ConfirmPayment(ctx context.Context, providerPaymentID string) (*StatusResult, error)
}

// Scheduler abstracts deferred execution so simulated provider behavior is
// driven by an injectable clock instead of wall-time timers.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

func NewTimerScheduler() Scheduler {
	return timerScheduler{}
}
