package entity

import "time"

// Webhook log outcomes. Every inbound notification gets a row, whatever
// happened to it: rejected rows keep the payload and signature around for
// investigating providers whose deliveries fail verification.
const (
	WebhookProcessed int32 = 10
	WebhookDuplicate int32 = 11
	WebhookIgnored   int32 = 12
	WebhookRejected  int32 = 20
)

type WebhookLog struct {
	ID uint64

	PaymentID *uint64

	Provider  string
	Signature string
	Payload   string
	Status    int32
	Error     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
