package types

import "strings"

// PaymentStatus is the lifecycle state of a payment record. Completed and
// Failed are terminal: once a record reaches either, no later event may
// move it again.
type PaymentStatus int32

const (
	PaymentStatusUnspecified PaymentStatus = 0
	PaymentStatusPending     PaymentStatus = 1
	PaymentStatusProcessing  PaymentStatus = 2
	PaymentStatusCompleted   PaymentStatus = 3
	PaymentStatusFailed      PaymentStatus = 4
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusPending:
		return "pending"
	case PaymentStatusProcessing:
		return "processing"
	case PaymentStatusCompleted:
		return "completed"
	case PaymentStatusFailed:
		return "failed"
	default:
		return "unspecified"
	}
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

func IsValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// ProviderCode identifies a payment provider integration.
type ProviderCode int32

const (
	ProviderUnspecified ProviderCode = 0
	ProviderPayFast     ProviderCode = 1
	ProviderPaddle      ProviderCode = 2
	ProviderNOWPayments ProviderCode = 3
	ProviderMock        ProviderCode = 100
)

func (p ProviderCode) String() string {
	switch p {
	case ProviderPayFast:
		return "payfast"
	case ProviderPaddle:
		return "paddle"
	case ProviderNOWPayments:
		return "nowpayments"
	case ProviderMock:
		return "mock"
	default:
		return "unspecified"
	}
}

func ProviderCodeFromName(name string) ProviderCode {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "payfast":
		return ProviderPayFast
	case "paddle":
		return ProviderPaddle
	case "nowpayments":
		return ProviderNOWPayments
	case "mock":
		return ProviderMock
	default:
		return ProviderUnspecified
	}
}

// EventStatus is the provider-neutral outcome carried by a parsed webhook
// event or a status poll. Unknown means the provider reported something we
// do not map; the reconciler ignores such events.
type EventStatus int32

const (
	EventStatusUnknown   EventStatus = 0
	EventStatusPending   EventStatus = 1
	EventStatusCompleted EventStatus = 2
	EventStatusFailed    EventStatus = 3
)

func (s EventStatus) String() string {
	switch s {
	case EventStatusPending:
		return "pending"
	case EventStatusCompleted:
		return "completed"
	case EventStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
