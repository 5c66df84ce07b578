package entity

import (
	"time"

	"github.com/licenseworks/ms-go-paygate/app/types"
)

// Propagation marker states. A payment that reaches Completed gets the
// marker set to Pending in the same write; the propagation job clears it
// to Success after the downstream completion call, or parks it at Failed
// once the attempt budget is spent.
const (
	PropagationNone    int32 = 0
	PropagationPending int32 = 1
	PropagationSuccess int32 = 10
	PropagationFailed  int32 = 20
)

type Payment struct {
	ID uint64

	PaymentIntentID string

	RequestID     string
	CallerService string

	Status types.PaymentStatus

	// Version increments on every accepted transition. All status writes
	// are conditional on the version read, so concurrent deliveries of the
	// same outcome collapse into one accepted write.
	Version int64

	Provider          types.ProviderCode
	ProviderPaymentID *string
	CheckoutURL       *string

	AmountCents int64
	Currency    string

	Description string
	CustomerRef *string

	ReturnURL string
	CancelURL string

	Metadata map[string]string

	FailureReason *string
	CompletedAt   *time.Time

	PropagationStatus   int32
	PropagationAttempts int32
	PropagationNextAt   *time.Time
	PropagationLastErr  *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
