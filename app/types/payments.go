package types

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type CreatePaymentRequest struct {
	RequestID     string            `json:"request_id"`
	CallerService string            `json:"caller_service"`
	Provider      string            `json:"provider"`
	AmountCents   int64             `json:"amount_cents"`
	Currency      string            `json:"currency"`
	Description   string            `json:"description"`
	CustomerRef   string            `json:"customer_ref"`
	ReturnURL     string            `json:"return_url"`
	CancelURL     string            `json:"cancel_url"`
	Metadata      map[string]string `json:"metadata"`
}

func NewCreatePaymentRequestFromContext(ctx echo.Context) (*CreatePaymentRequest, error) {
	var body CreatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.RequestID = strings.TrimSpace(body.RequestID)
	if body.RequestID == "" {
		body.RequestID = strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	}
	body.CallerService = strings.TrimSpace(body.CallerService)
	body.Provider = strings.ToLower(strings.TrimSpace(body.Provider))
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.Description = strings.TrimSpace(body.Description)
	body.CustomerRef = strings.TrimSpace(body.CustomerRef)
	body.ReturnURL = strings.TrimSpace(body.ReturnURL)
	body.CancelURL = strings.TrimSpace(body.CancelURL)

	return &body, nil
}

func (r *CreatePaymentRequest) Validate() error {
	if r.RequestID == "" {
		return errors.New("request_id is required")
	}
	if r.CallerService == "" {
		return errors.New("caller_service is required")
	}
	if ProviderCodeFromName(r.Provider) == ProviderUnspecified {
		return errors.New("provider is invalid")
	}
	if r.AmountCents <= 0 {
		return errors.New("amount_cents must be > 0")
	}
	if len(r.Currency) != 3 {
		return errors.New("currency must be 3 letters")
	}
	if r.Description == "" {
		return errors.New("description is required")
	}
	return nil
}

type GetPaymentRequest struct {
	ID uint64 `json:"id"`
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetPaymentRequest{ID: id}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.ID == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

type GetPaymentByIntentRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func NewGetPaymentByIntentRequestFromContext(ctx echo.Context) (*GetPaymentByIntentRequest, error) {
	return &GetPaymentByIntentRequest{PaymentIntentID: strings.TrimSpace(ctx.Param("intent_id"))}, nil
}

func (r *GetPaymentByIntentRequest) Validate() error {
	if r.PaymentIntentID == "" {
		return errors.New("payment intent id is required")
	}
	return nil
}

type ListPaymentsRequest struct {
	RequestID     string        `json:"request_id"`
	CallerService string        `json:"caller_service"`
	HasStatus     bool          `json:"has_status"`
	Status        PaymentStatus `json:"status"`
	Provider      ProviderCode  `json:"provider"`
	Limit         int32         `json:"limit"`
	Offset        int32         `json:"offset"`
}

func NewListPaymentsRequestFromContext(ctx echo.Context) (*ListPaymentsRequest, error) {
	req := &ListPaymentsRequest{
		RequestID:     strings.TrimSpace(ctx.QueryParam("request_id")),
		CallerService: strings.TrimSpace(ctx.QueryParam("caller_service")),
		Limit:         100,
		Offset:        0,
	}

	statusRaw := strings.TrimSpace(ctx.QueryParam("status"))
	if statusRaw != "" {
		status, err := strconv.ParseInt(statusRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.HasStatus = true
		req.Status = PaymentStatus(status)
	}

	providerRaw := strings.TrimSpace(ctx.QueryParam("provider"))
	if providerRaw != "" {
		code := ProviderCodeFromName(providerRaw)
		if code == ProviderUnspecified {
			parsed, err := strconv.ParseInt(providerRaw, 10, 32)
			if err != nil || ProviderCode(parsed).String() == "unspecified" {
				return nil, errors.New("invalid provider")
			}
			code = ProviderCode(parsed)
		}
		req.Provider = code
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListPaymentsRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 100
	}
	if r.Limit <= 0 || r.Limit > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	if r.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	if r.HasStatus && !IsValidPaymentStatus(r.Status) {
		return errors.New("invalid status")
	}
	return nil
}

type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func NewConfirmPaymentRequestFromContext(ctx echo.Context) (*ConfirmPaymentRequest, error) {
	return &ConfirmPaymentRequest{PaymentIntentID: strings.TrimSpace(ctx.Param("intent_id"))}, nil
}

func (r *ConfirmPaymentRequest) Validate() error {
	if r.PaymentIntentID == "" {
		return errors.New("payment intent id is required")
	}
	return nil
}

// HandleWebhookRequest carries an inbound provider notification. Payload is
// the request body exactly as received; signature verification depends on
// those bytes staying untouched.
type HandleWebhookRequest struct {
	RequestID string
	Provider  string
	Signature string
	Payload   []byte
}

func NewHandleWebhookRequestFromContext(ctx echo.Context) (*HandleWebhookRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &HandleWebhookRequest{
		RequestID: strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID)),
		Provider:  strings.ToLower(strings.TrimSpace(ctx.Param("provider"))),
		Payload:   rawBody,
	}, nil
}

func (r *HandleWebhookRequest) Validate() error {
	if r.Provider == "" {
		return errors.New("provider is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

// Payment is the API representation of a payment record.
type Payment struct {
	ID                uint64            `json:"id"`
	PaymentIntentID   string            `json:"payment_intent_id"`
	RequestID         string            `json:"request_id"`
	CallerService     string            `json:"caller_service"`
	Status            PaymentStatus     `json:"status"`
	StatusName        string            `json:"status_name"`
	Provider          ProviderCode      `json:"provider"`
	ProviderName      string            `json:"provider_name"`
	AmountCents       int64             `json:"amount_cents"`
	Currency          string            `json:"currency"`
	Description       string            `json:"description"`
	CustomerRef       string            `json:"customer_ref,omitempty"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	CheckoutURL       string            `json:"checkout_url,omitempty"`
	ReturnURL         string            `json:"return_url,omitempty"`
	CancelURL         string            `json:"cancel_url,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	Metadata          map[string]string `json:"metadata"`
	CompletedAt       string            `json:"completed_at,omitempty"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
}

type CreatePaymentResponse struct {
	Payment *Payment `json:"payment"`
	// CheckoutURL duplicates Payment.CheckoutURL for providers that host the
	// checkout page. RedirectForm carries the signed form fields for
	// providers where the caller posts the customer to the provider itself.
	CheckoutURL  string            `json:"checkout_url,omitempty"`
	RedirectURL  string            `json:"redirect_url,omitempty"`
	RedirectForm map[string]string `json:"redirect_form,omitempty"`
}

type GetPaymentResponse struct {
	Payment *Payment `json:"payment"`
}

type ListPaymentsResponse struct {
	Payments []*Payment `json:"payments"`
}

type ConfirmPaymentResponse struct {
	Payment *Payment `json:"payment"`
}

type WebhookAckResponse struct {
	Status string `json:"status"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
