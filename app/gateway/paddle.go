package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/licenseworks/ms-go-paygate/app/httpclient"
	"github.com/licenseworks/ms-go-paygate/app/types"
)

const paddleDefaultBaseURL = "https://api.paddle.com"

type PaddleConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	// SignatureToleranceSeconds bounds how old a webhook timestamp may be.
	// Zero disables the freshness check.
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type Paddle struct {
	cfg    PaddleConfig
	client *httpclient.Client
	now    func() time.Time
}

func NewPaddle(cfg PaddleConfig) (*Paddle, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("paddle api key is not configured")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("paddle webhook secret is not configured")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = paddleDefaultBaseURL
	}

	client := httpclient.New().
		WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		WithBearerToken(cfg.APIKey).
		WithTimeout(cfg.HTTPTimeout)

	return &Paddle{cfg: cfg, client: client, now: time.Now}, nil
}

func (p *Paddle) Code() types.ProviderCode {
	return types.ProviderPaddle
}

func (p *Paddle) Name() string {
	return "paddle"
}

func (p *Paddle) SignatureHeader() string {
	return "Paddle-Signature"
}

func (p *Paddle) CreateSession(ctx context.Context, input *SessionInput) (*Session, error) {
	body := map[string]interface{}{
		"items": []map[string]interface{}{
			{
				"quantity": 1,
				"price": map[string]interface{}{
					"name":        input.Description,
					"description": input.Description,
					"unit_price": map[string]string{
						"amount":        strconv.FormatInt(input.AmountCents, 10),
						"currency_code": strings.ToUpper(input.Currency),
					},
					"product": map[string]string{
						"name":         input.Description,
						"tax_category": "standard",
					},
				},
			},
		},
		"custom_data": map[string]string{
			"payment_intent_id": input.PaymentIntentID,
		},
	}
	if returnURL := strings.TrimSpace(input.ReturnURL); returnURL != "" {
		body["checkout"] = map[string]string{"url": returnURL}
	}

	resp, err := p.client.Post(ctx, "/transactions", body)
	if err != nil {
		if httpclient.IsTimeout(err) {
			return nil, fmt.Errorf("%w: paddle create transaction timed out", ErrUnknownOutcome)
		}
		return nil, fmt.Errorf("%w: paddle create transaction: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: paddle create transaction: status=%d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: paddle create transaction rejected: status=%d body=%s", ErrProtocol, resp.StatusCode, truncateBody(resp.Body))
	}

	var payload struct {
		Data struct {
			ID       string `json:"id"`
			Checkout struct {
				URL string `json:"url"`
			} `json:"checkout"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: paddle create transaction response: %v", ErrProtocol, err)
	}
	if strings.TrimSpace(payload.Data.ID) == "" {
		return nil, fmt.Errorf("%w: paddle transaction id missing", ErrProtocol)
	}

	return &Session{
		ProviderPaymentID: strings.TrimSpace(payload.Data.ID),
		CheckoutURL:       strings.TrimSpace(payload.Data.Checkout.URL),
	}, nil
}

// VerifyWebhookSignature checks the Paddle-Signature header, a list of
// "ts=<unix>;h1=<hex>" pairs. The digest is HMAC-SHA256 over
// "<ts>:<raw body>". A header without a timestamp never verifies.
func (p *Paddle) VerifyWebhookSignature(payload []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}

	var ts string
	h1 := make([]string, 0, 1)
	for _, part := range strings.Split(signature, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "ts=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "ts="))
		}
		if strings.HasPrefix(part, "h1=") {
			h1 = append(h1, strings.TrimSpace(strings.TrimPrefix(part, "h1=")))
		}
	}
	if ts == "" || len(h1) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if tolerance := p.cfg.SignatureToleranceSeconds; tolerance > 0 {
		now := p.now().Unix()
		if now-tsUnix > tolerance || tsUnix-now > tolerance {
			return false
		}
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte(":"))
	_, _ = mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range h1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return true
		}
	}

	return false
}

func (p *Paddle) ParseWebhookEvent(payload []byte) *Event {
	var event struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Data      struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			CustomData struct {
				PaymentIntentID string `json:"payment_intent_id"`
			} `json:"custom_data"`
			Details struct {
				Totals struct {
					Total        string `json:"total"`
					CurrencyCode string `json:"currency_code"`
				} `json:"totals"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil
	}

	intentID := strings.TrimSpace(event.Data.CustomData.PaymentIntentID)
	providerPaymentID := strings.TrimSpace(event.Data.ID)
	if intentID == "" && providerPaymentID == "" {
		return nil
	}

	amountCents, _ := strconv.ParseInt(strings.TrimSpace(event.Data.Details.Totals.Total), 10, 64)
	result := &Event{
		EventType:         strings.TrimSpace(event.EventType),
		PaymentIntentID:   intentID,
		ProviderPaymentID: providerPaymentID,
		ProviderEventID:   strings.TrimSpace(event.EventID),
		AmountCents:       amountCents,
		Currency:          strings.ToUpper(strings.TrimSpace(event.Data.Details.Totals.CurrencyCode)),
		Raw:               payload,
	}

	switch event.EventType {
	case "transaction.completed", "transaction.paid":
		result.Status = types.EventStatusCompleted
	case "transaction.payment_failed":
		result.Status = types.EventStatusFailed
		result.Reason = failureReason("paddle", event.Data.Status)
	case "transaction.created", "transaction.ready", "transaction.billed":
		result.Status = types.EventStatusPending
	default:
		result.Status = types.EventStatusUnknown
	}

	return result
}

func (p *Paddle) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return nil, fmt.Errorf("%w: paddle transaction id is empty", ErrProtocol)
	}

	resp, err := p.client.Get(ctx, "/transactions/"+providerPaymentID)
	if err != nil {
		if httpclient.IsTimeout(err) {
			return nil, fmt.Errorf("%w: paddle get transaction timed out", ErrUnknownOutcome)
		}
		return nil, fmt.Errorf("%w: paddle get transaction: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: paddle get transaction: status=%d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: paddle get transaction rejected: status=%d body=%s", ErrProtocol, resp.StatusCode, truncateBody(resp.Body))
	}

	var payload struct {
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: paddle get transaction response: %v", ErrProtocol, err)
	}

	result := &StatusResult{
		ProviderPaymentID: strings.TrimSpace(payload.Data.ID),
		Raw:               resp.Body,
	}
	switch strings.ToLower(strings.TrimSpace(payload.Data.Status)) {
	case "completed", "paid":
		result.Status = types.EventStatusCompleted
	case "canceled":
		result.Status = types.EventStatusFailed
		result.Reason = failureReason("paddle", payload.Data.Status)
	case "draft", "ready", "billed", "created", "past_due":
		result.Status = types.EventStatusPending
	default:
		result.Status = types.EventStatusUnknown
	}

	return result, nil
}

func (p *Paddle) ConfirmPayment(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	return p.GetPaymentStatus(ctx, providerPaymentID)
}

func failureReason(provider, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return provider + " reported failure"
	}
	return provider + " reported: " + detail
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit])
}
