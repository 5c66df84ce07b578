package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/licenseworks/ms-go-paygate/app/httpclient"
	"github.com/licenseworks/ms-go-paygate/app/types"
)

const (
	nowDefaultBaseURL  = "https://api.nowpayments.io"
	nowDefaultTokenTTL = 4 * time.Minute
)

type NOWPaymentsConfig struct {
	APIKey    string
	IPNSecret string
	// Email and Password feed the short-lived JWT used for status queries.
	// When absent the adapter still creates payments and verifies IPNs,
	// but reports status checks as unsupported.
	Email       string
	Password    string
	BaseURL     string
	TokenTTL    time.Duration
	HTTPTimeout time.Duration
}

type NOWPayments struct {
	cfg    NOWPaymentsConfig
	client *httpclient.Client
	now    func() time.Time

	// mu guards the cached status-query token. Tokens expire after a few
	// minutes; refresh happens lazily on the next query past tokenExp.
	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewNOWPayments(cfg NOWPaymentsConfig) (*NOWPayments, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("nowpayments api key is not configured")
	}
	if strings.TrimSpace(cfg.IPNSecret) == "" {
		return nil, errors.New("nowpayments ipn secret is not configured")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = nowDefaultBaseURL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = nowDefaultTokenTTL
	}

	client := httpclient.New().
		WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		WithHeader("x-api-key", cfg.APIKey).
		WithTimeout(cfg.HTTPTimeout)

	return &NOWPayments{cfg: cfg, client: client, now: time.Now}, nil
}

func (p *NOWPayments) Code() types.ProviderCode {
	return types.ProviderNOWPayments
}

func (p *NOWPayments) Name() string {
	return "nowpayments"
}

func (p *NOWPayments) SignatureHeader() string {
	return "x-nowpayments-sig"
}

func (p *NOWPayments) CreateSession(ctx context.Context, input *SessionInput) (*Session, error) {
	body := map[string]interface{}{
		"price_amount":      float64(input.AmountCents) / 100,
		"price_currency":    strings.ToLower(input.Currency),
		"order_id":          input.PaymentIntentID,
		"order_description": input.Description,
	}
	if returnURL := strings.TrimSpace(input.ReturnURL); returnURL != "" {
		body["success_url"] = returnURL
	}
	if cancelURL := strings.TrimSpace(input.CancelURL); cancelURL != "" {
		body["cancel_url"] = cancelURL
	}

	resp, err := p.client.Post(ctx, "/v1/invoice", body)
	if err != nil {
		if httpclient.IsTimeout(err) {
			return nil, fmt.Errorf("%w: nowpayments create invoice timed out", ErrUnknownOutcome)
		}
		return nil, fmt.Errorf("%w: nowpayments create invoice: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: nowpayments create invoice: status=%d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: nowpayments create invoice rejected: status=%d body=%s", ErrProtocol, resp.StatusCode, truncateBody(resp.Body))
	}

	var payload struct {
		ID         json.Number `json:"id"`
		InvoiceURL string      `json:"invoice_url"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: nowpayments create invoice response: %v", ErrProtocol, err)
	}
	if payload.ID.String() == "" {
		return nil, fmt.Errorf("%w: nowpayments invoice id missing", ErrProtocol)
	}

	return &Session{
		ProviderPaymentID: payload.ID.String(),
		CheckoutURL:       strings.TrimSpace(payload.InvoiceURL),
	}, nil
}

// VerifyWebhookSignature checks the x-nowpayments-sig header: HMAC-SHA512
// in hex over the body bytes exactly as received.
func (p *NOWPayments) VerifyWebhookSignature(payload []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(p.cfg.IPNSecret))
	_, _ = mac.Write(payload)
	expected := mac.Sum(nil)

	candidate, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(candidate, expected)
}

func (p *NOWPayments) ParseWebhookEvent(payload []byte) *Event {
	var ipn struct {
		PaymentID     json.Number `json:"payment_id"`
		PaymentStatus string      `json:"payment_status"`
		OrderID       string      `json:"order_id"`
		PriceAmount   float64     `json:"price_amount"`
		PriceCurrency string      `json:"price_currency"`
	}
	if err := json.Unmarshal(payload, &ipn); err != nil {
		return nil
	}

	intentID := strings.TrimSpace(ipn.OrderID)
	providerPaymentID := ipn.PaymentID.String()
	if intentID == "" && providerPaymentID == "" {
		return nil
	}

	status, reason := nowStatusToEvent(ipn.PaymentStatus)
	return &Event{
		EventType:         "ipn." + strings.ToLower(strings.TrimSpace(ipn.PaymentStatus)),
		PaymentIntentID:   intentID,
		ProviderPaymentID: providerPaymentID,
		Status:            status,
		AmountCents:       int64(math.Round(ipn.PriceAmount * 100)),
		Currency:          strings.ToUpper(strings.TrimSpace(ipn.PriceCurrency)),
		Reason:            reason,
		Raw:               payload,
	}
}

func (p *NOWPayments) GetPaymentStatus(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return nil, fmt.Errorf("%w: nowpayments payment id is empty", ErrProtocol)
	}
	if strings.TrimSpace(p.cfg.Email) == "" || strings.TrimSpace(p.cfg.Password) == "" {
		return nil, ErrStatusCheckUnsupported
	}

	if err := p.ensureAuth(ctx); err != nil {
		return nil, err
	}

	resp, err := p.client.Get(ctx, "/v1/payment/"+providerPaymentID)
	if err != nil {
		if httpclient.IsTimeout(err) {
			return nil, fmt.Errorf("%w: nowpayments get payment timed out", ErrUnknownOutcome)
		}
		return nil, fmt.Errorf("%w: nowpayments get payment: %v", ErrUnavailable, err)
	}
	if resp.StatusCode == 401 {
		// Token aged out between refresh and use; drop it so the next
		// attempt re-authenticates.
		p.mu.Lock()
		p.token = ""
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: nowpayments token expired", ErrUnavailable)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: nowpayments get payment: status=%d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: nowpayments get payment rejected: status=%d body=%s", ErrProtocol, resp.StatusCode, truncateBody(resp.Body))
	}

	var payload struct {
		PaymentID     json.Number `json:"payment_id"`
		PaymentStatus string      `json:"payment_status"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: nowpayments get payment response: %v", ErrProtocol, err)
	}

	status, reason := nowStatusToEvent(payload.PaymentStatus)
	return &StatusResult{
		Status:            status,
		ProviderPaymentID: payload.PaymentID.String(),
		Reason:            reason,
		Raw:               resp.Body,
	}, nil
}

func (p *NOWPayments) ConfirmPayment(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	return p.GetPaymentStatus(ctx, providerPaymentID)
}

func (p *NOWPayments) ensureAuth(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.tokenExp) {
		return nil
	}

	resp, err := p.client.Post(ctx, "/v1/auth", map[string]string{
		"email":    p.cfg.Email,
		"password": p.cfg.Password,
	})
	if err != nil {
		if httpclient.IsTimeout(err) {
			return fmt.Errorf("%w: nowpayments auth timed out", ErrUnavailable)
		}
		return fmt.Errorf("%w: nowpayments auth: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: nowpayments auth: status=%d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: nowpayments auth rejected: status=%d", ErrProtocol, resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return fmt.Errorf("%w: nowpayments auth response: %v", ErrProtocol, err)
	}
	if strings.TrimSpace(payload.Token) == "" {
		return fmt.Errorf("%w: nowpayments auth token missing", ErrProtocol)
	}

	p.token = strings.TrimSpace(payload.Token)
	p.tokenExp = p.now().Add(p.cfg.TokenTTL)
	p.client.WithBearerToken(p.token)
	return nil
}

func nowStatusToEvent(raw string) (types.EventStatus, string) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "finished", "confirmed":
		return types.EventStatusCompleted, ""
	case "failed", "refunded", "expired":
		return types.EventStatusFailed, failureReason("nowpayments", raw)
	case "waiting", "confirming", "sending", "partially_paid":
		return types.EventStatusPending, ""
	default:
		return types.EventStatusUnknown, ""
	}
}
