package gateway

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/licenseworks/ms-go-paygate/app/types"
)

const payfastDefaultProcessURL = "https://www.payfast.co.za/eng/process"

type PayFastConfig struct {
	MerchantID  string
	MerchantKey string
	// Passphrase is the optional salt configured in the merchant account.
	// When set it participates in every signature, ours and theirs.
	Passphrase string
	ProcessURL string
	NotifyURL  string
	ReturnURL  string
	CancelURL  string
}

// PayFast is a redirect-form provider: checkout happens by posting the
// customer to the provider with a signed field set, and settlement comes
// back as a signed ITN form post. There is no status query API.
type PayFast struct {
	cfg PayFastConfig
}

func NewPayFast(cfg PayFastConfig) (*PayFast, error) {
	if strings.TrimSpace(cfg.MerchantID) == "" {
		return nil, errors.New("payfast merchant id is not configured")
	}
	if strings.TrimSpace(cfg.MerchantKey) == "" {
		return nil, errors.New("payfast merchant key is not configured")
	}
	if strings.TrimSpace(cfg.NotifyURL) == "" {
		return nil, errors.New("payfast notify url is not configured")
	}
	if strings.TrimSpace(cfg.ProcessURL) == "" {
		cfg.ProcessURL = payfastDefaultProcessURL
	}
	return &PayFast{cfg: cfg}, nil
}

func (p *PayFast) Code() types.ProviderCode {
	return types.ProviderPayFast
}

func (p *PayFast) Name() string {
	return "payfast"
}

// SignatureHeader is empty: the ITN signature travels inside the form body.
func (p *PayFast) SignatureHeader() string {
	return ""
}

func (p *PayFast) CreateSession(_ context.Context, input *SessionInput) (*Session, error) {
	returnURL := strings.TrimSpace(input.ReturnURL)
	if returnURL == "" {
		returnURL = p.cfg.ReturnURL
	}
	cancelURL := strings.TrimSpace(input.CancelURL)
	if cancelURL == "" {
		cancelURL = p.cfg.CancelURL
	}

	fields := map[string]string{
		"merchant_id":  p.cfg.MerchantID,
		"merchant_key": p.cfg.MerchantKey,
		"return_url":   returnURL,
		"cancel_url":   cancelURL,
		"notify_url":   p.cfg.NotifyURL,
		"m_payment_id": input.PaymentIntentID,
		"amount":       centsToDecimal(input.AmountCents),
		"item_name":    input.Description,
	}
	if ref := strings.TrimSpace(input.CustomerRef); ref != "" {
		fields["custom_str1"] = ref
	}
	fields["signature"] = signFormFields(fields, p.cfg.Passphrase)

	return &Session{
		RedirectURL:  p.cfg.ProcessURL,
		RedirectForm: fields,
	}, nil
}

func (p *PayFast) VerifyWebhookSignature(payload []byte, _ string) bool {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return false
	}

	received := strings.TrimSpace(values.Get("signature"))
	if received == "" {
		return false
	}

	fields := make(map[string]string, len(values))
	for key := range values {
		if key == "signature" {
			continue
		}
		fields[key] = values.Get(key)
	}

	expected := signFormFields(fields, p.cfg.Passphrase)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(received)), []byte(expected)) == 1
}

func (p *PayFast) ParseWebhookEvent(payload []byte) *Event {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil
	}

	intentID := strings.TrimSpace(values.Get("m_payment_id"))
	providerPaymentID := strings.TrimSpace(values.Get("pf_payment_id"))
	if intentID == "" && providerPaymentID == "" {
		return nil
	}

	paymentStatus := strings.ToUpper(strings.TrimSpace(values.Get("payment_status")))
	event := &Event{
		EventType:         "itn." + strings.ToLower(paymentStatus),
		PaymentIntentID:   intentID,
		ProviderPaymentID: providerPaymentID,
		ProviderEventID:   providerPaymentID,
		AmountCents:       decimalToCents(values.Get("amount_gross")),
		Raw:               payload,
	}

	switch paymentStatus {
	case "COMPLETE":
		event.Status = types.EventStatusCompleted
	case "FAILED":
		event.Status = types.EventStatusFailed
		event.Reason = "payfast reported failed"
	case "CANCELLED":
		event.Status = types.EventStatusFailed
		event.Reason = "payfast reported cancelled"
	case "PENDING":
		event.Status = types.EventStatusPending
	default:
		event.Status = types.EventStatusUnknown
	}

	return event
}

func (p *PayFast) GetPaymentStatus(_ context.Context, _ string) (*StatusResult, error) {
	return nil, ErrStatusCheckUnsupported
}

func (p *PayFast) ConfirmPayment(_ context.Context, _ string) (*StatusResult, error) {
	return nil, ErrStatusCheckUnsupported
}

// signFormFields computes the keyed digest both sides use: non-empty
// fields sorted by name, URL-encoded with spaces as '+', passphrase
// appended last when configured, MD5 over the whole string.
func signFormFields(fields map[string]string, passphrase string) string {
	keys := make([]string, 0, len(fields))
	for key, value := range fields {
		if strings.TrimSpace(value) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for i, key := range keys {
		if i > 0 {
			builder.WriteByte('&')
		}
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(url.QueryEscape(fields[key]))
	}
	if strings.TrimSpace(passphrase) != "" {
		if builder.Len() > 0 {
			builder.WriteByte('&')
		}
		builder.WriteString("passphrase=")
		builder.WriteString(url.QueryEscape(passphrase))
	}

	sum := md5.Sum([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}

func centsToDecimal(cents int64) string {
	return strconv.FormatFloat(float64(cents)/100, 'f', 2, 64)
}

func decimalToCents(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(value * 100))
}
