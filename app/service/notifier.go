package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/licenseworks/ms-go-paygate/app/httpclient"
	"github.com/licenseworks/ms-go-paygate/config"
)

// HTTPCompletionNotifier posts settled payments to the downstream
// completion endpoint. The receiver dedupes on X-Idempotency-Key, which
// carries the payment intent id, so repeated delivery of the same
// completion is harmless.
type HTTPCompletionNotifier struct {
	url    string
	client *httpclient.Client
}

func NewHTTPCompletionNotifier(cfg config.DownstreamConfig) *HTTPCompletionNotifier {
	client := httpclient.New().WithTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		client = client.WithHeader("X-API-Key", cfg.APIKey)
	}
	return &HTTPCompletionNotifier{
		url:    strings.TrimSpace(cfg.CompletionURL),
		client: client,
	}
}

type completionPayload struct {
	PaymentIntentID string            `json:"payment_intent_id"`
	AmountCents     int64             `json:"amount_cents"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func (n *HTTPCompletionNotifier) ApplyPaymentCompletion(
	ctx context.Context,
	paymentIntentID string,
	amountCents int64,
	currency string,
	metadata map[string]string,
) error {
	resp, err := n.client.PostWithHeaders(ctx, n.url, &completionPayload{
		PaymentIntentID: paymentIntentID,
		AmountCents:     amountCents,
		Currency:        currency,
		Metadata:        metadata,
	}, map[string]string{"X-Idempotency-Key": paymentIntentID})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("completion endpoint returned status=%d", resp.StatusCode)
	}
	return nil
}
