package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/licenseworks/ms-go-paygate/app/types"
)

const mockDefaultCompleteAfter = 2 * time.Second

type MockConfig struct {
	// CompleteAfter is the simulated settlement delay.
	CompleteAfter time.Duration
}

// Mock simulates a provider for sandbox deployments. Sessions settle on
// the injected scheduler rather than wall-clock timers, so tests drive
// time themselves. The outcome is chosen deterministically from the
// session input: metadata key "mock_outcome" set to "fail" settles as
// failed, "stay_pending" never settles, anything else completes.
type Mock struct {
	cfg   MockConfig
	sched Scheduler

	mu       sync.Mutex
	sessions map[string]*mockSession
}

type mockSession struct {
	intentID string
	status   types.EventStatus
	reason   string
}

func NewMock(cfg MockConfig, sched Scheduler) *Mock {
	if cfg.CompleteAfter <= 0 {
		cfg.CompleteAfter = mockDefaultCompleteAfter
	}
	if sched == nil {
		sched = NewTimerScheduler()
	}
	return &Mock{
		cfg:      cfg,
		sched:    sched,
		sessions: make(map[string]*mockSession),
	}
}

func (m *Mock) Code() types.ProviderCode {
	return types.ProviderMock
}

func (m *Mock) Name() string {
	return "mock"
}

func (m *Mock) SignatureHeader() string {
	return "x-mock-signature"
}

func (m *Mock) CreateSession(_ context.Context, input *SessionInput) (*Session, error) {
	providerPaymentID := "mock_" + input.PaymentIntentID

	m.mu.Lock()
	m.sessions[providerPaymentID] = &mockSession{
		intentID: input.PaymentIntentID,
		status:   types.EventStatusPending,
	}
	m.mu.Unlock()

	switch input.Metadata["mock_outcome"] {
	case "stay_pending":
	case "fail":
		m.sched.AfterFunc(m.cfg.CompleteAfter, func() {
			m.settle(providerPaymentID, types.EventStatusFailed, "mock declined")
		})
	default:
		m.sched.AfterFunc(m.cfg.CompleteAfter, func() {
			m.settle(providerPaymentID, types.EventStatusCompleted, "")
		})
	}

	return &Session{
		ProviderPaymentID: providerPaymentID,
		CheckoutURL:       "https://mock.invalid/checkout/" + input.PaymentIntentID,
	}, nil
}

func (m *Mock) settle(providerPaymentID string, status types.EventStatus, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[providerPaymentID]
	if !ok || session.status != types.EventStatusPending {
		return
	}
	session.status = status
	session.reason = reason
}

func (m *Mock) VerifyWebhookSignature(_ []byte, _ string) bool {
	return true
}

func (m *Mock) ParseWebhookEvent(payload []byte) *Event {
	var body struct {
		EventType         string `json:"event_type"`
		PaymentIntentID   string `json:"payment_intent_id"`
		ProviderPaymentID string `json:"provider_payment_id"`
		Status            string `json:"status"`
		Reason            string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil
	}
	if strings.TrimSpace(body.PaymentIntentID) == "" && strings.TrimSpace(body.ProviderPaymentID) == "" {
		return nil
	}

	event := &Event{
		EventType:         strings.TrimSpace(body.EventType),
		PaymentIntentID:   strings.TrimSpace(body.PaymentIntentID),
		ProviderPaymentID: strings.TrimSpace(body.ProviderPaymentID),
		Reason:            strings.TrimSpace(body.Reason),
		Raw:               payload,
	}
	if event.EventType == "" {
		event.EventType = "mock." + strings.ToLower(strings.TrimSpace(body.Status))
	}

	switch strings.ToLower(strings.TrimSpace(body.Status)) {
	case "completed":
		event.Status = types.EventStatusCompleted
	case "failed":
		event.Status = types.EventStatusFailed
	case "pending":
		event.Status = types.EventStatusPending
	default:
		event.Status = types.EventStatusUnknown
	}

	return event
}

func (m *Mock) GetPaymentStatus(_ context.Context, providerPaymentID string) (*StatusResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[providerPaymentID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mock payment %q", ErrProtocol, providerPaymentID)
	}
	return &StatusResult{
		Status:            session.status,
		ProviderPaymentID: providerPaymentID,
		Reason:            session.reason,
	}, nil
}

func (m *Mock) ConfirmPayment(ctx context.Context, providerPaymentID string) (*StatusResult, error) {
	return m.GetPaymentStatus(ctx, providerPaymentID)
}
