package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/licenseworks/ms-go-paygate/app/entity"
	"github.com/licenseworks/ms-go-paygate/app/gateway"
	"github.com/licenseworks/ms-go-paygate/app/repository"
	"github.com/licenseworks/ms-go-paygate/app/service"
	"github.com/licenseworks/ms-go-paygate/app/types"
	"github.com/licenseworks/ms-go-paygate/config"
)

type controllerPaymentRepo struct {
	createFn                  func(ctx context.Context, payment *entity.Payment) error
	updateVersionedFn         func(ctx context.Context, payment *entity.Payment) error
	findByIDFn                func(ctx context.Context, id uint64) (*entity.Payment, error)
	findByIntentIDFn          func(ctx context.Context, paymentIntentID string) (*entity.Payment, error)
	findByProviderPaymentIDFn func(ctx context.Context, provider types.ProviderCode, providerPaymentID string) (*entity.Payment, error)
	findByCallerRequestIDFn   func(ctx context.Context, callerService, requestID string) (*entity.Payment, error)
	listFn                    func(ctx context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error)
}

func (r *controllerPaymentRepo) Create(ctx context.Context, payment *entity.Payment) error {
	if r.createFn != nil {
		return r.createFn(ctx, payment)
	}
	return nil
}

func (r *controllerPaymentRepo) UpdateVersioned(ctx context.Context, payment *entity.Payment) error {
	if r.updateVersionedFn != nil {
		return r.updateVersionedFn(ctx, payment)
	}
	payment.Version++
	return nil
}

func (r *controllerPaymentRepo) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *controllerPaymentRepo) FindByIntentID(ctx context.Context, paymentIntentID string) (*entity.Payment, error) {
	if r.findByIntentIDFn != nil {
		return r.findByIntentIDFn(ctx, paymentIntentID)
	}
	return nil, nil
}

func (r *controllerPaymentRepo) FindByProviderPaymentID(ctx context.Context, provider types.ProviderCode, providerPaymentID string) (*entity.Payment, error) {
	if r.findByProviderPaymentIDFn != nil {
		return r.findByProviderPaymentIDFn(ctx, provider, providerPaymentID)
	}
	return nil, nil
}

func (r *controllerPaymentRepo) FindByCallerRequestID(ctx context.Context, callerService, requestID string) (*entity.Payment, error) {
	if r.findByCallerRequestIDFn != nil {
		return r.findByCallerRequestIDFn(ctx, callerService, requestID)
	}
	return nil, nil
}

func (r *controllerPaymentRepo) List(ctx context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error) {
	if r.listFn != nil {
		return r.listFn(ctx, filter)
	}
	return []*entity.Payment{}, nil
}

func (r *controllerPaymentRepo) ListStalePending(context.Context, time.Time, time.Time, int32) ([]*entity.Payment, error) {
	return []*entity.Payment{}, nil
}

func (r *controllerPaymentRepo) ListDuePropagation(context.Context, time.Time, int32) ([]*entity.Payment, error) {
	return []*entity.Payment{}, nil
}

type controllerEventRepo struct{}

func (r *controllerEventRepo) Create(context.Context, *entity.PaymentEvent) error {
	return nil
}

type controllerWebhookRepo struct{}

func (r *controllerWebhookRepo) Create(context.Context, *entity.WebhookLog) error {
	return nil
}

type controllerGateway struct {
	rejectSignature bool
	gotSignature    string
	parsedEvent     *gateway.Event
}

func (g *controllerGateway) Code() types.ProviderCode { return types.ProviderPaddle }
func (g *controllerGateway) Name() string             { return "paddle" }
func (g *controllerGateway) SignatureHeader() string  { return "Paddle-Signature" }

func (g *controllerGateway) CreateSession(_ context.Context, input *gateway.SessionInput) (*gateway.Session, error) {
	return &gateway.Session{
		ProviderPaymentID: "txn_123",
		CheckoutURL:       "https://provider.example/checkout/" + input.PaymentIntentID,
	}, nil
}

func (g *controllerGateway) VerifyWebhookSignature(_ []byte, signature string) bool {
	g.gotSignature = signature
	return !g.rejectSignature
}

func (g *controllerGateway) ParseWebhookEvent([]byte) *gateway.Event {
	return g.parsedEvent
}

func (g *controllerGateway) GetPaymentStatus(context.Context, string) (*gateway.StatusResult, error) {
	return nil, gateway.ErrStatusCheckUnsupported
}

func (g *controllerGateway) ConfirmPayment(context.Context, string) (*gateway.StatusResult, error) {
	return nil, gateway.ErrStatusCheckUnsupported
}

type controllerNotifier struct{}

func (controllerNotifier) ApplyPaymentCompletion(context.Context, string, int64, string, map[string]string) error {
	return nil
}

func newControllerForTest(repo *controllerPaymentRepo, gw gateway.Gateway) *PaymentController {
	gateways := gateway.NewRegistry(gw)
	paymentService := service.NewPaymentService(
		repo,
		&controllerEventRepo{},
		&controllerWebhookRepo{},
		gateways,
		controllerNotifier{},
		config.PaymentsConfig{ReconcileStaleAfter: time.Minute, PollCutoffAge: time.Hour, PropagationMaxAttempts: 3, PropagationRetryInterval: time.Minute, JobBatchSize: 100},
	)
	return NewPaymentController(paymentService, gateways)
}

func TestCreatePaymentBadBody(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString("{bad"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := ctrl.CreatePayment(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreatePaymentSuccess(t *testing.T) {
	repo := &controllerPaymentRepo{createFn: func(_ context.Context, payment *entity.Payment) error {
		payment.ID = 22
		return nil
	}}
	ctrl := newControllerForTest(repo, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString(`{"request_id":"req-1","caller_service":"licensing-service","provider":"paddle","amount_cents":4900,"currency":"USD","description":"Pro license"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.CreatePayment(ctx)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.CreatePaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Payment == nil || payload.Payment.ID != 22 {
		t.Fatalf("unexpected payment payload: %+v", payload.Payment)
	}
	if payload.Payment.PaymentIntentID == "" {
		t.Fatal("expected payment intent id in response")
	}
	if payload.CheckoutURL == "" {
		t.Fatal("expected checkout url in response")
	}
}

func TestCreatePaymentUnknownProviderRejected(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString(`{"request_id":"req-1","caller_service":"licensing-service","provider":"stripe","amount_cents":4900,"currency":"USD","description":"Pro license"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.CreatePayment(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payments/9", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("9")

	_ = ctrl.GetPayment(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetPaymentByIntentNotFound(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payments/intent/pi_missing", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("intent_id")
	ctx.SetParamValues("pi_missing")

	_ = ctrl.GetPaymentByIntent(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListPaymentsSuccess(t *testing.T) {
	now := time.Now().UTC()
	ctrl := newControllerForTest(&controllerPaymentRepo{listFn: func(context.Context, repository.PaymentFilter) ([]*entity.Payment, error) {
		return []*entity.Payment{{
			ID:              1,
			PaymentIntentID: "pi_1",
			RequestID:       "req-1",
			CallerService:   "licensing-service",
			Status:          types.PaymentStatusPending,
			Version:         1,
			Provider:        types.ProviderPaddle,
			AmountCents:     4900,
			Currency:        "USD",
			Description:     "Pro license",
			Metadata:        map[string]string{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}}, nil
	}}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payments?limit=10&offset=0", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.ListPayments(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.ListPaymentsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(payload.Payments) != 1 || payload.Payments[0].StatusName != "pending" {
		t.Fatalf("unexpected list payload: %+v", payload.Payments)
	}
}

func TestConfirmPaymentNotFound(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/intent/pi_missing/confirm", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("intent_id")
	ctx.SetParamValues("pi_missing")

	_ = ctrl.ConfirmPayment(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleWebhookRejectedSignature(t *testing.T) {
	gw := &controllerGateway{rejectSignature: true}
	ctrl := newControllerForTest(&controllerPaymentRepo{}, gw)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewBufferString(`{"event_id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Paddle-Signature", "ts=1;h1=bad")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("paddle")

	_ = ctrl.HandleWebhook(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if gw.gotSignature != "ts=1;h1=bad" {
		t.Fatalf("expected signature pulled from provider header, got %q", gw.gotSignature)
	}
}

func TestHandleWebhookProcessed(t *testing.T) {
	providerPaymentID := "txn_1"
	repo := &controllerPaymentRepo{findByIntentIDFn: func(context.Context, string) (*entity.Payment, error) {
		return &entity.Payment{
			ID:                7,
			PaymentIntentID:   "pi_1",
			Status:            types.PaymentStatusPending,
			Version:           1,
			Provider:          types.ProviderPaddle,
			ProviderPaymentID: &providerPaymentID,
			AmountCents:       4900,
			Currency:          "USD",
			Metadata:          map[string]string{},
		}, nil
	}}
	gw := &controllerGateway{parsedEvent: &gateway.Event{
		EventType:       "transaction.completed",
		PaymentIntentID: "pi_1",
		Status:          types.EventStatusCompleted,
	}}
	ctrl := newControllerForTest(repo, gw)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", bytes.NewBufferString(`{"event_id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Paddle-Signature", "ts=1;h1=ok")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("paddle")

	_ = ctrl.HandleWebhook(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.WebhookAckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("unexpected ack payload: %+v", payload)
	}
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{"event_id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("stripe")

	_ = ctrl.HandleWebhook(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	ctrl := newControllerForTest(&controllerPaymentRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := ctrl.Health(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
