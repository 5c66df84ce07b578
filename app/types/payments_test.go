package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewCreatePaymentRequestFromContextUsesHeaderRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments", bytes.NewBufferString(`{"caller_service":"licensing-service","provider":"Paddle","amount_cents":4900,"currency":"usd","description":"Pro license"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderXRequestID, "req-from-header")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewCreatePaymentRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.RequestID != "req-from-header" {
		t.Fatalf("expected header request id, got %q", parsed.RequestID)
	}
	if parsed.Currency != "USD" {
		t.Fatalf("expected upper-cased currency, got %q", parsed.Currency)
	}
	if parsed.Provider != "paddle" {
		t.Fatalf("expected lower-cased provider, got %q", parsed.Provider)
	}
}

func TestCreatePaymentValidate(t *testing.T) {
	req := &CreatePaymentRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected request_id validation error")
	}

	req = &CreatePaymentRequest{
		RequestID:     "req-1",
		CallerService: "licensing-service",
		Provider:      "paddle",
		AmountCents:   0,
		Currency:      "USD",
		Description:   "Pro license",
	}
	if err := req.Validate(); err == nil {
		t.Fatal("expected amount_cents validation error")
	}

	req.AmountCents = 4900
	req.Currency = "USDT"
	if err := req.Validate(); err == nil {
		t.Fatal("expected currency validation error")
	}

	req.Currency = "USD"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	req.Provider = "stripe"
	if err := req.Validate(); err == nil {
		t.Fatal("expected provider validation error")
	}
}

func TestNewListPaymentsRequestFromContextAndValidate(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/payments?status=3&provider=paddle&limit=20&offset=3", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewListPaymentsRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !parsed.HasStatus || parsed.Status != PaymentStatusCompleted {
		t.Fatalf("unexpected status parse: %+v", parsed)
	}
	if parsed.Provider != ProviderPaddle {
		t.Fatalf("unexpected provider parse: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid list request, got %v", err)
	}
}

func TestNewListPaymentsRequestFromContextRejectsBadProvider(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/payments?provider=stripe", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if _, err := NewListPaymentsRequestFromContext(ctx); err == nil {
		t.Fatal("expected invalid provider error")
	}
}

func TestListPaymentsValidateDefaultLimit(t *testing.T) {
	req := &ListPaymentsRequest{}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected zero-values request to apply default limit, got %v", err)
	}
	if req.Limit != 100 {
		t.Fatalf("expected default limit 100, got %d", req.Limit)
	}
}

func TestNewHandleWebhookRequestFromContextKeepsRawBody(t *testing.T) {
	e := echo.New()
	body := `{"event_id":"evt_1","data":{"amount":"49.00"}}`
	req := httptest.NewRequest("POST", "/webhooks/PayFast", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("provider")
	ctx.SetParamValues("PayFast")

	parsed, err := NewHandleWebhookRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.Provider != "payfast" {
		t.Fatalf("expected lower-cased provider, got %q", parsed.Provider)
	}
	if string(parsed.Payload) != body {
		t.Fatalf("expected untouched payload bytes, got %q", parsed.Payload)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid webhook request, got %v", err)
	}
}

func TestHandleWebhookValidateRequiresPayload(t *testing.T) {
	req := &HandleWebhookRequest{Provider: "paddle"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected payload validation error")
	}
}

func TestConfirmPaymentValidate(t *testing.T) {
	req := &ConfirmPaymentRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected intent id validation error")
	}
	req.PaymentIntentID = "pi_1"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid confirm request, got %v", err)
	}
}
