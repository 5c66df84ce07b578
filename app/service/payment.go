package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/licenseworks/ms-go-paygate/app/entity"
	"github.com/licenseworks/ms-go-paygate/app/factory"
	"github.com/licenseworks/ms-go-paygate/app/gateway"
	"github.com/licenseworks/ms-go-paygate/app/repository"
	"github.com/licenseworks/ms-go-paygate/app/types"
	"github.com/licenseworks/ms-go-paygate/config"
)

const (
	defaultListLimit = int32(100)
	defaultBatchSize = int32(100)
)

type paymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	UpdateVersioned(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id uint64) (*entity.Payment, error)
	FindByIntentID(ctx context.Context, paymentIntentID string) (*entity.Payment, error)
	FindByProviderPaymentID(ctx context.Context, provider types.ProviderCode, providerPaymentID string) (*entity.Payment, error)
	FindByCallerRequestID(ctx context.Context, callerService, requestID string) (*entity.Payment, error)
	List(ctx context.Context, filter repository.PaymentFilter) ([]*entity.Payment, error)
	ListStalePending(ctx context.Context, before, createdAfter time.Time, limit int32) ([]*entity.Payment, error)
	ListDuePropagation(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error)
}

type paymentEventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
}

type webhookLogRepository interface {
	Create(ctx context.Context, log *entity.WebhookLog) error
}

// CompletionNotifier tells the downstream system a payment settled. The
// call must be idempotent by payment intent id on the receiving side; the
// propagation marker only guarantees at-least-once.
type CompletionNotifier interface {
	ApplyPaymentCompletion(ctx context.Context, paymentIntentID string, amountCents int64, currency string, metadata map[string]string) error
}

type PaymentService struct {
	paymentRepo paymentRepository
	eventRepo   paymentEventRepository
	webhookRepo webhookLogRepository
	gateways    *gateway.Registry
	notifier    CompletionNotifier
	paymentsCfg config.PaymentsConfig
	logger      logrus.FieldLogger
}

func NewPaymentService(
	paymentRepo paymentRepository,
	eventRepo paymentEventRepository,
	webhookRepo webhookLogRepository,
	gateways *gateway.Registry,
	notifier CompletionNotifier,
	paymentsCfg config.PaymentsConfig,
) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		eventRepo:   eventRepo,
		webhookRepo: webhookRepo,
		gateways:    gateways,
		notifier:    notifier,
		paymentsCfg: paymentsCfg,
		logger:      factory.NewModuleLogger("payments-service"),
	}
}

// CreatePaymentResult pairs the stored record with the provider session.
// Session is nil when the request replayed an existing payment; redirect
// form fields are only handed out once, on the create that made them.
type CreatePaymentResult struct {
	Payment *entity.Payment
	Session *gateway.Session
}

func (s *PaymentService) CreatePayment(ctx context.Context, req *types.CreatePaymentRequest) (*CreatePaymentResult, error) {
	requestID := strings.TrimSpace(req.RequestID)
	callerService := strings.TrimSpace(req.CallerService)
	if requestID == "" || callerService == "" {
		return nil, ErrInvalidRequest
	}

	existing, err := s.paymentRepo.FindByCallerRequestID(ctx, callerService, requestID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &CreatePaymentResult{Payment: existing}, nil
	}

	providerCode := types.ProviderCodeFromName(req.Provider)
	gw, err := s.gateways.Get(providerCode)
	if err != nil {
		if errors.Is(err, gateway.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	paymentIntentID := "pi_" + uuid.NewString()
	customerRef := normalizeOptionalString(req.CustomerRef)
	metadata := cloneMetadata(req.Metadata)

	start := time.Now()
	session, err := gw.CreateSession(ctx, &gateway.SessionInput{
		PaymentIntentID: paymentIntentID,
		AmountCents:     req.AmountCents,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Description:     strings.TrimSpace(req.Description),
		CustomerRef:     strings.TrimSpace(req.CustomerRef),
		Metadata:        metadata,
		ReturnURL:       strings.TrimSpace(req.ReturnURL),
		CancelURL:       strings.TrimSpace(req.CancelURL),
	})
	observeGatewayCall(gw.Name(), "create_session", start)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := &entity.Payment{
		PaymentIntentID:   paymentIntentID,
		RequestID:         requestID,
		CallerService:     callerService,
		Status:            types.PaymentStatusPending,
		Version:           1,
		Provider:          providerCode,
		ProviderPaymentID: normalizeOptionalString(session.ProviderPaymentID),
		CheckoutURL:       normalizeOptionalString(session.CheckoutURL),
		AmountCents:       req.AmountCents,
		Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
		Description:       strings.TrimSpace(req.Description),
		CustomerRef:       customerRef,
		ReturnURL:         strings.TrimSpace(req.ReturnURL),
		CancelURL:         strings.TrimSpace(req.CancelURL),
		Metadata:          metadata,
		PropagationStatus: entity.PropagationNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			// Lost a create race for the same caller request; the winner's
			// record is the payment.
			winner, findErr := s.paymentRepo.FindByCallerRequestID(ctx, callerService, requestID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return &CreatePaymentResult{Payment: winner}, nil
			}
			return nil, ErrPaymentAlreadyExists
		}
		return nil, err
	}

	_ = s.eventRepo.Create(ctx, &entity.PaymentEvent{
		PaymentID: payment.ID,
		EventType: "payment_created",
		Origin:    originAPI,
		NewStatus: int32(payment.Status),
		CreatedAt: now,
	})

	return &CreatePaymentResult{Payment: payment, Session: session}, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id uint64) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByIntentID(ctx, strings.TrimSpace(paymentIntentID))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) ListPayments(ctx context.Context, req *types.ListPaymentsRequest) ([]*entity.Payment, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	filter := repository.PaymentFilter{
		RequestID:     strings.TrimSpace(req.RequestID),
		CallerService: strings.TrimSpace(req.CallerService),
		HasStatus:     req.HasStatus,
		Status:        req.Status,
		Provider:      req.Provider,
		Limit:         limit,
		Offset:        req.Offset,
	}

	return s.paymentRepo.List(ctx, filter)
}

// ConfirmPayment finalizes a payment after the customer returns from the
// provider. The provider is asked for the authoritative state; an answer
// is applied through the regular transition path, while silence, timeout
// or an unsupported status API leaves the record in flight. A payment is
// never failed just because the provider had no answer at return time.
func (s *PaymentService) ConfirmPayment(ctx context.Context, paymentIntentID string) (*entity.Payment, error) {
	payment, err := s.GetPaymentByIntentID(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if payment.Status.Terminal() {
		return payment, nil
	}

	gw, err := s.gateways.Get(payment.Provider)
	if err != nil {
		if errors.Is(err, gateway.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	event := s.confirmEvent(ctx, gw, payment)
	applied, _, err := s.applyEvent(ctx, gw, event, originConfirm)
	if err != nil {
		return nil, err
	}
	if applied != nil {
		return applied, nil
	}
	return payment, nil
}

// confirmEvent asks the provider for the payment's state and shapes the
// answer as an event. When no definitive answer exists the event is a
// plain pending marker: the customer did come back, so a still-Pending
// record moves to Processing.
func (s *PaymentService) confirmEvent(ctx context.Context, gw gateway.Gateway, payment *entity.Payment) *gateway.Event {
	pendingEvent := &gateway.Event{
		EventType:       "confirm.returned",
		PaymentIntentID: payment.PaymentIntentID,
		Status:          types.EventStatusPending,
	}

	providerPaymentID := ""
	if payment.ProviderPaymentID != nil {
		providerPaymentID = strings.TrimSpace(*payment.ProviderPaymentID)
	}
	if providerPaymentID == "" {
		return pendingEvent
	}

	start := time.Now()
	result, err := gw.ConfirmPayment(ctx, providerPaymentID)
	observeGatewayCall(gw.Name(), "confirm_payment", start)
	if err != nil {
		if !errors.Is(err, gateway.ErrStatusCheckUnsupported) {
			s.logger.WithFields(logrus.Fields{
				"payment_intent_id": payment.PaymentIntentID,
				"provider":          gw.Name(),
			}).WithError(err).Warn("confirm status check failed")
		}
		return pendingEvent
	}
	if result == nil || result.Status == types.EventStatusUnknown {
		return pendingEvent
	}

	return &gateway.Event{
		EventType:         "confirm." + result.Status.String(),
		PaymentIntentID:   payment.PaymentIntentID,
		ProviderPaymentID: result.ProviderPaymentID,
		Status:            result.Status,
		Reason:            result.Reason,
		Raw:               result.Raw,
	}
}

func (s *PaymentService) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

func normalizeOptionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
