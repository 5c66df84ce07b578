package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/licenseworks/ms-go-paygate/app/entity"
	"github.com/licenseworks/ms-go-paygate/app/gateway"
	"github.com/licenseworks/ms-go-paygate/app/metrics"
	"github.com/licenseworks/ms-go-paygate/app/repository"
	"github.com/licenseworks/ms-go-paygate/app/types"
)

// Origin of a transition attempt, recorded on the audit event. Every
// path into the engine names itself so the event trail shows whether a
// status change came from a webhook, a redirect return, or the poller.
const (
	originAPI       = "api"
	originWebhook   = "webhook"
	originConfirm   = "confirm"
	originPoll      = "poll"
	originPropagate = "propagate"
)

// applyOutcome classifies what an event did to the record. Duplicate is
// a success: the state the event describes is already in place.
type applyOutcome int

const (
	outcomeIgnored applyOutcome = iota
	outcomeDuplicate
	outcomeApplied
)

// maxTransitionRetries bounds re-application after a version conflict.
// Losing the conditional write twice means concurrent deliverers are
// applying the same provider state; their write stands.
const maxTransitionRetries = 1

// HandleWebhook processes one inbound provider notification: verify the
// signature over the raw payload, parse it into a canonical event, feed
// the event through the reconciliation engine, and record the delivery
// in the webhook log whatever came of it.
//
// A nil payment with a nil error means the payload was acknowledged but
// carried nothing actionable; providers retry anything else.
func (s *PaymentService) HandleWebhook(ctx context.Context, req *types.HandleWebhookRequest) (*entity.Payment, error) {
	gw, err := s.gateways.GetByName(req.Provider)
	if err != nil {
		if errors.Is(err, gateway.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	signature := strings.TrimSpace(req.Signature)
	if !gw.VerifyWebhookSignature(req.Payload, signature) {
		metrics.WebhooksTotal.WithLabelValues(gw.Name(), "rejected").Inc()
		s.recordWebhook(ctx, nil, gw.Name(), signature, req.Payload, entity.WebhookRejected, "signature verification failed")
		return nil, ErrWebhookRejected
	}

	event := gw.ParseWebhookEvent(req.Payload)
	if event == nil {
		metrics.WebhooksTotal.WithLabelValues(gw.Name(), "ignored").Inc()
		s.recordWebhook(ctx, nil, gw.Name(), signature, req.Payload, entity.WebhookIgnored, "payload not recognized")
		return nil, nil
	}

	payment, outcome, err := s.applyEvent(ctx, gw, event, originWebhook)
	if err != nil {
		return nil, err
	}

	var paymentID *uint64
	if payment != nil {
		paymentID = &payment.ID
	}

	switch outcome {
	case outcomeApplied:
		metrics.WebhooksTotal.WithLabelValues(gw.Name(), "processed").Inc()
		s.recordWebhook(ctx, paymentID, gw.Name(), signature, req.Payload, entity.WebhookProcessed, "")
	case outcomeDuplicate:
		metrics.WebhooksTotal.WithLabelValues(gw.Name(), "duplicate").Inc()
		s.recordWebhook(ctx, paymentID, gw.Name(), signature, req.Payload, entity.WebhookDuplicate, "")
	default:
		metrics.WebhooksTotal.WithLabelValues(gw.Name(), "ignored").Inc()
		s.recordWebhook(ctx, paymentID, gw.Name(), signature, req.Payload, entity.WebhookIgnored, "no payment matched the event")
	}

	return payment, nil
}

// applyEvent is the single transition path. Webhooks, redirect-return
// confirmation and the poller all funnel their canonical events through
// here, so ordering and idempotency rules exist exactly once.
func (s *PaymentService) applyEvent(ctx context.Context, gw gateway.Gateway, event *gateway.Event, origin string) (*entity.Payment, applyOutcome, error) {
	payment, err := s.findEventPayment(ctx, gw, event)
	if err != nil {
		return nil, outcomeIgnored, err
	}
	if payment == nil {
		if strings.TrimSpace(event.PaymentIntentID) == "" {
			return nil, outcomeIgnored, nil
		}
		payment, err = s.createFromEvent(ctx, gw, event, origin)
		if err != nil {
			return nil, outcomeIgnored, err
		}
	}

	for attempt := 0; ; attempt++ {
		if payment.Status.Terminal() {
			// Terminal states are sticky. Whatever the event says, the
			// record keeps the outcome that got there first.
			s.logger.WithFields(logrus.Fields{
				"payment_intent_id": payment.PaymentIntentID,
				"event_type":        event.EventType,
				"origin":            origin,
			}).Debug("duplicate event for settled payment discarded")
			return payment, outcomeDuplicate, nil
		}

		target, ok := transitionTarget(payment.Status, event.Status)
		if !ok {
			return payment, outcomeIgnored, nil
		}
		if target == payment.Status {
			return payment, outcomeDuplicate, nil
		}

		err := s.persistTransition(ctx, gw, payment, event, target, origin)
		if err == nil {
			return payment, outcomeApplied, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, outcomeIgnored, err
		}

		reread, findErr := s.paymentRepo.FindByIntentID(ctx, payment.PaymentIntentID)
		if findErr != nil {
			return nil, outcomeIgnored, findErr
		}
		if reread == nil {
			return nil, outcomeIgnored, ErrPaymentNotFound
		}
		payment = reread

		if attempt >= maxTransitionRetries {
			return payment, outcomeDuplicate, nil
		}
	}
}

// findEventPayment locates the record an event belongs to: intent id
// first, provider payment id as the fallback for providers that only
// echo their own transaction id.
func (s *PaymentService) findEventPayment(ctx context.Context, gw gateway.Gateway, event *gateway.Event) (*entity.Payment, error) {
	if intentID := strings.TrimSpace(event.PaymentIntentID); intentID != "" {
		payment, err := s.paymentRepo.FindByIntentID(ctx, intentID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	if providerPaymentID := strings.TrimSpace(event.ProviderPaymentID); providerPaymentID != "" {
		return s.paymentRepo.FindByProviderPaymentID(ctx, gw.Code(), providerPaymentID)
	}
	return nil, nil
}

// createFromEvent backfills a Pending record for an event whose intent id
// has no row yet, e.g. a notification landing before the session create
// committed. Insert races with a concurrent deliverer collapse on the
// unique intent key; the winner's row is used.
func (s *PaymentService) createFromEvent(ctx context.Context, gw gateway.Gateway, event *gateway.Event, origin string) (*entity.Payment, error) {
	now := time.Now().UTC()
	payment := &entity.Payment{
		PaymentIntentID:   strings.TrimSpace(event.PaymentIntentID),
		Status:            types.PaymentStatusPending,
		Version:           1,
		Provider:          gw.Code(),
		ProviderPaymentID: normalizeOptionalString(event.ProviderPaymentID),
		AmountCents:       event.AmountCents,
		Currency:          strings.ToUpper(strings.TrimSpace(event.Currency)),
		Metadata:          map[string]string{},
		PropagationStatus: entity.PropagationNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			winner, findErr := s.paymentRepo.FindByIntentID(ctx, payment.PaymentIntentID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}

	_ = s.eventRepo.Create(ctx, &entity.PaymentEvent{
		PaymentID: payment.ID,
		EventType: "payment_backfilled",
		Origin:    origin,
		NewStatus: int32(payment.Status),
		CreatedAt: now,
	})

	return payment, nil
}

// transitionTarget maps an event status onto the record's next status.
// ok=false means the event carries nothing applicable; returning the
// current status unchanged means the event is already reflected.
func transitionTarget(current types.PaymentStatus, eventStatus types.EventStatus) (types.PaymentStatus, bool) {
	switch eventStatus {
	case types.EventStatusCompleted:
		return types.PaymentStatusCompleted, true
	case types.EventStatusFailed:
		return types.PaymentStatusFailed, true
	case types.EventStatusPending:
		if current == types.PaymentStatusPending {
			return types.PaymentStatusProcessing, true
		}
		return current, true
	default:
		return current, false
	}
}

// persistTransition lands one transition through the conditional write.
// Completion sets CompletedAt and arms the propagation marker in the
// same write, so a crash right after the commit still propagates.
func (s *PaymentService) persistTransition(
	ctx context.Context,
	gw gateway.Gateway,
	payment *entity.Payment,
	event *gateway.Event,
	target types.PaymentStatus,
	origin string,
) error {
	now := time.Now().UTC()
	oldStatus := payment.Status

	if pid := strings.TrimSpace(event.ProviderPaymentID); pid != "" {
		payment.ProviderPaymentID = &pid
	}

	payment.Status = target
	switch target {
	case types.PaymentStatusCompleted:
		payment.CompletedAt = &now
		payment.PropagationStatus = entity.PropagationPending
		payment.PropagationNextAt = &now
	case types.PaymentStatusFailed:
		if reason := strings.TrimSpace(event.Reason); reason != "" {
			trimmed := truncate(reason, 1024)
			payment.FailureReason = &trimmed
		}
	}
	payment.UpdatedAt = now

	if err := s.paymentRepo.UpdateVersioned(ctx, payment); err != nil {
		return err
	}

	metrics.TransitionsTotal.WithLabelValues(gw.Name(), oldStatus.String(), target.String()).Inc()

	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		eventType = "provider_event"
	}
	old := int32(oldStatus)
	var payloadJSON *string
	if len(event.Raw) > 0 {
		raw := string(event.Raw)
		payloadJSON = &raw
	}
	_ = s.eventRepo.Create(ctx, &entity.PaymentEvent{
		PaymentID:       payment.ID,
		EventType:       eventType,
		Origin:          origin,
		OldStatus:       &old,
		NewStatus:       int32(target),
		ProviderEventID: normalizeOptionalString(event.ProviderEventID),
		PayloadJSON:     payloadJSON,
		CreatedAt:       now,
	})

	if target == types.PaymentStatusCompleted {
		// Best-effort immediate propagation. Failure leaves the marker
		// pending and the propagation job picks it up on schedule.
		if err := s.propagateCompletion(ctx, payment, now); err != nil {
			s.logger.WithFields(logrus.Fields{
				"payment_intent_id": payment.PaymentIntentID,
			}).WithError(err).Warn("completion propagation deferred")
		}
	}

	return nil
}

// recordWebhook writes the webhook log row. Log failures never fail the
// delivery; the transition is already durable by the time this runs.
func (s *PaymentService) recordWebhook(
	ctx context.Context,
	paymentID *uint64,
	provider, signature string,
	payload []byte,
	status int32,
	reason string,
) {
	now := time.Now().UTC()
	row := &entity.WebhookLog{
		PaymentID: paymentID,
		Provider:  provider,
		Signature: signature,
		Payload:   string(payload),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if reason != "" {
		trimmed := truncate(reason, 1024)
		row.Error = &trimmed
	}
	if err := s.webhookRepo.Create(ctx, row); err != nil {
		s.logger.WithError(err).WithField("provider", provider).Warn("webhook log write failed")
	}
}

func observeGatewayCall(provider, call string, start time.Time) {
	metrics.GatewayCallDuration.WithLabelValues(provider, call).Observe(time.Since(start).Seconds())
}
