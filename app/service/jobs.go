package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/licenseworks/ms-go-paygate/app/entity"
	"github.com/licenseworks/ms-go-paygate/app/gateway"
	"github.com/licenseworks/ms-go-paygate/app/metrics"
	"github.com/licenseworks/ms-go-paygate/app/types"
)

// RunReconcileBatch is the polling fallback for lost webhooks: payments
// still in flight past the stale threshold get their status pulled from
// the provider and the answer is applied through the same transition
// path a webhook would take.
//
// Records older than the poll cutoff are left alone; a payment nobody
// ever settles stays Pending forever rather than being guessed into
// Failed.
func (s *PaymentService) RunReconcileBatch(ctx context.Context) error {
	now := time.Now().UTC()
	before := now.Add(-s.paymentsCfg.ReconcileStaleAfter)
	createdAfter := now.Add(-s.paymentsCfg.PollCutoffAge)

	items, err := s.paymentRepo.ListStalePending(ctx, before, createdAfter, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil || payment.ProviderPaymentID == nil || strings.TrimSpace(*payment.ProviderPaymentID) == "" {
			continue
		}

		gw, err := s.gateways.Get(payment.Provider)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}

		start := time.Now()
		result, err := gw.GetPaymentStatus(ctx, strings.TrimSpace(*payment.ProviderPaymentID))
		observeGatewayCall(gw.Name(), "get_payment_status", start)
		if err != nil {
			if errors.Is(err, gateway.ErrStatusCheckUnsupported) {
				continue
			}
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if result == nil || result.Status == types.EventStatusUnknown {
			continue
		}

		event := &gateway.Event{
			EventType:         "poll." + result.Status.String(),
			PaymentIntentID:   payment.PaymentIntentID,
			ProviderPaymentID: result.ProviderPaymentID,
			Status:            result.Status,
			Reason:            result.Reason,
			Raw:               result.Raw,
		}
		if _, _, err := s.applyEvent(ctx, gw, event, originPoll); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// RunPropagateCompletionsBatch drains the propagation markers: every
// completed payment whose downstream call is still owed gets one
// attempt. The inline attempt right after completion handles the common
// case; this job covers crashes and downstream outages.
func (s *PaymentService) RunPropagateCompletionsBatch(ctx context.Context) error {
	now := time.Now().UTC()
	items, err := s.paymentRepo.ListDuePropagation(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, payment := range items {
		if payment == nil {
			continue
		}
		if err := s.propagateCompletion(ctx, payment, now); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

// propagateCompletion performs the downstream completion call for one
// payment and settles the marker. Safe to call more than once: anything
// not marked Pending is left alone, and the downstream side dedupes by
// intent id, so at-least-once is enough.
func (s *PaymentService) propagateCompletion(ctx context.Context, payment *entity.Payment, now time.Time) error {
	if payment.PropagationStatus != entity.PropagationPending {
		return nil
	}

	err := s.notifier.ApplyPaymentCompletion(ctx, payment.PaymentIntentID, payment.AmountCents, payment.Currency, payment.Metadata)
	if err != nil {
		metrics.PropagationAttemptsTotal.WithLabelValues("failure").Inc()
		return s.recordPropagationFailure(ctx, payment, now, err)
	}
	metrics.PropagationAttemptsTotal.WithLabelValues("success").Inc()

	payment.PropagationStatus = entity.PropagationSuccess
	payment.PropagationNextAt = nil
	payment.PropagationLastErr = nil
	payment.UpdatedAt = now

	if err := s.paymentRepo.UpdateVersioned(ctx, payment); err != nil {
		return err
	}

	_ = s.eventRepo.Create(ctx, &entity.PaymentEvent{
		PaymentID: payment.ID,
		EventType: "completion_propagated",
		Origin:    originPropagate,
		NewStatus: int32(payment.Status),
		CreatedAt: now,
	})

	return nil
}

func (s *PaymentService) recordPropagationFailure(ctx context.Context, payment *entity.Payment, now time.Time, propErr error) error {
	payment.PropagationAttempts++
	trimmed := truncate(propErr.Error(), 1024)
	payment.PropagationLastErr = &trimmed

	maxAttempts := s.paymentsCfg.PropagationMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if payment.PropagationAttempts >= maxAttempts {
		// Attempt budget spent; park the marker for operator attention.
		// The payment itself stays Completed.
		payment.PropagationStatus = entity.PropagationFailed
		payment.PropagationNextAt = nil
	} else {
		retryInterval := s.paymentsCfg.PropagationRetryInterval
		if retryInterval <= 0 {
			retryInterval = 5 * time.Minute
		}
		next := now.Add(retryInterval)
		payment.PropagationNextAt = &next
	}
	payment.UpdatedAt = now

	if err := s.paymentRepo.UpdateVersioned(ctx, payment); err != nil {
		return err
	}

	_ = s.eventRepo.Create(ctx, &entity.PaymentEvent{
		PaymentID: payment.ID,
		EventType: "completion_propagation_failed",
		Origin:    originPropagate,
		NewStatus: int32(payment.Status),
		CreatedAt: now,
	})

	return propErr
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
