package mapper

import (
	"time"

	"github.com/licenseworks/ms-go-paygate/app/entity"
	"github.com/licenseworks/ms-go-paygate/app/types"
)

func PaymentToAPI(item *entity.Payment) *types.Payment {
	if item == nil {
		return nil
	}

	result := &types.Payment{
		ID:                item.ID,
		PaymentIntentID:   item.PaymentIntentID,
		RequestID:         item.RequestID,
		CallerService:     item.CallerService,
		Status:            item.Status,
		StatusName:        item.Status.String(),
		Provider:          item.Provider,
		ProviderName:      item.Provider.String(),
		AmountCents:       item.AmountCents,
		Currency:          item.Currency,
		Description:       item.Description,
		CustomerRef:       derefString(item.CustomerRef),
		ProviderPaymentID: derefString(item.ProviderPaymentID),
		CheckoutURL:       derefString(item.CheckoutURL),
		ReturnURL:         item.ReturnURL,
		CancelURL:         item.CancelURL,
		FailureReason:     derefString(item.FailureReason),
		Metadata:          cloneMetadata(item.Metadata),
		CreatedAt:         item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if item.CompletedAt != nil {
		result.CompletedAt = item.CompletedAt.UTC().Format(time.RFC3339)
	}

	return result
}

func PaymentsToAPI(items []*entity.Payment) []*types.Payment {
	result := make([]*types.Payment, 0, len(items))
	for _, item := range items {
		result = append(result, PaymentToAPI(item))
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
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
