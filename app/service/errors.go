package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
	ErrProviderUnsupported  = errors.New("provider is not supported")
	ErrWebhookRejected      = errors.New("webhook rejected")
	ErrGatewayFailed        = errors.New("gateway call failed")
)
