package gateway

import "errors"

var (
	// ErrProviderNotSupported means the requested provider is not in the
	// registry, either unknown entirely or not enabled for this deployment.
	ErrProviderNotSupported = errors.New("payment provider not supported")

	// ErrUnavailable covers transport failures and provider 5xx answers:
	// the request did not produce a usable response and may be retried by
	// the caller's own machinery.
	ErrUnavailable = errors.New("payment provider unavailable")

	// ErrProtocol covers answers the adapter cannot make sense of:
	// malformed bodies, missing required fields, provider 4xx rejections.
	ErrProtocol = errors.New("payment provider protocol error")

	// ErrStatusCheckUnsupported is returned by providers that expose no
	// status query; reconciliation for them rests on webhooks alone.
	ErrStatusCheckUnsupported = errors.New("payment provider does not support status checks")

	// ErrUnknownOutcome means the request timed out after possibly
	// reaching the provider. The attempt must not be blindly repeated and
	// the payment must not be marked failed on its account.
	ErrUnknownOutcome = errors.New("payment outcome unknown")
)
