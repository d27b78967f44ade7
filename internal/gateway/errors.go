package gateway

import (
	stdErrors "errors"
	"fmt"

	"github.com/vidorahq/vidora-billing/pkg/enums"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
)

// ErrRefundQueryUnsupported is returned by GetRefundStatus when the wrapped
// adapter cannot report individual refund state.
var ErrRefundQueryUnsupported = stdErrors.New("refund status query not supported")

// TransportError is a network or provider-API failure. Safe to retry with
// backoff; the operation may or may not have taken effect provider-side.
type TransportError struct {
	Provider  enums.Provider
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DeclinedError is a provider-reported business rejection outside the
// payment-intent flow, e.g. a refund refused for a settled charge.
type DeclinedError struct {
	Provider enums.Provider
	Code     string
	Message  string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("%s declined: %s (%s)", e.Provider, e.Message, e.Code)
}

// ConfigError means the provider is out of rotation: its credentials failed
// validation at startup or it was never configured.
type ConfigError struct {
	Provider enums.Provider
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s not available: %s", e.Provider, e.Reason)
}

// Coded maps a gateway error onto the service error taxonomy so controllers
// can render it without knowing adapter internals.
func Coded(err error) error {
	if err == nil {
		return nil
	}

	var transport *TransportError
	if stdErrors.As(err, &transport) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unreachable")
	}

	var declined *DeclinedError
	if stdErrors.As(err, &declined) {
		return pkgerrors.Wrap(pkgerrors.CodeDeclined, err, declined.Message)
	}

	var config *ConfigError
	if stdErrors.As(err, &config) {
		return pkgerrors.Wrap(pkgerrors.CodeConfig, err, "payment provider not configured")
	}

	return err
}
