package biometric

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCategory is the normalized failure taxonomy for the biometric service.
type ErrorCategory string

const (
	// ErrorTimeout indicates the service took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the service returned invalid or undecodable data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorProviderOutage indicates the service is unreachable or returned 5xx
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorContractMismatch indicates an unexpected status or response shape
	ErrorContractMismatch ErrorCategory = "contract_mismatch"

	// ErrorInternal indicates an unexpected local failure
	ErrorInternal ErrorCategory = "internal"
)

// ServiceError wraps biometric service failures with a normalized category.
type ServiceError struct {
	Category   ErrorCategory
	Operation  string
	Message    string
	Underlying error
}

func (e *ServiceError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("biometric %s [%s]: %s: %v", e.Operation, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("biometric %s [%s]: %s", e.Operation, e.Category, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Underlying
}

func newServiceError(category ErrorCategory, op, msg string, err error) *ServiceError {
	return &ServiceError{Category: category, Operation: op, Message: msg, Underlying: err}
}

// CategoryOf classifies err. Context deadlines and network timeouts map to ErrorTimeout.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorTimeout
	}
	return ErrorInternal
}
