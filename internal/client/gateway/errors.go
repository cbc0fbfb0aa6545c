package gateway

import "fmt"

// Category classifies a gateway failure for retry decisions. Network
// failures are the only retryable kind; everything else is terminal for the
// operation that caused it.
type Category string

const (
	CategoryNetwork      Category = "network"
	CategoryUnauthorized Category = "unauthorized"
	CategoryForbidden    Category = "forbidden"
	CategoryNotFound     Category = "not_found"
	CategoryValidation   Category = "validation"
	CategoryServer       Category = "server"
)

type APIError struct {
	Category   Category
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return string(e.Category)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed on a later attempt.
// Auth, ownership, validation and not-found failures never do.
func (e *APIError) Retryable() bool {
	return e.Category == CategoryNetwork || e.Category == CategoryServer
}

func networkError(err error) *APIError {
	return &APIError{Category: CategoryNetwork, Err: err}
}

// Classify maps an error to its category; non-gateway errors count as
// network failures since they come from the transport.
func Classify(err error) Category {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Category
	}
	return CategoryNetwork
}

func IsRetryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable()
	}
	return true
}
