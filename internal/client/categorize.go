package client

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/kjstillabower/city-search-client/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the searchApiErrorsTotal label.
const (
	ErrorCategoryTimeout           ErrorCategory = "timeout"
	ErrorCategoryCanceled          ErrorCategory = "canceled"
	ErrorCategoryNetwork           ErrorCategory = "network"
	ErrorCategoryBadRequest        ErrorCategory = "bad_request"
	ErrorCategoryRateLimited       ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx       ErrorCategory = "upstream_5xx"
	ErrorCategoryUnexpectedCommand ErrorCategory = "unexpected_command"
	ErrorCategoryCircuitOpen       ErrorCategory = "circuit_open"
	ErrorCategoryParsing           ErrorCategory = "parsing"
	ErrorCategoryInvalidQuery      ErrorCategory = "invalid_query"
	ErrorCategoryUnknown           ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrBadRequest):
		return ErrorCategoryBadRequest
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream5xx
	case errors.Is(err, ErrUnexpectedCommand):
		return ErrorCategoryUnexpectedCommand
	case errors.Is(err, ErrInvalidCityID):
		return ErrorCategoryInvalidQuery
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}
	return ErrorCategoryUnknown
}
