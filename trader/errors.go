package trader

import (
	"errors"
	"fmt"
	"net"

	"github.com/adshao/go-binance/v2/common"
)

// ErrorKind classifies exchange errors for retry decisions.
type ErrorKind int

const (
	// KindTransient covers network failures, timeouts and rate limits.
	// Safe to retry with backoff.
	KindTransient ErrorKind = iota
	// KindAuth covers invalid or expired credentials. Fatal, never retried.
	KindAuth
	// KindInvalidParams covers requests the exchange would reject outright
	// (bad symbol, filter violation). Retrying the same request is pointless.
	KindInvalidParams
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindInvalidParams:
		return "invalid_params"
	}
	return "unknown"
}

// APIError wraps an exchange error with its classification.
type APIError struct {
	Kind ErrorKind
	Code int64 // exchange error code, 0 for network errors
	Op   string
	Err  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (code=%d, kind=%s)", e.Op, e.Err, e.Code, e.Kind)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

var (
	// ErrInsufficientCapital excludes a symbol from the current allocation
	// cycle. Not fatal, never retried.
	ErrInsufficientCapital = errors.New("insufficient capital")

	// ErrReconciliationConflict marks a disagreement between local grid
	// state and exchange truth. The exchange wins; the conflict is logged.
	ErrReconciliationConflict = errors.New("local state conflicts with exchange")
)

// Binance error codes that matter for classification.
const (
	codeTooManyRequests  = -1003
	codeTimestampAhead   = -1021
	codeInvalidSignature = -1022
	codeInvalidAPIKey    = -2014
	codeRejectedAPIKey   = -2015
)

// wrapAPIError classifies an error returned by a go-binance call.
func wrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Kind: classifyCode(apiErr.Code), Code: apiErr.Code, Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &APIError{Kind: KindTransient, Op: op, Err: err}
	}

	// Unrecognized errors are treated as transient so they are retried a
	// bounded number of times rather than killing the cycle.
	return &APIError{Kind: KindTransient, Op: op, Err: err}
}

func classifyCode(code int64) ErrorKind {
	switch code {
	case codeInvalidAPIKey, codeRejectedAPIKey:
		return KindAuth
	case codeTooManyRequests, codeTimestampAhead, codeInvalidSignature:
		return KindTransient
	}
	if code <= -4000 || code == -1111 || code == -1013 || code == -1121 {
		// filter violations, precision errors, unknown symbol
		return KindInvalidParams
	}
	return KindTransient
}

// IsRetryable reports whether the error is worth retrying with backoff.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindTransient
	}
	return false
}

// IsAuthError reports whether the error is a credential failure.
// Auth errors must surface to the operator, never be retried indefinitely.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindAuth
	}
	return false
}

// IsClockSkew reports whether the error indicates a signature or timestamp
// mismatch. Such errors trigger exactly one server time resync and a single
// retry.
func IsClockSkew(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeTimestampAhead || apiErr.Code == codeInvalidSignature
	}
	return false
}
