package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel for absent mappings and lookups.
var ErrNotFound = errors.New("not found")

// AuthError reasons.
const (
	AuthInvalidCredential = "invalid-credential"
	AuthUnavailable       = "unavailable"
)

// AuthError reports a failed token acquisition for an authorization.
type AuthError struct {
	AuthorizationUK string
	Reason          string
	Err             error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %s", e.AuthorizationUK, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// VendorAPIError is a Vendor API rejection. Retryable errors (rate limits,
// upstream outages) may be re-dispatched; the rest are final for the order.
type VendorAPIError struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
}

func (e *VendorAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("vendor api: %s - %s", e.Code, e.Message)
	}
	return fmt.Sprintf("vendor api: http %d: %s", e.Status, e.Message)
}

// NotFoundError reports a failed authorization, reseller or SKU resolution.
// Resolution must never fall back to a default: the wrong distributor or
// currency corrupts billing.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConfigError reports malformed credential/authorization configuration,
// detected eagerly at startup.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Detail)
}

// Retryable classifies an error for the dispatch retry budget.
func Retryable(err error) bool {
	var vErr *VendorAPIError
	if errors.As(err, &vErr) {
		return vErr.Retryable
	}
	var aErr *AuthError
	if errors.As(err, &aErr) {
		return aErr.Reason == AuthUnavailable
	}
	return false
}
