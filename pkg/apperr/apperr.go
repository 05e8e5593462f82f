// Package apperr defines the error taxonomy shared by the pipeline
// components and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the caller should react to it
type Kind int

const (
	KindInternal Kind = iota
	KindConfig
	KindValidation
	KindUpstream
	KindQuota
	KindUnauthorized
	KindNotFound
)

// Error codes surfaced to API clients
const (
	CodeMissingCredentials            = "missing_credentials"
	CodeMissingFulfillmentCredentials = "missing_fulfillment_credentials"
	CodeUnsupportedMediaType          = "unsupported_media_type"
	CodeInvalidRequest                = "invalid_request"
	CodeProviderError                 = "provider_error"
	CodeUploadFailed                  = "upload_failed"
	CodeNoEnabledVariants             = "no_enabled_variants"
	CodeNoSkuResolved                 = "no_sku_resolved"
	CodeCatalogUnavailable            = "catalog_unavailable"
	CodeSkuResolutionFailed           = "sku_resolution_failed"
	CodeFulfillmentRejected           = "fulfillment_rejected"
	CodeQuotaExceeded                 = "quota_exceeded"
	CodeInvalidOrExpiredToken         = "invalid_or_expired_token"
	CodeUnauthorized                  = "unauthorized"
	CodeNotFound                      = "not_found"
	CodeInternal                      = "internal_error"
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so sentinel values work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a classified error
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a classified error around a cause
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// WithDetails returns a copy of e carrying details
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// As extracts the *Error from err's chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first classified error in err's chain
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error onto the response status a client should see
func HTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch appErr.Kind {
	case KindConfig:
		return http.StatusInternalServerError
	case KindValidation:
		if appErr.Code == CodeUnsupportedMediaType {
			return http.StatusUnsupportedMediaType
		}
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	case KindQuota:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Validation is shorthand for a client-side input error
func Validation(message string) *Error {
	return New(KindValidation, CodeInvalidRequest, message)
}

var (
	ErrMissingCredentials            = New(KindConfig, CodeMissingCredentials, "generation API credentials are not configured")
	ErrMissingFulfillmentCredentials = New(KindConfig, CodeMissingFulfillmentCredentials, "fulfillment partner credentials are not configured")
	ErrUnsupportedMediaType          = New(KindValidation, CodeUnsupportedMediaType, "only JPEG, PNG and WebP images are accepted")
	ErrUploadFailed                  = New(KindUpstream, CodeUploadFailed, "fallback file host rejected the upload")
	ErrNoEnabledVariants             = New(KindUpstream, CodeNoEnabledVariants, "no catalog variants are enabled for the destination country")
	ErrNoSkuResolved                 = New(KindUpstream, CodeNoSkuResolved, "no catalog variant matched the requested attributes")
	ErrInvalidOrExpiredToken         = New(KindUnauthorized, CodeInvalidOrExpiredToken, "login link is invalid or has expired")
	ErrUnauthorized                  = New(KindUnauthorized, CodeUnauthorized, "sign in required")
)

// ProviderError reports a non-fallback-eligible rejection from the generation API
func ProviderError(code string, details any) *Error {
	return &Error{
		Kind:    KindUpstream,
		Code:    CodeProviderError,
		Message: "generation provider rejected the request",
		Details: map[string]any{"provider_code": code, "provider_details": details},
	}
}

// FulfillmentRejected reports a non-success response from the fulfillment partner
func FulfillmentRejected(status int, body string) *Error {
	return &Error{
		Kind:    KindUpstream,
		Code:    CodeFulfillmentRejected,
		Message: fmt.Sprintf("fulfillment partner responded with status %d", status),
		Details: map[string]any{"status": status, "body": body},
	}
}

// SkuResolutionFailed wraps a catalog failure surfaced during order submission
func SkuResolutionFailed(err error) *Error {
	return Wrap(KindUpstream, CodeSkuResolutionFailed, "could not resolve a catalog SKU", err)
}

// QuotaExceeded reports an exhausted free generation allowance
func QuotaExceeded(limit, used, windowHours int) *Error {
	return &Error{
		Kind:    KindQuota,
		Code:    CodeQuotaExceeded,
		Message: "free generation limit reached",
		Details: map[string]any{"limit": limit, "used": used, "windowHours": windowHours},
	}
}
