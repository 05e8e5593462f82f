package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config", ErrMissingCredentials, http.StatusInternalServerError},
		{"validation", Validation("bad email"), http.StatusBadRequest},
		{"media type", ErrUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{"upstream", ProviderError("invalid_input", "nope"), http.StatusBadGateway},
		{"quota", QuotaExceeded(3, 3, 24), http.StatusTooManyRequests},
		{"token", ErrInvalidOrExpiredToken, http.StatusUnauthorized},
		{"wrapped", fmt.Errorf("submit: %w", ErrUploadFailed), http.StatusBadGateway},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := SkuResolutionFailed(ErrNoEnabledVariants)

	assert.True(t, errors.Is(err, ErrNoEnabledVariants))
	assert.Equal(t, CodeSkuResolutionFailed, CodeOf(err))

	withDetails := ErrUploadFailed.WithDetails(map[string]any{"status": 500})
	assert.True(t, errors.Is(withDetails, ErrUploadFailed))
	assert.Nil(t, ErrUploadFailed.Details)
}

func TestQuotaExceededDetails(t *testing.T) {
	err := QuotaExceeded(5, 6, 24)

	assert.Equal(t, 5, err.Details["limit"])
	assert.Equal(t, 6, err.Details["used"])
	assert.Equal(t, 24, err.Details["windowHours"])
}
