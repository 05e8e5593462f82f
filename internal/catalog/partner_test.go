package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
)

func newTestPartner(url string, maxBytes int64) *PartnerClient {
	return NewPartnerClient(PartnerConfig{
		BaseURL:          url,
		APIKey:           "test-key",
		PageSize:         2,
		MaxResponseBytes: maxBytes,
	}, logging.Nop())
}

func TestFetchVariantsPaginates(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		assert.Equal(t, "/products/sticker-1/variants", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "CA", r.URL.Query().Get("country"))

		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"data":[{"sku":"STK-3X3-1","name":"3x3","enabled":true},{"sku":"STK-OFF","enabled":false}],"next":"p2"}`)
		case "p2":
			fmt.Fprint(w, `{"data":[{"sku":"STK-4X4-1","name":"4x4","countries":["CA"]}]}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer server.Close()

	variants, err := newTestPartner(server.URL, 0).FetchVariants(context.Background(), "sticker-1", "CA")
	require.NoError(t, err)

	assert.Len(t, requests, 2)
	require.Len(t, variants, 2)
	assert.Equal(t, "STK-3X3-1", variants[0].SKU)
	assert.Equal(t, "STK-4X4-1", variants[1].SKU)
}

func TestFetchVariantsOffsetPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			fmt.Fprint(w, `{"variants":[{"sku":"A","enabled":true},{"sku":"B","enabled":true}],"has_more":true}`)
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("offset"))
		fmt.Fprint(w, `{"variants":[{"sku":"C","enabled":true}],"has_more":false}`)
	}))
	defer server.Close()

	variants, err := newTestPartner(server.URL, 0).FetchVariants(context.Background(), "p", "US")
	require.NoError(t, err)
	assert.Len(t, variants, 3)
}

func TestFetchVariantsRejectsOversizeResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Streamed without Content-Length
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"sku":"`+strings.Repeat("X", 2048)+`","enabled":true}]}`)
		w.(http.Flusher).Flush()
	}))
	defer server.Close()

	_, err := newTestPartner(server.URL, 1024).FetchVariants(context.Background(), "p", "US")
	assert.ErrorIs(t, err, ErrCatalogTooLarge)
}

func TestFetchVariantsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"maintenance"}`)
	}))
	defer server.Close()

	_, err := newTestPartner(server.URL, 0).FetchVariants(context.Background(), "p", "US")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
