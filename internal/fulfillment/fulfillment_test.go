package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/catalog"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// partner fakes the catalog and order endpoints of the fulfillment partner.
// It rejects orders without artwork and dedups on external_id.
type partner struct {
	mu        sync.Mutex
	orders    []orderBody
	byKey     map[string]string
	catalogs  int
	countries []string
}

func newPartner() *partner {
	return &partner{byKey: map[string]string{}}
}

func (p *partner) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/products/sticker-1/variants", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.catalogs++
		p.countries = append(p.countries, r.URL.Query().Get("country"))
		p.mu.Unlock()

		fmt.Fprint(w, `{"data":[
			{"sku":"STK-US-3IN-10PK","name":"3in 10 pack","countries":["US"]},
			{"sku":"STK-CA-3IN-10PK-GLOSS","name":"3in 10 pack gloss","countries":["CA","US"]},
			{"sku":"STK-OFF","name":"retired","enabled":false}
		]}`)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer partner-key", r.Header.Get("Authorization"))

		var order orderBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))

		p.mu.Lock()
		defer p.mu.Unlock()
		p.orders = append(p.orders, order)

		if order.Items[0].Files[0].URL == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"item file url is required"}`)
			return
		}

		id, ok := p.byKey[order.ExternalID]
		if !ok {
			id = fmt.Sprintf("ord_%d", len(p.byKey)+1)
			p.byKey[order.ExternalID] = id
		}
		fmt.Fprintf(w, `{"result":{"id":%q,"status":"draft"}}`, id)
	})
	return mux
}

type recordingPublisher struct {
	failures []*models.FulfillmentFailure
}

func (r *recordingPublisher) PublishFulfillmentFailure(ctx context.Context, f *models.FulfillmentFailure) error {
	r.failures = append(r.failures, f)
	return nil
}

func setup(t *testing.T, apiKey string) (*Submitter, *partner, *recordingPublisher) {
	t.Helper()
	p := newPartner()
	server := httptest.NewServer(p.handler(t))
	t.Cleanup(server.Close)

	logger := logging.Nop()
	resolver := catalog.NewResolver(catalog.ResolverConfig{
		ProductID:      "sticker-1",
		DefaultCountry: "US",
	}, catalog.NewPartnerClient(catalog.PartnerConfig{
		BaseURL: server.URL,
		APIKey:  "partner-key",
	}, logger), cache.NewMemoryCache(), logger)

	failures := &recordingPublisher{}
	submitter := NewSubmitter(Config{
		BaseURL:    server.URL,
		APIKey:     apiKey,
		TestMode:   true,
		Attributes: catalog.Attributes{Size: "3IN", Pack: "10PK", Variant: "GLOSS"},
	}, resolver, failures, logger)

	return submitter, p, failures
}

func canadianOrder(artwork string) OrderRequest {
	return OrderRequest{
		ArtworkURL: artwork,
		BuyerEmail: "buyer@example.com",
		BuyerName:  "Jean  Luc Picard",
		Address: models.Address{
			Line1:      "1 Rue Principale",
			City:       "Montreal",
			State:      "QC",
			PostalCode: "H2X 1Y4",
			Country:    "Canada",
		},
		IdempotencyKey: "evt_1NirD82eZvKYlo2CIvbtLWuY",
	}
}

func TestSubmitOrderCanada(t *testing.T) {
	s, p, failures := setup(t, "partner-key")

	confirmation, err := s.SubmitOrder(context.Background(), canadianOrder("https://cdn.example/a.png"))
	require.NoError(t, err)

	assert.Equal(t, "CA", confirmation.Country)
	assert.Equal(t, "STK-CA-3IN-10PK-GLOSS", confirmation.SKU)
	assert.Equal(t, "ord_1", confirmation.OrderID)
	assert.Equal(t, "draft", confirmation.Status)
	assert.Equal(t, []string{"CA"}, p.countries)
	assert.Empty(t, failures.failures)

	require.Len(t, p.orders, 1)
	order := p.orders[0]
	assert.True(t, order.UniqueExternalID)
	assert.True(t, order.TestMode)
	assert.Equal(t, order.ExternalID, order.IdempotencyKey)
	assert.Equal(t, order.ExternalID, order.Items[0].ExternalID)
	assert.Equal(t, "CA", order.Recipient.CountryCode)
	assert.Equal(t, "Jean", order.Recipient.FirstName)
	assert.Equal(t, "Luc Picard", order.Recipient.LastName)
	assert.Equal(t, PhonePlaceholder, order.Recipient.Phone)
	assert.Equal(t, order.Recipient, order.Billing)
	assert.Equal(t, 1, order.Items[0].Quantity)
}

func TestSubmitOrderIsIdempotent(t *testing.T) {
	s, p, _ := setup(t, "partner-key")
	ctx := context.Background()

	req := canadianOrder("https://cdn.example/a.png")
	req.IdempotencyKey = "evt_" + strings.Repeat("x", 100)

	first, err := s.SubmitOrder(ctx, req)
	require.NoError(t, err)
	second, err := s.SubmitOrder(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	require.Len(t, p.orders, 2)
	assert.Equal(t, p.orders[0].ExternalID, p.orders[1].ExternalID)
	assert.Len(t, p.orders[0].ExternalID, 64)
	assert.Len(t, p.byKey, 1)
	assert.Equal(t, 1, p.catalogs, "catalog is cached per country")
}

func TestSubmitOrderEmptyArtworkIsReported(t *testing.T) {
	s, p, failures := setup(t, "partner-key")

	_, err := s.SubmitOrder(context.Background(), canadianOrder(""))
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeFulfillmentRejected, appErr.Code)
	assert.Equal(t, http.StatusBadRequest, appErr.Details["status"])
	assert.Len(t, p.orders, 1, "the order is still attempted")

	require.Len(t, failures.failures, 1)
	assert.Equal(t, "evt_1NirD82eZvKYlo2CIvbtLWuY", failures.failures[0].IdempotencyKey)
	assert.Equal(t, apperr.CodeFulfillmentRejected, failures.failures[0].Code)
}

func TestSubmitOrderMissingCredentials(t *testing.T) {
	s, p, failures := setup(t, "")

	_, err := s.SubmitOrder(context.Background(), canadianOrder("https://cdn.example/a.png"))
	assert.ErrorIs(t, err, apperr.ErrMissingFulfillmentCredentials)
	assert.Empty(t, p.orders)
	assert.Len(t, failures.failures, 1)
}

type failingResolver struct{}

func (failingResolver) NormalizeCountry(input string) string {
	return catalog.NormalizeCountry(input, "US")
}

func (failingResolver) ResolveSKU(ctx context.Context, country string, want catalog.Attributes, override string) (string, error) {
	return "", apperr.ErrNoEnabledVariants
}

func TestSubmitOrderSkuResolutionFailed(t *testing.T) {
	failures := &recordingPublisher{}
	s := NewSubmitter(Config{BaseURL: "http://127.0.0.1:1", APIKey: "k"}, failingResolver{}, failures, logging.Nop())

	_, err := s.SubmitOrder(context.Background(), canadianOrder("https://cdn.example/a.png"))
	assert.Equal(t, apperr.CodeSkuResolutionFailed, apperr.CodeOf(err))
	assert.ErrorIs(t, err, apperr.ErrNoEnabledVariants)
	require.Len(t, failures.failures, 1)
}

func TestResubmitDoesNotParkAgain(t *testing.T) {
	s, p, failures := setup(t, "partner-key")

	err := s.Resubmit(context.Background(), &models.FulfillmentFailure{
		IdempotencyKey: "evt_replay",
		ArtworkURL:     "",
		Address:        models.Address{Country: "CA"},
	})
	assert.Error(t, err)
	assert.Len(t, p.orders, 1)
	assert.Empty(t, failures.failures)
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"Ada Lovelace", "Ada", "Lovelace"},
		{"  Mary Ann  Evans ", "Mary", "Ann  Evans"},
		{"Cher", "Cher", ""},
		{"", "", ""},
		{"Jean\tValjean", "Jean", "Valjean"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			first, last := SplitName(tt.in)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}

func TestTruncateKey(t *testing.T) {
	assert.Equal(t, "short", TruncateKey("short", 64))
	assert.Equal(t, "abc", TruncateKey("abcdef", 3))
	// "é" is two bytes; cutting inside it drops the whole rune
	assert.Equal(t, "a", TruncateKey("aé", 2))
}
