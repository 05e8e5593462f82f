package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/catalog"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/email"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/fulfillment"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/queue"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

type memoryStore struct {
	mu     sync.Mutex
	users  map[string]*models.User
	subs   map[string]*models.Subscription
	failOn string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users: map[string]*models.User{},
		subs:  map[string]*models.Subscription{},
	}
}

func (m *memoryStore) UpsertUserByEmail(ctx context.Context, address string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "user" {
		return nil, errors.New("database unavailable")
	}
	if u, ok := m.users[address]; ok {
		return u, nil
	}
	u := &models.User{ID: uuid.New().String(), Email: address, CreatedAt: time.Now()}
	m.users[address] = u
	return u, nil
}

func (m *memoryStore) UpsertProSubscription(ctx context.Context, userID, subscriptionID string, customerID *string, periodEnd *time.Time) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subscriptionID]
	if !ok {
		// Status is only set on insert, matching the repository's upsert
		sub = &models.Subscription{
			ID:                   uuid.New().String(),
			StripeSubscriptionID: subscriptionID,
			Status:               models.SubscriptionStatusActive,
		}
		m.subs[subscriptionID] = sub
	}
	sub.UserID = userID
	sub.Plan = models.PlanPro
	if customerID != nil {
		sub.StripeCustomerID = customerID
	}
	return sub, nil
}

func (m *memoryStore) UpdateSubscriptionStatus(ctx context.Context, subscriptionID, status string, periodEnd *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[subscriptionID]
	if !ok {
		return false, nil
	}
	sub.Status = status
	if periodEnd != nil {
		sub.CurrentPeriodEnd = periodEnd
	}
	return true, nil
}

type fakeOrders struct {
	requests []fulfillment.OrderRequest
	err      error
}

func (f *fakeOrders) SubmitOrder(ctx context.Context, req fulfillment.OrderRequest) (*fulfillment.OrderConfirmation, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &fulfillment.OrderConfirmation{OrderID: "ord_1"}, nil
}

type fakeNotifier struct {
	sent []email.OrderSummary
	err  error
}

func (f *fakeNotifier) SendOrderNotification(ctx context.Context, order email.OrderSummary) error {
	f.sent = append(f.sent, order)
	return f.err
}

func event(id, typ string, object string) stripe.Event {
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(typ),
		Data: &stripe.EventData{Raw: json.RawMessage(object)},
	}
}

func stepByName(t *testing.T, outcome *models.WebhookOutcome, name string) models.StepResult {
	t.Helper()
	for _, s := range outcome.Steps {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("step %q not found in %+v", name, outcome.Steps)
	return models.StepResult{}
}

func TestSubscriptionCheckoutCreatesUserAndProRow(t *testing.T) {
	store := newMemoryStore()
	router := NewRouter(store, store, &fakeOrders{}, &fakeNotifier{}, logging.Nop())

	outcome := router.Handle(context.Background(), event("evt_1", models.EventCheckoutCompleted, `{
		"id":"cs_1","mode":"subscription","payment_status":"paid",
		"customer":"cus_9","subscription":"sub_9",
		"customer_details":{"email":"new@example.com"}
	}`))

	assert.True(t, outcome.Handled)
	assert.Empty(t, outcome.Failed())

	user, ok := store.users["new@example.com"]
	require.True(t, ok)

	sub, ok := store.subs["sub_9"]
	require.True(t, ok)
	assert.Equal(t, user.ID, sub.UserID)
	assert.Equal(t, models.PlanPro, sub.Plan)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "cus_9", *sub.StripeCustomerID)
	assert.True(t, sub.Entitles())
}

func TestSubscriptionCheckoutRedeliveryIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	router := NewRouter(store, store, &fakeOrders{}, &fakeNotifier{}, logging.Nop())
	evt := event("evt_1", models.EventCheckoutCompleted, `{"mode":"subscription","customer_email":"a@example.com","subscription":{"id":"sub_1"}}`)

	router.Handle(context.Background(), evt)
	router.Handle(context.Background(), evt)

	assert.Len(t, store.users, 1)
	assert.Len(t, store.subs, 1)
	assert.Equal(t, models.SubscriptionStatusActive, store.subs["sub_1"].Status)
}

func TestSubscriptionCheckoutUserFailureStillReportsBothSteps(t *testing.T) {
	store := newMemoryStore()
	store.failOn = "user"
	router := NewRouter(store, store, &fakeOrders{}, &fakeNotifier{}, logging.Nop())

	outcome := router.Handle(context.Background(), event("evt_1", models.EventCheckoutCompleted,
		`{"mode":"subscription","customer_email":"a@example.com","subscription":"sub_1"}`))

	require.Len(t, outcome.Steps, 2)
	assert.False(t, stepByName(t, outcome, StepUpsertUser).OK)
	assert.False(t, stepByName(t, outcome, StepUpsertSubscription).OK)
	assert.Empty(t, store.subs)
}

func TestStickerCheckoutAlwaysEmailsOperator(t *testing.T) {
	tests := []struct {
		name      string
		ordersErr error
		mailErr   error
	}{
		{"fulfilled", nil, nil},
		{"fulfillment failed", errors.New("partner rejected"), nil},
		{"email failed", nil, errors.New("mail down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			orders := &fakeOrders{err: tt.ordersErr}
			notifier := &fakeNotifier{err: tt.mailErr}
			router := NewRouter(store, store, orders, notifier, logging.Nop())

			outcome := router.Handle(context.Background(), event("evt_42", models.EventCheckoutCompleted, `{
				"mode":"payment","payment_status":"paid",
				"customer_details":{"email":"buyer@example.com","name":"Billing Name","phone":"555-0100"},
				"metadata":{"artwork_url":"https://cdn.example/a.png","buyer_name":"Meta Name","ship_country":"US"},
				"collected_information":{"shipping_details":{"name":"Ship Name","address":{"line1":"1 Main","city":"Springfield","country":"US"}}}
			}`))

			require.Len(t, orders.requests, 1)
			req := orders.requests[0]
			assert.Equal(t, "evt_42", req.IdempotencyKey)
			assert.Equal(t, "Ship Name", req.BuyerName)
			assert.Equal(t, "1 Main", req.Address.Line1)
			assert.Equal(t, "555-0100", req.Address.Phone)
			assert.Equal(t, "https://cdn.example/a.png", req.ArtworkURL)

			require.Len(t, notifier.sent, 1)
			summary := notifier.sent[0]
			assert.Equal(t, tt.ordersErr == nil, summary.Fulfilled)
			if tt.ordersErr != nil {
				assert.Contains(t, summary.Failure, "partner rejected")
				assert.False(t, stepByName(t, outcome, StepFulfillment).OK)
			} else {
				assert.Equal(t, "ord_1", summary.OrderID)
			}

			assert.Equal(t, tt.mailErr == nil, stepByName(t, outcome, StepOperatorEmail).OK)
			assert.Contains(t, store.users, "buyer@example.com")
		})
	}
}

func TestStickerCheckoutFallsBackToMetadataAddress(t *testing.T) {
	store := newMemoryStore()
	orders := &fakeOrders{}
	router := NewRouter(store, store, orders, &fakeNotifier{}, logging.Nop())

	router.Handle(context.Background(), event("evt_1", models.EventCheckoutCompleted, `{
		"mode":"payment","payment_status":"paid","customer_email":"b@example.com",
		"metadata":{"artwork_url":"https://cdn.example/a.png","buyer_name":"Meta Name",
			"ship_line1":"9 Side St","ship_city":"Toronto","ship_country":"Canada"}
	}`))

	require.Len(t, orders.requests, 1)
	assert.Equal(t, "Meta Name", orders.requests[0].BuyerName)
	assert.Equal(t, "9 Side St", orders.requests[0].Address.Line1)
	assert.Equal(t, "Canada", orders.requests[0].Address.Country)
}

func TestUnpaidCheckoutWaitsForAsyncPayment(t *testing.T) {
	store := newMemoryStore()
	orders := &fakeOrders{}
	router := NewRouter(store, store, orders, &fakeNotifier{}, logging.Nop())
	session := `{"mode":"payment","payment_status":"%s","customer_email":"b@example.com","metadata":{"artwork_url":"x"}}`

	outcome := router.Handle(context.Background(), event("evt_1", models.EventCheckoutCompleted, fmt.Sprintf(session, "unpaid")))
	assert.False(t, outcome.Handled)
	assert.Empty(t, orders.requests)

	outcome = router.Handle(context.Background(), event("evt_2", EventCheckoutAsyncPaymentSucceeded, fmt.Sprintf(session, "paid")))
	assert.True(t, outcome.Handled)
	require.Len(t, orders.requests, 1)
	assert.Equal(t, "evt_2", orders.requests[0].IdempotencyKey)
}

func TestSubscriptionLifecycle(t *testing.T) {
	store := newMemoryStore()
	router := NewRouter(store, store, &fakeOrders{}, &fakeNotifier{}, logging.Nop())
	ctx := context.Background()

	// Out of order: no row yet, nothing to update, not a failure
	outcome := router.Handle(ctx, event("evt_0", models.EventSubscriptionUpdated, `{"id":"sub_1","status":"active"}`))
	assert.Empty(t, outcome.Failed())
	assert.Empty(t, store.subs)

	router.Handle(ctx, event("evt_1", models.EventCheckoutCompleted, `{"mode":"subscription","customer_email":"a@example.com","subscription":"sub_1"}`))

	outcome = router.Handle(ctx, event("evt_2", models.EventSubscriptionUpdated,
		`{"id":"sub_1","status":"past_due","items":{"data":[{"current_period_end":1767225600}]}}`))
	assert.Empty(t, outcome.Failed())
	assert.Equal(t, "past_due", store.subs["sub_1"].Status)
	require.NotNil(t, store.subs["sub_1"].CurrentPeriodEnd)
	assert.Equal(t, int64(1767225600), store.subs["sub_1"].CurrentPeriodEnd.Unix())
	assert.False(t, store.subs["sub_1"].Entitles())

	router.Handle(ctx, event("evt_3", models.EventSubscriptionDeleted, `{"id":"sub_1","status":"active"}`))
	assert.Equal(t, models.SubscriptionStatusCanceled, store.subs["sub_1"].Status)

	// Redelivery leaves the terminal state alone
	router.Handle(ctx, event("evt_3", models.EventSubscriptionDeleted, `{"id":"sub_1","status":"active"}`))
	assert.Equal(t, models.SubscriptionStatusCanceled, store.subs["sub_1"].Status)
}

func TestStaleCheckoutAfterCancellationStaysCanceled(t *testing.T) {
	store := newMemoryStore()
	router := NewRouter(store, store, &fakeOrders{}, &fakeNotifier{}, logging.Nop())
	ctx := context.Background()
	checkout := event("evt_1", models.EventCheckoutCompleted, `{"mode":"subscription","customer_email":"a@example.com","subscription":"sub_1"}`)

	router.Handle(ctx, checkout)
	router.Handle(ctx, event("evt_2", models.EventSubscriptionDeleted, `{"id":"sub_1","status":"canceled"}`))

	outcome := router.Handle(ctx, checkout)
	assert.Empty(t, outcome.Failed())
	assert.Len(t, store.subs, 1)
	assert.Equal(t, models.SubscriptionStatusCanceled, store.subs["sub_1"].Status)
	assert.False(t, store.subs["sub_1"].Entitles())
}

func TestUnknownAndMalformedEvents(t *testing.T) {
	store := newMemoryStore()
	router := NewRouter(store, store, &fakeOrders{}, &fakeNotifier{}, logging.Nop())

	outcome := router.Handle(context.Background(), event("evt_1", "invoice.paid", `{}`))
	assert.False(t, outcome.Handled)
	assert.Empty(t, outcome.Steps)

	outcome = router.Handle(context.Background(), event("evt_2", models.EventSubscriptionDeleted, `{"status":"x"}`))
	assert.True(t, outcome.Handled)
	require.Len(t, outcome.Failed(), 1)
}

type panickingNotifier struct{}

func (panickingNotifier) SendOrderNotification(ctx context.Context, order email.OrderSummary) error {
	panic("template exploded")
}

func TestPanickingStepIsContained(t *testing.T) {
	store := newMemoryStore()
	orders := &fakeOrders{}
	router := NewRouter(store, store, orders, panickingNotifier{}, logging.Nop())

	outcome := router.Handle(context.Background(), event("evt_1", models.EventCheckoutCompleted,
		`{"mode":"payment","payment_status":"paid","customer_email":"b@example.com","metadata":{"artwork_url":"x"}}`))

	assert.True(t, stepByName(t, outcome, StepFulfillment).OK)
	result := stepByName(t, outcome, StepOperatorEmail)
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "template exploded")
}

// TestCanadaOrderWithoutArtwork drives a one-time checkout through the real
// submitter against a fake partner.
func TestCanadaOrderWithoutArtwork(t *testing.T) {
	var mu sync.Mutex
	var orderedCountries, catalogCountries []string

	mux := http.NewServeMux()
	mux.HandleFunc("/products/sticker-1/variants", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		catalogCountries = append(catalogCountries, r.URL.Query().Get("country"))
		mu.Unlock()
		fmt.Fprint(w, `{"variants":[{"sku":"STK-CA-3IN","name":"3in","enabled_countries":["CA"]},{"sku":"STK-US-3IN","name":"3in","enabled_countries":["US"]}]}`)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		var order struct {
			Recipient struct {
				CountryCode string `json:"country_code"`
			} `json:"recipient"`
			Items []struct {
				SKU   string `json:"sku"`
				Files []struct {
					URL string `json:"url"`
				} `json:"files"`
			} `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		mu.Lock()
		orderedCountries = append(orderedCountries, order.Recipient.CountryCode+"/"+order.Items[0].SKU)
		mu.Unlock()

		if order.Items[0].Files[0].URL == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"error":"missing file"}`)
			return
		}
		fmt.Fprint(w, `{"id":"ord_1"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	logger := logging.Nop()
	resolver := catalog.NewResolver(catalog.ResolverConfig{ProductID: "sticker-1", DefaultCountry: "US"},
		catalog.NewPartnerClient(catalog.PartnerConfig{BaseURL: server.URL, APIKey: "k"}, logger),
		cache.NewMemoryCache(), logger)
	submitter := fulfillment.NewSubmitter(fulfillment.Config{BaseURL: server.URL, APIKey: "k"},
		resolver, queue.NewLogPublisher(logger), logger)

	store := newMemoryStore()
	notifier := &fakeNotifier{}
	router := NewRouter(store, store, submitter, notifier, logger)

	outcome := router.Handle(context.Background(), event("evt_ca", models.EventCheckoutCompleted, `{
		"mode":"payment","payment_status":"paid","customer_email":"c@example.ca",
		"metadata":{"buyer_name":"Terry Fox","ship_country":"Canada"}
	}`))

	assert.Equal(t, []string{"CA"}, catalogCountries)
	assert.Equal(t, []string{"CA/STK-CA-3IN"}, orderedCountries)
	assert.False(t, stepByName(t, outcome, StepFulfillment).OK)
	assert.True(t, stepByName(t, outcome, StepOperatorEmail).OK)

	require.Len(t, notifier.sent, 1)
	assert.False(t, notifier.sent[0].Fulfilled)
	assert.Contains(t, notifier.sent[0].Failure, "fulfillment_rejected")
}
