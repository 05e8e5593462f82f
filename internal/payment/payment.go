// Package payment creates hosted checkout sessions and verifies webhook
// signatures with the payment processor.
package payment

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// maxMetadataValue is the processor's limit on a single metadata value
const maxMetadataValue = 500

// MetaUserID links a subscription back to the signed-in user
const MetaUserID = "user_id"

var errMissingPaymentCredentials = apperr.New(apperr.KindConfig, apperr.CodeMissingCredentials, "payment processor credentials are not configured")

// Config configures a Client
type Config struct {
	SecretKey          string
	WebhookSecret      string
	ProPriceID         string
	StickerPriceCents  int64
	StickerProductName string
	Currency           string
	SuccessURL         string
	CancelURL          string
	AllowedCountries   []string

	// BackendURL overrides the API endpoint; empty uses the processor's default
	BackendURL string
}

// StickerCheckout is a one-time sticker purchase
type StickerCheckout struct {
	Email      string         `json:"email"`
	ArtworkURL string         `json:"artwork_url"`
	Name       string         `json:"name"`
	Address    models.Address `json:"address"`
}

// CheckoutLink is a hosted checkout page
type CheckoutLink struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client talks to the payment processor
type Client struct {
	cfg      Config
	sessions *session.Client
	logger   *logging.Logger
}

// NewClient creates a payment client
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}

	backend := stripe.GetBackend(stripe.APIBackend)
	if cfg.BackendURL != "" {
		backend = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BackendURL),
			MaxNetworkRetries: stripe.Int64(0),
		})
	}

	return &Client{
		cfg:      cfg,
		sessions: &session.Client{B: backend, Key: cfg.SecretKey},
		logger:   logger,
	}
}

// CreateStickerCheckout opens a one-time payment session. The artwork URL,
// buyer name and any address given up front travel as metadata so the webhook
// can place the order even when the processor collects no shipping details.
func (c *Client) CreateStickerCheckout(ctx context.Context, req StickerCheckout) (*CheckoutLink, error) {
	if c.cfg.SecretKey == "" {
		return nil, errMissingPaymentCredentials
	}
	if err := validateEmail(req.Email); err != nil {
		return nil, err
	}
	artwork := strings.TrimSpace(req.ArtworkURL)
	if artwork == "" {
		return nil, apperr.Validation("artwork_url is required")
	}
	if len(artwork) > maxMetadataValue {
		return nil, apperr.Validation("artwork_url is too long")
	}

	params := c.stickerParams(req, artwork)
	return c.create(ctx, "create_sticker_checkout", params)
}

// CreateProCheckout opens a subscription session for the configured pro price
func (c *Client) CreateProCheckout(ctx context.Context, email, userID string) (*CheckoutLink, error) {
	if c.cfg.SecretKey == "" || c.cfg.ProPriceID == "" {
		return nil, errMissingPaymentCredentials
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	params := c.proParams(email, userID)
	return c.create(ctx, "create_pro_checkout", params)
}

// VerifyEvent checks the signature header against the raw body and decodes
// the event. Nothing is parsed before the signature is known to be good.
func (c *Client) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if c.cfg.WebhookSecret == "" {
		return stripe.Event{}, errMissingPaymentCredentials
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidRequest, "webhook signature verification failed", err)
	}
	return event, nil
}

func (c *Client) stickerParams(req StickerCheckout, artwork string) *stripe.CheckoutSessionParams {
	metadata := map[string]string{models.MetaArtworkURL: artwork}
	if name := strings.TrimSpace(req.Name); name != "" {
		metadata[models.MetaBuyerName] = truncate(name, maxMetadataValue)
	}
	req.Address.ToMetadata(metadata)

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(strings.TrimSpace(req.Email)),
		SuccessURL:    stripe.String(c.cfg.SuccessURL),
		CancelURL:     stripe.String(c.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(c.cfg.Currency),
					UnitAmount: stripe.Int64(c.cfg.StickerPriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:   stripe.String(c.cfg.StickerProductName),
						Images: []*string{stripe.String(artwork)},
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
		Metadata: metadata,
	}

	if len(c.cfg.AllowedCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(c.cfg.AllowedCountries),
		}
	}
	return params
}

func (c *Client) proParams(email, userID string) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		CustomerEmail: stripe.String(strings.TrimSpace(email)),
		SuccessURL:    stripe.String(c.cfg.SuccessURL),
		CancelURL:     stripe.String(c.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.ProPriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if userID != "" {
		params.ClientReferenceID = stripe.String(userID)
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetaUserID: userID},
		}
	}
	return params
}

func (c *Client) create(ctx context.Context, operation string, params *stripe.CheckoutSessionParams) (*CheckoutLink, error) {
	start := time.Now()
	var link *CheckoutLink

	err := tracing.Outbound(ctx, "payment", operation, func(ctx context.Context) error {
		params.Context = ctx
		s, err := c.sessions.New(params)
		if err != nil {
			return err
		}
		link = &CheckoutLink{ID: s.ID, URL: s.URL}
		return nil
	})

	metrics.RecordProviderCall("payment", operation, time.Since(start).Seconds(), err)
	c.logger.LogProviderCall("payment", operation, 0, time.Since(start), err)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, apperr.CodeProviderError, "failed to create checkout session", err)
	}
	return link, nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.Validation("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperr.Validation(fmt.Sprintf("invalid email address: %q", email))
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
