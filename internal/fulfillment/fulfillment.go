// Package fulfillment places print orders with the fulfillment partner.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/catalog"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/queue"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// PhonePlaceholder is sent when the buyer gave no phone number
const PhonePlaceholder = "0000000000"

// DefaultMaxIdempotencyKeyLen is the partner's limit on external ids
const DefaultMaxIdempotencyKeyLen = 64

// SKUResolver picks the SKU for a destination
type SKUResolver interface {
	NormalizeCountry(input string) string
	ResolveSKU(ctx context.Context, country string, want catalog.Attributes, override string) (string, error)
}

// OrderRequest is a paid sticker order. Every field is best-effort.
type OrderRequest struct {
	ArtworkURL     string
	BuyerEmail     string
	BuyerName      string
	Address        models.Address
	IdempotencyKey string
}

// OrderConfirmation is the partner's acknowledgement
type OrderConfirmation struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	SKU            string `json:"sku"`
	Country        string `json:"country"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Config configures a Submitter
type Config struct {
	BaseURL              string
	APIKey               string
	TestMode             bool
	Quantity             int
	MaxIdempotencyKeyLen int
	Attributes           catalog.Attributes
	PreferredSKU         string
	Timeout              time.Duration
}

// Submitter builds and submits idempotent print orders
type Submitter struct {
	cfg        Config
	resolver   SKUResolver
	failures   queue.FailurePublisher
	httpClient *http.Client
	logger     *logging.Logger
}

// NewSubmitter creates an order submitter
func NewSubmitter(cfg Config, resolver SKUResolver, failures queue.FailurePublisher, logger *logging.Logger) *Submitter {
	if cfg.Quantity <= 0 {
		cfg.Quantity = 1
	}
	if cfg.MaxIdempotencyKeyLen <= 0 {
		cfg.MaxIdempotencyKeyLen = DefaultMaxIdempotencyKeyLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Submitter{
		cfg:        cfg,
		resolver:   resolver,
		failures:   failures,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// SubmitOrder places the order once. Failures are not retried; they are
// parked on the failure queue for an operator and returned.
func (s *Submitter) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderConfirmation, error) {
	confirmation, err := s.submit(ctx, req)
	metrics.RecordFulfillment(err)
	if err != nil {
		s.report(ctx, req, err)
		return nil, err
	}
	return confirmation, nil
}

// Resubmit replays a parked failure with its original dedup key. It does not
// park the order again; the caller keeps the message on failure.
func (s *Submitter) Resubmit(ctx context.Context, failure *models.FulfillmentFailure) error {
	_, err := s.submit(ctx, OrderRequest{
		ArtworkURL:     failure.ArtworkURL,
		BuyerEmail:     failure.BuyerEmail,
		BuyerName:      failure.BuyerName,
		Address:        failure.Address,
		IdempotencyKey: failure.IdempotencyKey,
	})
	metrics.RecordFulfillment(err)
	return err
}

func (s *Submitter) submit(ctx context.Context, req OrderRequest) (*OrderConfirmation, error) {
	if s.cfg.APIKey == "" {
		return nil, apperr.ErrMissingFulfillmentCredentials
	}

	country := s.resolver.NormalizeCountry(req.Address.Country)
	sku, err := s.resolver.ResolveSKU(ctx, country, s.cfg.Attributes, s.cfg.PreferredSKU)
	if err != nil {
		return nil, apperr.SkuResolutionFailed(err)
	}

	key := TruncateKey(req.IdempotencyKey, s.cfg.MaxIdempotencyKeyLen)
	order := s.buildOrder(req, country, sku, key)

	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	var confirmation *OrderConfirmation
	start := time.Now()
	status := 0
	err = tracing.Outbound(ctx, "fulfillment", "create_order", func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/orders", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", key)

		resp, err := s.httpClient.Do(httpReq)
		if err != nil {
			return apperr.Wrap(apperr.KindUpstream, apperr.CodeFulfillmentRejected, "fulfillment partner unreachable", err)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apperr.FulfillmentRejected(resp.StatusCode, string(respBody))
		}

		confirmation = parseConfirmation(respBody)
		return nil
	})

	metrics.RecordProviderCall("fulfillment", "create_order", time.Since(start).Seconds(), err)
	s.logger.LogProviderCall("fulfillment", "create_order", status, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	confirmation.SKU = sku
	confirmation.Country = country
	confirmation.IdempotencyKey = key

	s.logger.WithFields(map[string]interface{}{
		"order_id": confirmation.OrderID,
		"sku":      sku,
		"country":  country,
	}).Info("print order submitted")
	return confirmation, nil
}

func (s *Submitter) report(ctx context.Context, req OrderRequest, cause error) {
	if s.failures == nil {
		return
	}

	failure := &models.FulfillmentFailure{
		IdempotencyKey: req.IdempotencyKey,
		ArtworkURL:     req.ArtworkURL,
		BuyerEmail:     req.BuyerEmail,
		BuyerName:      req.BuyerName,
		Address:        req.Address,
		Code:           apperr.CodeOf(cause),
		Reason:         cause.Error(),
		FailedAt:       time.Now().UTC(),
	}
	if err := s.failures.PublishFulfillmentFailure(ctx, failure); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", req.IdempotencyKey).Error("failed to park fulfillment failure")
	}
}

// TruncateKey shortens key to at most max bytes without splitting a UTF-8 rune
func TruncateKey(key string, max int) string {
	if max <= 0 || len(key) <= max {
		return key
	}
	cut := key[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
