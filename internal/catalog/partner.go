package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// DefaultMaxResponseBytes bounds the total catalog payload read per fetch
const DefaultMaxResponseBytes int64 = 5 * 1024 * 1024

const maxPages = 50

// ErrCatalogTooLarge is returned when the partner response exceeds the byte cap
var ErrCatalogTooLarge = errors.New("catalog response exceeds size limit")

// Fetcher loads the enabled variants of a product for one country
type Fetcher interface {
	FetchVariants(ctx context.Context, productID, country string) ([]models.Variant, error)
}

// PartnerClient reads the fulfillment partner's variant catalog over HTTP
type PartnerClient struct {
	baseURL    string
	apiKey     string
	pageSize   int
	maxBytes   int64
	httpClient *http.Client
	logger     *logging.Logger
}

// PartnerConfig configures a PartnerClient
type PartnerConfig struct {
	BaseURL          string
	APIKey           string
	PageSize         int
	MaxResponseBytes int64
	Timeout          time.Duration
}

// NewPartnerClient creates a catalog client
func NewPartnerClient(cfg PartnerConfig, logger *logging.Logger) *PartnerClient {
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	return &PartnerClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		maxBytes: cfg.MaxResponseBytes,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// FetchVariants walks every catalog page for the product and keeps the
// variants enabled for country. The byte cap applies across all pages.
func (p *PartnerClient) FetchVariants(ctx context.Context, productID, country string) ([]models.Variant, error) {
	start := time.Now()
	var variants []models.Variant

	err := tracing.Outbound(ctx, "catalog", "fetch_variants", func(ctx context.Context) error {
		remaining := p.maxBytes
		cursor := ""
		offset := 0

		for i := 0; i < maxPages; i++ {
			body, err := p.fetchPage(ctx, productID, country, cursor, offset, remaining)
			if err != nil {
				return err
			}
			remaining -= int64(len(body))

			pg, err := parsePage(body)
			if err != nil {
				return err
			}

			for _, v := range pg.Variants {
				if v.EnabledFor(country) {
					variants = append(variants, models.Variant{SKU: v.SKU, Name: v.Name})
				}
			}

			if !pg.HasMore || len(pg.Variants) == 0 {
				return nil
			}
			offset += len(pg.Variants)
			cursor = pg.Next
		}

		p.logger.WithField("product_id", productID).Warnf("catalog pagination stopped after %d pages", maxPages)
		return nil
	})

	metrics.RecordCatalogFetch(err)
	metrics.RecordProviderCall("catalog", "fetch_variants", time.Since(start).Seconds(), err)
	p.logger.WithField("country", country).LogProviderCall("catalog", "fetch_variants", 0, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return variants, nil
}

func (p *PartnerClient) fetchPage(ctx context.Context, productID, country, cursor string, offset int, remaining int64) ([]byte, error) {
	pageURL := cursor
	if !strings.HasPrefix(cursor, "http://") && !strings.HasPrefix(cursor, "https://") {
		q := url.Values{}
		q.Set("country", country)
		q.Set("limit", strconv.Itoa(p.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		} else if offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		}
		pageURL = fmt.Sprintf("%s/products/%s/variants?%s", p.baseURL, url.PathEscape(productID), q.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	// Read one byte past the budget so an oversize body is detectable
	// whether or not the server sent Content-Length.
	body, err := io.ReadAll(io.LimitReader(resp.Body, remaining+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog response: %w", err)
	}
	if int64(len(body)) > remaining {
		return nil, ErrCatalogTooLarge
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("catalog API error: status %d, body: %s", resp.StatusCode, truncate(string(body), 512))
	}

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
