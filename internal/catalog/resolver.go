package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// Attributes are the tokens a SKU or display name must contain to match
type Attributes struct {
	Size    string
	Pack    string
	Variant string
}

// Resolver picks a fulfillment SKU for a destination country
type Resolver struct {
	fetcher        Fetcher
	cache          cache.VariantCache
	ttl            time.Duration
	productID      string
	defaultCountry string
	logger         *logging.Logger
}

// ResolverConfig configures a Resolver
type ResolverConfig struct {
	ProductID      string
	DefaultCountry string
	CacheTTL       time.Duration
}

// NewResolver creates a SKU resolver backed by fetcher and variantCache
func NewResolver(cfg ResolverConfig, fetcher Fetcher, variantCache cache.VariantCache, logger *logging.Logger) *Resolver {
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = "US"
	}
	return &Resolver{
		fetcher:        fetcher,
		cache:          variantCache,
		ttl:            cfg.CacheTTL,
		productID:      cfg.ProductID,
		defaultCountry: cfg.DefaultCountry,
		logger:         logger,
	}
}

// NormalizeCountry normalizes input using the resolver's fallback country
func (r *Resolver) NormalizeCountry(input string) string {
	return NormalizeCountry(input, r.defaultCountry)
}

// EnabledVariants returns the cached variant list for country, fetching it on a miss.
// A cache backend error is logged and treated as a miss.
func (r *Resolver) EnabledVariants(ctx context.Context, country string) ([]models.Variant, error) {
	variants, ok, err := r.cache.Get(ctx, country)
	if err != nil {
		r.logger.WithError(err).WithField("country", country).Warn("variant cache read failed")
	}
	metrics.RecordCatalogCache(ok)
	if ok {
		return variants, nil
	}

	return r.populate(ctx, country)
}

// Refresh drops the cached list for country and fetches it again
func (r *Resolver) Refresh(ctx context.Context, country string) ([]models.Variant, error) {
	country = r.NormalizeCountry(country)
	if err := r.cache.Invalidate(ctx, country); err != nil {
		r.logger.WithError(err).WithField("country", country).Warn("variant cache invalidate failed")
	}
	return r.populate(ctx, country)
}

func (r *Resolver) populate(ctx context.Context, country string) ([]models.Variant, error) {
	variants, err := r.fetcher.FetchVariants(ctx, r.productID, country)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, apperr.CodeCatalogUnavailable, "failed to load partner catalog", err).
			WithDetails(map[string]any{"country": country})
	}

	if err := r.cache.Set(ctx, country, variants, r.ttl); err != nil {
		r.logger.WithError(err).WithField("country", country).Warn("variant cache write failed")
	}
	return variants, nil
}

// ResolveSKU picks the SKU to print for a destination country.
//
// Tiers, in order: an override present in the enabled set; a variant whose SKU
// or name contains the size, pack and variant tokens; one containing size and
// pack; the first enabled variant.
func (r *Resolver) ResolveSKU(ctx context.Context, country string, want Attributes, override string) (string, error) {
	iso := r.NormalizeCountry(country)

	variants, err := r.EnabledVariants(ctx, iso)
	if err != nil {
		return "", err
	}
	if len(variants) == 0 {
		return "", apperr.ErrNoEnabledVariants.WithDetails(map[string]any{"country": iso})
	}

	if override != "" {
		for _, v := range variants {
			if v.SKU == override {
				return v.SKU, nil
			}
		}
		r.logger.WithFields(map[string]interface{}{
			"country": iso,
			"sku":     override,
		}).Warn("preferred SKU not enabled for country, falling back to attribute match")
	}

	if sku := firstMatch(variants, want.Size, want.Pack, want.Variant); sku != "" {
		return sku, nil
	}
	if sku := firstMatch(variants, want.Size, want.Pack); sku != "" {
		return sku, nil
	}
	if sku := variants[0].SKU; sku != "" {
		return sku, nil
	}

	return "", apperr.ErrNoSkuResolved.WithDetails(map[string]any{"country": iso})
}

func firstMatch(variants []models.Variant, tokens ...string) string {
	for _, v := range variants {
		if matchesAll(v, tokens) {
			return v.SKU
		}
	}
	return ""
}

func matchesAll(v models.Variant, tokens []string) bool {
	sku := strings.ToLower(v.SKU)
	name := strings.ToLower(v.Name)
	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		if !strings.Contains(sku, token) && !strings.Contains(name, token) {
			return false
		}
	}
	return true
}
