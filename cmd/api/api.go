package main

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/entitlement"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/generation"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/middleware"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/payment"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// Generator submits and polls artwork jobs
type Generator interface {
	Submit(ctx context.Context, req generation.SubmitRequest) (*generation.SubmitResult, error)
	Poll(ctx context.Context, jobID string) (*generation.JobStatus, error)
}

// GenerationRecorder charges succeeded jobs to a user
type GenerationRecorder interface {
	RecordSuccess(ctx context.Context, userID, jobID string, mode models.Mode) error
}

// Entitlements answers plan and quota questions
type Entitlements interface {
	middleware.QuotaChecker
	Plan(ctx context.Context, userID string) (models.Plan, error)
	Usage(ctx context.Context, userID string) (*entitlement.Usage, error)
}

// Sessions is the magic-link authenticator
type Sessions interface {
	middleware.SessionResolver
	RequestLogin(ctx context.Context, email string) error
	Verify(ctx context.Context, rawToken string) (string, *models.User, error)
	SignOut(ctx context.Context, cookie string) error
	SessionTTL() time.Duration
}

// Payments creates checkouts and verifies webhook signatures
type Payments interface {
	CreateStickerCheckout(ctx context.Context, req payment.StickerCheckout) (*payment.CheckoutLink, error)
	CreateProCheckout(ctx context.Context, email, userID string) (*payment.CheckoutLink, error)
	VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// EventRouter processes verified payment events
type EventRouter interface {
	Handle(ctx context.Context, event stripe.Event) *models.WebhookOutcome
}

// CatalogRefresher reloads a country's variants on demand
type CatalogRefresher interface {
	Refresh(ctx context.Context, country string) ([]models.Variant, error)
}

// FailureQueue exposes parked fulfillment failures to operators
type FailureQueue interface {
	Depth() (int, error)
	Replay(ctx context.Context, max int, handler func(context.Context, *models.FulfillmentFailure) error) (int, error)
}

// Resubmitter replays a parked order
type Resubmitter interface {
	Resubmit(ctx context.Context, failure *models.FulfillmentFailure) error
}

// HealthChecker reports datastore health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CookieConfig controls the session cookie
type CookieConfig struct {
	Name   string
	Secure bool
}

// API holds the handler dependencies
type API struct {
	generator    Generator
	recorder     GenerationRecorder
	entitlements Entitlements
	sessions     Sessions
	payments     Payments
	events       EventRouter
	catalog      CatalogRefresher
	failures     FailureQueue
	resubmitter  Resubmitter
	health       HealthChecker
	logger       *logging.Logger

	cookie         CookieConfig
	baseURL        string
	maxUploadBytes int64
	adminKey       string
	rateLimiter    *middleware.RateLimiter
}
