// Package entitlement derives a user's plan and enforces the free-plan
// generation quota.
//
// The quota check and the generation record written after a successful poll
// are separate statements. Two concurrent polls by a user one short of the
// limit can both pass the check, so a free user may briefly exceed the limit
// by the number of in-flight jobs. That overshoot is accepted; serializing
// every poll per user is not worth the contention.
package entitlement

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// QuotaWindow is the trailing window generations are counted over
const QuotaWindow = 24 * time.Hour

// PlanStore resolves a user's effective plan
type PlanStore interface {
	ActivePlan(ctx context.Context, userID string) (models.Plan, error)
}

// UsageStore counts a user's recorded generations
type UsageStore interface {
	CountGenerationsSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Usage summarizes a user's plan and consumption for display
type Usage struct {
	Plan        models.Plan `json:"plan"`
	Used        int         `json:"used"`
	Limit       int         `json:"limit"`
	WindowHours int         `json:"windowHours"`
}

// Gate answers plan and quota questions
type Gate struct {
	plans     PlanStore
	usage     UsageStore
	freeLimit int
	now       func() time.Time
}

// NewGate creates a gate allowing freeLimit generations per window on the free plan
func NewGate(plans PlanStore, usage UsageStore, freeLimit int) *Gate {
	return &Gate{
		plans:     plans,
		usage:     usage,
		freeLimit: freeLimit,
		now:       time.Now,
	}
}

// Plan returns the user's plan. Anonymous callers are always free.
func (g *Gate) Plan(ctx context.Context, userID string) (models.Plan, error) {
	if userID == "" {
		return models.PlanFree, nil
	}
	return g.plans.ActivePlan(ctx, userID)
}

// AssertWithinFreeQuota fails with a quota_exceeded error when a free user has
// used up the window. Anonymous and pro users always pass.
func (g *Gate) AssertWithinFreeQuota(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}

	plan, err := g.Plan(ctx, userID)
	if err != nil {
		return err
	}
	if plan == models.PlanPro {
		return nil
	}

	used, err := g.usage.CountGenerationsSince(ctx, userID, g.now().Add(-QuotaWindow))
	if err != nil {
		return err
	}

	if used >= g.freeLimit {
		metrics.RecordQuotaRejection()
		return apperr.QuotaExceeded(g.freeLimit, used, int(QuotaWindow/time.Hour))
	}
	return nil
}

// Usage reports plan and consumption for an identified user
func (g *Gate) Usage(ctx context.Context, userID string) (*Usage, error) {
	plan, err := g.Plan(ctx, userID)
	if err != nil {
		return nil, err
	}

	u := &Usage{Plan: plan, Limit: g.freeLimit, WindowHours: int(QuotaWindow / time.Hour)}
	if userID == "" {
		return u, nil
	}

	u.Used, err = g.usage.CountGenerationsSince(ctx, userID, g.now().Add(-QuotaWindow))
	if err != nil {
		return nil, err
	}
	return u, nil
}
