package database

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// SubscriptionRepository persists subscription rows keyed by the processor's subscription id
type SubscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// UpsertProSubscription records an active pro subscription. Redelivery of the
// same subscription id converges on the same row and never changes its status;
// after the first insert only lifecycle events move it.
func (r *SubscriptionRepository) UpsertProSubscription(ctx context.Context, userID, subscriptionID string, customerID *string, periodEnd *time.Time) (*models.Subscription, error) {
	var sub models.Subscription

	query := `
		INSERT INTO subscriptions (id, user_id, plan, status, stripe_customer_id, stripe_subscription_id, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			plan = EXCLUDED.plan,
			status = subscriptions.status,
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			updated_at = now()
		RETURNING id, user_id, plan, status, stripe_customer_id, stripe_subscription_id,
		          current_period_end, created_at, updated_at
	`

	err := pgxscan.Get(ctx, r.db.Pool, &sub, query,
		uuid.New().String(), userID, models.PlanPro, models.SubscriptionStatusActive,
		customerID, subscriptionID, periodEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return &sub, nil
}

// UpdateSubscriptionStatus mirrors a lifecycle change onto the matching row.
// Reports false when no row carries the subscription id yet.
func (r *SubscriptionRepository) UpdateSubscriptionStatus(ctx context.Context, subscriptionID, status string, periodEnd *time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = $2,
		    current_period_end = COALESCE($3, current_period_end),
		    updated_at = now()
		WHERE stripe_subscription_id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query, subscriptionID, status, periodEnd)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription status: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ActivePlan returns pro when the user has any active pro row, free otherwise
func (r *SubscriptionRepository) ActivePlan(ctx context.Context, userID string) (models.Plan, error) {
	var subs []*models.Subscription

	query := `
		SELECT id, user_id, plan, status, stripe_customer_id, stripe_subscription_id,
		       current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	if err := pgxscan.Select(ctx, r.db.Pool, &subs, query, userID); err != nil {
		return models.PlanFree, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	for _, sub := range subs {
		if sub.Entitles() {
			return models.PlanPro, nil
		}
	}

	return models.PlanFree, nil
}
