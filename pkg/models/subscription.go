package models

import "time"

// Plan is the entitlement level of a user
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Subscription status values mirrored from the payment processor. The
// column is freeform; these are the values the system itself writes.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription mirrors one payment-processor subscription lifecycle
type Subscription struct {
	ID                   string     `json:"id" db:"id"`
	UserID               string     `json:"user_id" db:"user_id"`
	Plan                 Plan       `json:"plan" db:"plan"`
	Status               string     `json:"status" db:"status"`
	StripeCustomerID     *string    `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id" db:"stripe_subscription_id"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty" db:"current_period_end"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// Entitles reports whether this row grants the pro plan
func (s *Subscription) Entitles() bool {
	return s.Plan == PlanPro && s.Status == SubscriptionStatusActive
}
