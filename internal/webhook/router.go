// Package webhook routes verified payment-processor events to subscription
// updates and sticker order fulfillment.
//
// Every side effect of an event is a named step. Steps run independently: a
// failing step is recorded and the remaining steps still run, so the event is
// always acknowledged once its signature checked out.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/email"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/fulfillment"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// Event type sent when a delayed payment method settles
const EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"

// Step names reported in the outcome
const (
	StepUpsertUser         = "upsert_user"
	StepUpsertSubscription = "upsert_subscription"
	StepUpdateSubscription = "update_subscription"
	StepFulfillment        = "fulfillment"
	StepOperatorEmail      = "operator_email"
)

// UserStore finds or creates users by email
type UserStore interface {
	UpsertUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// SubscriptionStore mirrors subscription state
type SubscriptionStore interface {
	UpsertProSubscription(ctx context.Context, userID, subscriptionID string, customerID *string, periodEnd *time.Time) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, subscriptionID, status string, periodEnd *time.Time) (bool, error)
}

// OrderSubmitter places print orders
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req fulfillment.OrderRequest) (*fulfillment.OrderConfirmation, error)
}

// OrderNotifier tells the operator about sticker orders
type OrderNotifier interface {
	SendOrderNotification(ctx context.Context, order email.OrderSummary) error
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Router dispatches events by type
type Router struct {
	users         UserStore
	subscriptions SubscriptionStore
	orders        OrderSubmitter
	notifier      OrderNotifier
	logger        *logging.Logger
}

// NewRouter creates a webhook router
func NewRouter(users UserStore, subscriptions SubscriptionStore, orders OrderSubmitter, notifier OrderNotifier, logger *logging.Logger) *Router {
	return &Router{
		users:         users,
		subscriptions: subscriptions,
		orders:        orders,
		notifier:      notifier,
		logger:        logger,
	}
}

// Handle processes one verified event. Unknown types are ignored.
func (r *Router) Handle(ctx context.Context, event stripe.Event) *models.WebhookOutcome {
	outcome := &models.WebhookOutcome{EventID: event.ID, Type: string(event.Type)}

	steps, err := r.plan(event)
	if err != nil {
		outcome.Handled = true
		outcome.Steps = []models.StepResult{{Name: "decode", Error: err.Error()}}
		r.logger.LogWebhookEvent(event.ID, outcome.Type, "decode", err)
	} else if steps != nil {
		outcome.Handled = true
		outcome.Steps = r.runSteps(ctx, event, steps)
	}

	metrics.RecordWebhookEvent(outcome.Type, outcome.Handled, len(outcome.Failed()) > 0)
	return outcome
}

// plan returns the steps for an event; nil steps mean the event is ignored
func (r *Router) plan(event stripe.Event) ([]step, error) {
	var raw []byte
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch string(event.Type) {
	case models.EventCheckoutCompleted, EventCheckoutAsyncPaymentSucceeded:
		session, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		switch session.Mode {
		case string(stripe.CheckoutSessionModeSubscription):
			return r.subscriptionCheckout(session), nil
		case string(stripe.CheckoutSessionModePayment):
			if session.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusUnpaid) {
				// The async_payment_succeeded event will follow
				r.logger.WithEventID(event.ID).Info("checkout completed before payment settled, waiting")
				return nil, nil
			}
			return r.stickerCheckout(event.ID, session), nil
		}
		return nil, nil

	case models.EventSubscriptionCreated, models.EventSubscriptionUpdated:
		sub, err := decodeSubscription(raw)
		if err != nil {
			return nil, err
		}
		return []step{r.updateStep(sub.ID, sub.Status, sub.PeriodEnd())}, nil

	case models.EventSubscriptionDeleted:
		sub, err := decodeSubscription(raw)
		if err != nil {
			return nil, err
		}
		return []step{r.updateStep(sub.ID, models.SubscriptionStatusCanceled, sub.PeriodEnd())}, nil
	}

	return nil, nil
}

func (r *Router) subscriptionCheckout(session *checkoutSession) []step {
	var user *models.User
	subscriptionID := expandableID(session.Subscription)

	return []step{
		{name: StepUpsertUser, run: func(ctx context.Context) error {
			address := session.Email()
			if address == "" {
				return errors.New("checkout session carries no email")
			}
			var err error
			user, err = r.users.UpsertUserByEmail(ctx, address)
			return err
		}},
		{name: StepUpsertSubscription, run: func(ctx context.Context) error {
			if user == nil {
				return errors.New("no user to attach the subscription to")
			}
			if subscriptionID == "" {
				return errors.New("checkout session carries no subscription id")
			}
			var customerID *string
			if id := expandableID(session.Customer); id != "" {
				customerID = &id
			}
			_, err := r.subscriptions.UpsertProSubscription(ctx, user.ID, subscriptionID, customerID, nil)
			return err
		}},
	}
}

func (r *Router) stickerCheckout(eventID string, session *checkoutSession) []step {
	req := fulfillment.OrderRequest{
		ArtworkURL:     session.Metadata[models.MetaArtworkURL],
		BuyerEmail:     session.Email(),
		BuyerName:      session.BuyerName(),
		Address:        session.ShippingAddress(),
		IdempotencyKey: eventID,
	}
	summary := email.OrderSummary{
		EventID:    eventID,
		BuyerName:  req.BuyerName,
		BuyerEmail: req.BuyerEmail,
		ArtworkURL: req.ArtworkURL,
		Address:    req.Address,
	}

	return []step{
		{name: StepUpsertUser, run: func(ctx context.Context) error {
			if req.BuyerEmail == "" {
				return nil
			}
			_, err := r.users.UpsertUserByEmail(ctx, req.BuyerEmail)
			return err
		}},
		{name: StepFulfillment, run: func(ctx context.Context) error {
			confirmation, err := r.orders.SubmitOrder(ctx, req)
			if err != nil {
				summary.Failure = err.Error()
				return err
			}
			summary.Fulfilled = true
			summary.OrderID = confirmation.OrderID
			return nil
		}},
		// Runs after fulfillment whatever its result
		{name: StepOperatorEmail, run: func(ctx context.Context) error {
			return r.notifier.SendOrderNotification(ctx, summary)
		}},
	}
}

func (r *Router) updateStep(subscriptionID, status string, periodEnd *time.Time) step {
	return step{name: StepUpdateSubscription, run: func(ctx context.Context) error {
		found, err := r.subscriptions.UpdateSubscriptionStatus(ctx, subscriptionID, status, periodEnd)
		if err != nil {
			return err
		}
		if !found {
			// Arrived before the checkout that creates the row
			r.logger.WithField("subscription_id", subscriptionID).Info("no subscription row to update")
		}
		return nil
	}}
}

// runSteps runs every step in order and records each result. A panic in a
// step is reported as that step's failure.
func (r *Router) runSteps(ctx context.Context, event stripe.Event, steps []step) []models.StepResult {
	results := make([]models.StepResult, 0, len(steps))
	for _, s := range steps {
		err := runStep(ctx, s)

		result := models.StepResult{Name: s.name, OK: err == nil}
		if err != nil {
			result.Error = err.Error()
			metrics.RecordWebhookStepFailure(s.name)
		}
		r.logger.LogWebhookEvent(event.ID, string(event.Type), s.name, err)
		results = append(results, result)
	}
	return results
}

func runStep(ctx context.Context, s step) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step panicked: %v", rec)
		}
	}()
	return s.run(ctx)
}
