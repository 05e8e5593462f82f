package models

// Webhook event types handled from the payment processor
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// StepResult is the outcome of one independently-failable webhook side effect
type StepResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WebhookOutcome summarizes the processing of a single payment event
type WebhookOutcome struct {
	EventID string       `json:"event_id"`
	Type    string       `json:"type"`
	Handled bool         `json:"handled"`
	Steps   []StepResult `json:"steps,omitempty"`
}

// Failed returns the steps that reported an error
func (o *WebhookOutcome) Failed() []StepResult {
	var failed []StepResult
	for _, s := range o.Steps {
		if !s.OK {
			failed = append(failed, s)
		}
	}
	return failed
}
