package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// The event objects are decoded into local types rather than the SDK's
// structs: shipping details and period ends moved between API versions and
// both placements are accepted here.

type postalAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type shippingDetails struct {
	Name    string         `json:"name"`
	Address *postalAddress `json:"address"`
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	Customer          json.RawMessage   `json:"customer"`
	Subscription      json.RawMessage   `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   *struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"customer_details"`
	ShippingDetails      *shippingDetails `json:"shipping_details"`
	CollectedInformation *struct {
		ShippingDetails *shippingDetails `json:"shipping_details"`
	} `json:"collected_information"`
}

type subscriptionObject struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	Customer         json.RawMessage `json:"customer"`
	CurrentPeriodEnd int64           `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func decodeSession(raw json.RawMessage) (*checkoutSession, error) {
	var s checkoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	return &s, nil
}

func decodeSubscription(raw json.RawMessage) (*subscriptionObject, error) {
	var s subscriptionObject
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("subscription event carries no id")
	}
	return &s, nil
}

// Email returns the buyer email, preferring what the customer typed at checkout
func (s *checkoutSession) Email() string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return strings.TrimSpace(s.CustomerDetails.Email)
	}
	return strings.TrimSpace(s.CustomerEmail)
}

// shipping returns processor-collected shipping details, if any
func (s *checkoutSession) shipping() *shippingDetails {
	if s.CollectedInformation != nil && s.CollectedInformation.ShippingDetails != nil &&
		s.CollectedInformation.ShippingDetails.Address != nil {
		return s.CollectedInformation.ShippingDetails
	}
	if s.ShippingDetails != nil && s.ShippingDetails.Address != nil {
		return s.ShippingDetails
	}
	return nil
}

// ShippingAddress prefers the processor's shipping data and falls back to
// the metadata attached when the session was created.
func (s *checkoutSession) ShippingAddress() models.Address {
	addr := models.AddressFromMetadata(s.Metadata)
	if ship := s.shipping(); ship != nil {
		a := ship.Address
		addr = models.Address{
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
			Phone:      addr.Phone,
		}
	}
	if addr.Phone == "" && s.CustomerDetails != nil {
		addr.Phone = s.CustomerDetails.Phone
	}
	return addr
}

// BuyerName prefers the shipping name, then metadata, then the billing name
func (s *checkoutSession) BuyerName() string {
	if ship := s.shipping(); ship != nil && ship.Name != "" {
		return ship.Name
	}
	if name := s.Metadata[models.MetaBuyerName]; name != "" {
		return name
	}
	if s.CustomerDetails != nil {
		return s.CustomerDetails.Name
	}
	return ""
}

// PeriodEnd reads the period end from the root or, on newer API versions, the first item
func (s *subscriptionObject) PeriodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	if end == 0 && len(s.Items.Data) > 0 {
		end = s.Items.Data[0].CurrentPeriodEnd
	}
	if end == 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

// expandableID reads an id from a field that is either a string or an expanded object
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
