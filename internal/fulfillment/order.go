package fulfillment

import (
	"encoding/json"
	"strings"
)

type contact struct {
	Name        string `json:"name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2"`
	City        string `json:"city"`
	StateCode   string `json:"state_code"`
	Zip         string `json:"zip"`
	CountryCode string `json:"country_code"`
}

type orderFile struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type lineItem struct {
	ExternalID string      `json:"external_id"`
	SKU        string      `json:"sku"`
	Quantity   int         `json:"quantity"`
	Files      []orderFile `json:"files"`
}

type orderBody struct {
	ExternalID       string     `json:"external_id"`
	UniqueExternalID bool       `json:"unique_external_id"`
	IdempotencyKey   string     `json:"idempotency_key"`
	TestMode         bool       `json:"test_mode"`
	Recipient        contact    `json:"recipient"`
	Billing          contact    `json:"billing"`
	Items            []lineItem `json:"items"`
}

func (s *Submitter) buildOrder(req OrderRequest, country, sku, key string) orderBody {
	first, last := SplitName(req.BuyerName)

	phone := strings.TrimSpace(req.Address.Phone)
	if phone == "" {
		phone = PhonePlaceholder
	}

	recipient := contact{
		Name:        strings.TrimSpace(req.BuyerName),
		FirstName:   first,
		LastName:    last,
		Email:       strings.TrimSpace(req.BuyerEmail),
		Phone:       phone,
		Address1:    req.Address.Line1,
		Address2:    req.Address.Line2,
		City:        req.Address.City,
		StateCode:   req.Address.State,
		Zip:         req.Address.PostalCode,
		CountryCode: country,
	}

	return orderBody{
		ExternalID:       key,
		UniqueExternalID: true,
		IdempotencyKey:   key,
		TestMode:         s.cfg.TestMode,
		Recipient:        recipient,
		Billing:          recipient,
		Items: []lineItem{{
			ExternalID: key,
			SKU:        sku,
			Quantity:   s.cfg.Quantity,
			Files:      []orderFile{{Type: "default", URL: req.ArtworkURL}},
		}},
	}
}

// SplitName splits on the first run of whitespace. A single word is the first name.
func SplitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	idx := strings.IndexFunc(name, isSpace)
	if idx < 0 {
		return name, ""
	}
	return name[:idx], strings.TrimSpace(name[idx:])
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// parseConfirmation reads the order id and status from the root or from a
// data/result envelope.
func parseConfirmation(body []byte) *OrderConfirmation {
	var envelope struct {
		ID     json.RawMessage `json:"id"`
		Status string          `json:"status"`
		Data   *struct {
			ID     json.RawMessage `json:"id"`
			Status string          `json:"status"`
		} `json:"data"`
		Result *struct {
			ID     json.RawMessage `json:"id"`
			Status string          `json:"status"`
		} `json:"result"`
	}

	confirmation := &OrderConfirmation{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return confirmation
	}

	id, status := envelope.ID, envelope.Status
	if envelope.Data != nil && len(id) == 0 {
		id, status = envelope.Data.ID, envelope.Data.Status
	}
	if envelope.Result != nil && len(id) == 0 {
		id, status = envelope.Result.ID, envelope.Result.Status
	}

	confirmation.OrderID = strings.Trim(string(id), `"`)
	confirmation.Status = status
	return confirmation
}
