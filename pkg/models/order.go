package models

import (
	"strings"
	"time"
)

// Address is a loosely-structured postal address. Every field is best-effort.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Checkout metadata keys attached to one-time sticker sessions
const (
	MetaArtworkURL = "artwork_url"
	MetaBuyerName  = "buyer_name"
	MetaLine1      = "ship_line1"
	MetaLine2      = "ship_line2"
	MetaCity       = "ship_city"
	MetaState      = "ship_state"
	MetaPostalCode = "ship_postal_code"
	MetaCountry    = "ship_country"
	MetaPhone      = "ship_phone"
)

// ToMetadata flattens the address into checkout metadata
func (a Address) ToMetadata(into map[string]string) {
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			into[k] = v
		}
	}
	set(MetaLine1, a.Line1)
	set(MetaLine2, a.Line2)
	set(MetaCity, a.City)
	set(MetaState, a.State)
	set(MetaPostalCode, a.PostalCode)
	set(MetaCountry, a.Country)
	set(MetaPhone, a.Phone)
}

// AddressFromMetadata is the inverse of ToMetadata. Missing keys yield empty fields.
func AddressFromMetadata(meta map[string]string) Address {
	return Address{
		Line1:      meta[MetaLine1],
		Line2:      meta[MetaLine2],
		City:       meta[MetaCity],
		State:      meta[MetaState],
		PostalCode: meta[MetaPostalCode],
		Country:    meta[MetaCountry],
		Phone:      meta[MetaPhone],
	}
}

// IsEmpty reports whether no address field carries a value
func (a Address) IsEmpty() bool {
	return a.Line1 == "" && a.Line2 == "" && a.City == "" && a.State == "" &&
		a.PostalCode == "" && a.Country == ""
}

// FulfillmentFailure is a print order that the partner did not accept. It
// carries everything needed to resubmit with the original dedup key.
type FulfillmentFailure struct {
	IdempotencyKey string    `json:"idempotency_key"`
	ArtworkURL     string    `json:"artwork_url"`
	BuyerEmail     string    `json:"buyer_email"`
	BuyerName      string    `json:"buyer_name"`
	Address        Address   `json:"address"`
	Code           string    `json:"code"`
	Reason         string    `json:"reason"`
	FailedAt       time.Time `json:"failed_at"`
	Attempts       int       `json:"attempts"`
}
