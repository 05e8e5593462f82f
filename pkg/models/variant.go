package models

// Variant is a fulfillment-partner SKU enabled for one country
type Variant struct {
	SKU  string `json:"sku"`
	Name string `json:"name"`
}
