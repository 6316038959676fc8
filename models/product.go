package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// GarmentType is the coarse garment category of a product.
type GarmentType string

const (
	GarmentUpper       GarmentType = "upper"
	GarmentLower       GarmentType = "lower"
	GarmentFullBody    GarmentType = "full_body"
	GarmentShoes       GarmentType = "shoes"
	GarmentOther       GarmentType = "other"
	GarmentUnsupported GarmentType = "unsupported"
)

// Valid reports whether g is one of the enumerated garment types.
func (g GarmentType) Valid() bool {
	switch g {
	case GarmentUpper, GarmentLower, GarmentFullBody, GarmentShoes, GarmentOther, GarmentUnsupported:
		return true
	}
	return false
}

// MarshalJSON emits the sentinel for any value outside the enum.
func (g GarmentType) MarshalJSON() ([]byte, error) {
	if !g.Valid() {
		g = GarmentUnsupported
	}
	return json.Marshal(string(g))
}

// Availability is the stock state of a product.
type Availability string

const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
	AvailabilityLimited    Availability = "limited"
	AvailabilityUnknown    Availability = "unknown"
)

// Valid reports whether a is one of the enumerated availability states.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityInStock, AvailabilityOutOfStock, AvailabilityLimited, AvailabilityUnknown:
		return true
	}
	return false
}

// MarshalJSON emits the sentinel for any value outside the enum.
func (a Availability) MarshalJSON() ([]byte, error) {
	if !a.Valid() {
		a = AvailabilityUnknown
	}
	return json.Marshal(string(a))
}

// Price is an amount paired with its ISO-4217 currency code.
// A Price is only ever constructed with both parts resolved.
type Price struct {
	Amount   decimal.Decimal
	Currency string
}

type priceJSON struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// MarshalJSON writes the amount as a JSON number.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceJSON{Amount: json.Number(p.Amount.String()), Currency: p.Currency})
}

func (p *Price) UnmarshalJSON(data []byte) error {
	var raw priceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(raw.Amount.String())
	if err != nil {
		return fmt.Errorf("price amount: %w", err)
	}
	if raw.Currency == "" {
		return fmt.Errorf("price currency missing")
	}
	p.Amount = amount
	p.Currency = raw.Currency
	return nil
}

// Equal reports whether two prices have the same currency and numeric amount.
func (p Price) Equal(o Price) bool {
	return p.Currency == o.Currency && p.Amount.Equal(o.Amount)
}

func (p Price) String() string {
	return p.Amount.String() + " " + p.Currency
}

// ProductRecord is the structured result of one scrape.
// Optional fields serialize as null; the enums always carry a value.
type ProductRecord struct {
	ProductName  *string      `json:"product_name"`
	Brand        *string      `json:"brand"`
	Price        *Price       `json:"price"`
	ImageURLs    []string     `json:"image_urls"`
	GarmentType  GarmentType  `json:"garment_type"`
	Availability Availability `json:"availability"`
}

// NewProductRecord returns an empty record with sentinel enum values.
func NewProductRecord() ProductRecord {
	return ProductRecord{
		ImageURLs:    []string{},
		GarmentType:  GarmentUnsupported,
		Availability: AvailabilityUnknown,
	}
}

// Outcome is the caller-facing result class of a scrape.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialSuccess Outcome = "partial_success"
	OutcomeFailure        Outcome = "failure"
)
