// Package evidence holds field candidates and the per-call ledger that
// merges them into one product record.
package evidence

import (
	"fmt"

	"github.com/use-agent/prodscrape/models"
)

// Field identifies one output field of a ProductRecord.
type Field string

const (
	FieldProductName  Field = "product_name"
	FieldBrand        Field = "brand"
	FieldPrice        Field = "price"
	FieldImageURLs    Field = "image_urls"
	FieldGarmentType  Field = "garment_type"
	FieldAvailability Field = "availability"
)

// Fields lists every field in output order.
var Fields = []Field{
	FieldProductName,
	FieldBrand,
	FieldPrice,
	FieldImageURLs,
	FieldGarmentType,
	FieldAvailability,
}

// Confidence is an ordinal weight; higher is stronger.
type Confidence int

const (
	ConfidenceTextPattern Confidence = iota + 1
	ConfidenceHeuristic
	ConfidenceExact
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceExact:
		return "exact"
	case ConfidenceHeuristic:
		return "heuristic"
	case ConfidenceTextPattern:
		return "text-pattern"
	}
	return fmt.Sprintf("confidence(%d)", int(c))
}

// Candidate is one extractor's proposal for one field.
//
// Value types per field: string for product_name, brand and image_urls
// (one URL per candidate), models.Price for price, models.GarmentType and
// models.Availability for the enums.
type Candidate struct {
	Field      Field
	Value      any
	Confidence Confidence
	Strategy   string

	// Rule names the extractor rule that produced the value.
	Rule string
}

// Valid reports whether the value has the type its field requires and is
// usable. Invalid candidates are ignored on ingest.
func (c Candidate) Valid() bool {
	switch c.Field {
	case FieldProductName, FieldBrand, FieldImageURLs:
		s, ok := c.Value.(string)
		return ok && s != ""
	case FieldPrice:
		p, ok := c.Value.(models.Price)
		return ok && p.Currency != "" && p.Amount.IsPositive()
	case FieldGarmentType:
		g, ok := c.Value.(models.GarmentType)
		return ok && g.Valid() && g != models.GarmentUnsupported
	case FieldAvailability:
		a, ok := c.Value.(models.Availability)
		return ok && a.Valid() && a != models.AvailabilityUnknown
	}
	return false
}

// sameValue compares two candidate values of the same field.
func sameValue(a, b any) bool {
	if pa, ok := a.(models.Price); ok {
		pb, ok := b.(models.Price)
		return ok && pa.Equal(pb)
	}
	return a == b
}

// Text is a convenience constructor for string-valued fields.
func Text(field Field, value string, conf Confidence, rule string) Candidate {
	return Candidate{Field: field, Value: value, Confidence: conf, Rule: rule}
}
