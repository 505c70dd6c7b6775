// Package totals derives invoice amounts from line items. Tax rates are
// percentages (19 means 19%) everywhere outside RateFraction.
package totals

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
)

const currencyPlaces = 2

var (
	hundred = decimal.NewFromInt(100)
)

type Line struct {
	Quantity  int64
	UnitPrice decimal.Decimal
}

type Totals struct {
	PerLine   []decimal.Decimal
	Subtotal  decimal.Decimal
	TaxRate   decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// RateFraction converts a percentage into the multiplier applied to the subtotal.
func RateFraction(percent decimal.Decimal) decimal.Decimal {
	return percent.Div(hundred)
}

// ValidateRate rejects rates outside [0, 100].
func ValidateRate(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return &domain.ValidationError{Index: -1, Field: "tax_rate", Reason: "must be a percentage between 0 and 100"}
	}
	return nil
}

// Compute is pure. Rounding is half away from zero to two places.
func Compute(lines []Line, ratePercent decimal.Decimal) (Totals, error) {
	if err := ValidateRate(ratePercent); err != nil {
		return Totals{}, err
	}

	perLine := make([]decimal.Decimal, len(lines))
	subtotal := decimal.Zero
	for i, line := range lines {
		amount := line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)).Round(currencyPlaces)
		perLine[i] = amount
		subtotal = subtotal.Add(amount)
	}
	subtotal = subtotal.Round(currencyPlaces)

	tax := subtotal.Mul(RateFraction(ratePercent)).Round(currencyPlaces)

	return Totals{
		PerLine:   perLine,
		Subtotal:  subtotal,
		TaxRate:   ratePercent,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}, nil
}

// FromItems adapts persisted lines for Compute.
func FromItems(items []domain.LineItem) []Line {
	lines := make([]Line, len(items))
	for i, item := range items {
		lines[i] = Line{Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}
	return lines
}

// ValidateLines checks structure only; the price floor is CheckFloor's job.
func ValidateLines(lines []domain.LineInput) error {
	for i, line := range lines {
		if line.Quantity < 1 {
			return &domain.ValidationError{Index: i, Field: "quantity", Reason: "must be at least 1"}
		}
		if line.UnitPrice.IsNegative() {
			return &domain.ValidationError{Index: i, Field: "unit_price", Reason: "must not be negative"}
		}
		if line.UnitPrice.Exponent() < -currencyPlaces && !line.UnitPrice.Equal(line.UnitPrice.Round(currencyPlaces)) {
			return &domain.ValidationError{Index: i, Field: "unit_price", Reason: "must have at most two decimal places"}
		}
		if line.ProductID != nil && strings.TrimSpace(*line.ProductID) == "" {
			return &domain.ValidationError{Index: i, Field: "product_id", Reason: "must not be blank"}
		}
		if line.ProductID == nil && strings.TrimSpace(line.Name) == "" && strings.TrimSpace(line.Description) == "" {
			return &domain.ValidationError{Index: i, Field: "description", Reason: "name or description is required"}
		}
	}
	return nil
}
