// Package pricing computes sales order totals with cascading discounts.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/order-engine/internal/sales/workflow"
)

var (
	hundred = decimal.NewFromInt(100)
	// TaxRate is the fixed VAT rate applied after all discounts.
	TaxRate = decimal.RequireFromString("0.11")
)

// Line is one priced entry.
type Line struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Total returns unitPrice × quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(l.Quantity)
}

// Breakdown is the full cascade result. Values are exact; rounding is left
// to presentation.
type Breakdown struct {
	Subtotal                 decimal.Decimal `json:"subtotal"`
	Discount1Percent         decimal.Decimal `json:"discount1_percent"`
	Discount1Amount          decimal.Decimal `json:"discount1_amount"`
	AfterDiscount1           decimal.Decimal `json:"after_discount1"`
	Discount2Percent         decimal.Decimal `json:"discount2_percent"`
	Discount2Amount          decimal.Decimal `json:"discount2_amount"`
	AfterDiscount2           decimal.Decimal `json:"after_discount2"`
	AdditionalPercent        decimal.Decimal `json:"additional_discount_percent"`
	AdditionalDiscountAmount decimal.Decimal `json:"additional_discount_amount"`
	AfterAllDiscount         decimal.Decimal `json:"after_all_discount"`
	Tax                      decimal.Decimal `json:"tax"`
	GrandTotal               decimal.Decimal `json:"grand_total"`
}

// ClampPercent limits p to [0,100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// ValidatePercent rejects percentages outside [0,100]. Write paths use it
// before values reach Compute, which would otherwise clamp them.
func ValidatePercent(name string, p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s %s outside 0-100", workflow.ErrPricingInputInvalid, name, p.String())
	}
	return nil
}

// ValidateLines rejects negative prices or quantities.
func ValidateLines(lines []Line) error {
	for i, l := range lines {
		if l.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d: negative unit price", workflow.ErrPricingInputInvalid, i+1)
		}
		if l.Quantity.IsNegative() {
			return fmt.Errorf("%w: line %d: negative quantity", workflow.ErrPricingInputInvalid, i+1)
		}
	}
	return nil
}

// Compute applies company discount 1, company discount 2 and the additional
// order discount in that order, each to the running balance, then adds tax.
func Compute(lines []Line, discount1Pct, discount2Pct, additionalPct decimal.Decimal) (Breakdown, error) {
	if err := ValidateLines(lines); err != nil {
		return Breakdown{}, err
	}
	discount1Pct = ClampPercent(discount1Pct)
	discount2Pct = ClampPercent(discount2Pct)
	additionalPct = ClampPercent(additionalPct)

	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}

	b := Breakdown{
		Subtotal:          subtotal,
		Discount1Percent:  discount1Pct,
		Discount2Percent:  discount2Pct,
		AdditionalPercent: additionalPct,
	}
	b.Discount1Amount = percentOf(subtotal, discount1Pct)
	b.AfterDiscount1 = subtotal.Sub(b.Discount1Amount)
	b.Discount2Amount = percentOf(b.AfterDiscount1, discount2Pct)
	b.AfterDiscount2 = b.AfterDiscount1.Sub(b.Discount2Amount)
	b.AdditionalDiscountAmount = percentOf(b.AfterDiscount2, additionalPct)
	b.AfterAllDiscount = b.AfterDiscount2.Sub(b.AdditionalDiscountAmount)
	b.Tax = b.AfterAllDiscount.Mul(TaxRate)
	b.GrandTotal = b.AfterAllDiscount.Add(b.Tax)
	return b, nil
}

// percentOf multiplies before dividing so terminating results stay exact.
func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}
