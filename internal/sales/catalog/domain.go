// Package catalog serves the read-only payment-term and customer discount-tier
// catalogs consumed by sales orders.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound indicates a missing catalog entry.
var ErrNotFound = errors.New("catalog: not found")

// PaymentTerm is one entry of the payment-terms catalog.
type PaymentTerm struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	DueDays int    `json:"due_days"`
}

// DiscountTiers are the company-level cascade discounts agreed with a
// customer. Customers without an agreement get zero tiers.
type DiscountTiers struct {
	CustomerID       int64           `json:"customer_id"`
	Discount1Percent decimal.Decimal `json:"discount1_percent"`
	Discount2Percent decimal.Decimal `json:"discount2_percent"`
}

// Source loads catalog entries from the system of record.
type Source interface {
	PaymentTerm(ctx context.Context, id int64) (PaymentTerm, error)
	DiscountTiers(ctx context.Context, customerID int64) (DiscountTiers, error)
}
