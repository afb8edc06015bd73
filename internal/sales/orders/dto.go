package orders

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/order-engine/internal/sales/workflow"
)

type LineInput struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	ProductName string          `json:"product_name" validate:"required,max=200"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type CreateOrderRequest struct {
	OrderNumber     string          `json:"order_number,omitempty" validate:"omitempty,max=40"`
	CustomerID      int64           `json:"customer_id" validate:"required,gt=0"`
	QuotationID     *int64          `json:"quotation_id,omitempty" validate:"omitempty,gt=0"`
	PaymentTermID   *int64          `json:"payment_term_id,omitempty" validate:"omitempty,gt=0"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Note            string          `json:"note,omitempty" validate:"max=4000"`
	Lines           []LineInput     `json:"items" validate:"required,min=1,dive"`
	IdempotencyKey  string          `json:"-" validate:"max=128"`
}

// UpdateOrderRequest is a partial update. Nil fields are left untouched.
type UpdateOrderRequest struct {
	ExpectedVersion int64            `json:"expected_version" validate:"required,gt=0"`
	CustomerID      *int64           `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	Lines           *[]LineInput     `json:"items,omitempty" validate:"omitempty,min=1,dive"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	PaymentTermID   *int64           `json:"payment_term_id,omitempty" validate:"omitempty,gt=0"`
	PaymentStatus   *string          `json:"payment_status,omitempty"`
	AppendNote      *string          `json:"append_note,omitempty" validate:"omitempty,min=1,max=4000"`
}

type ListOrdersRequest struct {
	Status     *workflow.Status `json:"status,omitempty"`
	CustomerID *int64           `json:"customer_id,omitempty"`
	Limit      int              `json:"limit" validate:"gte=0,lte=500"`
	Offset     int              `json:"offset" validate:"gte=0"`
}

type TransitionRequest struct {
	Status          string `json:"status" validate:"required"`
	ExpectedVersion int64  `json:"expected_version" validate:"required,gt=0"`
}

type ReopenInput struct {
	Reason          string `json:"reason" validate:"required,max=1000"`
	ExpectedVersion int64  `json:"expected_version" validate:"required,gt=0"`
}

type ResolveReopenInput struct {
	Note            string `json:"note,omitempty" validate:"max=1000"`
	ExpectedVersion int64  `json:"expected_version" validate:"required,gt=0"`
}

// LineStatusRequest changes a line's delivery status. ExpectedVersion is
// optional because warehouse scanners post line updates without the header.
type LineStatusRequest struct {
	Status          string `json:"status" validate:"required"`
	ExpectedVersion int64  `json:"expected_version,omitempty" validate:"gte=0"`
}

type RecordStatusRequest struct {
	Status          string `json:"status" validate:"required"`
	ExpectedVersion int64  `json:"expected_version" validate:"required,gt=0"`
}

type RecalculateLine struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// RecalculateRequest prices a draft. Company tiers come from the body when
// given, otherwise from the customer's catalog entry.
type RecalculateRequest struct {
	CustomerID       *int64            `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	Discount1Percent *decimal.Decimal  `json:"discount1_percent,omitempty"`
	Discount2Percent *decimal.Decimal  `json:"discount2_percent,omitempty"`
	DiscountPercent  decimal.Decimal   `json:"discount_percent"`
	Lines            []RecalculateLine `json:"items" validate:"dive"`
}

// LineStatusResult is the outcome of UpdateLineStatus.
type LineStatusResult struct {
	Line    OrderLine `json:"line"`
	Version int64     `json:"version"`
}
