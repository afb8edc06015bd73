package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/order-engine/internal/sales/pricing"
	"github.com/odyssey-erp/order-engine/internal/sales/workflow"
)

// SalesOrder is the aggregate root of the order lifecycle.
type SalesOrder struct {
	ID            int64                  `json:"id"`
	OrderNumber   string                 `json:"order_number"`
	CustomerID    int64                  `json:"customer_id"`
	QuotationID   *int64                 `json:"quotation_id,omitempty"`
	Status        workflow.Status        `json:"workflow_status"`
	RecordStatus  workflow.RecordStatus  `json:"record_status"`
	PaymentStatus workflow.PaymentStatus `json:"payment_status"`
	PaymentTermID *int64                 `json:"payment_term_id,omitempty"`
	Lines         []OrderLine            `json:"items"`

	Discount1Percent         decimal.Decimal `json:"discount1_percent"`
	Discount2Percent         decimal.Decimal `json:"discount2_percent"`
	DiscountPercent          decimal.Decimal `json:"discount_percent"`
	Subtotal                 decimal.Decimal `json:"subtotal"`
	Discount1Amount          decimal.Decimal `json:"discount1_amount"`
	Discount2Amount          decimal.Decimal `json:"discount2_amount"`
	AdditionalDiscountAmount decimal.Decimal `json:"additional_discount_amount"`
	AfterAllDiscount         decimal.Decimal `json:"after_all_discount"`
	Tax                      decimal.Decimal `json:"tax"`
	GrandTotal               decimal.Decimal `json:"grand_total"`

	Note           string             `json:"note"`
	AttachmentRef  *string            `json:"attachment_ref,omitempty"`
	ReopenRequests workflow.ReopenLog `json:"reopen_requests"`
	Version        int64              `json:"version"`
	CreatedBy      int64              `json:"created_by"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// OrderLine is one product entry of an order.
type OrderLine struct {
	ID             int64               `json:"id"`
	OrderID        int64               `json:"order_id"`
	Position       int                 `json:"position"`
	ProductID      int64               `json:"product_id"`
	ProductName    string              `json:"product_name"`
	UnitPrice      decimal.Decimal     `json:"unit_price"`
	Quantity       decimal.Decimal     `json:"quantity"`
	LineTotal      decimal.Decimal     `json:"line_total"`
	DeliveryStatus workflow.LineStatus `json:"delivery_status"`
}

// PendingReopen is a pending reopen request joined with its order.
type PendingReopen struct {
	OrderID     int64
	OrderNumber string
	Request     workflow.ReopenRequest
}

// Snapshot returns the state permission decisions are computed from.
func (o *SalesOrder) Snapshot() workflow.OrderSnapshot {
	return workflow.OrderSnapshot{
		Persisted:    o.ID > 0,
		Status:       o.Status,
		RecordStatus: o.RecordStatus,
		Reopen:       o.ReopenRequests,
	}
}

// Line returns the line with the given id.
func (o *SalesOrder) Line(id int64) (*OrderLine, bool) {
	for i := range o.Lines {
		if o.Lines[i].ID == id {
			return &o.Lines[i], true
		}
	}
	return nil, false
}

func (o *SalesOrder) pricingLines() []pricing.Line {
	lines := make([]pricing.Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, pricing.Line{UnitPrice: l.UnitPrice, Quantity: l.Quantity})
	}
	return lines
}

// reprice recomputes every derived money field. Totals are never taken from
// the client.
func (o *SalesOrder) reprice(d1, d2 decimal.Decimal) error {
	b, err := pricing.Compute(o.pricingLines(), d1, d2, o.DiscountPercent)
	if err != nil {
		return err
	}
	for i := range o.Lines {
		o.Lines[i].LineTotal = o.Lines[i].UnitPrice.Mul(o.Lines[i].Quantity)
	}
	o.Discount1Percent = b.Discount1Percent
	o.Discount2Percent = b.Discount2Percent
	o.Subtotal = b.Subtotal
	o.Discount1Amount = b.Discount1Amount
	o.Discount2Amount = b.Discount2Amount
	o.AdditionalDiscountAmount = b.AdditionalDiscountAmount
	o.AfterAllDiscount = b.AfterAllDiscount
	o.Tax = b.Tax
	o.GrandTotal = b.GrandTotal
	return nil
}

func (o *SalesOrder) clone() *SalesOrder {
	cp := *o
	cp.Lines = append([]OrderLine(nil), o.Lines...)
	cp.ReopenRequests = append(workflow.ReopenLog(nil), o.ReopenRequests...)
	return &cp
}
