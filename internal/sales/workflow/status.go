package workflow

import (
	"fmt"
	"strings"
)

// Status is the order-level lifecycle stage.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusPR        Status = "PR"
	StatusPO        Status = "PO"
	StatusSR        Status = "SR"
	StatusFAR       Status = "FAR"
	StatusDR        Status = "DR"
	StatusDelivery  Status = "DELIVERY"
	StatusDelivered Status = "DELIVERED"
	StatusReceived  Status = "RECEIVED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Statuses returns the full enum in pipeline order.
func Statuses() []Status {
	return []Status{
		StatusNew, StatusPR, StatusPO, StatusSR, StatusFAR, StatusDR,
		StatusDelivery, StatusDelivered, StatusReceived, StatusCompleted, StatusCancelled,
	}
}

// IsValid reports whether the status belongs to the enum.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusPR, StatusPO, StatusSR, StatusFAR, StatusDR,
		StatusDelivery, StatusDelivered, StatusReceived, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus validates a stored or requested workflow status. Legacy
// aliases such as OPEN are rejected; they are rewritten by reopen-migrate.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: workflow status %q", ErrUnrecognizedState, raw)
	}
	return s, nil
}

// LegacyOpenStatus is the pre-pipeline spelling of NEW found in old rows.
const LegacyOpenStatus = "OPEN"

// NormalizeLegacyStatus maps legacy spellings to their enum value. It is used
// only by data migration.
func NormalizeLegacyStatus(raw string) (Status, bool) {
	if strings.EqualFold(strings.TrimSpace(raw), LegacyOpenStatus) {
		return StatusNew, true
	}
	return Status(raw), false
}

// RecordStatus is the coarse kill-switch on the order row.
type RecordStatus string

const (
	RecordActive    RecordStatus = "ACTIVE"
	RecordCancelled RecordStatus = "CANCELLED"
)

// IsValid reports whether the record status is known.
func (s RecordStatus) IsValid() bool {
	return s == RecordActive || s == RecordCancelled
}

// ParseRecordStatus validates a record status.
func ParseRecordStatus(raw string) (RecordStatus, error) {
	s := RecordStatus(strings.TrimSpace(raw))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: record status %q", ErrUnrecognizedState, raw)
	}
	return s, nil
}

// PaymentStatus is independent of the workflow graph.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "UNPAID"
	PaymentPartial PaymentStatus = "PARTIAL"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentOverdue PaymentStatus = "OVERDUE"
)

// IsValid reports whether the payment status is known.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentUnpaid, PaymentPartial, PaymentPaid, PaymentOverdue:
		return true
	}
	return false
}

// ParsePaymentStatus validates a payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	s := PaymentStatus(strings.TrimSpace(raw))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: payment status %q", ErrUnrecognizedState, raw)
	}
	return s, nil
}

// LineStatus is the per-line delivery progress.
type LineStatus string

const (
	LineActive           LineStatus = "ACTIVE"
	LinePartialDelivered LineStatus = "PARTIAL_DELIVERED"
	LineDelivered        LineStatus = "DELIVERED"
	LineCancelled        LineStatus = "CANCELLED"
)

// IsValid reports whether the line status is known.
func (s LineStatus) IsValid() bool {
	switch s {
	case LineActive, LinePartialDelivered, LineDelivered, LineCancelled:
		return true
	}
	return false
}

// ParseLineStatus validates a line delivery status.
func ParseLineStatus(raw string) (LineStatus, error) {
	s := LineStatus(strings.TrimSpace(raw))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: delivery status %q", ErrUnrecognizedState, raw)
	}
	return s, nil
}
