package workflow

import (
	"fmt"

	"github.com/odyssey-erp/order-engine/internal/rbac"
)

var lineRank = map[LineStatus]int{
	LineActive:           0,
	LinePartialDelivered: 1,
	LineDelivered:        2,
}

// LineState is the part of an order line the tracker needs.
type LineState struct {
	ID      int64
	OrderID int64
	Status  LineStatus
}

// Persisted reports whether both the line and its order have been saved.
func (l LineState) Persisted() bool {
	return l.ID > 0 && l.OrderID > 0
}

// SetLineStatus validates a delivery status change and returns the status to
// store. Lines only move forward or to CANCELLED; that holds for SUPERUSER too.
func SetLineStatus(line LineState, next LineStatus, actor rbac.Actor) (LineStatus, error) {
	if !line.Status.IsValid() {
		return "", fmt.Errorf("%w: delivery status %q", ErrUnrecognizedState, line.Status)
	}
	if !next.IsValid() {
		return "", fmt.Errorf("%w: delivery status %q", ErrUnrecognizedState, next)
	}
	if !line.Persisted() {
		return "", ErrInvalidLineStatusOnDraft
	}
	if next == line.Status {
		return line.Status, nil
	}
	if line.Status == LineCancelled {
		return "", deny(ReasonLineTerminal).Err()
	}
	if next != LineCancelled && lineRank[next] < lineRank[line.Status] {
		return "", deny(ReasonLineRegression).Err()
	}
	if !actor.Can(rbac.CapLineStatusUpdate) {
		return "", deny(ReasonLineRoleDenied).Err()
	}
	return next, nil
}

// CanEditLines reports whether the actor may change line contents (product,
// quantity, price). Unsaved orders and orders at NEW are editable by roles
// holding the draft capability; SUPERUSER may edit until the order is
// terminal.
func CanEditLines(orderPersisted bool, status Status, actor rbac.Actor) bool {
	if !actor.Can(rbac.CapOrderEditDraft) {
		return false
	}
	if actor.IsSuperuser() {
		return !status.IsTerminal()
	}
	return !orderPersisted || status == StatusNew
}
