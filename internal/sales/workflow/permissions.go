package workflow

import (
	"fmt"
	"slices"

	"github.com/odyssey-erp/order-engine/internal/rbac"
)

// Field names an editable attribute of a sales order.
type Field string

const (
	FieldCustomer      Field = "customer"
	FieldItems         Field = "items"
	FieldDiscount      Field = "discount_percent"
	FieldAttachment    Field = "attachment"
	FieldPaymentTerm   Field = "payment_term"
	FieldNote          Field = "note"
	FieldPaymentStatus Field = "payment_status"
	FieldRecordStatus  Field = "record_status"
)

// draftFields are editable only while the order is a draft.
var draftFields = []Field{FieldCustomer, FieldItems, FieldDiscount, FieldAttachment, FieldPaymentTerm}

// OrderSnapshot is the order state permissions are derived from.
type OrderSnapshot struct {
	Persisted    bool
	Status       Status
	RecordStatus RecordStatus
	Reopen       ReopenLog
}

// PermissionDecision describes what an actor may do with an order right now.
type PermissionDecision struct {
	EditableFields          []Field  `json:"editable_fields"`
	AllowedWorkflowStatuses []Status `json:"allowed_workflow_statuses"`
	ReopenPending           bool     `json:"reopen_pending"`
	CanRequestReopen        bool     `json:"can_request_reopen"`
	CanApproveReopen        bool     `json:"can_approve_reopen"`
	CanRejectReopen         bool     `json:"can_reject_reopen"`
	CanCancel               bool     `json:"can_cancel"`
	CanUpdateLineStatus     bool     `json:"can_update_line_status"`
}

// CanEdit reports whether field is editable.
func (d PermissionDecision) CanEdit(field Field) bool {
	return slices.Contains(d.EditableFields, field)
}

// AllowsStatus reports whether status is in the allowed set.
func (d PermissionDecision) AllowsStatus(status Status) bool {
	return slices.Contains(d.AllowedWorkflowStatuses, status)
}

// Resolve derives the actor's permissions on the order. It has no side
// effects and is re-run on every write.
func Resolve(order OrderSnapshot, actor rbac.Actor) (PermissionDecision, error) {
	if !order.Status.IsValid() {
		return PermissionDecision{}, fmt.Errorf("%w: workflow status %q", ErrUnrecognizedState, order.Status)
	}
	if order.RecordStatus == "" {
		order.RecordStatus = RecordActive
	}
	if !order.RecordStatus.IsValid() {
		return PermissionDecision{}, fmt.Errorf("%w: record status %q", ErrUnrecognizedState, order.RecordStatus)
	}

	pending := order.Reopen.IsPending()
	decision := PermissionDecision{
		EditableFields:          []Field{},
		AllowedWorkflowStatuses: []Status{order.Status},
		ReopenPending:           pending,
	}
	if actor.Can(rbac.CapRecordStatus) {
		decision.EditableFields = append(decision.EditableFields, FieldRecordStatus)
	}
	if order.RecordStatus == RecordCancelled {
		return decision, nil
	}

	if CanEditLines(order.Persisted, order.Status, actor) {
		decision.EditableFields = append(decision.EditableFields, draftFields...)
	}
	if !order.Status.IsTerminal() {
		decision.EditableFields = append(decision.EditableFields, FieldNote)
		if actor.Can(rbac.CapOrderEditPayment) {
			decision.EditableFields = append(decision.EditableFields, FieldPaymentStatus)
		}
	}

	if order.Persisted {
		decision.AllowedWorkflowStatuses = AllowedStatuses(order.Status, actor.Role, pending)
		decision.CanUpdateLineStatus = actor.Can(rbac.CapLineStatusUpdate)
	}
	decision.CanRequestReopen = order.Persisted && actor.Can(rbac.CapReopenRequest) && order.Status == StatusPR && !pending
	decision.CanApproveReopen = actor.Can(rbac.CapReopenResolve) && pending && HoldsReopen(order.Status)
	decision.CanRejectReopen = decision.CanApproveReopen
	decision.CanCancel = order.Persisted && !order.Status.IsTerminal() &&
		(actor.IsSuperuser() || OwnsStage(actor.Role, order.Status))
	return decision, nil
}
