package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/order-engine/internal/rbac"
	"github.com/odyssey-erp/order-engine/internal/sales/catalog"
	"github.com/odyssey-erp/order-engine/internal/sales/pricing"
	"github.com/odyssey-erp/order-engine/internal/sales/workflow"
	"github.com/odyssey-erp/order-engine/internal/shared"
	"github.com/odyssey-erp/order-engine/internal/storage"
)

// ApprovalModuleReopen tags reopen entries in the approval trail.
const ApprovalModuleReopen = "SALES_ORDER_REOPEN"

const auditEntity = "sales_order"

// Reopen notification events.
const (
	ReopenEventRequested = "requested"
	ReopenEventApproved  = "approved"
	ReopenEventRejected  = "rejected"
	ReopenEventReminder  = "reminder"
)

// Transition outcomes reported to the Observer.
const (
	OutcomeAllowed  = "allowed"
	OutcomeRejected = "rejected"
	OutcomeNoop     = "noop"
)

var (
	ErrUnknownPaymentTerm = errors.New("orders: unknown payment term")
	ErrStorageUnavailable = errors.New("orders: attachment storage not configured")
)

const (
	reasonReopenOnlyAtPR  = "reopen can only be requested while the order is at PR"
	reasonRecordCancelled = "order record is cancelled"
)

var reopenNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("odyssey.sales.order.reopen"))

// ReopenEvent is published after a reopen request changes state.
type ReopenEvent struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Event       string `json:"event"`
	Reason      string `json:"reason,omitempty"`
	ActorID     int64  `json:"actor_id"`
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
	List(ctx context.Context, entity, entityID string) ([]shared.AuditLog, error)
}

// ApprovalPort records approval trail entries.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AttachmentStore is the external file collaborator. Only the returned
// reference is stored on the order.
type AttachmentStore interface {
	Upload(ctx context.Context, file storage.File) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Catalog provides payment-term and discount-tier lookups.
type Catalog interface {
	PaymentTerm(ctx context.Context, id int64) (catalog.PaymentTerm, error)
	DiscountTiers(ctx context.Context, customerID int64) (catalog.DiscountTiers, error)
}

// Notifier publishes reopen events.
type Notifier interface {
	NotifyReopen(ctx context.Context, event ReopenEvent) error
}

// Observer receives transition outcomes.
type Observer interface {
	ObserveTransition(from, to, outcome string)
}

// IdempotencyPort claims client supplied request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const createIdempotencyModule = "sales_order.create"

// Service applies the order lifecycle rules on top of the repository.
type Service struct {
	repo      Repository
	catalog   Catalog
	store     AttachmentStore
	audit     AuditPort
	approvals ApprovalPort
	notifier  Notifier
	observer  Observer
	keys      IdempotencyPort
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

func WithAttachmentStore(store AttachmentStore) Option { return func(s *Service) { s.store = store } }
func WithAudit(audit AuditPort) Option { return func(s *Service) { s.audit = audit } }
func WithApprovals(approvals ApprovalPort) Option { return func(s *Service) { s.approvals = approvals } }
func WithNotifier(notifier Notifier) Option { return func(s *Service) { s.notifier = notifier } }
func WithObserver(observer Observer) Option { return func(s *Service) { s.observer = observer } }
func WithIdempotency(keys IdempotencyPort) Option { return func(s *Service) { s.keys = keys } }
func WithLogger(logger *slog.Logger) Option { return func(s *Service) { s.logger = logger } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService constructs the order Service.
func NewService(repo Repository, lookup Catalog, opts ...Option) *Service {
	s := &Service{repo: repo, catalog: lookup, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// change describes a committed mutation for audit and notification.
type change struct {
	action       string
	meta         map[string]any
	linesDirty   bool
	reopenDirty  bool
	approval     shared.ApprovalAction
	approvalNote string
	event        string
	reason       string
}

type mutation func(ctx context.Context, repo Repository, o *SalesOrder, perms workflow.PermissionDecision) (*change, error)

// mutate loads and locks the order, resolves permissions for the actor at
// write time, applies fn, and saves with a version check. A nil change from
// fn means nothing is written.
func (s *Service) mutate(ctx context.Context, id int64, actor rbac.Actor, fn mutation) (*SalesOrder, *change, error) {
	var (
		result *SalesOrder
		ch     *change
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		o, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		perms, err := workflow.Resolve(o.Snapshot(), actor)
		if err != nil {
			return err
		}
		ch, err = fn(ctx, repo, o, perms)
		if err != nil {
			return err
		}
		result = o
		if ch == nil {
			return nil
		}
		if err := repo.Save(ctx, o, o.Version); err != nil {
			return err
		}
		if ch.linesDirty {
			if err := repo.ReplaceLines(ctx, o.ID, o.Lines); err != nil {
				return err
			}
		}
		if ch.reopenDirty {
			if err := repo.SaveReopenLog(ctx, o.ID, o.ReopenRequests); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if ch != nil {
		s.afterCommit(ctx, result, actor, ch)
	}
	return result, ch, nil
}

func (s *Service) afterCommit(ctx context.Context, o *SalesOrder, actor rbac.Actor, ch *change) {
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   ch.action,
			Entity:   auditEntity,
			EntityID: strconv.FormatInt(o.ID, 10),
			Meta:     ch.meta,
			At:       s.now(),
		})
		if err != nil {
			s.logger.Warn("audit sales order", slog.Int64("order_id", o.ID), slog.String("action", ch.action), slog.Any("error", err))
		}
	}
	if ch.approval != "" && s.approvals != nil && len(o.ReopenRequests) > 0 {
		last := o.ReopenRequests[len(o.ReopenRequests)-1]
		err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  ApprovalModuleReopen,
			RefID:   ReopenRef(o.ID, last.ID),
			ActorID: actor.ID,
			Action:  ch.approval,
			Note:    ch.approvalNote,
			At:      s.now(),
		})
		if err != nil {
			s.logger.Warn("approval trail", slog.Int64("order_id", o.ID), slog.Any("error", err))
		}
	}
	if ch.event != "" && s.notifier != nil {
		err := s.notifier.NotifyReopen(ctx, ReopenEvent{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Event:       ch.event,
			Reason:      ch.reason,
			ActorID:     actor.ID,
		})
		if err != nil {
			s.logger.Warn("notify reopen", slog.Int64("order_id", o.ID), slog.String("event", ch.event), slog.Any("error", err))
		}
	}
}

// ReopenRef derives the approval-trail reference of one reopen request.
func ReopenRef(orderID, requestID int64) uuid.UUID {
	return uuid.NewSHA1(reopenNamespace, []byte(fmt.Sprintf("%d/%d", orderID, requestID)))
}

func checkVersion(o *SalesOrder, expected int64) error {
	if expected != o.Version {
		return fmt.Errorf("%w: expected version %d, current %d", workflow.ErrStaleOrder, expected, o.Version)
	}
	return nil
}

func requireField(perms workflow.PermissionDecision, field workflow.Field) error {
	if !perms.CanEdit(field) {
		return fmt.Errorf("%w: %s", workflow.ErrFieldNotEditable, field)
	}
	return nil
}

func requireActiveRecord(o *SalesOrder) error {
	if o.RecordStatus == workflow.RecordCancelled {
		return fmt.Errorf("%w: %s", workflow.ErrFieldNotEditable, reasonRecordCancelled)
	}
	return nil
}

func (s *Service) observe(from, to workflow.Status, outcome string) {
	if s.observer != nil {
		s.observer.ObserveTransition(string(from), string(to), outcome)
	}
}

func (s *Service) tiers(ctx context.Context, customerID int64) (decimal.Decimal, decimal.Decimal, error) {
	if s.catalog == nil {
		return decimal.Zero, decimal.Zero, nil
	}
	tiers, err := s.catalog.DiscountTiers(ctx, customerID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("discount tiers: %w", err)
	}
	return tiers.Discount1Percent, tiers.Discount2Percent, nil
}

func (s *Service) verifyPaymentTerm(ctx context.Context, id int64) error {
	if s.catalog == nil {
		return nil
	}
	if _, err := s.catalog.PaymentTerm(ctx, id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownPaymentTerm, id)
		}
		return err
	}
	return nil
}

func buildLines(inputs []LineInput) ([]OrderLine, error) {
	lines := make([]OrderLine, 0, len(inputs))
	priced := make([]pricing.Line, 0, len(inputs))
	for i, in := range inputs {
		lines = append(lines, OrderLine{
			Position:       i + 1,
			ProductID:      in.ProductID,
			ProductName:    strings.TrimSpace(in.ProductName),
			UnitPrice:      in.UnitPrice,
			Quantity:       in.Quantity,
			LineTotal:      in.UnitPrice.Mul(in.Quantity),
			DeliveryStatus: workflow.LineActive,
		})
		priced = append(priced, pricing.Line{UnitPrice: in.UnitPrice, Quantity: in.Quantity})
	}
	if err := pricing.ValidateLines(priced); err != nil {
		return nil, err
	}
	return lines, nil
}

// CreateOrder stores a new order at NEW with freshly computed totals.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest, actor rbac.Actor) (*SalesOrder, error) {
	if !actor.Can(rbac.CapOrderCreate) {
		return nil, fmt.Errorf("%w: role %s cannot create orders", workflow.ErrFieldNotEditable, actor.Role)
	}
	if err := pricing.ValidatePercent("discount_percent", req.DiscountPercent); err != nil {
		return nil, err
	}
	note := strings.TrimSpace(req.Note)
	if err := workflow.ValidateNoteText(note); err != nil {
		return nil, err
	}
	lines, err := buildLines(req.Lines)
	if err != nil {
		return nil, err
	}
	if req.PaymentTermID != nil {
		if err := s.verifyPaymentTerm(ctx, *req.PaymentTermID); err != nil {
			return nil, err
		}
	}
	d1, d2, err := s.tiers(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &SalesOrder{
		OrderNumber:     strings.TrimSpace(req.OrderNumber),
		CustomerID:      req.CustomerID,
		QuotationID:     req.QuotationID,
		Status:          workflow.StatusNew,
		RecordStatus:    workflow.RecordActive,
		PaymentStatus:   workflow.PaymentUnpaid,
		PaymentTermID:   req.PaymentTermID,
		Lines:           lines,
		DiscountPercent: req.DiscountPercent,
		Note:            note,
		ReopenRequests:  workflow.ReopenLog{},
		CreatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := order.reprice(d1, d2); err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" && s.keys != nil {
		if err := s.keys.CheckAndInsert(ctx, key, createIdempotencyModule); err != nil {
			return nil, err
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if order.OrderNumber == "" {
			number, err := repo.NextNumber(ctx, now)
			if err != nil {
				return fmt.Errorf("generate order number: %w", err)
			}
			order.OrderNumber = number
		}
		return repo.Create(ctx, order)
	})
	if err != nil {
		if key != "" && s.keys != nil {
			if releaseErr := s.keys.Delete(ctx, key); releaseErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", releaseErr))
			}
		}
		return nil, err
	}
	s.afterCommit(ctx, order, actor, &change{
		action: "sales_order.create",
		meta:   map[string]any{"order_number": order.OrderNumber, "grand_total": order.GrandTotal.String()},
	})
	return order, nil
}

// GetOrder returns the order with its lines and reopen log.
func (s *Service) GetOrder(ctx context.Context, id int64) (*SalesOrder, error) {
	return s.repo.Get(ctx, id)
}

// ListOrders returns a page of orders, newest first.
func (s *Service) ListOrders(ctx context.Context, req ListOrdersRequest) ([]SalesOrder, int, error) {
	return s.repo.List(ctx, req)
}

// GetPermissions resolves what the actor may do with the stored order.
func (s *Service) GetPermissions(ctx context.Context, id int64, actor rbac.Actor) (workflow.PermissionDecision, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return workflow.PermissionDecision{}, err
	}
	return workflow.Resolve(o.Snapshot(), actor)
}

// UpdateOrder applies a partial update. Every touched field must be editable
// for the actor at the order's current stage.
func (s *Service) UpdateOrder(ctx context.Context, id int64, req UpdateOrderRequest, actor rbac.Actor) (*SalesOrder, error) {
	o, _, err := s.mutate(ctx, id, actor, func(ctx context.Context, _ Repository, o *SalesOrder, perms workflow.PermissionDecision) (*change, error) {
		if err := checkVersion(o, req.ExpectedVersion); err != nil {
			return nil, err
		}
		var touched []string
		reprice := false
		linesDirty := false

		if req.CustomerID != nil && *req.CustomerID != o.CustomerID {
			if err := requireField(perms, workflow.FieldCustomer); err != nil {
				return nil, err
			}
			o.CustomerID = *req.CustomerID
			touched = append(touched, string(workflow.FieldCustomer))
			reprice = true
		}
		if req.Lines != nil {
			if err := requireField(perms, workflow.FieldItems); err != nil {
				return nil, err
			}
			lines, err := buildLines(*req.Lines)
			if err != nil {
				return nil, err
			}
			o.Lines = lines
			touched = append(touched, string(workflow.FieldItems))
			reprice = true
			linesDirty = true
		}
		if req.DiscountPercent != nil {
			if err := requireField(perms, workflow.FieldDiscount); err != nil {
				return nil, err
			}
			if err := pricing.ValidatePercent("discount_percent", *req.DiscountPercent); err != nil {
				return nil, err
			}
			o.DiscountPercent = *req.DiscountPercent
			touched = append(touched, string(workflow.FieldDiscount))
			reprice = true
		}
		if req.PaymentTermID != nil {
			if err := requireField(perms, workflow.FieldPaymentTerm); err != nil {
				return nil, err
			}
			if err := s.verifyPaymentTerm(ctx, *req.PaymentTermID); err != nil {
				return nil, err
			}
			term := *req.PaymentTermID
			o.PaymentTermID = &term
			touched = append(touched, string(workflow.FieldPaymentTerm))
		}
		if req.PaymentStatus != nil {
			if err := requireField(perms, workflow.FieldPaymentStatus); err != nil {
				return nil, err
			}
			status, err := workflow.ParsePaymentStatus(*req.PaymentStatus)
			if err != nil {
				return nil, err
			}
			o.PaymentStatus = status
			touched = append(touched, string(workflow.FieldPaymentStatus))
		}
		if req.AppendNote != nil {
			if err := requireField(perms, workflow.FieldNote); err != nil {
				return nil, err
			}
			text := strings.TrimSpace(*req.AppendNote)
			if err := workflow.ValidateNoteText(text); err != nil {
				return nil, err
			}
			if text != "" {
				if o.Note != "" {
					o.Note += "\n"
				}
				o.Note += text
				touched = append(touched, string(workflow.FieldNote))
			}
		}

		if len(touched) == 0 {
			return nil, nil
		}
		if reprice {
			d1, d2, err := s.tiers(ctx, o.CustomerID)
			if err != nil {
				return nil, err
			}
			if err := o.reprice(d1, d2); err != nil {
				return nil, err
			}
		}
		return &change{
			action:     "sales_order.update",
			meta:       map[string]any{"fields": touched, "grand_total": o.GrandTotal.String()},
			linesDirty: linesDirty,
		}, nil
	})
	return o, err
}

// RequestTransition moves the order to the requested workflow status. A
// request for the current status succeeds without writing, whatever the
// actor or version.
func (s *Service) RequestTransition(ctx context.Context, id int64, requested string, expectedVersion int64, actor rbac.Actor) (*SalesOrder, error) {
	to, err := workflow.ParseStatus(requested)
	if err != nil {
		return nil, err
	}
	var from workflow.Status
	o, ch, err := s.mutate(ctx, id, actor, func(ctx context.Context, _ Repository, o *SalesOrder, perms workflow.PermissionDecision) (*change, error) {
		from = o.Status
		if to == from {
			return nil, nil
		}
		if err := checkVersion(o, expectedVersion); err != nil {
			return nil, err
		}
		if err := requireActiveRecord(o); err != nil {
			return nil, err
		}
		decision, err := workflow.CanTransition(from, to, actor.Role, perms.ReopenPending)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			s.observe(from, to, OutcomeRejected)
			return nil, decision.Err()
		}
		ch := &change{
			action: "sales_order.transition",
			meta:   map[string]any{"from": string(from), "to": string(to)},
		}
		// a manager sending PR back to NEW settles the pending request
		if from == workflow.StatusPR && to == workflow.StatusNew && perms.ReopenPending && actor.Can(rbac.CapReopenResolve) {
			log, _, err := workflow.AppendApproval(o.ReopenRequests, actor, "", s.now())
			if err != nil {
				return nil, err
			}
			o.ReopenRequests = log
			ch.reopenDirty = true
			ch.approval = shared.ApprovalApprove
			ch.event = ReopenEventApproved
		}
		// a pending request cannot outlive PR/NEW; close it in the same write
		if perms.ReopenPending && !workflow.HoldsReopen(to) {
			log, err := workflow.CloseSuperseded(o.ReopenRequests, actor, to, s.now())
			if err != nil {
				return nil, err
			}
			o.ReopenRequests = log
			last := log[len(log)-1]
			ch.meta["reopen"] = string(last.Status)
			ch.reopenDirty = true
			ch.approval = shared.ApprovalReject
			ch.approvalNote = last.ResolutionNote
			ch.event = ReopenEventRejected
			ch.reason = last.Reason
		}
		o.Status = to
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	if ch == nil {
		s.observe(from, to, OutcomeNoop)
	} else {
		s.observe(from, to, OutcomeAllowed)
	}
	return o, nil
}

// RequestReopen records a pending request to roll the order back to NEW.
func (s *Service) RequestReopen(ctx context.Context, id int64, in ReopenInput, actor rbac.Actor) (*SalesOrder, error) {
	o, _, err := s.mutate(ctx, id, actor, func(ctx context.Context, _ Repository, o *SalesOrder, perms workflow.PermissionDecision) (*change, error) {
		if err := checkVersion(o, in.ExpectedVersion); err != nil {
			return nil, err
		}
		if err := requireActiveRecord(o); err != nil {
			return nil, err
		}
		if !perms.CanRequestReopen {
			switch {
			case perms.ReopenPending:
				return nil, workflow.ErrReopenAlreadyPending
			case !actor.Can(rbac.CapReopenRequest):
				return nil, fmt.Errorf("%w: %s", workflow.ErrInvalidTransition, workflow.ReasonRoleNotAllowed)
			default:
				return nil, fmt.Errorf("%w: %s", workflow.ErrInvalidTransition, reasonReopenOnlyAtPR)
			}
		}
		log, err := workflow.AppendRequest(o.ReopenRequests, in.Reason, actor, s.now())
		if err != nil {
			return nil, err
		}
		o.ReopenRequests = log
		reason := log[len(log)-1].Reason
		return &change{
			action:       "sales_order.reopen_request",
			meta:         map[string]any{"reason": reason},
			reopenDirty:  true,
			approval:     shared.ApprovalSubmit,
			approvalNote: reason,
			event:        ReopenEventRequested,
			reason:       reason,
		}, nil
	})
	return o, err
}

// ApproveReopen resolves the pending request and resets the order to NEW in
// the same write.
func (s *Service) ApproveReopen(ctx context.Context, id int64, in ResolveReopenInput, actor rbac.Actor) (*SalesOrder, error) {
	var from workflow.Status
	o, _, err := s.mutate(ctx, id, actor, func(ctx context.Context, _ Repository, o *SalesOrder, perms workflow.PermissionDecision) (*change, error) {
		if err := s.checkResolvable(o, in.ExpectedVersion, perms); err != nil {
			return nil, err
		}
		from = o.Status
		log, status, err := workflow.AppendApproval(o.ReopenRequests, actor, in.Note, s.now())
		if err != nil {
			return nil, err
		}
		o.ReopenRequests = log
		o.Status = status
		last := log[len(log)-1]
		return &change{
			action:       "sales_order.reopen_approve",
			meta:         map[string]any{"from": string(from), "to": string(status)},
			reopenDirty:  true,
			approval:     shared.ApprovalApprove,
			approvalNote: last.ResolutionNote,
			event:        ReopenEventApproved,
			reason:       last.Reason,
		}, nil
	})
	if err == nil && from != o.Status {
		s.observe(from, o.Status, OutcomeAllowed)
	}
	return o, err
}

// RejectReopen resolves the pending request without touching the workflow
// status.
func (s *Service) RejectReopen(ctx context.Context, id int64, in ResolveReopenInput, actor rbac.Actor) (*SalesOrder, error) {
	o, _, err := s.mutate(ctx, id, actor, func(ctx context.Context, _ Repository, o *SalesOrder, perms workflow.PermissionDecision) (*change, error) {
		if err := s.checkResolvable(o, in.ExpectedVersion, perms); err != nil {
			return nil, err
		}
		log, err := workflow.AppendRejection(o.ReopenRequests, actor, in.Note, s.now())
		if err != nil {
			return nil, err
		}
		o.ReopenRequests = log
		last := log[len(log)-1]
		return &change{
			action:       "sales_order.reopen_reject",
			meta:         map[string]any{"note": last.ResolutionNote},
			reopenDirty:  true,
			approval:     shared.ApprovalReject,
			approvalNote: last.ResolutionNote,
			event:        ReopenEventRejected,
			reason:       last.Reason,
		}, nil
	})
	return o, err
}

func (s *Service) checkResolvable(o *SalesOrder, expectedVersion int64, perms workflow.PermissionDecision) error {
	if err := checkVersion(o, expectedVersion); err != nil {
		return err
	}
	if err := requireActiveRecord(o); err != nil {
		return err
	}
	if !perms.ReopenPending {
		return workflow.ErrNoReopenPending
	}
	if o.Status != workflow.StatusPR && o.Status != workflow.StatusNew {
		reason := workflow.ReasonNotAdjacent
		if o.Status.IsTerminal() {
			reason = workflow.ReasonTerminal
		}
		return fmt.Errorf("%w: %s", workflow.ErrInvalidTransition, reason)
	}
	if !perms.CanApproveReopen {
		return fmt.Errorf("%w: %s", workflow.ErrInvalidTransition, workflow.ReasonRoleNotAllowed)
	}
	return nil
}

// UpdateLineStatus advances one line's delivery status. expectedVersion is
// checked only when positive.
func (s *Service) UpdateLineStatus(ctx context.Context, orderID, lineID int64, status string, expectedVersion int64, actor rbac.Actor) (LineStatusResult, error) {
	next, err := workflow.ParseLineStatus(status)
	if err != nil {
		return LineStatusResult{}, err
	}
	if orderID <= 0 || lineID <= 0 {
		return LineStatusResult{}, workflow.ErrInvalidLineStatusOnDraft
	}
	o, _, err := s.mutate(ctx, orderID, actor, func(ctx context.Context, repo Repository, o *SalesOrder, _ workflow.PermissionDecision) (*change, error) {
		if expectedVersion > 0 {
			if err := checkVersion(o, expectedVersion); err != nil {
				return nil, err
			}
		}
		if err := requireActiveRecord(o); err != nil {
			return nil, err
		}
		line, ok := o.Line(lineID)
		if !ok {
			return nil, fmt.Errorf("%w: line %d", ErrNotFound, lineID)
		}
		stored, err := workflow.SetLineStatus(workflow.LineState{ID: line.ID, OrderID: o.ID, Status: line.DeliveryStatus}, next, actor)
		if err != nil {
			return nil, err
		}
		if stored == line.DeliveryStatus {
			return nil, nil
		}
		if o.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: %s", workflow.ErrInvalidTransition, workflow.ReasonTerminal)
		}
		if err := repo.UpdateLineStatus(ctx, o.ID, line.ID, stored); err != nil {
			return nil, err
		}
		from := line.DeliveryStatus
		line.DeliveryStatus = stored
		return &change{
			action: "sales_order.line_status",
			meta:   map[string]any{"line_id": line.ID, "from": string(from), "to": string(stored)},
		}, nil
	})
	if err != nil {
		return LineStatusResult{}, err
	}
	line, _ := o.Line(lineID)
	return LineStatusResult{Line: *line, Version: o.Version}, nil
}

// ReplaceAttachment uploads file and stores its reference on the order. The
// superseded object is deleted after the write commits.
func (s *Service) ReplaceAttachment(ctx context.Context, id, expectedVersion int64, file storage.File, actor rbac.Actor) (*SalesOrder, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(current, expectedVersion); err != nil {
		return nil, err
	}
	perms, err := workflow.Resolve(current.Snapshot(), actor)
	if err != nil {
		return nil, err
	}
	if err := requireField(perms, workflow.FieldAttachment); err != nil {
		return nil, err
	}

	ref, err := s.store.Upload(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	var previous *string
	o, _, err := s.mutate(ctx, id, actor, func(ctx context.Context, _ Repository, o *SalesOrder, perms workflow.PermissionDecision) (*change, error) {
		if err := checkVersion(o, expectedVersion); err != nil {
			return nil, err
		}
		if err := requireField(perms, workflow.FieldAttachment); err != nil {
			return nil, err
		}
		previous = o.AttachmentRef
		o.AttachmentRef = &ref
		return &change{
			action: "sales_order.attachment_replace",
			meta:   map[string]any{"ref": ref, "name": file.Name},
		}, nil
	})
	if err != nil {
		s.dropObject(ctx, ref)
		return nil, err
	}
	if previous != nil && *previous != ref {
		s.dropObject(ctx, *previous)
	}
	return o, nil
}

// RemoveAttachment clears the order's attachment and deletes the object.
func (s *Service) RemoveAttachment(ctx context.Context, id, expectedVersion int64, actor rbac.Actor) (*SalesOrder, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	var previous string
	o, _, err := s.mutate(ctx, id, actor, func(ctx context.Context, _ Repository, o *SalesOrder, perms workflow.PermissionDecision) (*change, error) {
		if err := checkVersion(o, expectedVersion); err != nil {
			return nil, err
		}
		if err := requireField(perms, workflow.FieldAttachment); err != nil {
			return nil, err
		}
		if o.AttachmentRef == nil {
			return nil, ErrAttachmentMissing
		}
		previous = *o.AttachmentRef
		o.AttachmentRef = nil
		return &change{
			action: "sales_order.attachment_remove",
			meta:   map[string]any{"ref": previous},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.dropObject(ctx, previous)
	return o, nil
}

func (s *Service) dropObject(ctx context.Context, ref string) {
	if err := s.store.Delete(ctx, ref); err != nil {
		s.logger.Warn("delete attachment object", slog.String("ref", ref), slog.Any("error", err))
	}
}

// SetRecordStatus toggles the record-level kill switch. It is the only write
// accepted on a terminal or record-cancelled order.
func (s *Service) SetRecordStatus(ctx context.Context, id int64, status string, expectedVersion int64, actor rbac.Actor) (*SalesOrder, error) {
	next, err := workflow.ParseRecordStatus(status)
	if err != nil {
		return nil, err
	}
	o, _, err := s.mutate(ctx, id, actor, func(ctx context.Context, _ Repository, o *SalesOrder, perms workflow.PermissionDecision) (*change, error) {
		if err := checkVersion(o, expectedVersion); err != nil {
			return nil, err
		}
		if err := requireField(perms, workflow.FieldRecordStatus); err != nil {
			return nil, err
		}
		if o.RecordStatus == next {
			return nil, nil
		}
		from := o.RecordStatus
		o.RecordStatus = next
		return &change{
			action: "sales_order.record_status",
			meta:   map[string]any{"from": string(from), "to": string(next)},
		}, nil
	})
	return o, err
}

// Recalculate prices a draft without touching any stored order.
func (s *Service) Recalculate(ctx context.Context, req RecalculateRequest) (pricing.Breakdown, error) {
	d1, d2 := decimal.Zero, decimal.Zero
	if req.CustomerID != nil && (req.Discount1Percent == nil || req.Discount2Percent == nil) {
		var err error
		if d1, d2, err = s.tiers(ctx, *req.CustomerID); err != nil {
			return pricing.Breakdown{}, err
		}
	}
	if req.Discount1Percent != nil {
		d1 = *req.Discount1Percent
	}
	if req.Discount2Percent != nil {
		d2 = *req.Discount2Percent
	}
	lines := make([]pricing.Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, pricing.Line{UnitPrice: l.UnitPrice, Quantity: l.Quantity})
	}
	return pricing.Compute(lines, d1, d2, req.DiscountPercent)
}

// PendingReopenBefore lists pending reopen requests raised before cutoff.
func (s *Service) PendingReopenBefore(ctx context.Context, cutoff time.Time) ([]PendingReopen, error) {
	return s.repo.ListPendingReopen(ctx, cutoff)
}

// OrderHistory is the audit trail of one order plus the approval entries of
// each of its reopen requests.
type OrderHistory struct {
	Events      []shared.AuditLog    `json:"events"`
	ReopenTrail []shared.ApprovalLog `json:"reopen_trail"`
}

// History collects the recorded trail for an order. Missing writers yield
// empty sections.
func (s *Service) History(ctx context.Context, id int64) (*OrderHistory, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	history := &OrderHistory{Events: []shared.AuditLog{}, ReopenTrail: []shared.ApprovalLog{}}
	if s.audit != nil {
		events, err := s.audit.List(ctx, auditEntity, strconv.FormatInt(order.ID, 10))
		if err != nil {
			return nil, fmt.Errorf("list audit trail: %w", err)
		}
		history.Events = append(history.Events, events...)
	}
	if s.approvals != nil {
		for _, req := range order.ReopenRequests {
			trail, err := s.approvals.List(ctx, ApprovalModuleReopen, ReopenRef(order.ID, req.ID))
			if err != nil {
				return nil, fmt.Errorf("list reopen trail: %w", err)
			}
			history.ReopenTrail = append(history.ReopenTrail, trail...)
		}
	}
	return history, nil
}
