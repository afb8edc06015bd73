package orders

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/order-engine/internal/rbac"
	"github.com/odyssey-erp/order-engine/internal/sales/workflow"
	"github.com/odyssey-erp/order-engine/internal/shared"
	"github.com/odyssey-erp/order-engine/internal/storage"
)

var (
	sales      = rbac.Actor{ID: 10, Name: "sari", Role: rbac.RoleSales}
	manager    = rbac.Actor{ID: 11, Name: "made", Role: rbac.RoleManagerSales}
	purchasing = rbac.Actor{ID: 20, Name: "putu", Role: rbac.RolePurchasing}
	warehouse  = rbac.Actor{ID: 30, Name: "wayan", Role: rbac.RoleWarehouse}
	finance    = rbac.Actor{ID: 40, Name: "fitri", Role: rbac.RoleFinance}
	superuser  = rbac.Actor{ID: 1, Name: "root", Role: rbac.RoleSuperuser}
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	repo      *memoryRepo
	audit     *recordingAudit
	approvals *recordingApprovals
	notifier  *recordingNotifier
	observer  *recordingObserver
	store     *memoryStore
	keys      *memoryKeys
	svc       *Service
}

func newHarness() *harness {
	h := &harness{
		repo:      newMemoryRepo(),
		audit:     &recordingAudit{},
		approvals: &recordingApprovals{},
		notifier:  &recordingNotifier{},
		observer:  &recordingObserver{},
		store:     newMemoryStore(),
		keys:      &memoryKeys{seen: map[string]string{}},
	}
	h.svc = NewService(h.repo, newFakeCatalog(),
		WithAudit(h.audit),
		WithApprovals(h.approvals),
		WithNotifier(h.notifier),
		WithObserver(h.observer),
		WithAttachmentStore(h.store),
		WithIdempotency(h.keys),
		WithClock(func() time.Time { return testNow }),
	)
	return h
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s got %s", want, got.String())
}

func twoItemOrder() CreateOrderRequest {
	return CreateOrderRequest{
		CustomerID: 200,
		Lines: []LineInput{
			{ProductID: 1, ProductName: "Pallet rack", UnitPrice: dec("500"), Quantity: dec("1")},
			{ProductID: 2, ProductName: "Forklift battery", UnitPrice: dec("500"), Quantity: dec("1")},
		},
	}
}

func (h *harness) create(t *testing.T) *SalesOrder {
	t.Helper()
	order, err := h.svc.CreateOrder(context.Background(), twoItemOrder(), sales)
	require.NoError(t, err)
	return order
}

func (h *harness) move(t *testing.T, id int64, to workflow.Status, actor rbac.Actor) *SalesOrder {
	t.Helper()
	current, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	order, err := h.svc.RequestTransition(context.Background(), id, string(to), current.Version, actor)
	require.NoError(t, err)
	require.Equal(t, to, order.Status)
	return order
}

func (h *harness) requestReopen(t *testing.T, order *SalesOrder) *SalesOrder {
	t.Helper()
	out, err := h.svc.RequestReopen(context.Background(), order.ID, ReopenInput{Reason: "wrong quantity", ExpectedVersion: order.Version}, sales)
	require.NoError(t, err)
	return out
}

// ============================================================================
// Create
// ============================================================================

func TestCreateOrderComputesCascadeTotals(t *testing.T) {
	h := newHarness()
	order, err := h.svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID:      100,
		DiscountPercent: dec("2"),
		Note:            "deliver to gate 2",
		Lines:           []LineInput{{ProductID: 9, ProductName: "Bolt", UnitPrice: dec("100"), Quantity: dec("2")}},
	}, sales)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusNew, order.Status)
	assert.Equal(t, workflow.RecordActive, order.RecordStatus)
	assert.Equal(t, workflow.PaymentUnpaid, order.PaymentStatus)
	assert.EqualValues(t, 1, order.Version)
	assert.Equal(t, "SO-20260302-00001", order.OrderNumber)
	assertDecimal(t, "200", order.Subtotal)
	assertDecimal(t, "10", order.Discount1Percent)
	assertDecimal(t, "167.58", order.AfterAllDiscount)
	assertDecimal(t, "186.0138", order.GrandTotal)
	require.Len(t, order.Lines, 1)
	assert.NotZero(t, order.Lines[0].ID)
	assertDecimal(t, "200", order.Lines[0].LineTotal)
	assert.Equal(t, workflow.LineActive, order.Lines[0].DeliveryStatus)
	assert.Equal(t, []string{"sales_order.create"}, h.audit.actions())
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	req := twoItemOrder()
	req.IdempotencyKey = "req-1"
	first, err := h.svc.CreateOrder(ctx, req, sales)
	require.NoError(t, err)

	_, err = h.svc.CreateOrder(ctx, req, sales)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	clash := twoItemOrder()
	clash.OrderNumber = first.OrderNumber
	clash.IdempotencyKey = "req-2"
	_, err = h.svc.CreateOrder(ctx, clash, sales)
	require.ErrorIs(t, err, ErrDuplicateNumber)
	assert.NotContains(t, h.keys.seen, "req-2")

	clash.OrderNumber = "SO-MANUAL-2"
	_, err = h.svc.CreateOrder(ctx, clash, sales)
	require.NoError(t, err)
	assert.Equal(t, createIdempotencyModule, h.keys.seen["req-2"])
}

func TestCreateOrderRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateOrderRequest)
		actor  rbac.Actor
		err    error
	}{
		{"purchasing cannot create", func(*CreateOrderRequest) {}, purchasing, workflow.ErrFieldNotEditable},
		{"discount over 100", func(r *CreateOrderRequest) { r.DiscountPercent = dec("100.5") }, sales, workflow.ErrPricingInputInvalid},
		{"negative discount", func(r *CreateOrderRequest) { r.DiscountPercent = dec("-1") }, sales, workflow.ErrPricingInputInvalid},
		{"negative quantity", func(r *CreateOrderRequest) { r.Lines[0].Quantity = dec("-1") }, sales, workflow.ErrPricingInputInvalid},
		{"negative price", func(r *CreateOrderRequest) { r.Lines[1].UnitPrice = dec("-0.01") }, sales, workflow.ErrPricingInputInvalid},
		{"forged marker", func(r *CreateOrderRequest) { r.Note = "ok [reopen_approved]" }, sales, workflow.ErrFieldNotEditable},
		{"unknown payment term", func(r *CreateOrderRequest) { id := int64(77); r.PaymentTermID = &id }, sales, ErrUnknownPaymentTerm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			req := twoItemOrder()
			tc.mutate(&req)
			_, err := h.svc.CreateOrder(context.Background(), req, tc.actor)
			require.ErrorIs(t, err, tc.err)
			assert.Empty(t, h.repo.orders)
		})
	}
}

// ============================================================================
// Transitions
// ============================================================================

func TestScenarioSalesToPurchasingAndLateReopen(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	assertDecimal(t, "1000", order.Subtotal)
	assertDecimal(t, "1110", order.GrandTotal)

	h.move(t, order.ID, workflow.StatusPR, sales)
	h.move(t, order.ID, workflow.StatusPO, purchasing)
	h.move(t, order.ID, workflow.StatusSR, purchasing)
	h.move(t, order.ID, workflow.StatusFAR, finance)
	h.move(t, order.ID, workflow.StatusDR, purchasing)
	order = h.move(t, order.ID, workflow.StatusDelivery, warehouse)

	perms, err := h.svc.GetPermissions(context.Background(), order.ID, sales)
	require.NoError(t, err)
	assert.False(t, perms.CanRequestReopen)

	_, err = h.svc.RequestReopen(context.Background(), order.ID, ReopenInput{Reason: "too late", ExpectedVersion: order.Version}, sales)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Empty(t, h.notifier.events)
}

func TestRequestTransitionIsIdempotentForCurrentStatus(t *testing.T) {
	h := newHarness()
	order := h.create(t)

	for _, actor := range []rbac.Actor{sales, purchasing, warehouse, finance, superuser} {
		same, err := h.svc.RequestTransition(context.Background(), order.ID, string(workflow.StatusNew), 999, actor)
		require.NoError(t, err)
		assert.Equal(t, order.Version, same.Version)
		assert.Equal(t, workflow.StatusNew, same.Status)
	}
	assert.Equal(t, []string{"sales_order.create"}, h.audit.actions())
	assert.Contains(t, h.observer.outcomes, "NEW>NEW:noop")
}

func TestRequestTransitionRejections(t *testing.T) {
	h := newHarness()
	order := h.create(t)

	_, err := h.svc.RequestTransition(context.Background(), order.ID, "SHIPPED", order.Version, sales)
	require.ErrorIs(t, err, workflow.ErrUnrecognizedState)

	_, err = h.svc.RequestTransition(context.Background(), order.ID, string(workflow.StatusPO), order.Version, superuser)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Contains(t, err.Error(), workflow.ReasonNotAdjacent)

	_, err = h.svc.RequestTransition(context.Background(), order.ID, string(workflow.StatusPR), order.Version, purchasing)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Contains(t, h.observer.outcomes, "NEW>PR:rejected")

	_, err = h.svc.RequestTransition(context.Background(), order.ID, string(workflow.StatusPR), order.Version+1, sales)
	require.ErrorIs(t, err, workflow.ErrStaleOrder)
}

func TestTerminalOrderHasNoExits(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusCancelled, sales)

	_, err := h.svc.RequestTransition(context.Background(), order.ID, string(workflow.StatusNew), order.Version, superuser)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Contains(t, err.Error(), workflow.ReasonTerminal)
}

func TestTerminalOrderRejectsNoteAppend(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusCancelled, sales)
	auditRows := len(h.audit.logs)

	note := "late remark"
	for _, actor := range []rbac.Actor{warehouse, sales, superuser} {
		_, err := h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version, AppendNote: &note}, actor)
		require.ErrorIs(t, err, workflow.ErrFieldNotEditable, actor.Role)
	}

	stored, err := h.repo.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Version, stored.Version)
	assert.Empty(t, stored.Note)
	assert.Len(t, h.audit.logs, auditRows)
}

// ============================================================================
// Reopen workflow
// ============================================================================

func TestReopenGateBlocksPurchasingUntilApproved(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusPR, sales)
	order = h.requestReopen(t, order)
	require.True(t, order.ReopenRequests.IsPending())

	_, err := h.svc.RequestTransition(context.Background(), order.ID, string(workflow.StatusPO), order.Version, purchasing)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Contains(t, err.Error(), workflow.ReasonReopenPending)

	_, err = h.svc.ApproveReopen(context.Background(), order.ID, ResolveReopenInput{ExpectedVersion: order.Version}, purchasing)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	approved, err := h.svc.ApproveReopen(context.Background(), order.ID, ResolveReopenInput{Note: "go ahead", ExpectedVersion: order.Version}, manager)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusNew, approved.Status)
	assert.False(t, approved.ReopenRequests.IsPending())
	require.Len(t, approved.ReopenRequests, 1)
	assert.Equal(t, workflow.ReopenApproved, approved.ReopenRequests[0].Status)

	stored, err := h.repo.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusNew, stored.Status)
	assert.False(t, stored.ReopenRequests.IsPending())

	require.Len(t, h.approvals.logs, 2)
	assert.Equal(t, shared.ApprovalSubmit, h.approvals.logs[0].Action)
	assert.Equal(t, shared.ApprovalApprove, h.approvals.logs[1].Action)
	assert.Equal(t, ApprovalModuleReopen, h.approvals.logs[1].Module)
	assert.Equal(t, h.approvals.logs[0].RefID, h.approvals.logs[1].RefID)

	require.Len(t, h.notifier.events, 2)
	assert.Equal(t, ReopenEventRequested, h.notifier.events[0].Event)
	assert.Equal(t, "wrong quantity", h.notifier.events[0].Reason)
	assert.Equal(t, ReopenEventApproved, h.notifier.events[1].Event)
}

func TestReopenPreconditions(t *testing.T) {
	h := newHarness()
	order := h.create(t)

	_, err := h.svc.RequestReopen(context.Background(), order.ID, ReopenInput{Reason: "x", ExpectedVersion: order.Version}, sales)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	order = h.move(t, order.ID, workflow.StatusPR, sales)
	_, err = h.svc.RejectReopen(context.Background(), order.ID, ResolveReopenInput{ExpectedVersion: order.Version}, manager)
	require.ErrorIs(t, err, workflow.ErrNoReopenPending)

	_, err = h.svc.RequestReopen(context.Background(), order.ID, ReopenInput{Reason: "   ", ExpectedVersion: order.Version}, sales)
	require.ErrorIs(t, err, workflow.ErrReopenReasonRequired)

	_, err = h.svc.RequestReopen(context.Background(), order.ID, ReopenInput{Reason: "[REOPEN_APPROVED]", ExpectedVersion: order.Version}, sales)
	require.ErrorIs(t, err, workflow.ErrFieldNotEditable)

	_, err = h.svc.RequestReopen(context.Background(), order.ID, ReopenInput{Reason: "x", ExpectedVersion: order.Version}, purchasing)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	order = h.requestReopen(t, order)
	_, err = h.svc.RequestReopen(context.Background(), order.ID, ReopenInput{Reason: "again", ExpectedVersion: order.Version}, manager)
	require.ErrorIs(t, err, workflow.ErrReopenAlreadyPending)
}

func TestRejectReopenKeepsStatus(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusPR, sales)
	order = h.requestReopen(t, order)

	rejected, err := h.svc.RejectReopen(context.Background(), order.ID, ResolveReopenInput{Note: "price is right", ExpectedVersion: order.Version}, superuser)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPR, rejected.Status)
	assert.False(t, rejected.ReopenRequests.IsPending())
	assert.Equal(t, "price is right", rejected.ReopenRequests[0].ResolutionNote)

	h.move(t, order.ID, workflow.StatusPO, purchasing)
}

func TestManagerRollbackSettlesPendingReopen(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusPR, sales)
	h.requestReopen(t, order)

	order = h.move(t, order.ID, workflow.StatusNew, manager)
	assert.False(t, order.ReopenRequests.IsPending())
	assert.Equal(t, workflow.ReopenApproved, order.ReopenRequests[0].Status)
	assert.Equal(t, shared.ApprovalApprove, h.approvals.logs[len(h.approvals.logs)-1].Action)
}

func TestPurchasingReturnLeavesReopenPending(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusPR, sales)
	h.requestReopen(t, order)

	order = h.move(t, order.ID, workflow.StatusNew, purchasing)
	assert.True(t, order.ReopenRequests.IsPending())

	pending, err := h.svc.PendingReopenBefore(context.Background(), testNow.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, order.ID, pending[0].OrderID)
}

func TestLeavingPRClosesPendingReopen(t *testing.T) {
	cases := []struct {
		name  string
		to    workflow.Status
		actor rbac.Actor
	}{
		{"owner cancels", workflow.StatusCancelled, purchasing},
		{"superuser issues po", workflow.StatusPO, superuser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness()
			order := h.create(t)
			order = h.move(t, order.ID, workflow.StatusPR, sales)
			h.requestReopen(t, order)

			order = h.move(t, order.ID, tc.to, tc.actor)
			require.Len(t, order.ReopenRequests, 1)
			closed := order.ReopenRequests[0]
			assert.Equal(t, workflow.ReopenRejected, closed.Status)
			assert.Equal(t, "superseded by transition to "+string(tc.to), closed.ResolutionNote)
			require.NotNil(t, closed.ResolvedBy)
			assert.Equal(t, tc.actor.ID, *closed.ResolvedBy)

			stored, err := h.repo.Get(ctx, order.ID)
			require.NoError(t, err)
			assert.False(t, stored.ReopenRequests.IsPending())

			perms, err := h.svc.GetPermissions(ctx, order.ID, manager)
			require.NoError(t, err)
			assert.False(t, perms.ReopenPending)
			assert.False(t, perms.CanApproveReopen)
			assert.False(t, perms.CanRejectReopen)

			_, err = h.svc.ApproveReopen(ctx, order.ID, ResolveReopenInput{ExpectedVersion: order.Version}, manager)
			require.ErrorIs(t, err, workflow.ErrNoReopenPending)

			pending, err := h.svc.PendingReopenBefore(ctx, testNow.Add(time.Minute))
			require.NoError(t, err)
			assert.Empty(t, pending)

			assert.Equal(t, shared.ApprovalReject, h.approvals.logs[len(h.approvals.logs)-1].Action)
			assert.Equal(t, ReopenEventRejected, h.notifier.events[len(h.notifier.events)-1].Event)
		})
	}
}

func TestSuperuserMoveLeavesNoPendingReopenBehind(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusPR, sales)
	h.requestReopen(t, order)

	h.move(t, order.ID, workflow.StatusPO, superuser)
	order = h.move(t, order.ID, workflow.StatusSR, purchasing)
	assert.False(t, order.ReopenRequests.IsPending())
}

func TestSalesCancelAtNewClosesReturnedReopen(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusPR, sales)
	h.requestReopen(t, order)
	order = h.move(t, order.ID, workflow.StatusNew, purchasing)
	require.True(t, order.ReopenRequests.IsPending())

	order = h.move(t, order.ID, workflow.StatusCancelled, sales)
	assert.False(t, order.ReopenRequests.IsPending())
	assert.Equal(t, workflow.ReopenRejected, order.ReopenRequests[0].Status)
}

// ============================================================================
// Updates
// ============================================================================

func TestUpdateOrderStaleVersion(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	note := "first writer"

	_, err := h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version, AppendNote: &note}, sales)
	require.NoError(t, err)

	other := "second writer"
	_, err = h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version, AppendNote: &other}, manager)
	require.ErrorIs(t, err, workflow.ErrStaleOrder)

	stored, err := h.repo.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "first writer", stored.Note)
	assert.EqualValues(t, 2, stored.Version)
}

func TestSaveDetectsConcurrentWriter(t *testing.T) {
	h := newHarness()
	order := h.create(t)

	loaded, err := h.repo.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.NoError(t, h.repo.Save(context.Background(), loaded.clone(), loaded.Version))

	err = h.repo.Save(context.Background(), loaded, loaded.Version)
	require.ErrorIs(t, err, workflow.ErrStaleOrder)
}

func TestUpdateOrderRepricesDraft(t *testing.T) {
	h := newHarness()
	order, err := h.svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: 200,
		Lines:      []LineInput{{ProductID: 9, ProductName: "Bolt", UnitPrice: dec("100"), Quantity: dec("2")}},
	}, sales)
	require.NoError(t, err)
	assertDecimal(t, "222", order.GrandTotal)

	customer := int64(100)
	discount := dec("2")
	lines := []LineInput{{ProductID: 9, ProductName: "Bolt", UnitPrice: dec("100"), Quantity: dec("2")}}
	updated, err := h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{
		ExpectedVersion: order.Version,
		CustomerID:      &customer,
		DiscountPercent: &discount,
		Lines:           &lines,
	}, sales)
	require.NoError(t, err)
	assertDecimal(t, "186.0138", updated.GrandTotal)
	assert.EqualValues(t, 2, updated.Version)
	assert.NotEqual(t, order.Lines[0].ID, updated.Lines[0].ID)
}

func TestUpdateOrderFieldLocksAfterSubmission(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusPR, sales)

	lines := []LineInput{{ProductID: 1, ProductName: "x", UnitPrice: dec("1"), Quantity: dec("1")}}
	_, err := h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version, Lines: &lines}, sales)
	require.ErrorIs(t, err, workflow.ErrFieldNotEditable)
	assert.Contains(t, err.Error(), string(workflow.FieldItems))

	paid := "PAID"
	_, err = h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version, PaymentStatus: &paid}, sales)
	require.ErrorIs(t, err, workflow.ErrFieldNotEditable)

	order, err = h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version, PaymentStatus: &paid}, finance)
	require.NoError(t, err)
	assert.Equal(t, workflow.PaymentPaid, order.PaymentStatus)

	note := "customer called"
	order, err = h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version, AppendNote: &note}, purchasing)
	require.NoError(t, err)
	assert.Equal(t, "customer called", order.Note)

	forged := "[Reopen Request] sneaky"
	_, err = h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version, AppendNote: &forged}, sales)
	require.ErrorIs(t, err, workflow.ErrFieldNotEditable)
}

func TestUpdateOrderNothingChanged(t *testing.T) {
	h := newHarness()
	order := h.create(t)

	same, err := h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version}, sales)
	require.NoError(t, err)
	assert.Equal(t, order.Version, same.Version)
}

// ============================================================================
// Lines
// ============================================================================

func TestUpdateLineStatus(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	lineID := order.Lines[0].ID

	res, err := h.svc.UpdateLineStatus(context.Background(), order.ID, lineID, "PARTIAL_DELIVERED", 0, warehouse)
	require.NoError(t, err)
	assert.Equal(t, workflow.LinePartialDelivered, res.Line.DeliveryStatus)
	assert.EqualValues(t, 2, res.Version)

	res, err = h.svc.UpdateLineStatus(context.Background(), order.ID, lineID, "DELIVERED", res.Version, superuser)
	require.NoError(t, err)
	assert.Equal(t, workflow.LineDelivered, res.Line.DeliveryStatus)

	_, err = h.svc.UpdateLineStatus(context.Background(), order.ID, lineID, "ACTIVE", 0, superuser)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = h.svc.UpdateLineStatus(context.Background(), order.ID, order.Lines[1].ID, "DELIVERED", 0, sales)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = h.svc.UpdateLineStatus(context.Background(), order.ID, 0, "DELIVERED", 0, warehouse)
	require.ErrorIs(t, err, workflow.ErrInvalidLineStatusOnDraft)

	_, err = h.svc.UpdateLineStatus(context.Background(), order.ID, 9999, "DELIVERED", 0, warehouse)
	require.ErrorIs(t, err, ErrNotFound)

	same, err := h.svc.UpdateLineStatus(context.Background(), order.ID, lineID, "DELIVERED", 0, warehouse)
	require.NoError(t, err)
	assert.EqualValues(t, 3, same.Version)

	stored, err := h.repo.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.LineDelivered, stored.Lines[0].DeliveryStatus)
	assert.Equal(t, workflow.LineActive, stored.Lines[1].DeliveryStatus)
}

// ============================================================================
// Attachments and record status
// ============================================================================

func TestAttachmentLifecycle(t *testing.T) {
	h := newHarness()
	order := h.create(t)

	order, err := h.svc.ReplaceAttachment(context.Background(), order.ID, order.Version,
		storage.File{Name: "po.pdf", Body: bytes.NewBufferString("%PDF")}, sales)
	require.NoError(t, err)
	require.NotNil(t, order.AttachmentRef)
	first := *order.AttachmentRef

	order, err = h.svc.ReplaceAttachment(context.Background(), order.ID, order.Version,
		storage.File{Name: "po-v2.pdf", Body: bytes.NewBufferString("%PDF2")}, sales)
	require.NoError(t, err)
	assert.NotEqual(t, first, *order.AttachmentRef)
	assert.Equal(t, []string{first}, h.store.deleted)

	order, err = h.svc.RemoveAttachment(context.Background(), order.ID, order.Version, sales)
	require.NoError(t, err)
	assert.Nil(t, order.AttachmentRef)
	assert.Empty(t, h.store.objects)

	_, err = h.svc.RemoveAttachment(context.Background(), order.ID, order.Version, sales)
	require.ErrorIs(t, err, ErrAttachmentMissing)
}

func TestAttachmentLockedAfterSubmission(t *testing.T) {
	h := newHarness()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusPR, sales)

	_, err := h.svc.ReplaceAttachment(context.Background(), order.ID, order.Version,
		storage.File{Name: "po.pdf", Body: bytes.NewBufferString("x")}, sales)
	require.ErrorIs(t, err, workflow.ErrFieldNotEditable)
	assert.Zero(t, h.store.uploads)
}

func TestRecordCancelledLocksOrder(t *testing.T) {
	h := newHarness()
	order := h.create(t)

	_, err := h.svc.SetRecordStatus(context.Background(), order.ID, "CANCELLED", order.Version, manager)
	require.ErrorIs(t, err, workflow.ErrFieldNotEditable)

	order, err = h.svc.SetRecordStatus(context.Background(), order.ID, "CANCELLED", order.Version, superuser)
	require.NoError(t, err)
	assert.Equal(t, workflow.RecordCancelled, order.RecordStatus)

	note := "still here?"
	_, err = h.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{ExpectedVersion: order.Version, AppendNote: &note}, sales)
	require.ErrorIs(t, err, workflow.ErrFieldNotEditable)

	_, err = h.svc.RequestTransition(context.Background(), order.ID, string(workflow.StatusPR), order.Version, superuser)
	require.ErrorIs(t, err, workflow.ErrFieldNotEditable)

	order, err = h.svc.SetRecordStatus(context.Background(), order.ID, "ACTIVE", order.Version, superuser)
	require.NoError(t, err)
	assert.Equal(t, workflow.RecordActive, order.RecordStatus)
}

// ============================================================================
// Recalculate
// ============================================================================

func TestRecalculateUsesCustomerTiers(t *testing.T) {
	h := newHarness()
	customer := int64(100)
	b, err := h.svc.Recalculate(context.Background(), RecalculateRequest{
		CustomerID:      &customer,
		DiscountPercent: dec("2"),
		Lines:           []RecalculateLine{{UnitPrice: dec("100"), Quantity: dec("2")}},
	})
	require.NoError(t, err)
	assertDecimal(t, "186.0138", b.GrandTotal)

	override := dec("0")
	b, err = h.svc.Recalculate(context.Background(), RecalculateRequest{
		CustomerID:       &customer,
		Discount1Percent: &override,
		Lines:            []RecalculateLine{{UnitPrice: dec("100"), Quantity: dec("1")}},
	})
	require.NoError(t, err)
	assertDecimal(t, "95", b.AfterAllDiscount)
	assert.Empty(t, h.repo.orders)
}

func TestHistoryCollectsAuditAndReopenTrail(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	order := h.create(t)
	order = h.move(t, order.ID, workflow.StatusPR, sales)
	order = h.requestReopen(t, order)
	_, err := h.svc.ApproveReopen(ctx, order.ID, ResolveReopenInput{Note: "go ahead", ExpectedVersion: order.Version}, manager)
	require.NoError(t, err)

	history, err := h.svc.History(ctx, order.ID)
	require.NoError(t, err)

	actions := make([]string, 0, len(history.Events))
	for _, e := range history.Events {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{
		"sales_order.create",
		"sales_order.transition",
		"sales_order.reopen_request",
		"sales_order.reopen_approve",
	}, actions)

	require.Len(t, history.ReopenTrail, 2)
	assert.Equal(t, shared.ApprovalSubmit, history.ReopenTrail[0].Action)
	assert.Equal(t, shared.ApprovalApprove, history.ReopenTrail[1].Action)
	assert.Equal(t, "go ahead", history.ReopenTrail[1].Note)

	_, err = h.svc.History(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}
