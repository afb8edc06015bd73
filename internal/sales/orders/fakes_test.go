package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/order-engine/internal/sales/catalog"
	"github.com/odyssey-erp/order-engine/internal/sales/workflow"
	"github.com/odyssey-erp/order-engine/internal/shared"
	"github.com/odyssey-erp/order-engine/internal/storage"
)

// ============================================================================
// In-memory repository
// ============================================================================

type memoryRepo struct {
	mu         sync.Mutex
	orders     map[int64]*SalesOrder
	legacy     map[int64]*LegacyRecord
	nextID     int64
	nextLine   int64
	nextReopen int64
	seq        int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: map[int64]*SalesOrder{}, legacy: map[int64]*LegacyRecord{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Get(_ context.Context, id int64) (*SalesOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (*SalesOrder, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) List(_ context.Context, req ListOrdersRequest) ([]SalesOrder, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SalesOrder
	for _, o := range r.orders {
		if req.Status != nil && o.Status != *req.Status {
			continue
		}
		if req.CustomerID != nil && o.CustomerID != *req.CustomerID {
			continue
		}
		out = append(out, *o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if req.Offset >= len(out) {
		return []SalesOrder{}, total, nil
	}
	out = out[req.Offset:]
	if req.Limit > 0 && req.Limit < len(out) {
		out = out[:req.Limit]
	}
	return out, total, nil
}

func (r *memoryRepo) NextNumber(_ context.Context, at time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return fmt.Sprintf("SO-%s-%05d", at.Format("20060102"), r.seq), nil
}

func (r *memoryRepo) Create(ctx context.Context, o *SalesOrder) error {
	r.mu.Lock()
	for _, existing := range r.orders {
		if existing.OrderNumber == o.OrderNumber {
			r.mu.Unlock()
			return ErrDuplicateNumber
		}
	}
	r.nextID++
	o.ID = r.nextID
	o.Version = 1
	r.orders[o.ID] = o.clone()
	r.mu.Unlock()
	return r.ReplaceLines(ctx, o.ID, o.Lines)
}

func (r *memoryRepo) Save(_ context.Context, o *SalesOrder, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return workflow.ErrStaleOrder
	}
	o.Version = expectedVersion + 1
	saved := o.clone()
	saved.Lines = stored.Lines
	saved.ReopenRequests = stored.ReopenRequests
	r.orders[o.ID] = saved
	return nil
}

func (r *memoryRepo) ReplaceLines(_ context.Context, orderID int64, lines []OrderLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range lines {
		r.nextLine++
		lines[i].ID = r.nextLine
		lines[i].OrderID = orderID
	}
	r.orders[orderID].Lines = append([]OrderLine(nil), lines...)
	return nil
}

func (r *memoryRepo) UpdateLineStatus(_ context.Context, orderID, lineID int64, status workflow.LineStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			o.Lines[i].DeliveryStatus = status
			return nil
		}
	}
	return ErrNotFound
}

func (r *memoryRepo) SaveReopenLog(_ context.Context, orderID int64, log workflow.ReopenLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range log {
		if log[i].ID == 0 {
			r.nextReopen++
			log[i].ID = r.nextReopen
		}
	}
	if o, ok := r.orders[orderID]; ok {
		o.ReopenRequests = append(workflow.ReopenLog(nil), log...)
	}
	return nil
}

func (r *memoryRepo) ListPendingReopen(_ context.Context, before time.Time) ([]PendingReopen, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PendingReopen
	for _, o := range r.orders {
		if o.RecordStatus != workflow.RecordActive || !workflow.HoldsReopen(o.Status) {
			continue
		}
		if req, ok := o.ReopenRequests.Pending(); ok && req.RequestedAt.Before(before) {
			out = append(out, PendingReopen{OrderID: o.ID, OrderNumber: o.OrderNumber, Request: req})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (r *memoryRepo) ListLegacy(context.Context) ([]LegacyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LegacyRecord
	for _, rec := range r.legacy {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ApplyLegacy(ctx context.Context, rec LegacyRecord, status workflow.Status, note string, log workflow.ReopenLog) error {
	r.mu.Lock()
	stored, ok := r.legacy[rec.ID]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if stored.Version != rec.Version {
		r.mu.Unlock()
		return workflow.ErrStaleOrder
	}
	delete(r.legacy, rec.ID)
	r.orders[rec.ID] = &SalesOrder{
		ID:           rec.ID,
		OrderNumber:  rec.Number,
		Status:       status,
		RecordStatus: workflow.RecordActive,
		Note:         note,
		Version:      rec.Version + 1,
	}
	r.mu.Unlock()
	return r.SaveReopenLog(ctx, rec.ID, log)
}

// ============================================================================
// Collaborator fakes
// ============================================================================

type fakeCatalog struct {
	terms map[int64]catalog.PaymentTerm
	tiers map[int64]catalog.DiscountTiers
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		terms: map[int64]catalog.PaymentTerm{
			3: {ID: 3, Code: "NET30", Name: "Net 30", DueDays: 30},
		},
		tiers: map[int64]catalog.DiscountTiers{
			100: {CustomerID: 100, Discount1Percent: decimal.NewFromInt(10), Discount2Percent: decimal.NewFromInt(5)},
		},
	}
}

func (c *fakeCatalog) PaymentTerm(_ context.Context, id int64) (catalog.PaymentTerm, error) {
	term, ok := c.terms[id]
	if !ok {
		return catalog.PaymentTerm{}, catalog.ErrNotFound
	}
	return term, nil
}

func (c *fakeCatalog) DiscountTiers(_ context.Context, customerID int64) (catalog.DiscountTiers, error) {
	tiers, ok := c.tiers[customerID]
	if !ok {
		return catalog.DiscountTiers{CustomerID: customerID}, nil
	}
	return tiers, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) List(_ context.Context, entity, entityID string) ([]shared.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []shared.AuditLog
	for _, l := range a.logs {
		if l.Entity == entity && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type recordingApprovals struct {
	logs []shared.ApprovalLog
}

func (a *recordingApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingApprovals) List(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range a.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type memoryKeys struct {
	seen map[string]string
}

func (k *memoryKeys) CheckAndInsert(_ context.Context, key, module string) error {
	if _, ok := k.seen[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	k.seen[key] = module
	return nil
}

func (k *memoryKeys) Delete(_ context.Context, key string) error {
	delete(k.seen, key)
	return nil
}

type recordingNotifier struct {
	events []ReopenEvent
}

func (n *recordingNotifier) NotifyReopen(_ context.Context, event ReopenEvent) error {
	n.events = append(n.events, event)
	return nil
}

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) ObserveTransition(from, to, outcome string) {
	o.outcomes = append(o.outcomes, from+">"+to+":"+outcome)
}

type memoryStore struct {
	objects map[string][]byte
	uploads int
	deleted []string
	fail    bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (s *memoryStore) Upload(_ context.Context, file storage.File) (string, error) {
	if s.fail {
		return "", errors.New("bucket unavailable")
	}
	body, err := io.ReadAll(file.Body)
	if err != nil {
		return "", err
	}
	s.uploads++
	ref := fmt.Sprintf("sales-orders/test/%d-%s", s.uploads, file.Name)
	s.objects[ref] = body
	return ref, nil
}

func (s *memoryStore) Delete(_ context.Context, ref string) error {
	if _, ok := s.objects[ref]; !ok {
		return storage.ErrInvalidRef
	}
	delete(s.objects, ref)
	s.deleted = append(s.deleted, ref)
	return nil
}
