package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/order-engine/internal/platform/db"
	"github.com/odyssey-erp/order-engine/internal/sales/workflow"
)

var (
	ErrNotFound           = errors.New("orders: not found")
	ErrDuplicateNumber    = errors.New("orders: order number already exists")
	ErrAttachmentMissing  = errors.New("orders: no attachment")
	ErrAttachmentRequired = errors.New("orders: attachment file required")
)

// Repository persists sales orders. Save enforces optimistic versioning.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*SalesOrder, error)
	GetForUpdate(ctx context.Context, id int64) (*SalesOrder, error)
	List(ctx context.Context, req ListOrdersRequest) ([]SalesOrder, int, error)
	NextNumber(ctx context.Context, at time.Time) (string, error)
	Create(ctx context.Context, order *SalesOrder) error
	Save(ctx context.Context, order *SalesOrder, expectedVersion int64) error
	ReplaceLines(ctx context.Context, orderID int64, lines []OrderLine) error
	UpdateLineStatus(ctx context.Context, orderID, lineID int64, status workflow.LineStatus) error
	SaveReopenLog(ctx context.Context, orderID int64, log workflow.ReopenLog) error
	ListPendingReopen(ctx context.Context, requestedBefore time.Time) ([]PendingReopen, error)
	ListLegacy(ctx context.Context) ([]LegacyRecord, error)
	ApplyLegacy(ctx context.Context, rec LegacyRecord, status workflow.Status, note string, log workflow.ReopenLog) error
}

// LegacyRecord is a raw order row that still carries legacy state.
type LegacyRecord struct {
	ID      int64
	Number  string
	Status  string
	Note    string
	Version int64
	// ReopenPending is set when the order already has a PENDING request row.
	ReopenPending bool
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if _, ok := r.db.(pgx.Tx); ok {
		return fn(ctx, r)
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
	if errors.Is(err, db.ErrSerialization) {
		return fmt.Errorf("%w: %v", workflow.ErrStaleOrder, err)
	}
	return err
}

const orderColumns = `id, order_number, customer_id, quotation_id, workflow_status, record_status,
	payment_status, payment_term_id, discount1_pct, discount2_pct, discount_pct, subtotal,
	discount1_amount, discount2_amount, additional_discount_amount, after_all_discount, tax,
	grand_total, note, attachment_ref, version, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (*SalesOrder, error) {
	var o SalesOrder
	var status, record, payment string
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.QuotationID, &status, &record,
		&payment, &o.PaymentTermID, &o.Discount1Percent, &o.Discount2Percent, &o.DiscountPercent,
		&o.Subtotal, &o.Discount1Amount, &o.Discount2Amount, &o.AdditionalDiscountAmount,
		&o.AfterAllDiscount, &o.Tax, &o.GrandTotal, &o.Note, &o.AttachmentRef, &o.Version,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if o.Status, err = workflow.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("order %d: %w", o.ID, err)
	}
	if o.RecordStatus, err = workflow.ParseRecordStatus(record); err != nil {
		return nil, fmt.Errorf("order %d: %w", o.ID, err)
	}
	if o.PaymentStatus, err = workflow.ParsePaymentStatus(payment); err != nil {
		return nil, fmt.Errorf("order %d: %w", o.ID, err)
	}
	return &o, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*SalesOrder, error) {
	return r.load(ctx, id, false)
}

// GetForUpdate locks the order row until the surrounding transaction ends.
func (r *repository) GetForUpdate(ctx context.Context, id int64) (*SalesOrder, error) {
	return r.load(ctx, id, true)
}

func (r *repository) load(ctx context.Context, id int64, lock bool) (*SalesOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM sales_orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if o.Lines, err = r.lines(ctx, id); err != nil {
		return nil, err
	}
	if o.ReopenRequests, err = r.reopenLog(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) lines(ctx context.Context, orderID int64) ([]OrderLine, error) {
	rows, err := r.db.Query(ctx, `SELECT id, order_id, position, product_id, product_name, unit_price,
	quantity, line_total, delivery_status FROM sales_order_lines WHERE order_id = $1 ORDER BY position, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []OrderLine{}
	for rows.Next() {
		var (
			l      OrderLine
			status string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Position, &l.ProductID, &l.ProductName, &l.UnitPrice,
			&l.Quantity, &l.LineTotal, &status); err != nil {
			return nil, err
		}
		if l.DeliveryStatus, err = workflow.ParseLineStatus(status); err != nil {
			return nil, fmt.Errorf("line %d: %w", l.ID, err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) reopenLog(ctx context.Context, orderID int64) (workflow.ReopenLog, error) {
	rows, err := r.db.Query(ctx, `SELECT id, status, reason, requested_by, requested_at, resolved_by,
	resolved_at, resolution_note FROM sales_order_reopen_requests WHERE order_id = $1 ORDER BY requested_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	log := workflow.ReopenLog{}
	for rows.Next() {
		var (
			req    workflow.ReopenRequest
			status string
		)
		if err := rows.Scan(&req.ID, &status, &req.Reason, &req.RequestedBy, &req.RequestedAt,
			&req.ResolvedBy, &req.ResolvedAt, &req.ResolutionNote); err != nil {
			return nil, err
		}
		req.Status = workflow.ReopenStatus(status)
		if !req.Status.IsValid() {
			return nil, fmt.Errorf("%w: reopen status %q", workflow.ErrUnrecognizedState, status)
		}
		log = append(log, req)
	}
	return log, rows.Err()
}

func (r *repository) List(ctx context.Context, req ListOrdersRequest) ([]SalesOrder, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if req.Status != nil {
		args = append(args, string(*req.Status))
		conditions = append(conditions, fmt.Sprintf("workflow_status = $%d", len(args)))
	}
	if req.CustomerID != nil {
		args = append(args, *req.CustomerID)
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sales_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, req.Offset)
	query := fmt.Sprintf(`SELECT %s FROM sales_orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := []SalesOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *repository) NextNumber(ctx context.Context, at time.Time) (string, error) {
	var seq int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('sales_order_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("SO-%s-%05d", at.Format("20060102"), seq), nil
}

func (r *repository) Create(ctx context.Context, o *SalesOrder) error {
	err := r.db.QueryRow(ctx, `INSERT INTO sales_orders (order_number, customer_id, quotation_id,
	workflow_status, record_status, payment_status, payment_term_id, discount1_pct, discount2_pct,
	discount_pct, subtotal, discount1_amount, discount2_amount, additional_discount_amount,
	after_all_discount, tax, grand_total, note, attachment_ref, version, created_by, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,1,$20,$21,$21)
	RETURNING id, version`,
		o.OrderNumber, o.CustomerID, o.QuotationID, string(o.Status), string(o.RecordStatus),
		string(o.PaymentStatus), o.PaymentTermID, o.Discount1Percent, o.Discount2Percent,
		o.DiscountPercent, o.Subtotal, o.Discount1Amount, o.Discount2Amount, o.AdditionalDiscountAmount,
		o.AfterAllDiscount, o.Tax, o.GrandTotal, o.Note, o.AttachmentRef, o.CreatedBy, o.CreatedAt,
	).Scan(&o.ID, &o.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateNumber
		}
		return err
	}
	o.UpdatedAt = o.CreatedAt
	return r.ReplaceLines(ctx, o.ID, o.Lines)
}

// Save writes the header and bumps the version. It fails with
// workflow.ErrStaleOrder when the stored version is not expectedVersion.
func (r *repository) Save(ctx context.Context, o *SalesOrder, expectedVersion int64) error {
	err := r.db.QueryRow(ctx, `UPDATE sales_orders SET customer_id=$3, workflow_status=$4,
	record_status=$5, payment_status=$6, payment_term_id=$7, discount1_pct=$8, discount2_pct=$9,
	discount_pct=$10, subtotal=$11, discount1_amount=$12, discount2_amount=$13,
	additional_discount_amount=$14, after_all_discount=$15, tax=$16, grand_total=$17, note=$18,
	attachment_ref=$19, version=version+1, updated_at=NOW()
	WHERE id=$1 AND version=$2
	RETURNING version, updated_at`,
		o.ID, expectedVersion, o.CustomerID, string(o.Status), string(o.RecordStatus),
		string(o.PaymentStatus), o.PaymentTermID, o.Discount1Percent, o.Discount2Percent,
		o.DiscountPercent, o.Subtotal, o.Discount1Amount, o.Discount2Amount, o.AdditionalDiscountAmount,
		o.AfterAllDiscount, o.Tax, o.GrandTotal, o.Note, o.AttachmentRef,
	).Scan(&o.Version, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.ErrStaleOrder
	}
	return err
}

func (r *repository) ReplaceLines(ctx context.Context, orderID int64, lines []OrderLine) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sales_order_lines WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	for i := range lines {
		l := &lines[i]
		l.OrderID = orderID
		err := r.db.QueryRow(ctx, `INSERT INTO sales_order_lines (order_id, position, product_id,
		product_name, unit_price, quantity, line_total, delivery_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			orderID, l.Position, l.ProductID, l.ProductName, l.UnitPrice, l.Quantity, l.LineTotal,
			string(l.DeliveryStatus),
		).Scan(&l.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) UpdateLineStatus(ctx context.Context, orderID, lineID int64, status workflow.LineStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE sales_order_lines SET delivery_status = $3 WHERE id = $2 AND order_id = $1`,
		orderID, lineID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveReopenLog inserts new requests and records resolutions of existing ones.
func (r *repository) SaveReopenLog(ctx context.Context, orderID int64, log workflow.ReopenLog) error {
	for i := range log {
		req := &log[i]
		if req.ID == 0 {
			err := r.db.QueryRow(ctx, `INSERT INTO sales_order_reopen_requests (order_id, status, reason,
			requested_by, requested_at, resolved_by, resolved_at, resolution_note)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
				orderID, string(req.Status), req.Reason, req.RequestedBy, req.RequestedAt, req.ResolvedBy,
				req.ResolvedAt, req.ResolutionNote,
			).Scan(&req.ID)
			if err != nil {
				return err
			}
			continue
		}
		_, err := r.db.Exec(ctx, `UPDATE sales_order_reopen_requests SET status=$3, resolved_by=$4,
		resolved_at=$5, resolution_note=$6 WHERE id=$2 AND order_id=$1 AND status <> $3`,
			orderID, req.ID, string(req.Status), req.ResolvedBy, req.ResolvedAt, req.ResolutionNote)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) ListPendingReopen(ctx context.Context, requestedBefore time.Time) ([]PendingReopen, error) {
	rows, err := r.db.Query(ctx, `SELECT o.id, o.order_number, q.id, q.reason, q.requested_by, q.requested_at
	FROM sales_order_reopen_requests q JOIN sales_orders o ON o.id = q.order_id
	WHERE q.status = 'PENDING' AND q.requested_at < $1 AND o.record_status = 'ACTIVE'
	AND o.workflow_status IN ('PR', 'NEW')
	ORDER BY q.requested_at`, requestedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingReopen
	for rows.Next() {
		p := PendingReopen{Request: workflow.ReopenRequest{Status: workflow.ReopenPending}}
		if err := rows.Scan(&p.OrderID, &p.OrderNumber, &p.Request.ID, &p.Request.Reason,
			&p.Request.RequestedBy, &p.Request.RequestedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListLegacy returns rows whose note still carries reopen markers or whose
// status is the retired OPEN value. Values are returned unparsed.
func (r *repository) ListLegacy(ctx context.Context) ([]LegacyRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT o.id, o.order_number, o.workflow_status, o.note, o.version,
	EXISTS (SELECT 1 FROM sales_order_reopen_requests q WHERE q.order_id = o.id AND q.status = 'PENDING')
	FROM sales_orders o
	WHERE o.workflow_status = $1 OR o.note ILIKE '%[REOPEN%' ORDER BY o.id`, workflow.LegacyOpenStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LegacyRecord
	for rows.Next() {
		var rec LegacyRecord
		if err := rows.Scan(&rec.ID, &rec.Number, &rec.Status, &rec.Note, &rec.Version, &rec.ReopenPending); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repository) ApplyLegacy(ctx context.Context, rec LegacyRecord, status workflow.Status, note string, log workflow.ReopenLog) error {
	tag, err := r.db.Exec(ctx, `UPDATE sales_orders SET workflow_status=$3, note=$4, version=version+1,
	updated_at=NOW() WHERE id=$1 AND version=$2`, rec.ID, rec.Version, string(status), note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrStaleOrder
	}
	return r.SaveReopenLog(ctx, rec.ID, log)
}
