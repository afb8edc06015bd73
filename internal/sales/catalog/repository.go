package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads catalogs from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PaymentTerm returns the payment term by id.
func (r *Repository) PaymentTerm(ctx context.Context, id int64) (PaymentTerm, error) {
	const query = `SELECT id, code, name, due_days FROM payment_terms WHERE id = $1`
	var term PaymentTerm
	if err := r.pool.QueryRow(ctx, query, id).Scan(&term.ID, &term.Code, &term.Name, &term.DueDays); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentTerm{}, ErrNotFound
		}
		return PaymentTerm{}, err
	}
	return term, nil
}

// DiscountTiers returns the customer's tiers, or zero tiers when the customer
// has no agreement.
func (r *Repository) DiscountTiers(ctx context.Context, customerID int64) (DiscountTiers, error) {
	const query = `SELECT discount1_pct, discount2_pct FROM customer_discount_tiers WHERE customer_id = $1`
	tiers := DiscountTiers{CustomerID: customerID, Discount1Percent: decimal.Zero, Discount2Percent: decimal.Zero}
	err := r.pool.QueryRow(ctx, query, customerID).Scan(&tiers.Discount1Percent, &tiers.Discount2Percent)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return DiscountTiers{}, err
	}
	return tiers, nil
}
