package catalog

import (
	"context"
	"strconv"
)

// Service answers catalog lookups through the cache.
type Service struct {
	source Source
	cache  *Cache
}

// NewService constructs a catalog Service.
func NewService(source Source, cache *Cache) *Service {
	return &Service{source: source, cache: cache}
}

// PaymentTerm returns the payment term by id.
func (s *Service) PaymentTerm(ctx context.Context, id int64) (PaymentTerm, error) {
	if id <= 0 {
		return PaymentTerm{}, ErrNotFound
	}
	var term PaymentTerm
	err := s.cache.FetchJSON(ctx, &term, func(ctx context.Context) (any, error) {
		return s.source.PaymentTerm(ctx, id)
	}, "catalog", "payment_term", strconv.FormatInt(id, 10))
	return term, err
}

// DiscountTiers returns the customer's cascade discounts.
func (s *Service) DiscountTiers(ctx context.Context, customerID int64) (DiscountTiers, error) {
	if customerID <= 0 {
		return DiscountTiers{}, ErrNotFound
	}
	var tiers DiscountTiers
	err := s.cache.FetchJSON(ctx, &tiers, func(ctx context.Context) (any, error) {
		return s.source.DiscountTiers(ctx, customerID)
	}, "catalog", "discount_tiers", strconv.FormatInt(customerID, 10))
	return tiers, err
}

// Invalidate drops cached entries after catalog maintenance.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
