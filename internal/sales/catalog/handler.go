package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/order-engine/internal/platform/httpx"
)

// Lookup is the read contract the handler depends on.
type Lookup interface {
	PaymentTerm(ctx context.Context, id int64) (PaymentTerm, error)
	DiscountTiers(ctx context.Context, customerID int64) (DiscountTiers, error)
}

// Handler exposes catalog lookups over HTTP.
type Handler struct {
	logger  *slog.Logger
	service Lookup
}

// NewHandler constructs a catalog Handler.
func NewHandler(logger *slog.Logger, service Lookup) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog endpoints. Authentication is applied by the caller.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/payment-terms/{id}", h.ShowPaymentTerm)
	r.Get("/customers/{id}/discount-tiers", h.ShowDiscountTiers)
}

func (h *Handler) ShowPaymentTerm(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment term id")
		return
	}
	term, err := h.service.PaymentTerm(r.Context(), id)
	if err != nil {
		h.fail(w, "payment term", err)
		return
	}
	httpx.JSON(w, http.StatusOK, term)
}

func (h *Handler) ShowDiscountTiers(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer id")
		return
	}
	tiers, err := h.service.DiscountTiers(r.Context(), id)
	if err != nil {
		h.fail(w, "discount tiers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tiers)
}

func (h *Handler) fail(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", what+" not found")
		return
	}
	if h.logger != nil {
		h.logger.Error("catalog lookup failed", slog.String("what", what), slog.Any("error", err))
	}
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
