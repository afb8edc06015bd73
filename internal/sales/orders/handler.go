package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/order-engine/internal/platform/httpx"
	"github.com/odyssey-erp/order-engine/internal/rbac"
	"github.com/odyssey-erp/order-engine/internal/sales/workflow"
	"github.com/odyssey-erp/order-engine/internal/shared"
	"github.com/odyssey-erp/order-engine/internal/storage"
)

const maxAttachmentSize = 10 << 20

type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateOrderRequest
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.CreateOrder(r.Context(), req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req ListOrdersRequest
	if raw := q.Get("status"); raw != "" {
		status, err := workflow.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		req.Status = &status
	}
	if raw := q.Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer_id")
			return
		}
		req.CustomerID = &id
	}
	req.Limit = queryInt(q.Get("limit"), 50)
	req.Offset = queryInt(q.Get("offset"), 0)
	if err := h.validator.Struct(req); err != nil {
		h.validationProblem(w, err)
		return
	}
	orders, total, err := h.service.ListOrders(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, struct {
		Data []SalesOrder `json:"data"`
		shared.Page
	}{orders, shared.NewPage(req.Limit, req.Offset, total)})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// History returns the audit events and reopen approval trail of an order.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.service.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.UpdateOrder(r.Context(), id, req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	decision, err := h.service.GetPermissions(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.RequestTransition(r.Context(), id, req.Status, req.ExpectedVersion, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) RequestReopen(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ReopenInput
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.RequestReopen(r.Context(), id, req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) ApproveReopen(w http.ResponseWriter, r *http.Request) {
	h.resolveReopen(w, r, h.service.ApproveReopen)
}

func (h *Handler) RejectReopen(w http.ResponseWriter, r *http.Request) {
	h.resolveReopen(w, r, h.service.RejectReopen)
}

type resolveFunc func(ctx context.Context, id int64, in ResolveReopenInput, actor rbac.Actor) (*SalesOrder, error)

func (h *Handler) resolveReopen(w http.ResponseWriter, r *http.Request, resolve resolveFunc) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ResolveReopenInput
	if !h.decode(w, r, &req) {
		return
	}
	order, err := resolve(r.Context(), id, req, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) LineStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil || lineID < 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid line id")
		return
	}
	var req LineStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.UpdateLineStatus(r.Context(), id, lineID, req.Status, req.ExpectedVersion, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	breakdown, err := h.service.Recalculate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, breakdown)
}

func (h *Handler) ReplaceAttachment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentSize+1<<20)
	if err := r.ParseMultipartForm(maxAttachmentSize); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid multipart form")
		return
	}
	version, err := strconv.ParseInt(r.FormValue("expected_version"), 10, 64)
	if err != nil || version <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expected_version required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, ErrAttachmentRequired)
		return
	}
	defer file.Close()

	order, err := h.service.ReplaceAttachment(r.Context(), id, version, storage.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) RemoveAttachment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	version, err := strconv.ParseInt(r.URL.Query().Get("expected_version"), 10, 64)
	if err != nil || version <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expected_version required")
		return
	}
	order, err := h.service.RemoveAttachment(r.Context(), id, version, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) RecordStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req RecordStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.service.SetRecordStatus(r.Context(), id, req.Status, req.ExpectedVersion, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (rbac.Actor, bool) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	}
	return actor, ok
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+key)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.validationProblem(w, err)
		return false
	}
	return true
}

func (h *Handler) validationProblem(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(msgs, "; "))
}

// writeError maps engine error kinds onto problem responses. Reasons are
// surfaced verbatim.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAttachmentMissing):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, workflow.ErrStaleOrder):
		httpx.Problem(w, http.StatusConflict, "Stale Order", err.Error())
	case errors.Is(err, workflow.ErrReopenAlreadyPending), errors.Is(err, workflow.ErrNoReopenPending):
		httpx.Problem(w, http.StatusConflict, "Reopen Conflict", err.Error())
	case errors.Is(err, ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, workflow.ErrFieldNotEditable):
		httpx.Problem(w, http.StatusForbidden, "Field Not Editable", err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Transition", err.Error())
	case errors.Is(err, workflow.ErrInvalidLineStatusOnDraft):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Order Not Saved", err.Error())
	case errors.Is(err, workflow.ErrUnrecognizedState):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unrecognized State", err.Error())
	case errors.Is(err, workflow.ErrPricingInputInvalid),
		errors.Is(err, workflow.ErrReopenReasonRequired),
		errors.Is(err, ErrUnknownPaymentTerm),
		errors.Is(err, ErrAttachmentRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrStorageUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", err.Error())
	default:
		h.logger.Error("sales order request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
