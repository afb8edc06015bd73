package orders

import (
	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/order-engine/internal/rbac"
)

// MountRoutes registers order endpoints. The caller installs the actor
// authentication middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny())
		r.Get("/orders", h.List)
		r.Post("/orders/recalculate", h.Recalculate)
		r.Get("/orders/{id}", h.Show)
		r.Get("/orders/{id}/permissions", h.Permissions)
		r.Get("/orders/{id}/history", h.History)
		r.Patch("/orders/{id}", h.Update)
		r.Post("/orders/{id}/transitions", h.Transition)
		r.Put("/orders/{id}/attachment", h.ReplaceAttachment)
		r.Delete("/orders/{id}/attachment", h.RemoveAttachment)
	})
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny(rbac.CapOrderCreate))
		r.Post("/orders", h.Create)
	})
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny(rbac.CapReopenRequest))
		r.Post("/orders/{id}/reopen", h.RequestReopen)
	})
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny(rbac.CapReopenResolve))
		r.Post("/orders/{id}/reopen/approve", h.ApproveReopen)
		r.Post("/orders/{id}/reopen/reject", h.RejectReopen)
	})
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny(rbac.CapLineStatusUpdate))
		r.Put("/orders/{id}/lines/{lineID}/status", h.LineStatus)
	})
	r.Group(func(r chi.Router) {
		r.Use(rbac.RequireAny(rbac.CapRecordStatus))
		r.Put("/orders/{id}/record-status", h.RecordStatus)
	})
}
