package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/order-engine/internal/platform/httpx"
)

// RoleGrant is one row of the capability table.
type RoleGrant struct {
	Role         Role         `json:"role"`
	Capabilities []Capability `json:"capabilities"`
}

// Handler exposes the capability table to API clients.
type Handler struct{}

// NewHandler constructs the handler.
func NewHandler() *Handler {
	return &Handler{}
}

// MountRoutes registers the role endpoints. Callers install authentication.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(RequireAny()).Get("/roles", h.listRoles)
	r.With(RequireAny()).Get("/me", h.me)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	grants := make([]RoleGrant, 0, len(Roles()))
	for _, role := range Roles() {
		grants = append(grants, RoleGrant{Role: role, Capabilities: role.Capabilities()})
	}
	httpx.JSON(w, http.StatusOK, grants)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, struct {
		Actor        Actor        `json:"actor"`
		Capabilities []Capability `json:"capabilities"`
	}{actor, actor.Role.Capabilities()})
}
