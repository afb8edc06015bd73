package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned when a role name is not part of the enum.
var ErrUnknownRole = errors.New("rbac: unknown role")

// Role identifies the department an actor acts for.
type Role string

const (
	// RoleSales owns NEW and RECEIVED.
	RoleSales Role = "SALES"
	// RoleManagerSales is a sales role that may resolve reopen requests.
	RoleManagerSales Role = "MANAGER_SALES"
	// RolePurchasing owns PR, PO, SR and DR.
	RolePurchasing Role = "PURCHASING"
	// RoleWarehouse owns DELIVERY and DELIVERED.
	RoleWarehouse Role = "WAREHOUSE"
	// RoleFinance owns FAR.
	RoleFinance Role = "FINANCE"
	// RoleSuperuser bypasses role gates.
	RoleSuperuser Role = "SUPERUSER"
)

// Roles lists every role in declaration order.
func Roles() []Role {
	return []Role{RoleSales, RoleManagerSales, RolePurchasing, RoleWarehouse, RoleFinance, RoleSuperuser}
}

// IsValid reports whether the role is part of the enum.
func (r Role) IsValid() bool {
	switch r {
	case RoleSales, RoleManagerSales, RolePurchasing, RoleWarehouse, RoleFinance, RoleSuperuser:
		return true
	}
	return false
}

// IsSales reports whether the role belongs to the sales department.
func (r Role) IsSales() bool {
	return r == RoleSales || r == RoleManagerSales
}

// ParseRole normalises and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// Capability names an action on sales orders.
type Capability string

const (
	CapOrderCreate      Capability = "sales.order.create"
	CapOrderEditDraft   Capability = "sales.order.edit_draft"
	CapOrderEditPayment Capability = "sales.order.edit_payment"
	CapReopenRequest    Capability = "sales.order.reopen.request"
	CapReopenResolve    Capability = "sales.order.reopen.resolve"
	CapLineStatusUpdate Capability = "sales.order.line.status"
	CapRecordStatus     Capability = "sales.order.record_status"
)

// Capabilities lists every capability in declaration order.
func Capabilities() []Capability {
	return []Capability{
		CapOrderCreate, CapOrderEditDraft, CapOrderEditPayment, CapReopenRequest,
		CapReopenResolve, CapLineStatusUpdate, CapRecordStatus,
	}
}

type capabilitySet map[Capability]struct{}

func newCapabilitySet(caps ...Capability) capabilitySet {
	set := make(capabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// capabilityTable is the single source of role grants. SUPERUSER is not
// listed because it passes every check.
var capabilityTable = map[Role]capabilitySet{
	RoleSales:        newCapabilitySet(CapOrderCreate, CapOrderEditDraft, CapReopenRequest),
	RoleManagerSales: newCapabilitySet(CapOrderCreate, CapOrderEditDraft, CapReopenRequest, CapReopenResolve),
	RolePurchasing:   newCapabilitySet(),
	RoleWarehouse:    newCapabilitySet(CapLineStatusUpdate),
	RoleFinance:      newCapabilitySet(CapOrderEditPayment),
}

// Can reports whether the role holds the capability.
func (r Role) Can(c Capability) bool {
	if r == RoleSuperuser {
		return true
	}
	set, ok := capabilityTable[r]
	if !ok {
		return false
	}
	_, ok = set[c]
	return ok
}

// Capabilities returns the capabilities the role holds, in declaration order.
func (r Role) Capabilities() []Capability {
	out := make([]Capability, 0)
	for _, c := range Capabilities() {
		if r.Can(c) {
			out = append(out, c)
		}
	}
	return out
}

// Actor is the authenticated caller passed explicitly into every engine call.
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// IsSuperuser reports whether the actor bypasses role gates.
func (a Actor) IsSuperuser() bool {
	return a.Role == RoleSuperuser
}

// Can reports whether the actor's role holds the capability.
func (a Actor) Can(c Capability) bool {
	return a.Role.Can(c)
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
