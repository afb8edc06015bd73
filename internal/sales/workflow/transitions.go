package workflow

import (
	"fmt"

	"github.com/odyssey-erp/order-engine/internal/rbac"
)

type statusSet map[Status]struct{}

func newStatusSet(statuses ...Status) statusSet {
	set := make(statusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

func (s statusSet) has(status Status) bool {
	_, ok := s[status]
	return ok
}

type edge struct {
	from Status
	to   Status
}

// successors is the directed workflow graph. PR->NEW is the only backward
// edge and exists for the reopen rollback.
var successors = map[Status]statusSet{
	StatusNew:       newStatusSet(StatusPR, StatusCancelled),
	StatusPR:        newStatusSet(StatusPO, StatusNew, StatusCancelled),
	StatusPO:        newStatusSet(StatusSR, StatusCancelled),
	StatusSR:        newStatusSet(StatusFAR, StatusCancelled),
	StatusFAR:       newStatusSet(StatusDR, StatusCancelled),
	StatusDR:        newStatusSet(StatusDelivery, StatusCancelled),
	StatusDelivery:  newStatusSet(StatusDelivered, StatusCancelled),
	StatusDelivered: newStatusSet(StatusReceived, StatusCancelled),
	StatusReceived:  newStatusSet(StatusCompleted, StatusCancelled),
	StatusCompleted: newStatusSet(),
	StatusCancelled: newStatusSet(),
}

var salesDestinations = newStatusSet(StatusNew, StatusPR, StatusReceived, StatusCompleted, StatusCancelled)

// roleDestinations lists the statuses each role may move an order into.
var roleDestinations = map[rbac.Role]statusSet{
	rbac.RoleSales:        salesDestinations,
	rbac.RoleManagerSales: salesDestinations,
	rbac.RolePurchasing:   newStatusSet(StatusPR, StatusPO, StatusSR, StatusFAR, StatusDR, StatusCancelled),
	rbac.RoleWarehouse:    newStatusSet(StatusDelivery, StatusDelivered, StatusCancelled),
	rbac.RoleFinance:      newStatusSet(StatusFAR, StatusCancelled),
}

// forbiddenEdges override roleDestinations.
var forbiddenEdges = map[rbac.Role][]edge{
	rbac.RoleSales:      {{from: StatusPR, to: StatusNew}},
	rbac.RolePurchasing: {{from: StatusNew, to: StatusPR}},
}

// extraEdges are granted even though the destination is outside the role set.
var extraEdges = map[rbac.Role][]edge{
	rbac.RolePurchasing: {{from: StatusPR, to: StatusNew}},
}

// purchasingForward are blocked while a reopen request is pending at PR.
var purchasingForward = newStatusSet(StatusPO, StatusSR, StatusFAR, StatusDR)

var stageOwners = map[Status][]rbac.Role{
	StatusNew:       {rbac.RoleSales, rbac.RoleManagerSales},
	StatusPR:        {rbac.RolePurchasing},
	StatusPO:        {rbac.RolePurchasing},
	StatusSR:        {rbac.RolePurchasing},
	StatusFAR:       {rbac.RoleFinance},
	StatusDR:        {rbac.RolePurchasing},
	StatusDelivery:  {rbac.RoleWarehouse},
	StatusDelivered: {rbac.RoleWarehouse},
	StatusReceived:  {rbac.RoleSales, rbac.RoleManagerSales},
}

// Successors returns the one-hop successors of s in pipeline order.
func Successors(s Status) []Status {
	next := successors[s]
	out := make([]Status, 0, len(next))
	for _, candidate := range Statuses() {
		if next.has(candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

// StageOwners returns the roles owning the stage. Terminal stages have none.
func StageOwners(s Status) []rbac.Role {
	return stageOwners[s]
}

// OwnsStage reports whether role owns stage s.
func OwnsStage(role rbac.Role, s Status) bool {
	for _, owner := range stageOwners[s] {
		if owner == role {
			return true
		}
	}
	return false
}

// Decision is the outcome of a transition check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a rejection into an ErrInvalidTransition carrying the reason.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidTransition, d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// CanTransition validates moving an order from current to requested for an
// actor of the given role. Rules are evaluated in order and the first match
// wins. Unknown statuses are an error rather than a rejection. A pending reopen
// blocks only purchasing's forward moves; an allowed move out of PR/NEW must
// close the request (see CloseSuperseded).
func CanTransition(current, requested Status, role rbac.Role, reopenPending bool) (Decision, error) {
	if !current.IsValid() {
		return Decision{}, fmt.Errorf("%w: workflow status %q", ErrUnrecognizedState, current)
	}
	if !requested.IsValid() {
		return Decision{}, fmt.Errorf("%w: workflow status %q", ErrUnrecognizedState, requested)
	}
	if requested == current {
		return allow(), nil
	}
	if current.IsTerminal() {
		return deny(ReasonTerminal), nil
	}
	if !successors[current].has(requested) {
		return deny(ReasonNotAdjacent), nil
	}
	if role == rbac.RoleSuperuser {
		return allow(), nil
	}
	if reopenPending && role == rbac.RolePurchasing && current == StatusPR && purchasingForward.has(requested) {
		return deny(ReasonReopenPending), nil
	}
	if requested == StatusCancelled && !OwnsStage(role, current) {
		return deny(ReasonCancelNotOwner), nil
	}
	for _, e := range forbiddenEdges[role] {
		if e.from == current && e.to == requested {
			return deny(ReasonRoleNotAllowed), nil
		}
	}
	for _, e := range extraEdges[role] {
		if e.from == current && e.to == requested {
			return allow(), nil
		}
	}
	if roleDestinations[role].has(requested) {
		return allow(), nil
	}
	return deny(ReasonRoleNotAllowed), nil
}

// AllowedStatuses filters the enum through CanTransition. The current status
// is always included.
func AllowedStatuses(current Status, role rbac.Role, reopenPending bool) []Status {
	out := make([]Status, 0, 3)
	for _, candidate := range Statuses() {
		decision, err := CanTransition(current, candidate, role, reopenPending)
		if err != nil {
			return nil
		}
		if decision.Allowed {
			out = append(out, candidate)
		}
	}
	return out
}
