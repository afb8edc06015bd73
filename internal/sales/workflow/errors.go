package workflow

import "errors"

// Error kinds surfaced by the engine. Callers match them with errors.Is; the
// wrapped message carries the reason shown to the actor.
var (
	ErrInvalidTransition        = errors.New("workflow: invalid transition")
	ErrFieldNotEditable         = errors.New("workflow: field not editable")
	ErrStaleOrder               = errors.New("workflow: stale order")
	ErrReopenAlreadyPending     = errors.New("workflow: reopen request already pending")
	ErrNoReopenPending          = errors.New("workflow: no reopen request pending")
	ErrInvalidLineStatusOnDraft = errors.New("workflow: save the order first")
	ErrPricingInputInvalid      = errors.New("workflow: pricing input invalid")
	ErrUnrecognizedState        = errors.New("workflow: unrecognized state")
	ErrReopenReasonRequired     = errors.New("workflow: reopen reason required")
)

// Rejection reasons reported with ErrInvalidTransition.
const (
	ReasonReopenPending  = "pending reopen request must be resolved first"
	ReasonRoleNotAllowed = "role not authorized for this transition"
	ReasonNotAdjacent    = "status is not reachable from the current status"
	ReasonTerminal       = "order is in a terminal status"
	ReasonCancelNotOwner = "only the stage owner may cancel"
	ReasonLineRegression = "line status cannot move backwards"
	ReasonLineTerminal   = "line is cancelled"
	ReasonLineRoleDenied = "role not authorized to change line status"
)
