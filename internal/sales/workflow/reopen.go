package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/order-engine/internal/rbac"
)

// ReopenStatus tags a ReopenRequest.
type ReopenStatus string

const (
	ReopenPending  ReopenStatus = "PENDING"
	ReopenApproved ReopenStatus = "APPROVED"
	ReopenRejected ReopenStatus = "REJECTED"
)

// IsValid reports whether the reopen status is known.
func (s ReopenStatus) IsValid() bool {
	return s == ReopenPending || s == ReopenApproved || s == ReopenRejected
}

// ReopenRequest records a request to roll an order at PR back to NEW.
type ReopenRequest struct {
	ID             int64        `json:"id"`
	Status         ReopenStatus `json:"status"`
	Reason         string       `json:"reason"`
	RequestedBy    int64        `json:"requested_by"`
	RequestedAt    time.Time    `json:"requested_at"`
	ResolvedBy     *int64       `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	ResolutionNote string       `json:"resolution_note,omitempty"`
}

// ReopenLog is the ordered history of reopen requests of one order. Only the
// last entry may be pending.
type ReopenLog []ReopenRequest

// IsPending reports whether the latest request is unresolved.
func (l ReopenLog) IsPending() bool {
	return len(l) > 0 && l[len(l)-1].Status == ReopenPending
}

// Pending returns the unresolved request, if any.
func (l ReopenLog) Pending() (ReopenRequest, bool) {
	if !l.IsPending() {
		return ReopenRequest{}, false
	}
	return l[len(l)-1], true
}

func (l ReopenLog) clone() ReopenLog {
	out := make(ReopenLog, len(l), len(l)+1)
	copy(out, l)
	return out
}

// AppendRequest adds a pending request. The reason must be non-blank and free
// of reserved markers, and no other request may be pending.
func AppendRequest(log ReopenLog, reason string, actor rbac.Actor, at time.Time) (ReopenLog, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReopenReasonRequired
	}
	if err := ValidateNoteText(reason); err != nil {
		return nil, err
	}
	if log.IsPending() {
		return nil, ErrReopenAlreadyPending
	}
	out := log.clone()
	out = append(out, ReopenRequest{
		Status:      ReopenPending,
		Reason:      reason,
		RequestedBy: actor.ID,
		RequestedAt: at,
	})
	return out, nil
}

// AppendApproval resolves the pending request as approved and returns the
// status the order must be reset to.
func AppendApproval(log ReopenLog, approver rbac.Actor, note string, at time.Time) (ReopenLog, Status, error) {
	out, err := resolve(log, approver, ReopenApproved, note, at)
	if err != nil {
		return nil, "", err
	}
	return out, StatusNew, nil
}

// AppendRejection resolves the pending request as rejected. The workflow
// status is left untouched.
func AppendRejection(log ReopenLog, approver rbac.Actor, note string, at time.Time) (ReopenLog, error) {
	return resolve(log, approver, ReopenRejected, note, at)
}

// HoldsReopen reports whether a pending request may stay open while the order
// is at s. Only PR and NEW qualify.
func HoldsReopen(s Status) bool {
	return s == StatusPR || s == StatusNew
}

// CloseSuperseded rejects the pending request because the order is moving to
// a status where it can no longer be approved. Any actor allowed to make that
// move closes the request; the note names the destination.
func CloseSuperseded(log ReopenLog, actor rbac.Actor, to Status, at time.Time) (ReopenLog, error) {
	if !log.IsPending() {
		return nil, ErrNoReopenPending
	}
	return settle(log, actor, ReopenRejected, fmt.Sprintf("superseded by transition to %s", to), at), nil
}

func resolve(log ReopenLog, approver rbac.Actor, outcome ReopenStatus, note string, at time.Time) (ReopenLog, error) {
	if !approver.Can(rbac.CapReopenResolve) {
		return nil, fmt.Errorf("%w: role %s may not resolve reopen requests", ErrInvalidTransition, approver.Role)
	}
	if !log.IsPending() {
		return nil, ErrNoReopenPending
	}
	note = strings.TrimSpace(note)
	if err := ValidateNoteText(note); err != nil {
		return nil, err
	}
	return settle(log, approver, outcome, note, at), nil
}

func settle(log ReopenLog, by rbac.Actor, outcome ReopenStatus, note string, at time.Time) ReopenLog {
	out := log.clone()
	last := &out[len(out)-1]
	resolvedBy := by.ID
	resolvedAt := at
	last.Status = outcome
	last.ResolvedBy = &resolvedBy
	last.ResolvedAt = &resolvedAt
	last.ResolutionNote = note
	return out
}

// Reserved markers were once written into the note to encode reopen state.
// They are refused in any free-text input so that text cannot impersonate
// workflow state.
const (
	MarkerRequest  = "[REOPEN_REQUEST]"
	MarkerApproved = "[REOPEN_APPROVED]"
	MarkerRejected = "[REOPEN_REJECTED]"
)

// ReservedMarkers lists the marker tokens.
func ReservedMarkers() []string {
	return []string{MarkerRequest, MarkerApproved, MarkerRejected}
}

// normalizeMarkerText folds case and the separators users substitute for the
// underscore.
func normalizeMarkerText(s string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToUpper(s))
}

// ValidateNoteText rejects text containing a reserved marker, ignoring case.
func ValidateNoteText(text string) error {
	if text == "" {
		return nil
	}
	normalized := normalizeMarkerText(text)
	for _, marker := range ReservedMarkers() {
		if strings.Contains(normalized, marker) {
			return fmt.Errorf("%w: note contains reserved marker %s", ErrFieldNotEditable, marker)
		}
	}
	return nil
}

// ParseLegacyNote extracts marker lines written by the old note encoding into
// a ReopenLog and returns the remaining free text. Entries get at as their
// timestamp because the encoding carried none.
func ParseLegacyNote(note string, at time.Time) (string, ReopenLog, error) {
	var (
		log  ReopenLog
		kept []string
	)
	for i, line := range strings.Split(note, "\n") {
		marker, rest, ok := cutMarker(line)
		if !ok {
			kept = append(kept, line)
			continue
		}
		switch marker {
		case MarkerRequest:
			if log.IsPending() {
				return "", nil, fmt.Errorf("%w: line %d: request while another is pending", ErrUnrecognizedState, i+1)
			}
			log = append(log, ReopenRequest{Status: ReopenPending, Reason: rest, RequestedAt: at})
		case MarkerApproved, MarkerRejected:
			if !log.IsPending() {
				return "", nil, fmt.Errorf("%w: line %d: resolution without request", ErrUnrecognizedState, i+1)
			}
			last := &log[len(log)-1]
			resolvedAt := at
			last.Status = ReopenApproved
			if marker == MarkerRejected {
				last.Status = ReopenRejected
			}
			last.ResolvedAt = &resolvedAt
			last.ResolutionNote = rest
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), log, nil
}

func cutMarker(line string) (string, string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, marker := range ReservedMarkers() {
		if len(trimmed) < len(marker) {
			continue
		}
		if normalizeMarkerText(trimmed[:len(marker)]) == marker {
			return marker, strings.TrimSpace(trimmed[len(marker):]), true
		}
	}
	return "", "", false
}
