package domain

// DocumentStatus tracks a document through the office workflow.
//
// Transitions are monotonic forward: PENDING → IN_PROGRESS → READY →
// DELIVERED. Reversions are allowed one step back and must carry a reason
// (see Document.ApplyReversion); DELIVERED is terminal.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusInProgress DocumentStatus = "IN_PROGRESS"
	StatusReady      DocumentStatus = "READY"
	StatusDelivered  DocumentStatus = "DELIVERED"
)

var statusOrder = map[DocumentStatus]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusReady:      2,
	StatusDelivered:  3,
}

func (s DocumentStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// CanTransitionTo reports whether the forward transition s → next is allowed.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// CanRevertTo reports whether s → prev is an allowed reversion. Only a single
// step back is permitted and delivered documents never revert.
func (s DocumentStatus) CanRevertTo(prev DocumentStatus) bool {
	if s == StatusDelivered {
		return false
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[prev]
	if !ok {
		return false
	}
	return from-to == 1
}

// GroupStatus tracks a delivery group. Groups are created READY and move to
// DELIVERED exactly once; they are never destroyed.
type GroupStatus string

const (
	GroupStatusReady     GroupStatus = "READY"
	GroupStatusDelivered GroupStatus = "DELIVERED"
)
