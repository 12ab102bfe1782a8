// Package position models the Position entity and its canonical state
// machine (SPEC_FULL §4.6, component F), the Order entity and its
// reference-shadow-column store (§4.7, component G), and the
// OrderChangeEvaluator observer that is the sole place allowed to enqueue
// drift-correction workflows (§9 "Observer-driven side effects").
package position

// Status is the canonical position lifecycle state (SPEC_FULL §4.6).
type Status string

const (
	StatusNew        Status = "new"
	StatusOpening    Status = "opening"
	StatusActive     Status = "active"
	StatusSyncing    Status = "syncing"
	StatusWaping     Status = "waping"
	StatusWatching   Status = "watching"
	StatusReplacing  Status = "replacing"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// legalTransitions encodes the diagram in SPEC_FULL §4.6:
//
//	new → opening → active ⇄ syncing
//	                 ↓        ↓
//	               waping → active
//	                 ↓
//	              watching → active
//	active|waping|watching → closing → closed
//	any non-terminal     → cancelling → cancelled
//	any                  → failed
//
// "replacing" (named in the Active-statuses list but not drawn in the
// diagram) is SmartReplaceOrders' working state; it follows the same
// shape as syncing/waping/watching: entered from and returns to active.
// Beyond the diagram, syncing and replacing may also move to closing;
// closing itself moves only to closed or failed, never to cancelling.
var legalTransitions = map[Status]map[Status]bool{
	StatusNew: {
		StatusOpening:    true,
		StatusCancelling: true,
		StatusFailed:     true,
	},
	StatusOpening: {
		StatusActive:     true,
		StatusCancelling: true,
		StatusFailed:     true,
	},
	StatusActive: {
		StatusSyncing:    true,
		StatusWaping:     true,
		StatusReplacing:  true,
		StatusClosing:    true,
		StatusCancelling: true,
		StatusFailed:     true,
	},
	StatusSyncing: {
		StatusActive:     true,
		StatusWaping:     true,
		StatusClosing:    true,
		StatusCancelling: true,
		StatusFailed:     true,
	},
	StatusWaping: {
		StatusActive:     true,
		StatusWatching:   true,
		StatusClosing:    true,
		StatusCancelling: true,
		StatusFailed:     true,
	},
	StatusWatching: {
		StatusActive:     true,
		StatusClosing:    true,
		StatusCancelling: true,
		StatusFailed:     true,
	},
	StatusReplacing: {
		StatusActive:     true,
		StatusClosing:    true,
		StatusCancelling: true,
		StatusFailed:     true,
	},
	StatusClosing: {
		StatusClosed: true,
		StatusFailed: true,
	},
	StatusCancelling: {
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusClosed:     {},
	StatusCancelled:  {},
	StatusFailed:     {},
}

// CanTransition reports whether moving from one status to another is a
// legal edge in the state machine. Transition methods are the only
// permitted mutators of status (SPEC_FULL §4.6); every one of them must
// route through this guard.
func CanTransition(from, to Status) bool {
	return legalTransitions[from][to]
}

// Terminal reports whether a position at this status can never transition
// again (invariant 5: "a position never leaves a terminal state").
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled || s == StatusFailed
}

// IsActive reports whether orders may be placed or modified while a
// position is at this status (SPEC_FULL §4.6 "Active statuses").
func (s Status) IsActive() bool {
	switch s {
	case StatusOpening, StatusActive, StatusSyncing, StatusWaping, StatusWatching, StatusReplacing:
		return true
	default:
		return false
	}
}

// IsOpened reports whether sync jobs are allowed at this status (SPEC_FULL
// §4.6 "Opened statuses").
func (s Status) IsOpened() bool {
	switch s {
	case StatusActive, StatusSyncing, StatusWaping, StatusWatching:
		return true
	default:
		return false
	}
}
