package model

// LifecycleState is the scheduler-derived state of a survey instance.
// States are ordered: draft < scheduled < published < closed. The scheduler
// only ever moves a survey forward through this order.
type LifecycleState string

const (
	StateDraft     LifecycleState = "draft"
	StateScheduled LifecycleState = "scheduled"
	StatePublished LifecycleState = "published"
	StateClosed    LifecycleState = "closed"
)

var stateRanks = map[LifecycleState]int{
	StateDraft:     0,
	StateScheduled: 1,
	StatePublished: 2,
	StateClosed:    3,
}

// Rank returns the position of the state in the lifecycle order, or -1 for
// an unknown state.
func (s LifecycleState) Rank() int {
	if r, ok := stateRanks[s]; ok {
		return r
	}
	return -1
}

func (s LifecycleState) Valid() bool {
	return s.Rank() >= 0
}

var statesInOrder = []LifecycleState{StateDraft, StateScheduled, StatePublished, StateClosed}

// StatesBetween lists every state after from up to and including to, in
// lifecycle order. An empty slice means there is nothing to apply: either the
// states are equal or the persisted state is already ahead of the target.
func StatesBetween(from, to LifecycleState) []LifecycleState {
	fromRank, toRank := from.Rank(), to.Rank()
	if fromRank < 0 || toRank < 0 || toRank <= fromRank {
		return nil
	}
	return statesInOrder[fromRank+1 : toRank+1]
}
