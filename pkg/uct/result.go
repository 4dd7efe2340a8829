package uct

import "time"

// Driver state machine: Idle -> Running -> {Completed, Cancelled, Failed}.
// A configuration error (ErrEmptyBudget) leaves the driver Idle, it is not
// a search failure. Finished drivers may be searched again.
type SearchState int32

const (
	StateIdle SearchState = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s SearchState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	case StateFailed:
		return "Failed"
	}
	return "Unknown"
}

// Outcome of one Search call: the chosen action plus the statistics
// of every root child and the run's soft-condition counters
type Result[A MoveLike] struct {
	Best  A
	Stats []RootStat[A]

	Iterations int
	MaxDepth   int
	TreeSize   int
	Elapsed    time.Duration
	StopReason StopReason

	// Rollouts stopped by the depth safeguard, soft condition, never fatal
	RolloutCutoffs int

	// Determinization samples contradicting the observer's information set,
	// reported, the search continues with degraded guarantees
	InconsistentSamples int
}
