package uct

import "time"

// Point-in-time view of a running search, handed to listener callbacks
type ListenerStats[A MoveLike] struct {
	Iterations int
	MaxDepth   int
	Ips        uint32 // iterations per second
	TreeSize   int
	Elapsed    time.Duration
	Eval       float64 // win rate of the current best root child
	Pv         []A     // principal variation under FinalMostVisits
	StopReason StopReason
}

// Listener function callback, receives current tree statistics
type ListenerFunc[A MoveLike] func(ListenerStats[A])

// StatsListener delivers search progress to the caller. Callbacks run on
// the main search worker only, so no synchronization is needed inside them.
type StatsListener[A MoveLike] struct {
	// called when the maximum tree depth increases
	onDepth ListenerFunc[A]

	// called every N full iterations, pv evaluation makes this expensive,
	// keep the interval coarse outside debugging
	onIteration ListenerFunc[A]
	nIterations int

	// called once when the search stops, StopReason is valid here
	onStop ListenerFunc[A]
}

func NewStatsListener[A MoveLike]() *StatsListener[A] {
	return &StatsListener[A]{nIterations: 1}
}

func (l *StatsListener[A]) OnDepth(f ListenerFunc[A]) *StatsListener[A] {
	l.onDepth = f
	return l
}

func (l *StatsListener[A]) OnIteration(f ListenerFunc[A]) *StatsListener[A] {
	l.onIteration = f
	return l
}

func (l *StatsListener[A]) OnStop(f ListenerFunc[A]) *StatsListener[A] {
	l.onStop = f
	return l
}

func (l *StatsListener[A]) SetIterationInterval(n int) *StatsListener[A] {
	if n < 1 {
		n = 1
	}
	l.nIterations = n
	return l
}
