package uct

import (
	"context"
	"sync/atomic"
	"time"
)

type StopReason int

const (
	StopNone       StopReason = 0
	StopInterrupt  StopReason = 1 << iota // cancellation signal or Stop() call
	StopMovetime                          // wall-clock budget exhausted
	StopIterations                        // iteration budget exhausted
	StopNodes                             // tree size cap reached
)

func (sr StopReason) String() string {
	if sr == StopNone {
		return "None"
	}

	reasons := []struct {
		flag StopReason
		name string
	}{
		{StopInterrupt, "Interrupt"},
		{StopMovetime, "Movetime"},
		{StopIterations, "Iterations"},
		{StopNodes, "Nodes"},
	}

	var result string
	for _, r := range reasons {
		if sr&r.flag == r.flag {
			if result != "" {
				result += "|"
			}
			result += r.name
		}
	}
	return result
}

// Checks the configured budget between iterations. An iteration in progress
// is never interrupted, workers call Ok before starting the next one, so the
// tree is never left partially updated.
type limiter struct {
	iterations uint32
	deadline   time.Time
	start      time.Time
	maxNodes   int
	stop       atomic.Bool
	expand     atomic.Bool
	reason     atomic.Int32
	ctx        context.Context
}

func newLimiter(cfg *Config, ctx context.Context) *limiter {
	l := &limiter{
		iterations: cfg.Iterations,
		maxNodes:   cfg.MaxNodes,
		start:      time.Now(),
		ctx:        ctx,
	}
	if cfg.Movetime > 0 {
		l.deadline = l.start.Add(cfg.Movetime)
	}
	l.expand.Store(true)
	return l
}

func (l *limiter) interrupted() bool {
	select {
	case <-l.ctx.Done():
		l.stop.Store(true)
	default:
	}
	return l.stop.Load()
}

// Whether another full iteration may start
func (l *limiter) ok(iterations uint32, size int) bool {
	reason := StopNone
	if l.interrupted() {
		reason |= StopInterrupt
	}
	// A time-bound search always completes at least one full iteration,
	// even when the budget expired before the first descent started
	if iterations > 0 && !l.deadline.IsZero() && !time.Now().Before(l.deadline) {
		reason |= StopMovetime
	}
	if l.iterations > 0 && iterations >= l.iterations {
		reason |= StopIterations
	}

	// A full tree alone does not stop a time- or iteration-bound search,
	// it only stops the tree from growing
	if l.maxNodes > 0 && size >= l.maxNodes {
		if l.iterations == 0 && l.deadline.IsZero() {
			reason |= StopNodes
		} else {
			l.expand.Store(false)
		}
	}

	if reason != StopNone {
		l.reason.Store(int32(reason))
		return false
	}
	return true
}

// Whether the tree may still grow
func (l *limiter) canExpand() bool {
	return l.expand.Load()
}

func (l *limiter) setStop() {
	l.stop.Store(true)
}

func (l *limiter) stopReason() StopReason {
	return StopReason(l.reason.Load())
}

func (l *limiter) elapsed() time.Duration {
	return time.Since(l.start)
}
