package uct

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

type ParallelMode int

const (
	// Single worker, fully deterministic under a fixed seed
	ParallelNone ParallelMode = iota

	// Independent full trees built by independent workers, merged once by
	// summing root-action statistics before final selection. No shared
	// mutable state during the run.
	ParallelRoot

	// One shared tree, concurrent descents discouraged from collapsing
	// onto the same child through virtual loss
	ParallelTree

	// One descent per iteration, several concurrent rollouts from the same
	// leaf averaged into a single backpropagation
	ParallelLeaf
)

type FinalPolicy int

const (
	// Robust child, the default: most visited root child,
	// least sensitive to reward variance
	FinalMostVisits FinalPolicy = iota

	// Root child with the highest average reward
	FinalMaxValue

	// Root child maximizing W/N - k/sqrt(N), trading value
	// against confidence, k is Config.SecureK
	FinalSecureChild
)

type DeterminizeMode int

const (
	// One determinized sample per iteration, drawn at the root (default)
	DeterminizeRoot DeterminizeMode = iota

	// Re-sample the hidden information at every descent step,
	// more expensive, more accurate
	DeterminizeNode
)

const (
	DefaultMaxRolloutDepth = 1000
	DefaultLeafRollouts    = 4
)

// Search budget and tuning knobs, immutable for the duration of one Search call.
// Zero Iterations with a positive Movetime is a pure time-bound search. At least
// one of Iterations, Movetime or MaxNodes must be set, an all-unbounded config
// is an ErrEmptyBudget configuration error.
type Config struct {
	Exploration float64       // UCB1 C constant
	Iterations  uint32        // iteration budget, 0 means unbounded
	Movetime    time.Duration // wall-clock budget, 0 means unbounded
	MaxNodes    int           // tree size cap, expansion stops when reached, 0 means unbounded
	MaxDepth    int           // rollout depth safeguard
	SecureK     float64       // confidence weight of FinalSecureChild
	Seed        int64         // seed of every random source the search uses
	Workers     int           // worker count for the parallel modes
	Rollouts    int           // concurrent rollouts per leaf in ParallelLeaf
	Parallel    ParallelMode
	Final       FinalPolicy
	Determinize DeterminizeMode
}

func DefaultConfig() *Config {
	return &Config{
		Exploration: math.Sqrt2,
		MaxDepth:    DefaultMaxRolloutDepth,
		SecureK:     1.0,
		Seed:        time.Now().UnixNano(),
		Workers:     1,
		Rollouts:    DefaultLeafRollouts,
	}
}

func (c *Config) SetExploration(x float64) *Config {
	c.Exploration = math.Max(0, x)
	return c
}

func (c *Config) SetIterations(n uint32) *Config {
	c.Iterations = n
	return c
}

func (c *Config) SetMovetime(d time.Duration) *Config {
	c.Movetime = d
	return c
}

// SetMaxNodes caps the tree size. Alongside another budget the cap only
// freezes expansion, alone it stops the search once the tree is full. A
// nodes-only search over a domain whose tree never reaches the cap runs
// until cancelled, combine the cap with a movetime when in doubt.
func (c *Config) SetMaxNodes(n int) *Config {
	c.MaxNodes = n
	return c
}

func (c *Config) SetMaxDepth(depth int) *Config {
	if depth > 0 {
		c.MaxDepth = depth
	}
	return c
}

func (c *Config) SetSecureK(k float64) *Config {
	c.SecureK = k
	return c
}

func (c *Config) SetSeed(seed int64) *Config {
	c.Seed = seed
	return c
}

func (c *Config) SetWorkers(n int) *Config {
	c.Workers = max(1, n)
	return c
}

func (c *Config) SetRollouts(n int) *Config {
	c.Rollouts = max(1, n)
	return c
}

func (c *Config) SetParallel(mode ParallelMode) *Config {
	c.Parallel = mode
	return c
}

func (c *Config) SetFinal(policy FinalPolicy) *Config {
	c.Final = policy
	return c
}

func (c *Config) SetDeterminize(mode DeterminizeMode) *Config {
	c.Determinize = mode
	return c
}

// A budget must exist before any iteration runs
func (c *Config) validate() error {
	if c.Iterations == 0 && c.Movetime <= 0 && c.MaxNodes <= 0 {
		return ErrEmptyBudget
	}
	return nil
}

func (c Config) String() string {
	builder := strings.Builder{}
	_ = json.NewEncoder(&builder).Encode(c)
	return builder.String()
}
