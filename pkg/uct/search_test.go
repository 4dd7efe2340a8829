package uct

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// One-shot two-armed bandit, arm 0 always pays out. The smallest domain
// that still separates a working search from a broken one.
type bandit struct {
	picked int
	done   bool
}

func (b bandit) LegalActions() []int {
	if b.done {
		return nil
	}
	return []int{0, 1}
}

func (b bandit) Apply(m int) (bandit, error) {
	if b.done || m < 0 || m > 1 {
		return b, errors.Wrapf(ErrInvalidAction, "arm %d", m)
	}
	return bandit{picked: m, done: true}, nil
}

func (b bandit) Terminal() bool { return b.done }

func (b bandit) Reward(p PlayerID) float64 {
	if b.picked == 0 {
		return 1
	}
	return 0
}

func (b bandit) Player() PlayerID { return 0 }
func (b bandit) NumPlayers() int  { return 1 }
func (b bandit) Clone() bandit    { return b }

// Normal-play Nim on a single heap, take 1-3 tokens, taking the last one
// wins. Optimal play leaves a multiple of four, so the best first move
// from n tokens is n mod 4.
type nim struct {
	tokens int
	mover  PlayerID
	winner PlayerID
	done   bool
}

func (g nim) LegalActions() []int {
	if g.done {
		return nil
	}
	take := min(3, g.tokens)
	moves := make([]int, take)
	for i := range moves {
		moves[i] = i + 1
	}
	return moves
}

func (g nim) Apply(m int) (nim, error) {
	if g.done || m < 1 || m > 3 || m > g.tokens {
		return g, errors.Wrapf(ErrInvalidAction, "take %d of %d", m, g.tokens)
	}
	next := nim{tokens: g.tokens - m, mover: 1 - g.mover}
	if next.tokens == 0 {
		next.done = true
		next.winner = g.mover
	}
	return next, nil
}

func (g nim) Terminal() bool { return g.done }

func (g nim) Reward(p PlayerID) float64 {
	if g.winner == p {
		return 1
	}
	return 0
}

func (g nim) Player() PlayerID { return g.mover }
func (g nim) NumPlayers() int  { return 2 }
func (g nim) Clone() nim       { return g }

// Single-action game that never terminates, exists to exercise the
// rollout depth safeguard and the heuristic fallbacks
type loop struct {
	eval  float64 // CutoffEvaluator result, <0 means not implemented there
	early bool    // EarlyTerminate result
	steps int
}

func (g loop) LegalActions() []int { return []int{0} }

func (g loop) Apply(m int) (loop, error) {
	if m != 0 {
		return g, ErrInvalidAction
	}
	g.steps++
	return g, nil
}

func (g loop) Terminal() bool            { return false }
func (g loop) Reward(p PlayerID) float64 { return 0 }
func (g loop) Player() PlayerID          { return 0 }
func (g loop) NumPlayers() int           { return 1 }
func (g loop) Clone() loop               { return g }

type loopEval struct{ loop }

func (g loopEval) Apply(m int) (loopEval, error) {
	next, err := g.loop.Apply(m)
	return loopEval{next}, err
}
func (g loopEval) Clone() loopEval             { return g }
func (g loopEval) Evaluate(p PlayerID) float64 { return g.eval }
func (g loopEval) EarlyTerminate() bool        { return g.early }

func TestSearchEmptyBudget(t *testing.T) {
	u := New[int](bandit{}, DefaultConfig())

	_, err := u.Search(context.Background())
	require.ErrorIs(t, err, ErrEmptyBudget)
	assert.Equal(t, StateIdle, u.State())
}

func TestBanditPrefersWinningArm(t *testing.T) {
	cfg := DefaultConfig().SetIterations(200).SetSeed(1)
	u := New[int](bandit{}, cfg)

	res, err := u.Search(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Best)
	assert.Equal(t, 200, res.Iterations)
	assert.Equal(t, StateCompleted, u.State())
	assert.NotZero(t, res.StopReason&StopIterations)

	// the winning arm must dominate the visit counts
	var n0, n1 int32
	for _, s := range res.Stats {
		if s.Action == 0 {
			n0 = s.Visits
		} else {
			n1 = s.Visits
		}
	}
	assert.Greater(t, n0, n1)
	assert.Equal(t, int32(200), n0+n1)
}

func TestSearchDeterministicUnderFixedSeed(t *testing.T) {
	run := func() Result[int] {
		cfg := DefaultConfig().SetIterations(500).SetSeed(99)
		u := New[int](nim{tokens: 9}, cfg)
		res, err := u.Search(context.Background())
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	assert.Equal(t, a.Best, b.Best)
	assert.Empty(t, cmp.Diff(a.Stats, b.Stats))
	assert.Equal(t, a.MaxDepth, b.MaxDepth)
	assert.Equal(t, a.TreeSize, b.TreeSize)
}

func TestNimConvergence(t *testing.T) {
	for _, tc := range []struct {
		tokens, best int
	}{
		{5, 1},
		{6, 2},
		{7, 3},
	} {
		cfg := DefaultConfig().SetIterations(10000).SetSeed(5)
		u := New[int](nim{tokens: tc.tokens}, cfg)

		res, err := u.Search(context.Background())
		require.NoError(t, err)
		assert.Equalf(t, tc.best, res.Best, "from %d tokens", tc.tokens)
	}
}

// N(node) never drops below the sum of its children's visits
func checkVisitInvariant(t *testing.T, s NodeSnapshot[int]) {
	t.Helper()
	var sum int32
	for _, c := range s.Children {
		sum += c.Visits
		checkVisitInvariant(t, c)
	}
	assert.GreaterOrEqual(t, s.Visits, sum)
}

func TestVisitCountInvariant(t *testing.T) {
	cfg := DefaultConfig().SetIterations(2000).SetSeed(3)
	u := New[int](nim{tokens: 10}, cfg)

	_, err := u.Search(context.Background())
	require.NoError(t, err)
	checkVisitInvariant(t, u.Snapshot())
}

func TestTimeBudgetRunsAtLeastOneIteration(t *testing.T) {
	cfg := DefaultConfig().SetMovetime(30 * time.Millisecond).SetSeed(1)
	u := New[int](nim{tokens: 9}, cfg)

	res, err := u.Search(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Iterations, 1)
	assert.NotZero(t, res.StopReason&StopMovetime)
}

func TestExpiredTimeBudgetStillPicksAMove(t *testing.T) {
	// a deadline that passed before the first descent must not produce an
	// empty result, the first iteration always completes
	cfg := DefaultConfig().SetMovetime(time.Nanosecond).SetSeed(7)
	u := New[int](bandit{}, cfg)

	res, err := u.Search(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Iterations, 1)
	assert.NotEmpty(t, res.Stats)
	assert.NotZero(t, res.StopReason&StopMovetime)
	assert.Equal(t, StateCompleted, u.State())
}

func TestContextCancellation(t *testing.T) {
	cfg := DefaultConfig().SetMovetime(5 * time.Second).SetSeed(1)
	u := New[int](nim{tokens: 15}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := u.Search(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, u.State())
	assert.NotZero(t, res.StopReason&StopInterrupt)
	assert.Less(t, time.Since(start), time.Second)
	// the interrupted search still reports its partial statistics
	assert.NotEmpty(t, res.Stats)
}

func TestStopWhileRunning(t *testing.T) {
	cfg := DefaultConfig().SetMovetime(5 * time.Second).SetSeed(1)
	u := New[int](nim{tokens: 15}, cfg)

	done := make(chan Result[int], 1)
	go func() {
		res, err := u.Search(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, u.IsSearching())
	assert.ErrorIs(t, u.Advance(1), ErrAlreadyRunning)
	u.Stop()

	res := <-done
	assert.Equal(t, StateCancelled, u.State())
	assert.NotZero(t, res.StopReason&StopInterrupt)
}

func TestMaxNodesFreezesTree(t *testing.T) {
	cfg := DefaultConfig().SetIterations(3000).SetMaxNodes(50).SetSeed(2)
	u := New[int](nim{tokens: 15}, cfg)

	res, err := u.Search(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, res.TreeSize, 50)
	// the cap freezes growth, it does not stop an iteration-bound search
	assert.Equal(t, 3000, res.Iterations)
	assert.NotZero(t, res.StopReason&StopIterations)
}

func TestMaxNodesOnlyBudgetStopsWhenFull(t *testing.T) {
	// a node cap as the only bound is a valid budget, the search stops
	// once the tree is full
	cfg := DefaultConfig().SetMaxNodes(40).SetSeed(3)
	u := New[int](nim{tokens: 30}, cfg)

	res, err := u.Search(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 40, res.TreeSize)
	assert.GreaterOrEqual(t, res.Iterations, 1)
	assert.NotZero(t, res.StopReason&StopNodes)
	assert.Equal(t, StateCompleted, u.State())
}

func TestAdvanceReusesSubtree(t *testing.T) {
	cfg := DefaultConfig().SetIterations(2000).SetSeed(4)
	u := New[int](nim{tokens: 5}, cfg)

	res, err := u.Search(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Best)

	sizeBefore := u.Size()
	require.NoError(t, u.Advance(res.Best))
	assert.Less(t, u.Size(), sizeBefore)
	assert.Positive(t, u.Size())

	// an illegal move is rejected by the domain before the tree is touched
	assert.ErrorIs(t, u.Advance(99), ErrInvalidAction)

	// the driver searches again from the promoted root
	res, err = u.Search(context.Background())
	require.NoError(t, err)
	assert.Contains(t, []int{1, 2, 3}, res.Best)
}

func TestRolloutDepthCutoff(t *testing.T) {
	cfg := DefaultConfig().SetIterations(50).SetMaxDepth(5).SetSeed(1)
	u := New[int](loop{}, cfg)

	res, err := u.Search(context.Background())
	require.NoError(t, err)

	// every rollout hits the safeguard, every reward falls back to 0.5
	assert.Equal(t, 50, res.RolloutCutoffs)
	require.Len(t, res.Stats, 1)
	assert.InDelta(t, 0.5, res.Stats[0].WinRate, 1e-9)
}

func TestCutoffEvaluatorReward(t *testing.T) {
	cfg := DefaultConfig().SetIterations(50).SetMaxDepth(5).SetSeed(1)
	u := New[int](loopEval{loop{eval: 0.9}}, cfg)

	res, err := u.Search(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 50, res.RolloutCutoffs)
	require.Len(t, res.Stats, 1)
	assert.InDelta(t, 0.9, res.Stats[0].WinRate, 1e-9)
}

func TestEarlyTermination(t *testing.T) {
	cfg := DefaultConfig().SetIterations(50).SetSeed(1)
	u := New[int](loopEval{loop{eval: 0.7, early: true}}, cfg)

	res, err := u.Search(context.Background())
	require.NoError(t, err)

	// early termination is a clean heuristic stop, not a cutoff
	assert.Zero(t, res.RolloutCutoffs)
	require.Len(t, res.Stats, 1)
	assert.InDelta(t, 0.7, res.Stats[0].WinRate, 1e-9)
}

func TestDomainErrorFailsSearch(t *testing.T) {
	cfg := DefaultConfig().SetIterations(100).SetSeed(1)
	u := New[int](brokenGame{}, cfg)

	_, err := u.Search(context.Background())
	require.ErrorIs(t, err, errBroken)
	assert.Equal(t, StateFailed, u.State())
}

var errBroken = errors.New("broken domain")

type brokenGame struct{}

func (brokenGame) LegalActions() []int            { return []int{0, 1} }
func (brokenGame) Apply(m int) (brokenGame, error) { return brokenGame{}, errBroken }
func (brokenGame) Terminal() bool                 { return false }
func (brokenGame) Reward(p PlayerID) float64      { return 0 }
func (brokenGame) Player() PlayerID               { return 0 }
func (brokenGame) NumPlayers() int                { return 1 }
func (brokenGame) Clone() brokenGame              { return brokenGame{} }

func TestListenerCallbacks(t *testing.T) {
	cfg := DefaultConfig().SetIterations(200).SetSeed(1)
	u := New[int](nim{tokens: 9}, cfg)

	var depths, iterations, stops int
	listener := NewStatsListener[int]().
		OnDepth(func(st ListenerStats[int]) { depths++ }).
		OnIteration(func(st ListenerStats[int]) { iterations++ }).
		SetIterationInterval(50).
		OnStop(func(st ListenerStats[int]) {
			stops++
			assert.NotZero(t, st.StopReason&StopIterations)
			assert.NotEmpty(t, st.Pv)
		})
	u.SetListener(listener)

	_, err := u.Search(context.Background())
	require.NoError(t, err)

	assert.Positive(t, depths)
	assert.Equal(t, 4, iterations) // every 50th of 200
	assert.Equal(t, 1, stops)
}

func TestParallelModes(t *testing.T) {
	for _, tc := range []struct {
		name string
		mode ParallelMode
	}{
		{"root", ParallelRoot},
		{"tree", ParallelTree},
		{"leaf", ParallelLeaf},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig().
				SetIterations(2000).
				SetWorkers(4).
				SetParallel(tc.mode).
				SetSeed(3)
			u := New[int](nim{tokens: 7}, cfg)

			res, err := u.Search(context.Background())
			require.NoError(t, err)

			assert.Equal(t, StateCompleted, u.State())
			assert.GreaterOrEqual(t, res.Iterations, 2000)
			assert.Contains(t, []int{1, 2, 3}, res.Best)
			assert.NotEmpty(t, res.Stats)
			checkVisitInvariant(t, u.Snapshot())
		})
	}
}

func TestSearchStateString(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Completed", StateCompleted.String())
	assert.Equal(t, "Cancelled", StateCancelled.String())
	assert.Equal(t, "Failed", StateFailed.String())
}
