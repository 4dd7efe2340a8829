package uct

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Builds a two-child root with hand-set statistics, the usual UCB1 test rig
func ucbFixture(t *testing.T, players int, rootPlayer PlayerID) (*Tree[int], nodeID, nodeID) {
	t.Helper()
	tr := newTree[int](players)
	root := tr.createRoot(rootPlayer, []int{1, 2}, false)
	a, err := tr.expand(root, 1, true, 0, nil, false)
	require.NoError(t, err)
	b, err := tr.expand(root, 2, true, 0, nil, false)
	require.NoError(t, err)
	return tr, a, b
}

func fillStats(nd *node[int], n int, reward []float64) {
	for i := 0; i < n; i++ {
		nd.record(reward)
	}
}

func TestUCB1UnvisitedFirst(t *testing.T) {
	tr, a, b := ucbFixture(t, 1, 0)
	rng := rand.New(rand.NewSource(1))

	// 'a' dominates on every term yet the unvisited 'b' must go first
	fillStats(tr.node(a), 50, []float64{1})
	fillStats(tr.node(tr.root), 50, []float64{1})

	assert.Equal(t, b, UCB1(tr, tr.root, math.Sqrt2, rng))
}

func TestUCB1BalancesExploitationAndExploration(t *testing.T) {
	tr, a, b := ucbFixture(t, 1, 0)
	rng := rand.New(rand.NewSource(1))

	// a: 9/10, b: 1/2, parent 12
	fillStats(tr.node(a), 10, []float64{0.9})
	fillStats(tr.node(b), 2, []float64{0.5})
	fillStats(tr.node(tr.root), 12, []float64{0})

	// pure exploitation picks the higher mean
	assert.Equal(t, a, UCB1(tr, tr.root, 0, rng))
	// a strong exploration constant flips to the under-sampled child
	assert.Equal(t, b, UCB1(tr, tr.root, 2, rng))
}

func TestUCB1UsesParentPerspective(t *testing.T) {
	// player 1 to move at the root, so selection must read the reward
	// vector through player 1's component
	tr, a, b := ucbFixture(t, 2, 1)
	rng := rand.New(rand.NewSource(1))

	fillStats(tr.node(a), 10, []float64{1, 0})
	fillStats(tr.node(b), 10, []float64{0.2, 0.8})
	fillStats(tr.node(tr.root), 20, []float64{0, 0})

	assert.Equal(t, b, UCB1(tr, tr.root, 0, rng))
}

func TestUCB1RandomTieBreak(t *testing.T) {
	tr, a, b := ucbFixture(t, 1, 0)
	rng := rand.New(rand.NewSource(7))

	fillStats(tr.node(a), 10, []float64{0.5})
	fillStats(tr.node(b), 10, []float64{0.5})
	fillStats(tr.node(tr.root), 20, []float64{0})

	picked := map[nodeID]int{}
	for i := 0; i < 200; i++ {
		picked[UCB1(tr, tr.root, math.Sqrt2, rng)]++
	}
	assert.Positive(t, picked[a], "tie never broken toward the first child")
	assert.Positive(t, picked[b], "tie never broken toward the second child")
}

func TestUCB1AvailabilityFilter(t *testing.T) {
	tr, a, b := ucbFixture(t, 1, 0)
	rng := rand.New(rand.NewSource(1))

	fillStats(tr.node(a), 1, []float64{0})
	fillStats(tr.node(b), 10, []float64{1})
	fillStats(tr.node(tr.root), 11, []float64{0})

	// only children legal under the current determinization compete
	legal := map[int]struct{}{1: {}}
	for i := 0; i < 20; i++ {
		assert.Equal(t, a, ucb1Select(tr, tr.root, math.Sqrt2, rng, legal))
	}
}

func TestFinalScore(t *testing.T) {
	assert.True(t, math.IsInf(finalScore(FinalMostVisits, 0, 0, 5), -1))
	assert.Equal(t, 40.0, finalScore(FinalMostVisits, 0, 40, 10))
	assert.InDelta(t, 0.25, finalScore(FinalMaxValue, 0, 40, 10), 1e-9)
	// secure child: W/N - k/sqrt(N)
	assert.InDelta(t, 0.25-1.0/math.Sqrt(40), finalScore(FinalSecureChild, 1.0, 40, 10), 1e-9)
}

func TestBestRootChildPolicies(t *testing.T) {
	tr, a, b := ucbFixture(t, 1, 0)
	rng := rand.New(rand.NewSource(1))

	// a: robust (100 visits, 0.55), b: sharp but thin (4 visits, 0.9)
	fillStats(tr.node(a), 100, []float64{0.55})
	fillStats(tr.node(b), 4, []float64{0.9})

	most, ok := bestRootChild(tr, FinalMostVisits, 0, rng)
	require.True(t, ok)
	assert.Equal(t, a, most)

	value, ok := bestRootChild(tr, FinalMaxValue, 0, rng)
	require.True(t, ok)
	assert.Equal(t, b, value)

	// with k=1: a scores 0.55-0.1=0.45, b scores 0.9-0.5=0.4
	secure, ok := bestRootChild(tr, FinalSecureChild, 1.0, rng)
	require.True(t, ok)
	assert.Equal(t, a, secure)
}

func TestBestRootChildNoVisitedChildren(t *testing.T) {
	tr := newTree[int](1)
	tr.createRoot(0, []int{1}, false)
	rng := rand.New(rand.NewSource(1))

	_, ok := bestRootChild(tr, FinalMostVisits, 0, rng)
	assert.False(t, ok)
}
