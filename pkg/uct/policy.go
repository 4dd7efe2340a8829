package uct

import (
	"math"
	"math/rand"
)

// Picks the child of 'parent' to descend into. Policies are pure functions
// of the node statistics and the random source, no shared state between calls.
type SelectionPolicy[A MoveLike] func(t *Tree[A], parent nodeID, c float64, r *rand.Rand) nodeID

// Picks the rollout action among the legal ones
type RolloutPolicy[A MoveLike, G GameLike[A, G]] func(g G, legal []A, r *rand.Rand) A

// Picks the index of the untried action to expand
type ExpansionPolicy[A MoveLike] func(untried []A, r *rand.Rand) int

// UCB1 is the default selection policy:
//
//	score(child) = W(child)/N(child) + C * sqrt(ln N(parent) / N(child))
//
// where W is read from the perspective of the player to move at the parent.
// An unvisited child scores infinite, so every untried sibling is visited
// before any deeper exploration. Ties are broken uniformly at random, never
// by insertion order.
func UCB1[A MoveLike](t *Tree[A], parent nodeID, c float64, r *rand.Rand) nodeID {
	return ucb1Select(t, parent, c, r, nil)
}

// Shared by UCB1 and the ISUCT descent. With a non-nil availability filter
// only children legal in the current determinization compete, and the
// exploration term uses the child's availability count instead of the
// parent's visits (the root is always fully available, there N(parent)
// and availability coincide).
func ucb1Select[A MoveLike](t *Tree[A], parent nodeID, c float64, r *rand.Rand, legal map[A]struct{}) nodeID {
	p := t.node(parent)

	p.mu.Lock()
	persp := p.player
	parentN := p.n
	children := append([]nodeID(nil), p.children...)
	p.mu.Unlock()

	var (
		best      []nodeID
		bestScore = math.Inf(-1)
		unvisited []nodeID
		lnParent  = math.Log(float64(max(parentN, 1)))
	)

	for _, cid := range children {
		child := t.node(cid)
		if legal != nil {
			if _, ok := legal[child.action]; !ok {
				continue
			}
		}

		child.mu.Lock()
		n, vloss, w, avail := child.n, child.vloss, child.w[persp], child.avail
		child.mu.Unlock()

		if n-vloss <= 0 {
			unvisited = append(unvisited, cid)
			continue
		}
		if len(unvisited) > 0 {
			continue
		}

		ln := lnParent
		if legal != nil {
			ln = math.Log(float64(max(avail, 1)))
		}
		score := w/float64(n) + c*math.Sqrt(ln/float64(n))

		if score > bestScore {
			bestScore = score
			best = best[:0]
		}
		if score == bestScore {
			best = append(best, cid)
		}
	}

	if len(unvisited) > 0 {
		return unvisited[r.Intn(len(unvisited))]
	}
	if len(best) == 0 {
		return nilNode
	}
	return best[r.Intn(len(best))]
}

// Default rollout policy, uniformly random legal action
func UniformRollout[A MoveLike, G GameLike[A, G]](g G, legal []A, r *rand.Rand) A {
	return legal[r.Intn(len(legal))]
}

// Default expansion policy, uniformly random untried action
func UniformExpansion[A MoveLike](untried []A, r *rand.Rand) int {
	return r.Intn(len(untried))
}

// Final-selection score of a root child under the given policy,
// higher is better. Unvisited children never win.
func finalScore(policy FinalPolicy, secureK float64, n int32, w float64) float64 {
	if n <= 0 {
		return math.Inf(-1)
	}
	switch policy {
	case FinalMaxValue:
		return w / float64(n)
	case FinalSecureChild:
		return w/float64(n) - secureK/math.Sqrt(float64(n))
	default: // FinalMostVisits
		return float64(n)
	}
}

// Applies the final-selection policy over the root's children,
// ties broken uniformly at random
func bestRootChild[A MoveLike](t *Tree[A], policy FinalPolicy, secureK float64, r *rand.Rand) (nodeID, bool) {
	root := t.node(t.root)
	root.mu.Lock()
	persp := root.player
	children := append([]nodeID(nil), root.children...)
	root.mu.Unlock()

	var (
		best      []nodeID
		bestScore = math.Inf(-1)
	)
	for _, cid := range children {
		n, w := t.node(cid).stats(persp)
		score := finalScore(policy, secureK, n, w)
		if score > bestScore {
			bestScore = score
			best = best[:0]
		}
		if score == bestScore && !math.IsInf(score, -1) {
			best = append(best, cid)
		}
	}
	if len(best) == 0 {
		return nilNode, false
	}
	return best[r.Intn(len(best))], true
}
