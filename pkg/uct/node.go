package uct

import "sync"

// Index into the tree's arena, the only way nodes refer to each other
type nodeID int32

const nilNode nodeID = -1

// Tree element, lives in the arena and is addressed by nodeID only.
// Parent links are plain indices used for backpropagation, the owning
// relation goes parent -> children through the arena.
//
// All statistics are guarded by mu, a node-local lock. Structural fields
// (children, untried) are guarded by the same lock on the parent side.
// Lock order is always parent before child, and never more than two deep.
type node[A MoveLike] struct {
	mu sync.Mutex

	action   A
	parent   nodeID
	mover    PlayerID // player who moved into this node
	player   PlayerID // player to move at this node
	terminal bool
	freed    bool

	untried  []A // shuffled once at creation, drained by expansion
	children []nodeID

	n     int32
	vloss int32 // virtual loss currently applied, vloss <= n always
	avail int32 // times this node was available during selection at its parent
	w     []float64
}

// Counts the visit with an implicit loss for the mover, discouraging
// concurrent workers from collapsing onto the same path. Reversed by
// revertLoss before the real result is recorded.
func (nd *node[A]) applyLoss() {
	nd.mu.Lock()
	nd.n++
	nd.vloss++
	nd.mu.Unlock()
}

func (nd *node[A]) revertLoss() {
	nd.mu.Lock()
	nd.n--
	nd.vloss--
	nd.mu.Unlock()
}

// Fold one simulation result into the node. Increments N by exactly 1
// and accumulates the whole reward vector, the perspective-relevant
// component is extracted at selection time.
func (nd *node[A]) record(reward []float64) {
	nd.mu.Lock()
	nd.n++
	for p, r := range reward {
		nd.w[p] += r
	}
	nd.mu.Unlock()
}

// Visits and the accumulated reward for one player, read consistently
func (nd *node[A]) stats(p PlayerID) (n int32, w float64) {
	nd.mu.Lock()
	n, w = nd.n, nd.w[p]
	nd.mu.Unlock()
	return
}

func (nd *node[A]) visits() int32 {
	nd.mu.Lock()
	n := nd.n
	nd.mu.Unlock()
	return n
}

func (nd *node[A]) availability() int32 {
	nd.mu.Lock()
	a := nd.avail
	nd.mu.Unlock()
	return a
}

func (nd *node[A]) markAvailable() {
	nd.mu.Lock()
	nd.avail++
	nd.mu.Unlock()
}
