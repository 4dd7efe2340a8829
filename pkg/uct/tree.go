package uct

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

const (
	arenaBlockBits = 10
	arenaBlockSize = 1 << arenaBlockBits
	arenaBlockMask = arenaBlockSize - 1
)

// Tree owns every node of one search session through an index-addressed
// arena. Nodes are allocated in fixed-size blocks so their addresses stay
// stable while the arena grows, workers may hold a *node across an
// allocation by another worker. Discarded subtrees are marked free and
// their slots recycled.
type Tree[A MoveLike] struct {
	mu      sync.RWMutex // guards blocks growth and the freelist
	blocks  []*[arenaBlockSize]node[A]
	next    nodeID
	free    []nodeID
	count   atomic.Int32
	root    nodeID
	players int
}

func newTree[A MoveLike](players int) *Tree[A] {
	return &Tree[A]{root: nilNode, players: players}
}

func (t *Tree[A]) node(id nodeID) *node[A] {
	t.mu.RLock()
	b := t.blocks[id>>arenaBlockBits]
	t.mu.RUnlock()
	return &b[id&arenaBlockMask]
}

func (t *Tree[A]) alloc() (nodeID, *node[A]) {
	t.mu.Lock()
	var id nodeID
	if l := len(t.free); l > 0 {
		id = t.free[l-1]
		t.free = t.free[:l-1]
	} else {
		if int(t.next)>>arenaBlockBits == len(t.blocks) {
			t.blocks = append(t.blocks, new([arenaBlockSize]node[A]))
		}
		id = t.next
		t.next++
	}
	b := t.blocks[id>>arenaBlockBits]
	t.mu.Unlock()

	nd := &b[id&arenaBlockMask]
	*nd = node[A]{parent: nilNode}
	t.count.Add(1)
	return id, nd
}

// Number of live nodes in the arena
func (t *Tree[A]) Size() int {
	return int(t.count.Load())
}

func (t *Tree[A]) createRoot(player PlayerID, untried []A, terminal bool) nodeID {
	id, nd := t.alloc()
	nd.player = player
	nd.terminal = terminal
	nd.untried = untried
	nd.w = make([]float64, t.players)
	t.root = id
	return id
}

// Materializes the child of 'parent' reached by 'action'. With enforceUntried
// the action must be among the parent's untried set (plain UCT), without it
// any action not already expanded is accepted (ISUCT, where legality is a
// property of the current determinization, not of the node).
//
// Exactly one concurrent caller wins the creation race, the losers get
// ErrActionAlreadyExpanded and must use the winner's child instead.
func (t *Tree[A]) expand(
	parent nodeID, action A, enforceUntried bool,
	player PlayerID, untried []A, terminal bool,
) (nodeID, error) {
	p := t.node(parent)

	// Single critical section over check, pop and link: exactly one of two
	// concurrent expanders of the same action creates the child, the other
	// observes it in children and loses the race cleanly
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cid := range p.children {
		if t.node(cid).action == action {
			return cid, errors.Wrapf(ErrActionAlreadyExpanded, "action %v", action)
		}
	}

	if enforceUntried {
		at := -1
		for i, a := range p.untried {
			if a == action {
				at = i
				break
			}
		}
		if at < 0 {
			return nilNode, errors.Wrapf(ErrInvalidAction, "action %v not untried on node", action)
		}
		p.untried = append(p.untried[:at], p.untried[at+1:]...)
	}

	id, nd := t.alloc()
	nd.action = action
	nd.parent = parent
	nd.mover = p.player
	nd.player = player
	nd.terminal = terminal
	nd.untried = untried
	nd.w = make([]float64, t.players)

	p.children = append(p.children, id)
	return id, nil
}

// Promotes the root's child reached by 'action' to be the new root and
// frees every sibling subtree. This is the tree-reuse step after the real
// decision is made, the promoted child keeps its entire subtree statistics.
func (t *Tree[A]) promoteChildToRoot(action A) error {
	r := t.node(t.root)
	r.mu.Lock()
	newRoot := nilNode
	siblings := make([]nodeID, 0, len(r.children))
	for _, cid := range r.children {
		if t.node(cid).action == action {
			newRoot = cid
		} else {
			siblings = append(siblings, cid)
		}
	}
	if newRoot == nilNode {
		r.mu.Unlock()
		return errors.Wrapf(ErrUnknownAction, "no child for action %v", action)
	}
	r.children = nil
	r.freed = true
	r.mu.Unlock()

	for _, cid := range siblings {
		t.freeSubtree(cid)
	}
	t.release(t.root)
	t.node(newRoot).parent = nilNode
	t.root = newRoot
	return nil
}

func (t *Tree[A]) freeSubtree(id nodeID) {
	stack := []nodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := t.node(cur)
		stack = append(stack, nd.children...)
		nd.freed = true
		nd.children = nil
		t.release(cur)
	}
}

func (t *Tree[A]) release(id nodeID) {
	t.mu.Lock()
	t.free = append(t.free, id)
	t.mu.Unlock()
	t.count.Add(-1)
}

// Per-action statistics of one root child
type RootStat[A MoveLike] struct {
	Action  A
	Visits  int32
	Reward  float64 // accumulated reward for the root player
	WinRate float64
}

// Statistics of all root children, the final-statistics surface of a search
func (t *Tree[A]) RootStats() []RootStat[A] {
	r := t.node(t.root)
	persp := r.player

	r.mu.Lock()
	children := append([]nodeID(nil), r.children...)
	r.mu.Unlock()

	stats := make([]RootStat[A], 0, len(children))
	for _, cid := range children {
		c := t.node(cid)
		n, w := c.stats(persp)
		s := RootStat[A]{Action: c.action, Visits: n, Reward: w}
		if n > 0 {
			s.WinRate = w / float64(n)
		}
		stats = append(stats, s)
	}
	return stats
}

// Read-only export of a node and its subtree, for diagnostics only,
// not part of the search contract
type NodeSnapshot[A MoveLike] struct {
	Action   A
	Visits   int32
	Reward   []float64
	Terminal bool
	Children []NodeSnapshot[A]
}

func (t *Tree[A]) Snapshot() NodeSnapshot[A] {
	return t.snapshot(t.root)
}

func (t *Tree[A]) snapshot(id nodeID) NodeSnapshot[A] {
	nd := t.node(id)
	nd.mu.Lock()
	s := NodeSnapshot[A]{
		Action:   nd.action,
		Visits:   nd.n,
		Reward:   append([]float64(nil), nd.w...),
		Terminal: nd.terminal,
	}
	children := append([]nodeID(nil), nd.children...)
	nd.mu.Unlock()

	for _, cid := range children {
		s.Children = append(s.Children, t.snapshot(cid))
	}
	return s
}
