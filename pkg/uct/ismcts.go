package uct

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"
)

// ISUCT is the search driver for domains with hidden information or chance
// (Information-Set UCT). Nodes are keyed by the root information set plus the
// action path leading to them, so statistics gathered under different
// determinizations of the same information set pool on the same nodes.
//
// Each iteration asks the domain for one fully-observable sample consistent
// with the observer's information set (root-level by default, at every
// descent step with DeterminizeNode) and runs an ordinary
// selection/expansion/simulation/backpropagation pass on it. Selection
// competes only among children legal under the current sample and uses
// per-child availability counts in the exploration term.
type ISUCT[A MoveLike, G HiddenGameLike[A, G, K], K MoveLike] struct {
	searcher[A]
	game     G
	observer PlayerID
	rootKey  K
	rollout  RolloutPolicy[A, G]
}

// NewISUCT creates an information-set search driver rooted at 'game', seen
// through the eyes of 'observer' (normally the player to move at the root)
func NewISUCT[A MoveLike, G HiddenGameLike[A, G, K], K MoveLike](
	game G, observer PlayerID, cfg *Config,
) *ISUCT[A, G, K] {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	tree := newTree[A](game.NumPlayers())
	tree.createRoot(game.Player(), nil, game.Terminal())

	is := &ISUCT[A, G, K]{
		game:     game.Clone(),
		observer: observer,
		rootKey:  game.InformationSet(observer),
		rollout:  UniformRollout[A, G],
	}
	is.searcher.init(cfg, tree)
	return is
}

func (is *ISUCT[A, G, K]) SetRolloutPolicy(p RolloutPolicy[A, G]) {
	if p != nil {
		is.rollout = p
	}
}

// Search runs determinized iterations until the budget is exhausted and
// returns the chosen action with the pooled root statistics
func (is *ISUCT[A, G, K]) Search(ctx context.Context) (Result[A], error) {
	if err := is.begin(ctx); err != nil {
		return Result[A]{}, err
	}

	switch is.cfg.Parallel {
	case ParallelRoot:
		is.searchRootParallel()
	case ParallelTree:
		is.searchTreeParallel()
	default:
		is.searchSequential(is.cfg.Parallel == ParallelLeaf)
	}

	return is.finish(rand.New(rand.NewSource(is.cfg.Seed)))
}

func (is *ISUCT[A, G, K]) searchSequential(leafParallel bool) {
	rng := rand.New(rand.NewSource(is.cfg.Seed))
	is.wg.Add(1)
	is.runWorker(is.tree, mainWorker, func() error {
		return is.iterate(is.tree, rng, mainWorker, false, leafParallel)
	})
	is.wg.Wait()
}

func (is *ISUCT[A, G, K]) searchTreeParallel() {
	for w := 0; w < is.cfg.Workers; w++ {
		wid := w
		rng := rand.New(rand.NewSource(is.cfg.Seed + int64(wid)))
		is.wg.Add(1)
		go is.runWorker(is.tree, wid, func() error {
			return is.iterate(is.tree, rng, wid, true, false)
		})
	}
	is.wg.Wait()
}

func (is *ISUCT[A, G, K]) searchRootParallel() {
	trees := make([]*Tree[A], is.cfg.Workers)
	trees[0] = is.tree

	for w := 0; w < is.cfg.Workers; w++ {
		wid := w
		rng := rand.New(rand.NewSource(is.cfg.Seed + int64(wid)))
		if wid != mainWorker {
			trees[wid] = newTree[A](is.tree.players)
			trees[wid].createRoot(is.game.Player(), nil, is.game.Terminal())
		}
		tree := trees[wid]
		is.wg.Add(1)
		go is.runWorker(tree, wid, func() error {
			return is.iterate(tree, rng, wid, false, false)
		})
	}
	is.wg.Wait()

	if is.searchErr() != nil {
		return
	}
	for _, other := range trees[1:] {
		if err := is.mergeRoot(other); err != nil {
			is.fail(err)
			return
		}
	}
}

func (is *ISUCT[A, G, K]) noteInconsistent() {
	is.inconsistent.Add(1)
	is.logger.Warn().Msg("determinization contradicts the observer's information set")
}

// One full determinized pass
func (is *ISUCT[A, G, K]) iterate(
	t *Tree[A], rng *rand.Rand, workerID int, vloss, leafParallel bool,
) error {
	g, err := is.game.Determinize(is.observer, rng)
	if err != nil {
		return errors.Wrap(err, "root determinization")
	}
	if g.InformationSet(is.observer) != is.rootKey {
		is.noteInconsistent()
	}

	id := t.root
	depth := int32(0)

	for {
		if is.cfg.Determinize == DeterminizeNode && id != t.root {
			key := g.InformationSet(is.observer)
			resampled, err := g.Determinize(is.observer, rng)
			if err != nil {
				return errors.Wrap(err, "node determinization")
			}
			if resampled.InformationSet(is.observer) != key {
				is.noteInconsistent()
			}
			g = resampled
		}

		legal := g.LegalActions()
		if len(legal) == 0 {
			break // terminal under this determinization
		}

		nd := t.node(id)
		nd.mu.Lock()
		seen := make(map[A]nodeID, len(nd.children))
		for _, cid := range nd.children {
			seen[t.node(cid).action] = cid
		}
		nd.mu.Unlock()

		var unexpanded []A
		for _, a := range legal {
			if _, ok := seen[a]; !ok {
				unexpanded = append(unexpanded, a)
			}
		}

		// Expansion: a legal action with no child yet ends the descent
		if len(unexpanded) > 0 && is.lim.Load().canExpand() {
			a := unexpanded[rng.Intn(len(unexpanded))]
			next, err := g.Apply(a)
			if err != nil {
				return errors.Wrapf(err, "expansion, action %v", a)
			}
			cid, err := t.expand(id, a, false, next.Player(), nil, next.Terminal())
			if err != nil && !errors.Is(err, ErrActionAlreadyExpanded) {
				return err
			}
			g = next
			id = cid
			depth++
			if vloss {
				t.node(cid).applyLoss()
			}
			break
		}

		// Selection among the children available under this determinization,
		// counting availability for the exploration term
		legalSet := make(map[A]struct{}, len(legal))
		for _, a := range legal {
			if cid, ok := seen[a]; ok {
				legalSet[a] = struct{}{}
				t.node(cid).markAvailable()
			}
		}
		if len(legalSet) == 0 {
			break // size-capped tree with nothing expanded here yet
		}

		next := ucb1Select(t, id, is.cfg.Exploration, rng, legalSet)
		if next == nilNode {
			break
		}
		child := t.node(next)
		if g, err = g.Apply(child.action); err != nil {
			return errors.Wrapf(err, "selection, action %v", child.action)
		}
		if vloss {
			child.applyLoss()
		}
		id = next
		depth++
	}
	is.observeDepth(depth, workerID)

	// Simulation
	var reward []float64
	if leafParallel && !g.Terminal() {
		avg, cuts, err := leafRollouts[A, G](g, is.rollout, t.players, is.cfg.Rollouts, is.cfg.MaxDepth, rng)
		if err != nil {
			return err
		}
		is.noteCutoffs(cuts)
		reward = avg
	} else {
		cut := false
		if reward, cut, err = runRollout[A, G](g, is.rollout, is.cfg.MaxDepth, rng); err != nil {
			return err
		}
		if cut {
			is.noteCutoffs(1)
		}
	}

	backpropagate(t, id, reward, vloss)
	return nil
}

// Root-parallel merge, summing the per-action statistics of the root children
func (is *ISUCT[A, G, K]) mergeRoot(other *Tree[A]) error {
	src := other.node(other.root)
	src.mu.Lock()
	children := append([]nodeID(nil), src.children...)
	src.mu.Unlock()

	for _, cid := range children {
		c := other.node(cid)
		c.mu.Lock()
		action, n, avail := c.action, c.n, c.avail
		w := append([]float64(nil), c.w...)
		player, terminal := c.player, c.terminal
		c.mu.Unlock()

		target, err := is.tree.expand(is.tree.root, action, false, player, nil, terminal)
		if err != nil && !errors.Is(err, ErrActionAlreadyExpanded) {
			return err
		}

		tn := is.tree.node(target)
		tn.mu.Lock()
		tn.n += n
		tn.avail += avail
		for p := range tn.w {
			tn.w[p] += w[p]
		}
		tn.mu.Unlock()
	}
	return nil
}
