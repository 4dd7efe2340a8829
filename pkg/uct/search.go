package uct

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Main worker id, the only one allowed to invoke listener callbacks
const mainWorker = 0

// Plumbing shared by the deterministic (UCT) and information-set (ISUCT)
// drivers: budget, counters, state machine, listener and logging.
type searcher[A MoveLike] struct {
	cfg      *Config
	tree     *Tree[A]
	logger   zerolog.Logger
	listener *StatsListener[A]

	lim          atomic.Pointer[limiter]
	state        atomic.Int32
	iterations   atomic.Uint32
	maxdepth     atomic.Int32
	ips          atomic.Uint32
	cutoffs      atomic.Uint32
	inconsistent atomic.Uint32

	errMu sync.Mutex
	err   error
	wg    sync.WaitGroup
}

func (s *searcher[A]) init(cfg *Config, tree *Tree[A]) {
	s.cfg = cfg
	s.tree = tree
	s.logger = zerolog.Nop()
	s.listener = NewStatsListener[A]()
	s.lim.Store(newLimiter(cfg, context.Background()))
}

func (s *searcher[A]) State() SearchState {
	return SearchState(s.state.Load())
}

func (s *searcher[A]) IsSearching() bool {
	return s.State() == StateRunning
}

// Cooperative stop signal, the iteration in progress always completes
func (s *searcher[A]) Stop() {
	s.lim.Load().setStop()
}

func (s *searcher[A]) Iterations() int {
	return int(s.iterations.Load())
}

func (s *searcher[A]) MaxDepth() int {
	return int(s.maxdepth.Load())
}

// Iterations per second of the last (or running) search
func (s *searcher[A]) Ips() uint32 {
	return s.ips.Load()
}

func (s *searcher[A]) StopReason() StopReason {
	return s.lim.Load().stopReason()
}

// Number of live nodes in the search tree
func (s *searcher[A]) Size() int {
	return s.tree.Size()
}

func (s *searcher[A]) RootStats() []RootStat[A] {
	return s.tree.RootStats()
}

// Read-only tree export for diagnostics
func (s *searcher[A]) Snapshot() NodeSnapshot[A] {
	return s.tree.Snapshot()
}

func (s *searcher[A]) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

func (s *searcher[A]) SetListener(listener *StatsListener[A]) {
	if listener != nil {
		s.listener = listener
	}
}

func (s *searcher[A]) Config() *Config {
	return s.cfg
}

func (s *searcher[A]) begin(ctx context.Context) error {
	if err := s.cfg.validate(); err != nil {
		return err
	}
	for {
		cur := s.state.Load()
		if SearchState(cur) == StateRunning {
			return ErrAlreadyRunning
		}
		if s.state.CompareAndSwap(cur, int32(StateRunning)) {
			break
		}
	}

	s.iterations.Store(0)
	s.maxdepth.Store(0)
	s.ips.Store(0)
	s.cutoffs.Store(0)
	s.inconsistent.Store(0)
	s.errMu.Lock()
	s.err = nil
	s.errMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	s.lim.Store(newLimiter(s.cfg, ctx))
	return nil
}

// Store the first hard error and stop every worker
func (s *searcher[A]) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.lim.Load().setStop()
}

func (s *searcher[A]) searchErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Executes full iterations until the budget is exhausted, a cancellation
// arrives, or a hard error occurs. Budget checks happen only between
// iterations, each iteration is atomic.
func (s *searcher[A]) runWorker(t *Tree[A], workerID int, iterate func() error) {
	defer s.wg.Done()
	lim := s.lim.Load()

	for lim.ok(s.iterations.Load(), t.Size()) {
		if err := iterate(); err != nil {
			s.fail(err)
			return
		}
		n := s.iterations.Add(1)

		ms := lim.elapsed().Milliseconds()
		if ms < 1 {
			ms = 1
		}
		s.ips.Store(uint32(int64(n) * 1000 / ms))

		if workerID == mainWorker && s.listener.onIteration != nil &&
			int(n)%s.listener.nIterations == 0 {
			s.listener.onIteration(s.listenerStats())
		}
	}
}

func (s *searcher[A]) observeDepth(depth int32, workerID int) {
	for {
		cur := s.maxdepth.Load()
		if depth <= cur {
			return
		}
		if s.maxdepth.CompareAndSwap(cur, depth) {
			if workerID == mainWorker && s.listener.onDepth != nil {
				s.listener.onDepth(s.listenerStats())
			}
			return
		}
	}
}

func (s *searcher[A]) noteCutoffs(n int) {
	if n <= 0 {
		return
	}
	s.cutoffs.Add(uint32(n))
	s.logger.Debug().Int("rollouts", n).Msg("rollout depth cap reached, using fallback reward")
}

// Assemble the Result, apply the final-selection policy and settle the state
func (s *searcher[A]) finish(rng *rand.Rand) (Result[A], error) {
	lim := s.lim.Load()
	res := Result[A]{
		Iterations:          int(s.iterations.Load()),
		MaxDepth:            int(s.maxdepth.Load()),
		TreeSize:            s.tree.Size(),
		Elapsed:             lim.elapsed(),
		StopReason:          lim.stopReason(),
		RolloutCutoffs:      int(s.cutoffs.Load()),
		InconsistentSamples: int(s.inconsistent.Load()),
	}

	if err := s.searchErr(); err != nil {
		s.state.Store(int32(StateFailed))
		return res, err
	}

	res.Stats = s.tree.RootStats()
	if best, ok := bestRootChild(s.tree, s.cfg.Final, s.cfg.SecureK, rng); ok {
		res.Best = s.tree.node(best).action
	}

	if res.StopReason&StopInterrupt != 0 {
		s.state.Store(int32(StateCancelled))
	} else {
		s.state.Store(int32(StateCompleted))
	}

	if s.listener.onStop != nil {
		st := s.listenerStats()
		st.StopReason = res.StopReason
		s.listener.onStop(st)
	}
	return res, nil
}

func (s *searcher[A]) listenerStats() ListenerStats[A] {
	lim := s.lim.Load()
	pv, eval := s.pv()
	return ListenerStats[A]{
		Iterations: int(s.iterations.Load()),
		MaxDepth:   int(s.maxdepth.Load()),
		Ips:        s.ips.Load(),
		TreeSize:   s.tree.Size(),
		Elapsed:    lim.elapsed(),
		Eval:       eval,
		Pv:         pv,
		StopReason: lim.stopReason(),
	}
}

// Principal variation under the most-visits policy plus the win rate
// of its first move
func (s *searcher[A]) pv() ([]A, float64) {
	var (
		pv   []A
		eval float64
		id   = s.tree.root
	)
	for first := true; ; first = false {
		nd := s.tree.node(id)
		nd.mu.Lock()
		persp := nd.player
		children := append([]nodeID(nil), nd.children...)
		nd.mu.Unlock()

		best := nilNode
		var bestN int32
		var bestW float64
		for _, cid := range children {
			n, w := s.tree.node(cid).stats(persp)
			if n > bestN {
				bestN, bestW, best = n, w, cid
			}
		}
		if best == nilNode {
			break
		}
		pv = append(pv, s.tree.node(best).action)
		if first {
			eval = bestW / float64(bestN)
		}
		id = best
	}
	return pv, eval
}

// Walk the traversed path from the leaf back to the root, reverting the
// provisional virtual loss and folding in the real result. The root is
// included in the visit increment, it bootstraps the UCB1 log term.
func backpropagate[A MoveLike](t *Tree[A], leaf nodeID, reward []float64, vloss bool) {
	for id := leaf; id != nilNode; {
		nd := t.node(id)
		if vloss && nd.parent != nilNode {
			nd.revertLoss()
		}
		nd.record(reward)
		id = nd.parent
	}
}

// Plays the domain out to termination (or the depth safeguard) under the
// given rollout policy, returns the reward vector and whether the cap was hit
func runRollout[A MoveLike, G GameLike[A, G]](
	g G, policy RolloutPolicy[A, G], maxDepth int, rng *rand.Rand,
) ([]float64, bool, error) {
	players := g.NumPlayers()
	for depth := 0; ; depth++ {
		if g.Terminal() {
			return rewardVector[A, G](g, players), false, nil
		}
		if et, ok := any(g).(EarlyTerminator); ok && et.EarlyTerminate() {
			return fallbackVector[A, G](g, players), false, nil
		}
		if depth >= maxDepth {
			return fallbackVector[A, G](g, players), true, nil
		}

		legal := g.LegalActions()
		if len(legal) == 0 {
			return rewardVector[A, G](g, players), false, nil
		}
		a := policy(g, legal, rng)
		next, err := g.Apply(a)
		if err != nil {
			return nil, false, errors.Wrapf(err, "rollout, action %v", a)
		}
		g = next
	}
}

func shuffled[A MoveLike](actions []A, rng *rand.Rand) []A {
	out := append([]A(nil), actions...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// UCT is the search driver for fully-observable domains. One UCT value owns
// one tree, reusable across real moves through Advance.
type UCT[A MoveLike, G GameLike[A, G]] struct {
	searcher[A]
	game      G
	selection SelectionPolicy[A]
	rollout   RolloutPolicy[A, G]
	expansion ExpansionPolicy[A]
}

// New creates a search driver rooted at 'game'. A nil config means
// DefaultConfig, note that the default carries no budget, set iterations
// or movetime before calling Search.
func New[A MoveLike, G GameLike[A, G]](game G, cfg *Config) *UCT[A, G] {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	tree := newTree[A](game.NumPlayers())
	rng := rand.New(rand.NewSource(cfg.Seed))
	tree.createRoot(game.Player(), shuffled(game.LegalActions(), rng), game.Terminal())

	u := &UCT[A, G]{
		game:      game.Clone(),
		selection: UCB1[A],
		rollout:   UniformRollout[A, G],
		expansion: UniformExpansion[A],
	}
	u.searcher.init(cfg, tree)
	return u
}

func (u *UCT[A, G]) SetSelectionPolicy(p SelectionPolicy[A]) {
	if p != nil {
		u.selection = p
	}
}

func (u *UCT[A, G]) SetRolloutPolicy(p RolloutPolicy[A, G]) {
	if p != nil {
		u.rollout = p
	}
}

func (u *UCT[A, G]) SetExpansionPolicy(p ExpansionPolicy[A]) {
	if p != nil {
		u.expansion = p
	}
}

// Search runs the iterate-until-budget loop and returns the chosen action
// with the final root statistics. Cancellation through ctx is cooperative
// and honored between iterations only.
func (u *UCT[A, G]) Search(ctx context.Context) (Result[A], error) {
	if err := u.begin(ctx); err != nil {
		return Result[A]{}, err
	}

	switch u.cfg.Parallel {
	case ParallelRoot:
		u.searchRootParallel()
	case ParallelTree:
		u.searchTreeParallel()
	default:
		u.searchSequential(u.cfg.Parallel == ParallelLeaf)
	}

	return u.finish(rand.New(rand.NewSource(u.cfg.Seed)))
}

// Promotes the child reached by 'action' to be the new root, keeping its
// whole subtree statistics and discarding every sibling subtree. This is
// the tree-reuse step after the real decision is made.
func (u *UCT[A, G]) Advance(action A) error {
	if u.IsSearching() {
		return ErrAlreadyRunning
	}
	next, err := u.game.Apply(action)
	if err != nil {
		return err
	}
	if err := u.tree.promoteChildToRoot(action); err != nil {
		return err
	}
	u.game = next
	return nil
}

func (u *UCT[A, G]) searchSequential(leafParallel bool) {
	rng := rand.New(rand.NewSource(u.cfg.Seed))
	state := u.game.Clone()
	u.wg.Add(1)
	u.runWorker(u.tree, mainWorker, func() error {
		return u.iterate(u.tree, state, rng, mainWorker, false, leafParallel)
	})
	u.wg.Wait()
}

func (u *UCT[A, G]) searchTreeParallel() {
	for w := 0; w < u.cfg.Workers; w++ {
		wid := w
		rng := rand.New(rand.NewSource(u.cfg.Seed + int64(wid)))
		state := u.game.Clone()
		u.wg.Add(1)
		go u.runWorker(u.tree, wid, func() error {
			return u.iterate(u.tree, state, rng, wid, true, false)
		})
	}
	u.wg.Wait()
}

// Independent trees per worker, merged once at the end by summing the
// visit and value statistics of the root actions
func (u *UCT[A, G]) searchRootParallel() {
	trees := make([]*Tree[A], u.cfg.Workers)
	trees[0] = u.tree

	for w := 0; w < u.cfg.Workers; w++ {
		wid := w
		rng := rand.New(rand.NewSource(u.cfg.Seed + int64(wid)))
		state := u.game.Clone()
		if wid != mainWorker {
			trees[wid] = newTree[A](u.tree.players)
			trees[wid].createRoot(state.Player(), shuffled(state.LegalActions(), rng), state.Terminal())
		}
		tree := trees[wid]
		u.wg.Add(1)
		go u.runWorker(tree, wid, func() error {
			return u.iterate(tree, state, rng, wid, false, false)
		})
	}
	u.wg.Wait()

	if u.searchErr() != nil {
		return
	}
	rng := rand.New(rand.NewSource(u.cfg.Seed - 1))
	for _, other := range trees[1:] {
		if err := u.mergeRoot(other, rng); err != nil {
			u.fail(err)
			return
		}
	}
}

// One full Selection -> Expansion -> Simulation -> Backpropagation pass
func (u *UCT[A, G]) iterate(
	t *Tree[A], rootState G, rng *rand.Rand, workerID int, vloss, leafParallel bool,
) error {
	g := rootState.Clone()
	id := t.root
	depth := int32(0)

	// Selection: descend through fully expanded nodes
	for {
		nd := t.node(id)
		nd.mu.Lock()
		terminal := nd.terminal
		expandable := len(nd.untried) > 0
		hasChildren := len(nd.children) > 0
		nd.mu.Unlock()

		if terminal || expandable || !hasChildren {
			break
		}

		next := u.selection(t, id, u.cfg.Exploration, rng)
		if next == nilNode {
			break
		}
		child := t.node(next)
		var err error
		if g, err = g.Apply(child.action); err != nil {
			return errors.Wrapf(err, "selection, action %v", child.action)
		}
		if vloss {
			child.applyLoss()
		}
		id = next
		depth++
	}

	// Expansion: materialize one untried action, unless the node is terminal
	// or the tree hit its size cap
	nd := t.node(id)
	if !nd.terminal && u.lim.Load().canExpand() {
		nd.mu.Lock()
		var action A
		expand := len(nd.untried) > 0
		if expand {
			action = nd.untried[u.expansion(nd.untried, rng)]
		}
		nd.mu.Unlock()

		if expand {
			next, err := g.Apply(action)
			if err != nil {
				return errors.Wrapf(err, "expansion, action %v", action)
			}
			cid, err := t.expand(id, action, true,
				next.Player(), shuffled(next.LegalActions(), rng), next.Terminal())
			if err != nil && !errors.Is(err, ErrActionAlreadyExpanded) {
				return err
			}
			// On ErrActionAlreadyExpanded a concurrent worker won the
			// creation race, its child serves just as well
			g = next
			id = cid
			depth++
			if vloss {
				t.node(cid).applyLoss()
			}
		}
	}
	u.observeDepth(depth, workerID)

	// Simulation
	var reward []float64
	if leafParallel && !g.Terminal() {
		avg, cuts, err := leafRollouts[A, G](g, u.rollout, u.tree.players, u.cfg.Rollouts, u.cfg.MaxDepth, rng)
		if err != nil {
			return err
		}
		u.noteCutoffs(cuts)
		reward = avg
	} else {
		cut := false
		var err error
		if reward, cut, err = runRollout[A, G](g, u.rollout, u.cfg.MaxDepth, rng); err != nil {
			return err
		}
		if cut {
			u.noteCutoffs(1)
		}
	}

	backpropagate(t, id, reward, vloss)
	return nil
}

// Leaf parallelization: several concurrent rollouts from the same leaf,
// averaged into a single backpropagation
func leafRollouts[A MoveLike, G GameLike[A, G]](
	g G, policy RolloutPolicy[A, G], players, k, maxDepth int, rng *rand.Rand,
) ([]float64, int, error) {
	rewards := make([][]float64, k)
	cuts := make([]bool, k)
	errs := make([]error, k)

	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		seed := rng.Int63()
		wg.Add(1)
		go func(i int, seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			rewards[i], cuts[i], errs[i] = runRollout[A, G](g.Clone(), policy, maxDepth, r)
		}(i, seed)
	}
	wg.Wait()

	avg := make([]float64, players)
	ncuts := 0
	for i := 0; i < k; i++ {
		if errs[i] != nil {
			return nil, 0, errs[i]
		}
		if cuts[i] {
			ncuts++
		}
		for p := range avg {
			avg[p] += rewards[i][p] / float64(k)
		}
	}
	return avg, ncuts, nil
}

func (u *UCT[A, G]) mergeRoot(other *Tree[A], rng *rand.Rand) error {
	src := other.node(other.root)
	src.mu.Lock()
	children := append([]nodeID(nil), src.children...)
	src.mu.Unlock()

	for _, cid := range children {
		c := other.node(cid)
		c.mu.Lock()
		action, n := c.action, c.n
		w := append([]float64(nil), c.w...)
		player, terminal := c.player, c.terminal
		c.mu.Unlock()

		dst := u.tree.node(u.tree.root)
		dst.mu.Lock()
		target := nilNode
		for _, did := range dst.children {
			if u.tree.node(did).action == action {
				target = did
				break
			}
		}
		dst.mu.Unlock()

		if target == nilNode {
			next, err := u.game.Clone().Apply(action)
			if err != nil {
				return errors.Wrapf(err, "merge, action %v", action)
			}
			target, err = u.tree.expand(u.tree.root, action, true,
				player, shuffled(next.LegalActions(), rng), terminal)
			if err != nil && !errors.Is(err, ErrActionAlreadyExpanded) {
				return err
			}
		}

		tn := u.tree.node(target)
		tn.mu.Lock()
		tn.n += n
		for p := range tn.w {
			tn.w[p] += w[p]
		}
		tn.mu.Unlock()
	}
	return nil
}
