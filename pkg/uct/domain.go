package uct

import "math/rand"

// Identifier of an action in the caller's game, must be comparable
// since it is used as the key identifying a child node
type MoveLike comparable

// Index of a player in the domain, players are numbered 0..NumPlayers()-1
type PlayerID int

// GameLike is the capability contract a caller's game/state type must satisfy.
// The engine never inspects the state's internals, it only calls these methods.
// G is the implementing type itself, for example:
//
//	type TicTacToe struct { ... }
//	func (t TicTacToe) Apply(m Move) (TicTacToe, error) { ... }
//
// satisfies GameLike[Move, TicTacToe].
//
// Apply must not mutate the receiver, every worker gets its own state values
// through Clone and Apply, no two workers ever share a state instance.
type GameLike[A MoveLike, G any] interface {
	// All actions legal in this state, empty if and only if the state is terminal
	LegalActions() []A

	// Successor state after playing 'action', must return ErrInvalidAction
	// (possibly wrapped) if the action is not legal here
	Apply(action A) (G, error)

	// Whether the game is over in this state
	Terminal() bool

	// Reward for 'player', defined only on terminal states.
	// Rewards should range over [0, 1], 0 being a loss and 1 a win
	Reward(player PlayerID) float64

	// The player to move in this state
	Player() PlayerID

	// Number of players in the game
	NumPlayers() int

	// Independent copy of this state, sharing no mutable memory with the receiver
	Clone() G
}

// HiddenGameLike extends GameLike for domains with hidden information or chance.
// K is the information-set key type: an opaque comparable value representing
// everything the observer can distinguish about the true state.
type HiddenGameLike[A MoveLike, G any, K MoveLike] interface {
	GameLike[A, G]

	// The observer's information-set key for this state
	InformationSet(observer PlayerID) K

	// A fully-observable sample consistent with the observer's information set,
	// drawn using r. Sampling must never contradict information the observer
	// has already seen, otherwise the search degrades into strategy fusion
	// (detected and counted, but not corrected, see InconsistentSamples)
	Determinize(observer PlayerID, r *rand.Rand) (G, error)
}

// CutoffEvaluator may be implemented by a game state to provide a heuristic
// reward when a rollout is stopped before termination (depth cap or early
// termination). Without it the engine falls back to a neutral 0.5 for
// every player.
type CutoffEvaluator interface {
	Evaluate(player PlayerID) float64
}

// EarlyTerminator may be implemented by a game state to cut rollouts short
// once the outcome is decided well enough for a heuristic judgement
type EarlyTerminator interface {
	EarlyTerminate() bool
}

// Builds the full per-player reward vector of a terminal (or evaluated) state
func rewardVector[A MoveLike, G GameLike[A, G]](g G, players int) []float64 {
	r := make([]float64, players)
	for p := range r {
		r[p] = g.Reward(PlayerID(p))
	}
	return r
}

// Heuristic reward vector for a non-terminal state, 0.5 for every player
// unless the state implements CutoffEvaluator
func fallbackVector[A MoveLike, G GameLike[A, G]](g G, players int) []float64 {
	r := make([]float64, players)
	if ev, ok := any(g).(CutoffEvaluator); ok {
		for p := range r {
			r[p] = ev.Evaluate(PlayerID(p))
		}
		return r
	}
	for p := range r {
		r[p] = 0.5
	}
	return r
}
