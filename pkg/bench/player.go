package bench

import (
	"context"
	"math/rand"

	"github.com/IlikeChooros/go-uct/pkg/uct"
	"github.com/pkg/errors"
)

// PlayerLike drives one side of a versus match. The arena resets a player
// at every game start and feeds it every move played, own and opponent's,
// so stateful players can keep their tree warm between moves.
type PlayerLike[A uct.MoveLike, G uct.GameLike[A, G]] interface {
	Name() string

	// Start a new game from position g
	Reset(g G)

	// Choose a move in the current position
	Search(ctx context.Context) (A, error)

	// A move was played in the game, own or opponent's
	Advance(a A) error

	// Independent copy for a worker, must not share mutable state
	Clone() PlayerLike[A, G]
}

// EnginePlayer plays with a search driver, reusing the tree across the
// moves of one game through Advance. Each game gets a fresh driver with
// a derived seed, so repeated games differ.
type EnginePlayer[A uct.MoveLike, G uct.GameLike[A, G]] struct {
	name string
	cfg  uct.Config
	rng  *rand.Rand
	game G
	drv  *uct.UCT[A, G]
}

func NewEnginePlayer[A uct.MoveLike, G uct.GameLike[A, G]](name string, cfg *uct.Config) *EnginePlayer[A, G] {
	return &EnginePlayer[A, G]{
		name: name,
		cfg:  *cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (p *EnginePlayer[A, G]) Name() string { return p.name }

func (p *EnginePlayer[A, G]) newDriver() *uct.UCT[A, G] {
	cfg := p.cfg
	cfg.Seed = p.rng.Int63()
	return uct.New(p.game, &cfg)
}

func (p *EnginePlayer[A, G]) Reset(g G) {
	p.game = g.Clone()
	p.drv = p.newDriver()
}

func (p *EnginePlayer[A, G]) Search(ctx context.Context) (A, error) {
	res, err := p.drv.Search(ctx)
	if err != nil {
		var zero A
		return zero, errors.Wrapf(err, "player %s", p.name)
	}
	return res.Best, nil
}

func (p *EnginePlayer[A, G]) Advance(a A) error {
	next, err := p.game.Apply(a)
	if err != nil {
		return errors.Wrapf(err, "player %s, move %v", p.name, a)
	}
	p.game = next

	// falling off the tree just costs the warm start
	if err := p.drv.Advance(a); errors.Is(err, uct.ErrUnknownAction) {
		p.drv = p.newDriver()
	} else if err != nil {
		return errors.Wrapf(err, "player %s, move %v", p.name, a)
	}
	return nil
}

func (p *EnginePlayer[A, G]) Clone() PlayerLike[A, G] {
	return &EnginePlayer[A, G]{
		name: p.name,
		cfg:  p.cfg,
		rng:  rand.New(rand.NewSource(p.rng.Int63())),
	}
}

// RandomPlayer picks uniformly among the legal moves, the usual
// strength baseline
type RandomPlayer[A uct.MoveLike, G uct.GameLike[A, G]] struct {
	name string
	rng  *rand.Rand
	game G
}

func NewRandomPlayer[A uct.MoveLike, G uct.GameLike[A, G]](name string, seed int64) *RandomPlayer[A, G] {
	return &RandomPlayer[A, G]{name: name, rng: rand.New(rand.NewSource(seed))}
}

func (p *RandomPlayer[A, G]) Name() string { return p.name }
func (p *RandomPlayer[A, G]) Reset(g G)    { p.game = g.Clone() }

func (p *RandomPlayer[A, G]) Search(ctx context.Context) (A, error) {
	legal := p.game.LegalActions()
	if len(legal) == 0 {
		var zero A
		return zero, errors.Wrapf(uct.ErrInvalidAction, "player %s, no legal moves", p.name)
	}
	return legal[p.rng.Intn(len(legal))], nil
}

func (p *RandomPlayer[A, G]) Advance(a A) error {
	next, err := p.game.Apply(a)
	if err != nil {
		return errors.Wrapf(err, "player %s, move %v", p.name, a)
	}
	p.game = next
	return nil
}

func (p *RandomPlayer[A, G]) Clone() PlayerLike[A, G] {
	return &RandomPlayer[A, G]{name: p.name, rng: rand.New(rand.NewSource(p.rng.Int63()))}
}
