// Arena benchmark subpackage, plays a series of games between two player
// configurations and reports the aggregate score. Games are distributed
// over worker goroutines, seats are swapped at random so neither
// configuration collects a first-move advantage.
package bench

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/IlikeChooros/go-uct/pkg/uct"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// VersusArena plays Player1 against Player2 from a fixed two-player
// start position
type VersusArena[A uct.MoveLike, G uct.GameLike[A, G]] struct {
	VersusArenaStats

	Player1 PlayerLike[A, G]
	Player2 PlayerLike[A, G]
	Start   G

	NGames   int
	NWorkers int
	Seed     int64

	logger   zerolog.Logger
	listener ArenaListenerLike[A]

	wg    sync.WaitGroup
	errMu sync.Mutex
	err   error
}

func NewVersusArena[A uct.MoveLike, G uct.GameLike[A, G]](
	start G, p1, p2 PlayerLike[A, G],
) *VersusArena[A, G] {
	return &VersusArena[A, G]{
		Player1:  p1,
		Player2:  p2,
		Start:    start,
		NGames:   100,
		NWorkers: 2,
		Seed:     time.Now().UnixNano(),
		logger:   zerolog.Nop(),
		listener: NopListener[A]{},
	}
}

func (va *VersusArena[A, G]) Setup(nGames, nWorkers int) *VersusArena[A, G] {
	va.NGames = max(1, nGames)
	va.NWorkers = max(1, nWorkers)
	return va
}

func (va *VersusArena[A, G]) SetSeed(seed int64) *VersusArena[A, G] {
	va.Seed = seed
	return va
}

func (va *VersusArena[A, G]) SetLogger(logger zerolog.Logger) *VersusArena[A, G] {
	va.logger = logger
	return va
}

func (va *VersusArena[A, G]) SetListener(l ArenaListenerLike[A]) *VersusArena[A, G] {
	if l != nil {
		va.listener = l
	}
	return va
}

func (va *VersusArena[A, G]) fail(err error) {
	va.errMu.Lock()
	if va.err == nil {
		va.err = err
	}
	va.errMu.Unlock()
}

// Run plays the configured number of games and blocks until every worker
// finished. Cancelling ctx abandons the games in progress, finished games
// keep their results.
func (va *VersusArena[A, G]) Run(ctx context.Context) (VersusSummaryInfo, error) {
	if va.Start.NumPlayers() != 2 {
		return VersusSummaryInfo{}, errors.New("bench: versus arena needs a two-player game")
	}

	start := time.Now()
	va.listener.OnStart(va.NWorkers, va.NGames)

	games := va.NGames / va.NWorkers
	rest := va.NGames % va.NWorkers
	for w := 0; w < va.NWorkers; w++ {
		n := games
		if w < rest {
			n++
		}

		// always clone, the workers must not share player state
		p1 := va.Player1.Clone()
		p2 := va.Player2.Clone()
		rng := rand.New(rand.NewSource(va.Seed + int64(w)))

		va.wg.Add(1)
		go va.worker(ctx, w, n, p1, p2, rng)
	}
	va.wg.Wait()

	summary := VersusSummaryInfo{
		TotalGames:      va.Total(),
		P1Wins:          va.P1Wins(),
		P2Wins:          va.P2Wins(),
		Draws:           va.Draws(),
		FirstToMoveWins: va.FirstToMoveWins(),
		Workers:         va.NWorkers,
		P1Name:          va.Player1.Name(),
		P2Name:          va.Player2.Name(),
		Elapsed:         time.Since(start).Round(time.Millisecond).String(),
	}
	va.listener.OnEnd(summary)
	va.logger.Info().
		Int("games", summary.TotalGames).
		Int(summary.P1Name, summary.P1Wins).
		Int(summary.P2Name, summary.P2Wins).
		Int("draws", summary.Draws).
		Int("first_to_move_wins", summary.FirstToMoveWins).
		Str("elapsed", summary.Elapsed).
		Msg("versus arena finished")

	va.errMu.Lock()
	err := va.err
	va.errMu.Unlock()
	return summary, err
}

func (va *VersusArena[A, G]) worker(
	ctx context.Context, id, nGames int,
	p1, p2 PlayerLike[A, G], rng *rand.Rand,
) {
	defer va.wg.Done()

	for i := 0; i < nGames; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// swap seats at random, 'first' always moves first
		first, second := p1, p2
		p1First := rng.Intn(2) == 0
		if !p1First {
			first, second = p2, p1
		}

		outcome, ok, err := va.playGame(ctx, id, i, nGames, first, second)
		if err != nil {
			va.fail(err)
			return
		}
		if !ok {
			return // cancelled mid-game, not counted
		}

		switch {
		case outcome == VersusDraw:
			va.draws.Add(1)
		case (outcome == VersusPl1Win) == p1First:
			va.p1Wins.Add(1)
		default:
			va.p2Wins.Add(1)
		}
		if outcome == VersusPl1Win {
			va.firstToMoveWins.Add(1)
		}
	}
}

// Plays one game, 'first' moves first. The result is from the seat
// perspective: VersusPl1Win means the first-moving seat won.
func (va *VersusArena[A, G]) playGame(
	ctx context.Context, workerID, finished, nGames int,
	first, second PlayerLike[A, G],
) (VersusMatchResult, bool, error) {
	g := va.Start.Clone()
	first.Reset(g)
	second.Reset(g)

	moves := make([]A, 0, 64)
	players := [2]PlayerLike[A, G]{first, second}
	firstPlayer := g.Player()

	for !g.Terminal() {
		select {
		case <-ctx.Done():
			return VersusDraw, false, nil
		default:
		}

		seat := 0
		if g.Player() != firstPlayer {
			seat = 1
		}
		m, err := players[seat].Search(ctx)
		if err != nil {
			return VersusDraw, false, err
		}

		// a search interrupted before its first iteration has no best move
		select {
		case <-ctx.Done():
			return VersusDraw, false, nil
		default:
		}

		if g, err = g.Apply(m); err != nil {
			return VersusDraw, false, err
		}
		moves = append(moves, m)

		for _, p := range players {
			if err := p.Advance(m); err != nil {
				return VersusDraw, false, err
			}
		}

		va.listener.OnMove(VersusWorkerInfo[A]{
			WorkerID:      workerID,
			NGames:        nGames,
			FinishedGames: finished,
			GameMoveNum:   len(moves),
			Moves:         moves,
			P1Wins:        va.P1Wins(),
			P2Wins:        va.P2Wins(),
			Draws:         va.Draws(),
			P1Name:        va.Player1.Name(),
			P2Name:        va.Player2.Name(),
		})
	}

	r0, r1 := g.Reward(firstPlayer), g.Reward(1-firstPlayer)
	result := VersusDraw
	if r0 > r1 {
		result = VersusPl1Win
	} else if r1 > r0 {
		result = VersusPl2Win
	}

	va.listener.OnGameEnd(VersusWorkerInfo[A]{
		WorkerID:      workerID,
		NGames:        nGames,
		FinishedGames: finished + 1,
		GameMoveNum:   len(moves),
		Moves:         moves,
		P1Wins:        va.P1Wins(),
		P2Wins:        va.P2Wins(),
		Draws:         va.Draws(),
		P1Name:        va.Player1.Name(),
		P2Name:        va.Player2.Name(),
	})
	return result, true, nil
}
