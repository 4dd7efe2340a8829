package bench

import (
	"fmt"
	"io"
	"sync"

	"github.com/IlikeChooros/go-uct/pkg/uct"
	"github.com/muesli/termenv"
)

// TermListener renders a live per-worker progress board on a terminal,
// one line per worker plus a score line, redrawn in place
type TermListener[A uct.MoveLike] struct {
	mu    sync.Mutex
	out   *termenv.Output
	rows  []string
	score string
	games int
}

func NewTermListener[A uct.MoveLike](w io.Writer) *TermListener[A] {
	return &TermListener[A]{out: termenv.NewOutput(w)}
}

func (l *TermListener[A]) OnStart(workers, games int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.games = games
	l.rows = make([]string, workers)
	for i := range l.rows {
		l.rows[i] = fmt.Sprintf("worker %d: waiting", i)
	}
	l.score = "score: -"

	l.out.HideCursor()
	for i := 0; i < len(l.rows)+1; i++ {
		fmt.Fprintln(l.out)
	}
	l.redraw()
}

// Caller holds mu. Moves the cursor back over the board and reprints it.
func (l *TermListener[A]) redraw() {
	l.out.CursorUp(len(l.rows) + 1)
	for _, row := range l.rows {
		l.out.ClearLine()
		fmt.Fprintln(l.out, row)
	}
	l.out.ClearLine()
	fmt.Fprintln(l.out, l.out.String(l.score).Bold())
}

func (l *TermListener[A]) OnMove(info VersusWorkerInfo[A]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rows[info.WorkerID] = fmt.Sprintf(
		"worker %d: game %d/%d, move %d",
		info.WorkerID, info.FinishedGames+1, info.NGames, info.GameMoveNum,
	)
	l.updateScore(info)
	l.redraw()
}

func (l *TermListener[A]) OnGameEnd(info VersusWorkerInfo[A]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rows[info.WorkerID] = fmt.Sprintf(
		"worker %d: game %d/%d finished in %d moves",
		info.WorkerID, info.FinishedGames, info.NGames, info.GameMoveNum,
	)
	l.updateScore(info)
	l.redraw()
}

func (l *TermListener[A]) updateScore(info VersusWorkerInfo[A]) {
	l.score = fmt.Sprintf(
		"score: %s %d - %d %s (%d draws)",
		info.P1Name, info.P1Wins, info.P2Wins, info.P2Name, info.Draws,
	)
}

func (l *TermListener[A]) OnEnd(summary VersusSummaryInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.out.ShowCursor()
	winner, loser := "10", "9" // green and red
	if summary.P2Wins > summary.P1Wins {
		winner, loser = loser, winner
	}
	p1 := l.out.String(fmt.Sprintf("%s %d", summary.P1Name, summary.P1Wins)).
		Foreground(l.out.Color(winner))
	p2 := l.out.String(fmt.Sprintf("%d %s", summary.P2Wins, summary.P2Name)).
		Foreground(l.out.Color(loser))
	fmt.Fprintf(l.out, "%d games in %s: %s - %s, %d draws, first to move won %d\n",
		summary.TotalGames, summary.Elapsed, p1, p2, summary.Draws, summary.FirstToMoveWins)
}
