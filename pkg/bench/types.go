package bench

import (
	"sync/atomic"

	"github.com/IlikeChooros/go-uct/pkg/uct"
)

type VersusMatchResult int

const (
	VersusPl1Win VersusMatchResult = 1
	VersusPl2Win VersusMatchResult = -1
	VersusDraw   VersusMatchResult = 0
)

type VersusArenaStats struct {
	p1Wins          atomic.Uint32
	p2Wins          atomic.Uint32
	draws           atomic.Uint32
	firstToMoveWins atomic.Uint32
}

func (vas *VersusArenaStats) Total() int {
	return vas.P1Wins() + vas.P2Wins() + vas.Draws()
}

func (vas *VersusArenaStats) P1Wins() int          { return int(vas.p1Wins.Load()) }
func (vas *VersusArenaStats) P2Wins() int          { return int(vas.p2Wins.Load()) }
func (vas *VersusArenaStats) Draws() int           { return int(vas.draws.Load()) }
func (vas *VersusArenaStats) FirstToMoveWins() int { return int(vas.firstToMoveWins.Load()) }

// Per-worker progress snapshot handed to arena listeners
type VersusWorkerInfo[A uct.MoveLike] struct {
	WorkerID      int
	NGames        int
	FinishedGames int
	GameMoveNum   int
	Moves         []A
	P1Wins        int
	P2Wins        int
	Draws         int
	P1Name        string
	P2Name        string
}

type VersusSummaryInfo struct {
	TotalGames      int    `json:"total_games"`
	P1Wins          int    `json:"player1_wins"`
	P2Wins          int    `json:"player2_wins"`
	Draws           int    `json:"draws"`
	FirstToMoveWins int    `json:"first_to_move_wins"`
	Workers         int    `json:"workers"`
	P1Name          string `json:"player1_name"`
	P2Name          string `json:"player2_name"`
	Elapsed         string `json:"elapsed"`
}
