package bench

import "github.com/IlikeChooros/go-uct/pkg/uct"

// ArenaListenerLike receives arena progress. OnMove and OnGameEnd are
// called from worker goroutines concurrently, implementations must
// synchronize their own state.
type ArenaListenerLike[A uct.MoveLike] interface {
	OnStart(workers, games int)
	OnMove(info VersusWorkerInfo[A])
	OnGameEnd(info VersusWorkerInfo[A])
	OnEnd(summary VersusSummaryInfo)
}

type NopListener[A uct.MoveLike] struct{}

func (NopListener[A]) OnStart(workers, games int)         {}
func (NopListener[A]) OnMove(info VersusWorkerInfo[A])    {}
func (NopListener[A]) OnGameEnd(info VersusWorkerInfo[A]) {}
func (NopListener[A]) OnEnd(summary VersusSummaryInfo)    {}
