package uct

import "github.com/pkg/errors"

// Hard errors abort the search immediately (domain contract violations and
// configuration errors). Soft conditions (rollout depth cap, inconsistent
// determinization samples) never abort, they are counted in the final
// statistics instead.
var (
	// The action is not legal in the given state, a domain contract violation
	ErrInvalidAction = errors.New("uct: action not legal in state")

	// The action has no corresponding child or untried entry on the node
	ErrUnknownAction = errors.New("uct: no node entry for action")

	// The action already has a child on the node
	ErrActionAlreadyExpanded = errors.New("uct: action already expanded")

	// The config specifies zero iterations and no positive time budget
	ErrEmptyBudget = errors.New("uct: empty search budget")

	// Search was started while already running
	ErrAlreadyRunning = errors.New("uct: search already running")
)
