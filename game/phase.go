// game/phase.go
package game

import "fmt"

// Phase 房间游戏阶段
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseInitialized
	PhaseInProgress
	PhaseOver
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseInitialized:
		return "initialized"
	case PhaseInProgress:
		return "in_progress"
	case PhaseOver:
		return "over"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// transitions: from -> to. Reset is allowed from every non-empty phase.
var transitions = map[Phase]map[Phase]bool{
	PhaseEmpty:       {PhaseInitialized: true},
	PhaseInitialized: {PhaseInitialized: true, PhaseInProgress: true},
	PhaseInProgress:  {PhaseInitialized: true, PhaseInProgress: true, PhaseOver: true},
	PhaseOver:        {PhaseInitialized: true},
}

func checkTransition(from, to Phase) error {
	if transitions[from][to] {
		return nil
	}
	return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
}
