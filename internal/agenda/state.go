package agenda

import "fmt"

// Op is a state machine operation on a slot.
type Op string

const (
	OpBook       Op = "book"
	OpAttend     Op = "attend"
	OpCancel     Op = "cancel"
	OpMarkNoShow Op = "mark_no_show"
)

// transitions is the closed transition table. States missing from the map
// are terminal.
var transitions = map[SlotState]map[Op]SlotState{
	SlotLibre: {
		OpBook: SlotProgramado,
	},
	SlotProgramado: {
		OpAttend:     SlotAtendido,
		OpCancel:     SlotCancelado,
		OpMarkNoShow: SlotInasistencia,
	},
}

// InvalidTransitionError names the current state and the rejected operation.
// The slot is left unchanged whenever it is returned.
type InvalidTransitionError struct {
	From SlotState
	Op   Op
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a slot in state %s", e.Op, e.From)
}

// NextState resolves the target state for an operation, or an
// InvalidTransitionError when the table has no such edge.
func NextState(from SlotState, op Op) (SlotState, error) {
	if next, ok := transitions[from][op]; ok {
		return next, nil
	}
	return "", &InvalidTransitionError{From: from, Op: op}
}

// Terminal reports whether a state has no outgoing transitions.
func (s SlotState) Terminal() bool {
	return len(transitions[s]) == 0
}

// RequiresPatient reports whether the slot-has-patient invariant binds a
// patient to this state.
func (s SlotState) RequiresPatient() bool {
	switch s {
	case SlotProgramado, SlotAtendido, SlotInasistencia:
		return true
	}
	return false
}

// Valid reports whether s is one of the five known states.
func (s SlotState) Valid() bool {
	switch s {
	case SlotLibre, SlotProgramado, SlotAtendido, SlotCancelado, SlotInasistencia:
		return true
	}
	return false
}
