package form

import (
	"errors"
	"fmt"
)

type State string

const (
	StateDraft      State = "draft"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

var (
	ErrInvalidTransition = errors.New("invalid form state transition")
	ErrSubmitInFlight    = errors.New("submission already in progress")
	ErrNotEditable       = errors.New("form is not editable")
)

var transitions = map[State][]State{
	StateDraft:      {StateValidating},
	StateValidating: {StateSubmitting, StateFailed},
	StateSubmitting: {StateSuccess, StateFailed},
	StateFailed:     {StateDraft},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func (m Mode) Valid() bool {
	return m == ModeCreate || m == ModeEdit
}
