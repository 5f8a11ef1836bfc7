package service

import (
	"fmt"

	"github.com/60fov/ai-fable/internal/models"
)

// NarrativeAction - действие пользователя над сессией.
type NarrativeAction string

const (
	ActionStart   NarrativeAction = "start"
	ActionRespond NarrativeAction = "respond"
	ActionReset   NarrativeAction = "reset"
)

// transitions lists, per state, the user actions that are accepted.
// Completion results are not user actions and are matched by epoch instead.
var transitions = map[models.NarrativeState]map[NarrativeAction]bool{
	models.StateIdle: {},
	models.StateAwaitingFirstTurn: {
		ActionStart: true,
		ActionReset: true,
	},
	models.StateSettled: {
		ActionRespond: true,
		ActionReset:   true,
	},
	models.StateAwaitingResponse: {
		ActionReset: true,
	},
	models.StateTerminal: {
		ActionReset: true,
	},
}

// CanTransition сообщает, допустимо ли действие в состоянии.
func CanTransition(state models.NarrativeState, action NarrativeAction) bool {
	return transitions[state][action]
}

func checkTransition(state models.NarrativeState, action NarrativeAction) error {
	if CanTransition(state, action) {
		return nil
	}
	return fmt.Errorf("%w: %s in state %s", models.ErrInvalidTransition, action, state)
}
