package service

import (
	"testing"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		state  models.NarrativeState
		action NarrativeAction
		want   bool
	}{
		{models.StateIdle, ActionStart, false},
		{models.StateIdle, ActionReset, false},
		{models.StateAwaitingFirstTurn, ActionStart, true},
		{models.StateAwaitingFirstTurn, ActionRespond, false},
		{models.StateSettled, ActionStart, false},
		{models.StateSettled, ActionRespond, true},
		{models.StateAwaitingResponse, ActionRespond, false},
		{models.StateAwaitingResponse, ActionReset, true},
		{models.StateTerminal, ActionStart, false},
		{models.StateTerminal, ActionRespond, false},
		{models.StateTerminal, ActionReset, true},
	}
	for _, tc := range cases {
		t.Run(tc.state.String()+"/"+string(tc.action), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.state, tc.action))
		})
	}
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, checkTransition(models.StateSettled, ActionRespond))
	assert.ErrorIs(t, checkTransition(models.StateTerminal, ActionStart), models.ErrInvalidTransition)
}
