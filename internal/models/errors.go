package models

import "errors"

// Общие ошибки приложения
var (
	// Story Log
	ErrEmptyLog      = errors.New("story log is empty")
	ErrChoiceLocked  = errors.New("choice already recorded for this turn")
	ErrEmptyChoice   = errors.New("choice must not be empty")
	ErrUnknownChoice = errors.New("choice is not offered by the current turn")

	// Narrative state machine
	ErrInvalidTransition = errors.New("action is not allowed in the current narrative state")
	ErrControllerClosed  = errors.New("narrative controller is closed")

	// Completion Service
	ErrCompletionFailed       = errors.New("completion request failed")
	ErrCompletionNotPermitted = errors.New("completion is not permitted")

	// Payload
	ErrStoryTurnMalformed = errors.New("story turn payload is malformed")
	ErrInvalidOpeningTurn = errors.New("opening story turn is invalid")

	// Sessions
	ErrSessionNotFound = errors.New("session not found")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)
