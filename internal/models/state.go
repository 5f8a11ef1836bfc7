package models

// NarrativeState - состояние контроллера истории.
type NarrativeState int

const (
	StateIdle NarrativeState = iota
	StateAwaitingFirstTurn
	StateAwaitingResponse
	StateSettled
	StateTerminal
)

func (s NarrativeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFirstTurn:
		return "awaiting_first_turn"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateSettled:
		return "settled"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// MarshalText keeps the state readable in JSON snapshots.
func (s NarrativeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
