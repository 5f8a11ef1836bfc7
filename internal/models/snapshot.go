package models

// Snapshot - неизменяемое представление сессии для рендереров и HTTP клиентов.
type Snapshot struct {
	SessionID      string         `json:"sessionId"`
	State          NarrativeState `json:"state"`
	Turns          []StoryTurn    `json:"turns"`
	TotalTokens    int            `json:"totalTokens"`
	AwaitingAction bool           `json:"awaitingAction"`
	Loading        bool           `json:"loading"`
	Dead           bool           `json:"dead"`
	Inventory      []Loot         `json:"inventory"`
	LastError      string         `json:"lastError,omitempty"`
}

// Tip возвращает последний ход или nil, если история пуста.
func (s Snapshot) Tip() *StoryTurn {
	if len(s.Turns) == 0 {
		return nil
	}
	return &s.Turns[len(s.Turns)-1]
}
