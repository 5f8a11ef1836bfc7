package models

import "slices"

// Loot - предмет, выпавший после победы над врагом.
type Loot struct {
	Name    string `json:"name"`
	Power   int    `json:"power"`
	Defense int    `json:"defense"`
}

// StoryTurn - один шаг истории, полученный от модели.
type StoryTurn struct {
	ID             string   `json:"id"`
	Narrative      string   `json:"narrative"`
	Choices        []string `json:"choices"`
	SelectedChoice *string  `json:"selectedChoice,omitempty"`
	Dies           bool     `json:"dies"`
	Loot           *Loot    `json:"loot"`
}

// Settled reports whether the user has already picked a choice for this turn.
func (t StoryTurn) Settled() bool {
	return t.SelectedChoice != nil
}

// Terminal reports whether the turn offers no further choices.
func (t StoryTurn) Terminal() bool {
	return len(t.Choices) == 0
}

// Offers reports whether choice is one of the turn's options.
func (t StoryTurn) Offers(choice string) bool {
	return slices.Contains(t.Choices, choice)
}

// Clone возвращает глубокую копию хода.
func (t StoryTurn) Clone() StoryTurn {
	c := t
	if t.Choices != nil {
		c.Choices = append([]string(nil), t.Choices...)
	}
	if t.SelectedChoice != nil {
		s := *t.SelectedChoice
		c.SelectedChoice = &s
	}
	if t.Loot != nil {
		l := *t.Loot
		c.Loot = &l
	}
	return c
}
