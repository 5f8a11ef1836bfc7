// Package story holds the append-only log of story turns and the reducer that
// evolves it.
package story

import "github.com/60fov/ai-fable/internal/models"

// Log - неизменяемая история ходов. Нулевое значение - пустая история.
// Все операции Reducer возвращают новый Log и не трогают исходный.
type Log struct {
	turns []models.StoryTurn
}

// NewLog строит Log из готовых ходов (копируя их).
func NewLog(turns ...models.StoryTurn) Log {
	if len(turns) == 0 {
		return Log{}
	}
	out := make([]models.StoryTurn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return Log{turns: out}
}

func (l Log) Len() int { return len(l.turns) }

func (l Log) Empty() bool { return len(l.turns) == 0 }

// Tip возвращает копию последнего хода.
func (l Log) Tip() (models.StoryTurn, bool) {
	if len(l.turns) == 0 {
		return models.StoryTurn{}, false
	}
	return l.turns[len(l.turns)-1].Clone(), true
}

// At возвращает копию хода с индексом i.
func (l Log) At(i int) (models.StoryTurn, bool) {
	if i < 0 || i >= len(l.turns) {
		return models.StoryTurn{}, false
	}
	return l.turns[i].Clone(), true
}

// Turns возвращает копии всех ходов, от старых к новым.
func (l Log) Turns() []models.StoryTurn {
	out := make([]models.StoryTurn, len(l.turns))
	for i, t := range l.turns {
		out[i] = t.Clone()
	}
	return out
}

// AwaitingAction is true when the log is empty or the tip offers no choices,
// i.e. the only meaningful action left is to (re)start the story.
func (l Log) AwaitingAction() bool {
	tip, ok := l.Tip()
	return !ok || tip.Terminal()
}

// Settled reports whether every turn except possibly the tip has a selected
// choice.
func (l Log) Settled() bool {
	for i := 0; i < len(l.turns)-1; i++ {
		if !l.turns[i].Settled() {
			return false
		}
	}
	return true
}

// Inventory собирает весь лут из истории в порядке появления.
func (l Log) Inventory() []models.Loot {
	out := []models.Loot{}
	for _, t := range l.turns {
		if t.Loot != nil {
			out = append(out, *t.Loot)
		}
	}
	return out
}

// withTurns normalizes an empty result to the zero Log so value comparison
// between equivalent logs holds.
func withTurns(turns []models.StoryTurn) Log {
	if len(turns) == 0 {
		return Log{}
	}
	return Log{turns: turns}
}
