package story

import (
	"fmt"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action - одно из действий над историей: AppendTurn, RecordChoice,
// ClearChoice, Rollback, Reset.
type Action interface {
	actionName() string
}

// AppendTurn добавляет новый ход. ID назначается редьюсером.
type AppendTurn struct {
	Turn models.StoryTurn
}

// RecordChoice фиксирует выбор пользователя на последнем ходе.
type RecordChoice struct {
	Choice string
}

// ClearChoice снимает выбор с последнего хода.
type ClearChoice struct{}

// Rollback удаляет последние Count ходов.
type Rollback struct {
	Count int
}

// Reset очищает историю.
type Reset struct{}

func (AppendTurn) actionName() string   { return "append_turn" }
func (RecordChoice) actionName() string { return "record_choice" }
func (ClearChoice) actionName() string  { return "clear_choice" }
func (Rollback) actionName() string     { return "rollback" }
func (Reset) actionName() string        { return "reset" }

// Reducer применяет действия к Log.
type Reducer struct {
	newID  func() string
	logger *zap.Logger
}

// Option настраивает Reducer.
type Option func(*Reducer)

// WithIDGenerator подменяет генератор идентификаторов ходов.
func WithIDGenerator(gen func() string) Option {
	return func(r *Reducer) {
		if gen != nil {
			r.newID = gen
		}
	}
}

func NewReducer(logger *zap.Logger, opts ...Option) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reducer{
		newID:  uuid.NewString,
		logger: logger.Named("StoryReducer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reduce returns the log produced by applying action to log. On an anomaly
// (empty log, locked choice) it returns the input log unchanged together with
// the error; it never panics.
func (r *Reducer) Reduce(log Log, action Action) (Log, error) {
	switch a := action.(type) {
	case AppendTurn:
		return r.appendTurn(log, a.Turn), nil
	case RecordChoice:
		return r.recordChoice(log, a.Choice)
	case ClearChoice:
		return r.clearChoice(log)
	case Rollback:
		return rollback(log, a.Count), nil
	case Reset:
		return Log{}, nil
	default:
		return log, fmt.Errorf("unknown story action %T", action)
	}
}

func (r *Reducer) appendTurn(log Log, turn models.StoryTurn) Log {
	t := turn.Clone()
	t.ID = r.newID()
	turns := make([]models.StoryTurn, len(log.turns), len(log.turns)+1)
	copy(turns, log.turns)
	return withTurns(append(turns, t))
}

func (r *Reducer) recordChoice(log Log, choice string) (Log, error) {
	if choice == "" {
		return log, models.ErrEmptyChoice
	}
	if log.Empty() {
		// Аномалия: выбор без хода. Логируем и возвращаем историю как есть.
		r.logger.Warn("Record choice on empty story log ignored", zap.String("choice", choice))
		return log, models.ErrEmptyLog
	}
	tip := log.turns[len(log.turns)-1]
	if tip.SelectedChoice != nil {
		if *tip.SelectedChoice == choice {
			return log, nil
		}
		r.logger.Warn("Choice already recorded on tip",
			zap.String("turn_id", tip.ID),
			zap.String("recorded", *tip.SelectedChoice),
			zap.String("requested", choice),
		)
		return log, models.ErrChoiceLocked
	}
	if !tip.Offers(choice) {
		r.logger.Warn("Choice is not offered by tip",
			zap.String("turn_id", tip.ID),
			zap.Strings("choices", tip.Choices),
			zap.String("requested", choice),
		)
		return log, models.ErrUnknownChoice
	}
	return replaceTip(log, func(t *models.StoryTurn) {
		c := choice
		t.SelectedChoice = &c
	}), nil
}

func (r *Reducer) clearChoice(log Log) (Log, error) {
	if log.Empty() {
		r.logger.Warn("Clear choice on empty story log ignored")
		return log, models.ErrEmptyLog
	}
	return replaceTip(log, func(t *models.StoryTurn) {
		t.SelectedChoice = nil
	}), nil
}

func replaceTip(log Log, mutate func(*models.StoryTurn)) Log {
	turns := make([]models.StoryTurn, len(log.turns))
	copy(turns, log.turns)
	tip := turns[len(turns)-1].Clone()
	mutate(&tip)
	turns[len(turns)-1] = tip
	return withTurns(turns)
}

func rollback(log Log, count int) Log {
	if count <= 0 {
		return log
	}
	keep := len(log.turns) - count
	if keep <= 0 {
		return Log{}
	}
	turns := make([]models.StoryTurn, keep)
	copy(turns, log.turns[:keep])
	return withTurns(turns)
}
