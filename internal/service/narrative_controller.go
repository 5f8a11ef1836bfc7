package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/60fov/ai-fable/internal/config"
	"github.com/60fov/ai-fable/internal/models"
	"github.com/60fov/ai-fable/internal/prompts"
	"github.com/60fov/ai-fable/internal/schemas"
	"github.com/60fov/ai-fable/internal/story"
	"github.com/60fov/ai-fable/internal/turnbuffer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var narrativeOutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ai_fable_narrative_outcomes_total",
		Help: "Completed narrative requests by outcome.",
	},
	[]string{"outcome"},
)

// Renderer получает снимок сессии после каждого изменения.
// Render must not block the caller.
type Renderer interface {
	Render(snapshot models.Snapshot)
}

// OutcomeKind - чем закончился запрос к модели.
type OutcomeKind string

const (
	OutcomeAppended      OutcomeKind = "appended"
	OutcomeParseFailed   OutcomeKind = "parse_failed"
	OutcomeServiceFailed OutcomeKind = "service_failed"
	OutcomeDiscarded     OutcomeKind = "discarded" // результат пришел после Reset или Close
)

// Outcome - результат одного HandleResponse.
type Outcome struct {
	Kind     OutcomeKind
	Snapshot models.Snapshot
	Err      error
}

// ControllerConfig - параметры одной сессии.
type ControllerConfig struct {
	SessionID            string
	Model                string
	Temperature          *float64
	BufferCapacity       int
	ServiceFailurePolicy string
	ParseFailurePolicy   string
	NewID                func() string // генератор ID ходов, nil = uuid
}

// ControllerConfigFromConfig переносит настройки сервиса в ControllerConfig.
func ControllerConfigFromConfig(cfg *config.Config, sessionID string) ControllerConfig {
	temperature := cfg.AITemperature
	return ControllerConfig{
		SessionID:            sessionID,
		Model:                cfg.AIModel,
		Temperature:          &temperature,
		BufferCapacity:       cfg.NarrativeBufferCapacity,
		ServiceFailurePolicy: cfg.ServiceFailurePolicy,
		ParseFailurePolicy:   cfg.ParseFailurePolicy,
	}
}

type pendingRequest struct {
	choice   string
	previous story.Log
	out      chan Outcome
}

// NarrativeController drives one session: it owns the story log, the turn
// buffer and the token total, and serializes every mutation through a single
// event loop goroutine.
type NarrativeController struct {
	cfg        ControllerConfig
	prompts    *prompts.Set
	completion CompletionService
	permit     CompletionPermit
	renderer   Renderer
	reducer    *story.Reducer
	logger     *zap.Logger

	cmds      chan func()
	done      chan struct{}
	baseCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	lastSeen  atomic.Int64

	// Поля ниже принадлежат только горутине loop
	log     story.Log
	buffer  turnbuffer.Buffer[models.ChatMessage]
	tokens  int
	epoch   uint64
	pending *pendingRequest
	lastErr string
}

// NewNarrativeController создает контроллер и запускает его цикл событий.
func NewNarrativeController(
	cfg ControllerConfig,
	set *prompts.Set,
	completion CompletionService,
	permit CompletionPermit,
	renderer Renderer,
	logger *zap.Logger,
) (*NarrativeController, error) {
	if set == nil {
		panic("prompts set cannot be nil for NarrativeController")
	}
	if completion == nil {
		panic("completion service cannot be nil for NarrativeController")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if permit == nil {
		permit = AllowAll{}
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = turnbuffer.DefaultCapacity
	}
	if cfg.ServiceFailurePolicy == "" {
		cfg.ServiceFailurePolicy = config.ServiceFailureRestore
	}
	if cfg.ParseFailurePolicy == "" {
		cfg.ParseFailurePolicy = config.ParseFailureKeep
	}

	buffer, err := turnbuffer.New[models.ChatMessage](cfg.BufferCapacity)
	if err != nil {
		return nil, err
	}

	log := logger.Named("NarrativeController").With(zap.String("session_id", cfg.SessionID))
	var reducerOpts []story.Option
	if cfg.NewID != nil {
		reducerOpts = append(reducerOpts, story.WithIDGenerator(cfg.NewID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &NarrativeController{
		cfg:        cfg,
		prompts:    set,
		completion: completion,
		permit:     permit,
		renderer:   renderer,
		reducer:    story.NewReducer(log, reducerOpts...),
		logger:     log,
		cmds:       make(chan func()),
		done:       make(chan struct{}),
		baseCtx:    ctx,
		cancel:     cancel,
		buffer:     buffer,
	}
	c.touch()
	go c.loop()
	return c, nil
}

func (c *NarrativeController) loop() {
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.cmds:
			cmd()
		}
	}
}

// post передает fn в цикл событий. false - контроллер уже закрыт.
func (c *NarrativeController) post(ctx context.Context, fn func()) (bool, error) {
	select {
	case <-c.done:
		return false, nil
	default:
	}
	select {
	case c.cmds <- fn:
		return true, nil
	case <-c.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// do выполняет fn в цикле событий и ждет завершения.
func (c *NarrativeController) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ok, err := c.post(ctx, func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrControllerClosed
	}
	<-finished
	c.touch()
	return nil
}

// SessionID возвращает идентификатор сессии.
func (c *NarrativeController) SessionID() string { return c.cfg.SessionID }

// LastActivity - время последнего обращения к сессии.
func (c *NarrativeController) LastActivity() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *NarrativeController) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// Start appends the opening turn and seeds the turn buffer with it. It is only
// accepted while the log is empty.
func (c *NarrativeController) Start(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	var opErr error
	if err := c.do(ctx, func() { snap, opErr = c.start() }); err != nil {
		return models.Snapshot{}, err
	}
	return snap, opErr
}

func (c *NarrativeController) start() (models.Snapshot, error) {
	if err := checkTransition(c.state(), ActionStart); err != nil {
		c.logger.Warn("Start rejected", zap.Stringer("state", c.state()))
		return c.snapshot(), err
	}
	next, err := c.reducer.Reduce(c.log, story.AppendTurn{Turn: c.prompts.OpeningTurn})
	if err != nil {
		return c.snapshot(), err
	}
	c.log = next
	c.buffer = c.buffer.Clear().Push(c.prompts.OpeningMessage())
	c.lastErr = ""

	c.logger.Info("Story started", zap.Int("choices", len(c.prompts.OpeningTurn.Choices)))
	return c.publish(), nil
}

// HandleResponse records choice on the current turn and requests the next one
// from the completion service. The call returns as soon as the request is in
// flight; the returned channel receives exactly one Outcome when it settles.
func (c *NarrativeController) HandleResponse(ctx context.Context, choice string) (<-chan Outcome, error) {
	var out <-chan Outcome
	var opErr error
	if err := c.do(ctx, func() { out, opErr = c.handleResponse(ctx, choice) }); err != nil {
		return nil, err
	}
	return out, opErr
}

func (c *NarrativeController) handleResponse(ctx context.Context, choice string) (<-chan Outcome, error) {
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return nil, models.ErrEmptyChoice
	}
	if err := checkTransition(c.state(), ActionRespond); err != nil {
		c.logger.Warn("Response rejected", zap.Stringer("state", c.state()), zap.String("choice", choice))
		return nil, err
	}
	if err := c.permit.Allow(ctx, c.cfg.SessionID, c.tokens); err != nil {
		c.logger.Warn("Completion not permitted", zap.Int("total_tokens", c.tokens), zap.Error(err))
		return nil, err
	}

	previous := c.log
	next, err := c.reducer.Reduce(c.log, story.RecordChoice{Choice: choice})
	if err != nil {
		return nil, err
	}
	c.log = next

	req := CompletionRequest{
		Model:       c.cfg.Model,
		Messages:    c.window(choice),
		Temperature: c.cfg.Temperature,
	}
	out := make(chan Outcome, 1)
	c.pending = &pendingRequest{choice: choice, previous: previous, out: out}
	c.lastErr = ""
	epoch := c.epoch

	c.logger.Info("Requesting next turn", zap.String("choice", choice), zap.Int("window", len(req.Messages)))
	go c.requestCompletion(epoch, req, out)

	c.publish()
	return out, nil
}

// window = системное сообщение + буфер + выбор пользователя
func (c *NarrativeController) window(choice string) []models.ChatMessage {
	items := c.buffer.Items()
	messages := make([]models.ChatMessage, 0, len(items)+2)
	messages = append(messages, c.prompts.SystemMessage())
	messages = append(messages, items...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: choice})
	return messages
}

func (c *NarrativeController) requestCompletion(epoch uint64, req CompletionRequest, out chan Outcome) {
	resp, err := c.completion.CreateCompletion(c.baseCtx, req)
	ok, _ := c.post(context.Background(), func() {
		c.finishResponse(epoch, resp, err, out)
	})
	if !ok {
		out <- Outcome{Kind: OutcomeDiscarded, Err: models.ErrControllerClosed}
	}
}

func (c *NarrativeController) finishResponse(epoch uint64, resp CompletionResponse, callErr error, out chan Outcome) {
	if epoch != c.epoch {
		c.logger.Info("Discarding completion result from before reset", zap.Uint64("epoch", epoch))
		narrativeOutcomesTotal.WithLabelValues(string(OutcomeDiscarded)).Inc()
		out <- Outcome{Kind: OutcomeDiscarded, Snapshot: c.snapshot()}
		return
	}
	pending := c.pending
	c.pending = nil

	if callErr == nil && resp.Message.Content == "" {
		callErr = fmt.Errorf("%w: response has no message", models.ErrCompletionFailed)
	}
	if callErr != nil {
		c.applyServiceFailure(pending)
		c.lastErr = callErr.Error()
		c.logger.Error("Completion failed", zap.String("policy", c.cfg.ServiceFailurePolicy), zap.Error(callErr))
		narrativeOutcomesTotal.WithLabelValues(string(OutcomeServiceFailed)).Inc()
		out <- Outcome{Kind: OutcomeServiceFailed, Snapshot: c.publish(), Err: callErr}
		return
	}

	// Токены учитываются даже если ответ не распарсится
	c.tokens += resp.Usage.TotalTokens

	turn, parseErr := schemas.ParseStoryTurn([]byte(resp.Message.Content))
	if parseErr != nil {
		c.applyParseFailure()
		c.lastErr = parseErr.Error()
		c.logger.Warn("Model response could not be parsed",
			zap.String("policy", c.cfg.ParseFailurePolicy),
			zap.Int("response_length", len(resp.Message.Content)),
			zap.Error(parseErr),
		)
		narrativeOutcomesTotal.WithLabelValues(string(OutcomeParseFailed)).Inc()
		out <- Outcome{Kind: OutcomeParseFailed, Snapshot: c.publish(), Err: parseErr}
		return
	}

	next, err := c.reducer.Reduce(c.log, story.AppendTurn{Turn: turn})
	if err != nil {
		c.lastErr = err.Error()
		out <- Outcome{Kind: OutcomeParseFailed, Snapshot: c.publish(), Err: err}
		return
	}
	c.log = next
	c.buffer = c.buffer.
		Push(models.ChatMessage{Role: models.RoleUser, Content: pending.choice}).
		Push(models.ChatMessage{Role: models.RoleAssistant, Content: resp.Message.Content})

	c.logger.Info("Turn appended",
		zap.Int("turns", c.log.Len()),
		zap.Int("choices", len(turn.Choices)),
		zap.Bool("dies", turn.Dies),
		zap.Int("total_tokens", c.tokens),
	)
	narrativeOutcomesTotal.WithLabelValues(string(OutcomeAppended)).Inc()
	out <- Outcome{Kind: OutcomeAppended, Snapshot: c.publish()}
}

func (c *NarrativeController) applyServiceFailure(pending *pendingRequest) {
	switch c.cfg.ServiceFailurePolicy {
	case config.ServiceFailureDropTip:
		next, _ := c.reducer.Reduce(c.log, story.Rollback{Count: 1})
		c.log = next
	default:
		c.log = pending.previous
	}
}

func (c *NarrativeController) applyParseFailure() {
	if c.cfg.ParseFailurePolicy != config.ParseFailureClear {
		return
	}
	next, err := c.reducer.Reduce(c.log, story.ClearChoice{})
	if err == nil {
		c.log = next
	}
}

// Reset clears the story and the turn buffer from any running state. A
// request still in flight is not cancelled; its result is discarded.
func (c *NarrativeController) Reset(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	var opErr error
	if err := c.do(ctx, func() { snap, opErr = c.reset() }); err != nil {
		return models.Snapshot{}, err
	}
	return snap, opErr
}

func (c *NarrativeController) reset() (models.Snapshot, error) {
	if err := checkTransition(c.state(), ActionReset); err != nil {
		return c.snapshot(), err
	}
	if c.pending != nil {
		c.logger.Info("Reset while completion in flight, result will be discarded")
	}
	c.epoch++
	c.pending = nil
	c.log, _ = c.reducer.Reduce(c.log, story.Reset{})
	c.buffer = c.buffer.Clear()
	c.lastErr = ""

	c.logger.Info("Story reset")
	return c.publish(), nil
}

// Snapshot возвращает текущее состояние сессии.
func (c *NarrativeController) Snapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.do(ctx, func() { snap = c.snapshot() }); err != nil {
		if errors.Is(err, models.ErrControllerClosed) {
			return models.Snapshot{SessionID: c.cfg.SessionID, State: models.StateIdle}, err
		}
		return models.Snapshot{}, err
	}
	return snap, nil
}

// State возвращает текущее состояние; после Close - StateIdle.
func (c *NarrativeController) State() models.NarrativeState {
	state := models.StateIdle
	_ = c.do(context.Background(), func() { state = c.state() })
	return state
}

// Close останавливает цикл событий. Повторный вызов безопасен.
func (c *NarrativeController) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.logger.Info("Narrative controller closed")
	})
}

func (c *NarrativeController) state() models.NarrativeState {
	switch {
	case c.pending != nil:
		return models.StateAwaitingResponse
	case c.log.Empty():
		return models.StateAwaitingFirstTurn
	case c.log.AwaitingAction():
		return models.StateTerminal
	default:
		return models.StateSettled
	}
}

func (c *NarrativeController) snapshot() models.Snapshot {
	snap := models.Snapshot{
		SessionID:      c.cfg.SessionID,
		State:          c.state(),
		Turns:          c.log.Turns(),
		TotalTokens:    c.tokens,
		AwaitingAction: c.log.AwaitingAction(),
		Loading:        c.pending != nil,
		Inventory:      c.log.Inventory(),
		LastError:      c.lastErr,
	}
	if tip, ok := c.log.Tip(); ok {
		snap.Dead = tip.Dies
	}
	return snap
}

// publish строит снимок и отдает его рендереру.
func (c *NarrativeController) publish() models.Snapshot {
	snap := c.snapshot()
	if c.renderer != nil {
		c.renderer.Render(snap)
	}
	return snap
}

// BufferItems возвращает копию окна сообщений (для отладки и тестов).
func (c *NarrativeController) BufferItems(ctx context.Context) ([]models.ChatMessage, error) {
	var items []models.ChatMessage
	if err := c.do(ctx, func() { items = c.buffer.Items() }); err != nil {
		return nil, err
	}
	return items, nil
}
