// Package session keeps the in-memory registry of narrative sessions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/60fov/ai-fable/internal/service"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ai_fable_active_sessions",
	Help: "Number of narrative sessions held in memory.",
})

// Factory создает контроллер для новой сессии.
type Factory func(sessionID string) (*service.NarrativeController, error)

// Manager - реестр сессий в памяти. Ничего не сохраняется между запусками.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*service.NarrativeController
	factory           Factory
	inactivityTimeout time.Duration
	onExpire          func(sessionID string)
	logger            *zap.Logger
}

func NewManager(factory Factory, inactivityTimeout time.Duration, logger *zap.Logger) *Manager {
	if factory == nil {
		panic("session factory cannot be nil")
	}
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*service.NarrativeController),
		factory:           factory,
		inactivityTimeout: inactivityTimeout,
		logger:            logger.Named("SessionManager"),
	}
}

// SetExpireHook задает функцию, вызываемую для каждой сессии, закрытой по неактивности.
func (m *Manager) SetExpireHook(hook func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create() (*service.NarrativeController, error) {
	id := uuid.NewString()
	ctrl, err := m.factory(id)
	if err != nil {
		m.logger.Error("Failed to create narrative controller", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = ctrl
	activeSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	m.logger.Info("Session created", zap.String("session_id", id))
	return ctrl, nil
}

func (m *Manager) Get(sessionID string) (*service.NarrativeController, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctrl, ok := m.sessions[sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return ctrl, nil
}

// Delete закрывает контроллер и удаляет сессию.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	ctrl, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		activeSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !ok {
		return models.ErrSessionNotFound
	}
	ctrl.Close()
	m.logger.Info("Session deleted", zap.String("session_id", sessionID))
	return nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartJanitor периодически закрывает неактивные сессии до отмены ctx.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive(time.Now())
			}
		}
	}()
}

func (m *Manager) expireInactive(now time.Time) {
	var expired []*service.NarrativeController

	m.mu.Lock()
	for id, ctrl := range m.sessions {
		if now.Sub(ctrl.LastActivity()) < m.inactivityTimeout {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, ctrl)
	}
	activeSessions.Set(float64(len(m.sessions)))
	hook := m.onExpire
	m.mu.Unlock()

	for _, ctrl := range expired {
		ctrl.Close()
		m.logger.Info("Session expired", zap.String("session_id", ctrl.SessionID()))
		if hook != nil {
			hook(ctrl.SessionID())
		}
	}
}

// CloseAll закрывает все сессии (при остановке сервиса).
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*service.NarrativeController)
	activeSessions.Set(0)
	m.mu.Unlock()

	for _, ctrl := range all {
		ctrl.Close()
	}
	m.logger.Info("All sessions closed", zap.Int("count", len(all)))
}
