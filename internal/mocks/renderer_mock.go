package mocks

import (
	"sync"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/60fov/ai-fable/internal/service"
	"github.com/stretchr/testify/mock"
)

// Renderer записывает все полученные снимки.
type Renderer struct {
	mock.Mock

	mu        sync.Mutex
	snapshots []models.Snapshot
}

func (m *Renderer) Render(snapshot models.Snapshot) {
	m.mu.Lock()
	m.snapshots = append(m.snapshots, snapshot)
	m.mu.Unlock()
	m.Called(snapshot)
}

// Snapshots возвращает копию полученных снимков.
func (m *Renderer) Snapshots() []models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Snapshot(nil), m.snapshots...)
}

// NewRenderer возвращает мок, принимающий любые снимки.
func NewRenderer() *Renderer {
	m := &Renderer{}
	m.On("Render", mock.Anything).Maybe()
	return m
}

var _ service.Renderer = (*Renderer)(nil)
