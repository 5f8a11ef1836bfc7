// Package renderer fans narrative snapshots out to whoever presents them.
// Every implementation returns from Render without waiting on I/O.
package renderer

import (
	"github.com/60fov/ai-fable/internal/models"
	"go.uber.org/zap"
)

// Renderer получает снимки сессий.
type Renderer interface {
	Render(snapshot models.Snapshot)
}

// Multi рассылает снимок всем вложенным рендерерам по порядку.
type Multi []Renderer

func (m Multi) Render(snapshot models.Snapshot) {
	for _, r := range m {
		if r != nil {
			r.Render(snapshot)
		}
	}
}

// Log пишет краткое описание снимка в лог.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("SnapshotLog")}
}

func (l *Log) Render(s models.Snapshot) {
	l.logger.Debug("Narrative snapshot",
		zap.String("session_id", s.SessionID),
		zap.Stringer("state", s.State),
		zap.Int("turns", len(s.Turns)),
		zap.Int("total_tokens", s.TotalTokens),
		zap.Bool("loading", s.Loading),
		zap.Bool("dead", s.Dead),
	)
}
