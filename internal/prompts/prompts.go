// Package prompts provides the system prompt and the opening story turn.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/60fov/ai-fable/internal/schemas"
	"go.uber.org/zap"
)

const (
	systemFile  = "system.txt"
	openingFile = "opening.json"
)

//go:embed defaults/*
var defaults embed.FS

// Set - проверенный набор промптов, общий для всех сессий.
type Set struct {
	System      string
	OpeningRaw  string
	OpeningTurn models.StoryTurn
}

// SystemMessage возвращает системное сообщение окна запроса.
func (s *Set) SystemMessage() models.ChatMessage {
	return models.ChatMessage{Role: models.RoleSystem, Content: s.System}
}

// OpeningMessage возвращает первый ход в виде сообщения ассистента.
func (s *Set) OpeningMessage() models.ChatMessage {
	return models.ChatMessage{Role: models.RoleAssistant, Content: s.OpeningRaw}
}

// Load reads prompts from dir, falling back to the embedded defaults for any
// file that is absent. An empty dir means defaults only. A malformed opening
// payload is reported as models.ErrInvalidOpeningTurn.
func Load(dir string, logger *zap.Logger) (*Set, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("Prompts")

	system, err := readPrompt(dir, systemFile, log)
	if err != nil {
		return nil, err
	}
	opening, err := readPrompt(dir, openingFile, log)
	if err != nil {
		return nil, err
	}
	return Parse(system, opening)
}

// Parse проверяет и собирает Set из готовых текстов.
func Parse(system, opening string) (*Set, error) {
	system = strings.TrimSpace(system)
	if system == "" {
		return nil, errors.New("system prompt is empty")
	}
	turn, err := schemas.ParseStoryTurn([]byte(opening))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidOpeningTurn, err)
	}
	return &Set{
		System:      system,
		OpeningRaw:  strings.TrimSpace(opening),
		OpeningTurn: turn,
	}, nil
}

func readPrompt(dir, name string, log *zap.Logger) (string, error) {
	if dir != "" {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			log.Info("Prompt loaded from directory", zap.String("path", path))
			return string(data), nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("failed to read prompt %s: %w", path, err)
		}
		log.Debug("Prompt file not found, using embedded default", zap.String("path", path))
	}
	data, err := defaults.ReadFile("defaults/" + name)
	if err != nil {
		return "", fmt.Errorf("embedded prompt %s missing: %w", name, err)
	}
	return string(data), nil
}
