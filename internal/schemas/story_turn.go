// Package schemas decodes and validates the structured story payload returned
// by the model.
package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	validate   = validator.New(validator.WithRequiredStructEnabled())
	fenceRegex = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
)

// storyTurnPayload mirrors the wire format. Pointer fields distinguish a
// missing key from a zero value.
type storyTurnPayload struct {
	Narrative *string         `json:"narrative" validate:"required"`
	Choices   *[]string       `json:"choices" validate:"required,dive,required"`
	Dies      *bool           `json:"dies" validate:"required"`
	Loot      json.RawMessage `json:"loot" validate:"required"`
}

// ParseStoryTurn decodes raw model output into a StoryTurn. The returned turn
// has no ID; the story log assigns one on append. Every failure wraps
// models.ErrStoryTurnMalformed.
func ParseStoryTurn(raw []byte) (models.StoryTurn, error) {
	body := stripFence(raw)
	if len(body) == 0 {
		return models.StoryTurn{}, fmt.Errorf("%w: empty payload", models.ErrStoryTurnMalformed)
	}

	var p storyTurnPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return models.StoryTurn{}, fmt.Errorf("%w: %v", models.ErrStoryTurnMalformed, err)
	}
	if err := validate.Struct(p); err != nil {
		return models.StoryTurn{}, fmt.Errorf("%w: %v", models.ErrStoryTurnMalformed, err)
	}

	loot, err := parseLoot(p.Loot)
	if err != nil {
		return models.StoryTurn{}, err
	}

	return models.StoryTurn{
		Narrative: *p.Narrative,
		Choices:   append([]string{}, (*p.Choices)...),
		Dies:      *p.Dies,
		Loot:      loot,
	}, nil
}

func parseLoot(raw json.RawMessage) (*models.Loot, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}

	var payload struct {
		Name    *string `json:"name" validate:"required"`
		Power   *int    `json:"power" validate:"required,min=1,max=10"`
		Defense *int    `json:"defense" validate:"required,min=1,max=10"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: loot: %v", models.ErrStoryTurnMalformed, err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: loot: %v", models.ErrStoryTurnMalformed, err)
	}

	loot := models.Loot{Name: *payload.Name, Power: *payload.Power, Defense: *payload.Defense}
	return &loot, nil
}

// stripFence убирает markdown-обертку ```json ... ```, которую модели иногда
// добавляют вокруг ответа.
func stripFence(raw []byte) []byte {
	text := strings.TrimSpace(string(raw))
	if m := fenceRegex.FindStringSubmatch(text); len(m) > 1 {
		text = m[1]
	}
	return []byte(text)
}
