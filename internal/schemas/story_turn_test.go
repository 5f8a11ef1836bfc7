package schemas_test

import (
	"testing"

	"github.com/60fov/ai-fable/internal/models"
	"github.com/60fov/ai-fable/internal/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStoryTurn(t *testing.T) {
	t.Run("Valid payload with null loot", func(t *testing.T) {
		turn, err := schemas.ParseStoryTurn([]byte(`{"narrative":"You wake.","choices":["Stand","Sleep"],"dies":false,"loot":null}`))
		require.NoError(t, err)
		assert.Equal(t, "You wake.", turn.Narrative)
		assert.Equal(t, []string{"Stand", "Sleep"}, turn.Choices)
		assert.False(t, turn.Dies)
		assert.Nil(t, turn.Loot)
		assert.Empty(t, turn.ID)
	})

	t.Run("Valid payload with loot", func(t *testing.T) {
		turn, err := schemas.ParseStoryTurn([]byte(`{"narrative":"The orc falls.","choices":["Take it"],"dies":false,"loot":{"name":"Axe","power":7,"defense":1}}`))
		require.NoError(t, err)
		require.NotNil(t, turn.Loot)
		assert.Equal(t, models.Loot{Name: "Axe", Power: 7, Defense: 1}, *turn.Loot)
	})

	t.Run("Empty choices is terminal", func(t *testing.T) {
		turn, err := schemas.ParseStoryTurn([]byte(`{"narrative":"You died.","choices":[],"dies":true,"loot":null}`))
		require.NoError(t, err)
		assert.True(t, turn.Terminal())
		assert.True(t, turn.Dies)
	})

	t.Run("Markdown fence is tolerated", func(t *testing.T) {
		raw := "```json\n{\"narrative\":\"n\",\"choices\":[\"a\"],\"dies\":false,\"loot\":null}\n```"
		turn, err := schemas.ParseStoryTurn([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, "n", turn.Narrative)
	})

	t.Run("Unknown fields are ignored", func(t *testing.T) {
		_, err := schemas.ParseStoryTurn([]byte(`{"narrative":"n","choices":["a"],"dies":false,"loot":null,"mood":"grim"}`))
		assert.NoError(t, err)
	})

	malformed := map[string]string{
		"plain text":       `Once upon a time`,
		"empty":            ``,
		"missing loot":     `{"narrative":"n","choices":["a"],"dies":false}`,
		"missing dies":     `{"narrative":"n","choices":["a"],"loot":null}`,
		"missing choices":  `{"narrative":"n","dies":false,"loot":null}`,
		"null choices":     `{"narrative":"n","choices":null,"dies":false,"loot":null}`,
		"missing narr":     `{"choices":["a"],"dies":false,"loot":null}`,
		"dies as string":   `{"narrative":"n","choices":["a"],"dies":"<boolean>","loot":null}`,
		"choice not str":   `{"narrative":"n","choices":[1],"dies":false,"loot":null}`,
		"empty choice":     `{"narrative":"n","choices":[""],"dies":false,"loot":null}`,
		"power too high":   `{"narrative":"n","choices":["a"],"dies":false,"loot":{"name":"x","power":11,"defense":1}}`,
		"defense too low":  `{"narrative":"n","choices":["a"],"dies":false,"loot":{"name":"x","power":1,"defense":0}}`,
		"loot missing key": `{"narrative":"n","choices":["a"],"dies":false,"loot":{"name":"x","power":1}}`,
		"loot as string":   `{"narrative":"n","choices":["a"],"dies":false,"loot":"sword"}`,
		"array root":       `[1,2,3]`,
	}
	for name, raw := range malformed {
		t.Run("Malformed "+name, func(t *testing.T) {
			_, err := schemas.ParseStoryTurn([]byte(raw))
			assert.ErrorIs(t, err, models.ErrStoryTurnMalformed)
		})
	}
}
