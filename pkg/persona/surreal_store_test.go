package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The SurrealStore's network half needs a live database; the row plumbing is
// pure and tested here.

func TestUnwrapRows(t *testing.T) {
	t.Run("Wrapped Query Result", func(t *testing.T) {
		result := []interface{}{
			map[string]interface{}{
				"result": []interface{}{
					map[string]interface{}{"title": "The mill"},
					map[string]interface{}{"title": "Ruth"},
				},
			},
		}

		rows := unwrapRows(result)
		require.Len(t, rows, 2)
		assert.Equal(t, "The mill", rows[0]["title"])
	})

	t.Run("Bare Row Maps", func(t *testing.T) {
		result := []interface{}{
			map[string]interface{}{"title": "The mill"},
		}

		rows := unwrapRows(result)
		require.Len(t, rows, 1)
		assert.Equal(t, "The mill", rows[0]["title"])
	})

	t.Run("Empty And Nil", func(t *testing.T) {
		assert.Empty(t, unwrapRows(nil))
		assert.Empty(t, unwrapRows([]interface{}{}))
		assert.Empty(t, unwrapRows("garbage"))
	})
}

func TestDecodeRow(t *testing.T) {
	t.Run("Life Story Row", func(t *testing.T) {
		row := map[string]interface{}{
			"id":             "life_stories:story-mill-job",
			"persona_id":     "elder-thomas",
			"category":       "career",
			"title":          "The mill",
			"narrative":      "n",
			"lesson":         "l",
			"keywords":       []interface{}{"boss", "work"},
			"emotional_tone": "resolve",
			"active":         true,
		}

		var story LifeStory
		require.NoError(t, decodeRow(row, &story))
		assert.Equal(t, "life_stories:story-mill-job", story.ID)
		assert.Equal(t, []string{"boss", "work"}, story.Keywords)
		assert.True(t, story.Active)
	})

	t.Run("Non-String Record ID Flattened", func(t *testing.T) {
		row := map[string]interface{}{
			"id":     map[string]interface{}{"tb": "personas", "id": "p1"},
			"name":   "Elder Thomas",
			"active": true,
		}

		var story LifeStory
		require.NoError(t, decodeRow(row, &story))
		assert.NotEmpty(t, story.ID)
	})
}
