package persona

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/charbot/internal/history"
	"github.com/vthunder/charbot/internal/logging"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestCatalogGet(t *testing.T) {
	c := NewCatalog(Entry{ID: "ada", Persona: Persona{Name: "Ada"}})

	p, err := c.Get("ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogPage(t *testing.T) {
	c := NewCatalog(
		Entry{ID: "c", Persona: Persona{Name: "C"}},
		Entry{ID: "a", Persona: Persona{Name: "A"}},
		Entry{ID: "b", Persona: Persona{Name: "B"}},
	)

	ids := func(entries []Entry) []string {
		var out []string
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(c.List()))
	assert.Equal(t, []string{"b", "c"}, ids(c.Page(1, 25)))
	assert.Equal(t, []string{"a"}, ids(c.Page(-4, 1)))
	assert.Empty(t, c.Page(3, 25))
	assert.Empty(t, c.Page(0, 0))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ada.json", `{
		"char_name": "Ada",
		"char_description": "A mathematician",
		"char_persona": "Precise and curious.",
		"example_dialogue": [{"speaker": "You", "content": "Hi"}, {"speaker": "Ada", "content": "Hello."}],
		"avatar_url": "https://example.com/ada.png"
	}`)
	writeFile(t, dir, "grace.v2.yaml", `
char_name: Grace
char_description: An admiral
char_persona: Direct.
example_dialogue:
  - speaker: Grace
    content: Ship it.
avatar_url: https://example.com/grace.png
`)
	writeFile(t, dir, "broken.json", `{"char_name": `)
	writeFile(t, dir, "nameless.json", `{"char_persona": "who am I"}`)
	writeFile(t, dir, "notes.txt", "ignored")

	c, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	ada, err := c.Get("ada")
	require.NoError(t, err)
	assert.Equal(t, "A mathematician", ada.Description)
	assert.Equal(t, []history.Utterance{{Speaker: "You", Content: "Hi"}, {Speaker: "Ada", Content: "Hello."}}, ada.ExampleDialogue)

	grace, err := c.Get("grace")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/grace.png", grace.AvatarURL)

	_, err = c.Get("broken")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
