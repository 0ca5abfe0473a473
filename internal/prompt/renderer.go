// Package prompt fills the prompt template with a persona and its window.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/vthunder/charbot/internal/history"
	"github.com/vthunder/charbot/internal/persona"
)

// ErrTemplateLoad is returned when the template file cannot be read.
var ErrTemplateLoad = errors.New("prompt template load failed")

// Template placeholders.
const (
	PlaceholderName    = "[[NAME]]"
	PlaceholderPersona = "[[PERSONA]]"
	PlaceholderExample = "[[EXAMPLE]]"
	PlaceholderContext = "[[CONTEXT]]"
)

// Renderer produces prompts. The template source is either a fixed string or
// a file re-read on every render so edits apply without a restart.
type Renderer struct {
	path     string
	template string
}

// NewRenderer returns a renderer for a fixed template.
func NewRenderer(template string) *Renderer {
	return &Renderer{template: template}
}

// NewFileRenderer returns a renderer that reads its template from path.
func NewFileRenderer(path string) *Renderer {
	return &Renderer{path: path}
}

// Check confirms the template can be loaded.
func (r *Renderer) Check() error {
	_, err := r.load()
	return err
}

func (r *Renderer) load() (string, error) {
	if r.path == "" {
		return r.template, nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateLoad, err)
	}
	return string(data), nil
}

// Render substitutes the persona and window into the template. Replacement
// is a single literal pass: placeholder text inside substituted values is
// left as is, and placeholders missing from the template are simply unused.
func (r *Renderer) Render(p persona.Persona, window []history.Utterance) (string, error) {
	template, err := r.load()
	if err != nil {
		return "", err
	}

	replacer := strings.NewReplacer(
		PlaceholderName, p.Name,
		PlaceholderPersona, p.Persona,
		PlaceholderExample, history.Format(p.ExampleDialogue),
		PlaceholderContext, history.Format(window),
	)
	return replacer.Replace(template), nil
}
