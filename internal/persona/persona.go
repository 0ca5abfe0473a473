// Package persona holds the read-only catalog of characters the bot can play.
package persona

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vthunder/charbot/internal/history"
)

// ErrNotFound is returned when a persona id is not in the catalog.
var ErrNotFound = errors.New("persona not found")

// Persona is a character profile as stored on disk.
type Persona struct {
	Name            string              `json:"char_name" yaml:"char_name"`
	Description     string              `json:"char_description" yaml:"char_description"`
	Persona         string              `json:"char_persona" yaml:"char_persona"`
	ExampleDialogue []history.Utterance `json:"example_dialogue" yaml:"example_dialogue"`
	AvatarURL       string              `json:"avatar_url" yaml:"avatar_url"`
}

// Entry pairs a persona with its id.
type Entry struct {
	ID string
	Persona
}

// Catalog maps persona ids to personas. It is never modified after
// construction, so it needs no locking.
type Catalog struct {
	items map[string]Persona
	order []string
}

// NewCatalog builds a catalog from entries. Later duplicates win.
func NewCatalog(entries ...Entry) *Catalog {
	c := &Catalog{items: make(map[string]Persona, len(entries))}
	for _, e := range entries {
		c.items[e.ID] = e.Persona
	}
	c.order = make([]string, 0, len(c.items))
	for id := range c.items {
		c.order = append(c.order, id)
	}
	sort.Strings(c.order)
	return c
}

// Get looks up a persona by id.
func (c *Catalog) Get(id string) (Persona, error) {
	p, ok := c.items[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// Len returns the number of personas.
func (c *Catalog) Len() int {
	return len(c.order)
}

// List returns every persona ordered by id.
func (c *Catalog) List() []Entry {
	return c.Page(0, len(c.order))
}

// Page returns up to size personas starting at index start.
func (c *Catalog) Page(start, size int) []Entry {
	if start < 0 {
		start = 0
	}
	if start >= len(c.order) || size <= 0 {
		return nil
	}
	end := min(start+size, len(c.order))

	out := make([]Entry, 0, end-start)
	for _, id := range c.order[start:end] {
		out = append(out, Entry{ID: id, Persona: c.items[id]})
	}
	return out
}
