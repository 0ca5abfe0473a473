// Package session tracks which persona is active in which channel.
package session

import (
	"sort"
	"sync"
)

// Registry maps channel ids to at most one persona id. Bindings live only in
// memory and are lost on restart.
type Registry struct {
	mu       sync.Mutex
	bindings map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]string)}
}

// Bind sets the persona for a channel, replacing any previous one. The
// persona id is not validated here.
func (r *Registry) Bind(channelID, personaID string) {
	r.mu.Lock()
	r.bindings[channelID] = personaID
	r.mu.Unlock()
}

// Unbind removes the channel's binding and reports whether one existed.
func (r *Registry) Unbind(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bindings[channelID]; !ok {
		return false
	}
	delete(r.bindings, channelID)
	return true
}

// Lookup returns the persona bound to a channel.
func (r *Registry) Lookup(channelID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	personaID, ok := r.bindings[channelID]
	return personaID, ok
}

// Len returns the number of bound channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

// Channels returns a sorted snapshot of bound channel ids.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.bindings))
	for id := range r.bindings {
		out = append(out, id)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}
