// Package history turns a channel's raw message log into the bounded
// conversation window fed to the prompt.
package history

import (
	"strings"
)

// FenceMarker is the sentinel text that cuts history off. Only messages
// authored by the bot itself are recognized as fences.
const FenceMarker = "--- Message Fence ---"

// FenceMessage is the full text posted by the fence command.
const FenceMessage = FenceMarker + "\nBots won't see any messages above this one!"

// Utterance is a single line of dialogue.
type Utterance struct {
	Speaker string `json:"speaker" yaml:"speaker"`
	Content string `json:"content" yaml:"content"`
}

// String renders the utterance as "speaker: content".
func (u Utterance) String() string {
	return u.Speaker + ": " + u.Content
}

// Entry is one message of a raw channel log.
type Entry struct {
	Speaker string
	Content string
	// Self is set for messages authored by the bot user or its reply identity.
	Self bool
}

// IsFence reports whether the entry is a fence posted by the bot.
func (e Entry) IsFence() bool {
	return e.Self && strings.Contains(e.Content, FenceMarker)
}

// Options controls windowing.
type Options struct {
	// Limit is the number of log entries examined, newest first.
	Limit int
	// Fence enables truncation at the newest self-authored fence.
	Fence bool
	// SkipSelf drops self-authored messages from the window.
	SkipSelf bool
}

const (
	DefaultLimit = 10
	// SimpleLimit is the window size of the reduced variant without fences.
	SimpleLimit = 15
)

// DefaultOptions is the full variant: fence truncation and self filtering.
func DefaultOptions() Options {
	return Options{Limit: DefaultLimit, Fence: true, SkipSelf: true}
}

// SimpleOptions is the reduced variant with neither fences nor self filtering.
func SimpleOptions() Options {
	return Options{Limit: SimpleLimit}
}

// Extract builds the conversation window from a newest-first log. The result
// is oldest-first and holds at most opts.Limit utterances.
func Extract(entries []Entry, opts Options) []Utterance {
	limit := opts.Limit
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}

	window := make([]Utterance, 0, limit)
	for _, e := range entries[:limit] {
		if opts.Fence && e.IsFence() {
			break
		}
		if opts.SkipSelf && e.Self {
			continue
		}
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		window = append(window, Utterance{Speaker: e.Speaker, Content: content})
	}

	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window
}

// HasUserTurn reports whether the window holds anything to respond to.
func HasUserTurn(window []Utterance) bool {
	return len(window) > 0
}

// Format joins utterances as "speaker: content" lines.
func Format(utterances []Utterance) string {
	lines := make([]string, len(utterances))
	for i, u := range utterances {
		lines[i] = u.String()
	}
	return strings.Join(lines, "\n")
}
