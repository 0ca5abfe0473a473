package identity

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is Discord's content limit per message.
const MaxMessageLength = 2000

// chunkMessage splits content into pieces no longer than maxLen, preferring
// paragraph, then line, then word boundaries.
func chunkMessage(content string, maxLen int) []string {
	if len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	for len(content) > maxLen {
		pt := findSplitPoint(content, maxLen)
		chunks = append(chunks, content[:pt])
		content = content[pt:]
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

// findSplitPoint returns the index to cut content at. Breaks in the first
// half of the window are ignored to avoid tiny chunks.
func findSplitPoint(content string, maxLen int) int {
	if len(content) <= maxLen {
		return len(content)
	}
	window := content[:maxLen]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i >= maxLen/2 {
			return i + len(sep)
		}
	}
	pt := maxLen
	for pt > 1 && !utf8.RuneStart(content[pt]) {
		pt--
	}
	return pt
}
