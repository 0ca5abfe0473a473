package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "a b", Truncate(" a\nb ", 10))
	assert.Equal(t, "abcde...", Truncate("abcdefghij", 5))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes; a cut at byte 2 would split it.
	got := Truncate("aéé", 2)
	assert.Equal(t, "a...", got)
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "日...", Truncate("日本語", 4))
}

func TestJSONFormatCarriesSubsystem(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	require.NoError(t, Configure("info", "json"))
	t.Cleanup(func() {
		_ = Configure("info", "text")
		SetOutput(os.Stderr)
	})

	Info("registry", "bound %s", "general")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "registry", line["subsystem"])
	assert.Equal(t, "bound general", line["msg"])
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Configure("loud", ""))
}
