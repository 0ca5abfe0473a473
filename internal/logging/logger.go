package logging

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("DEBUG") == "true" {
		base.SetLevel(logrus.DebugLevel)
	} else if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		base.SetLevel(lvl)
	}
}

// Configure sets the level ("debug", "info", ...) and format ("text" or "json").
// An empty level keeps the current one.
func Configure(level, format string) error {
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return err
		}
		base.SetLevel(lvl)
	}
	switch format {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// SetOutput redirects log output; tests use it to silence or capture logs.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// For returns an entry tagged with the subsystem name.
func For(subsystem string) *logrus.Entry {
	return base.WithField("subsystem", subsystem)
}

// WithFields returns a subsystem entry carrying extra fields.
func WithFields(subsystem string, fields logrus.Fields) *logrus.Entry {
	return For(subsystem).WithFields(fields)
}

// Info logs an informational message (always shown)
func Info(subsystem, format string, args ...any) {
	For(subsystem).Infof(format, args...)
}

// Debug logs a debug message (only shown at debug level)
func Debug(subsystem, format string, args ...any) {
	For(subsystem).Debugf(format, args...)
}

// Warn logs a recoverable problem.
func Warn(subsystem, format string, args ...any) {
	For(subsystem).Warnf(format, args...)
}

// Error logs a failure that dropped work.
func Error(subsystem string, err error, format string, args ...any) {
	For(subsystem).WithError(err).Errorf(format, args...)
}

// Truncate flattens s to one line and cuts it to at most maxLen bytes,
// never inside a rune, adding an ellipsis when cut.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
