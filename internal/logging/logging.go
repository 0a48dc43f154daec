// Package logging builds the zerolog logger used by the command line.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ParseLevel accepts zerolog level names. An empty string means warn.
func ParseLevel(s string) (zerolog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// New returns a console logger writing to out at the given level
func New(level zerolog.Level, out io.Writer) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: noColor()}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
