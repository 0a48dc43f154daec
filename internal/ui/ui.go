// Package ui formats command line output. Colors are dropped when NO_COLOR
// is set or the terminal cannot show them.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Formatter renders text in one color, or with plain decorations when
// color is off
type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

func (f Formatter) Sprint(a ...any) string {
	text := fmt.Sprint(a...)
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

func (f Formatter) Sprintf(format string, a ...any) string {
	return f.Sprint(fmt.Sprintf(format, a...))
}

func noColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return color.NoColor
}

var (
	Success = Formatter{color.New(color.FgGreen), "", ""}
	Error   = Formatter{color.New(color.FgRed), "", ""}
	Warning = Formatter{color.New(color.FgYellow), "", ""}
	Title   = Formatter{color.New(color.Bold), "", ""}
	Value   = Formatter{color.New(color.FgCyan), "", ""}
	Code    = Formatter{color.New(color.FgYellow), "`", "`"}
	Muted   = Formatter{color.New(color.FgHiBlack), "(", ")"}
	Added   = Formatter{color.New(color.FgGreen), "", ""}
	Removed = Formatter{color.New(color.FgRed), "", ""}
)

// Check returns a success mark followed by the message
func Check(format string, a ...any) string {
	return Success.Sprint("✓") + " " + fmt.Sprintf(format, a...)
}

// Cross returns a failure mark followed by the message
func Cross(format string, a ...any) string {
	return Error.Sprint("✗") + " " + fmt.Sprintf(format, a...)
}

// Diff colors the +/- lines of a diff produced by core.DiffEntry
func Diff(text string) string {
	var out []byte
	start := 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && text[i] != '\n' {
			continue
		}
		line := text[start:i]
		switch {
		case len(line) >= 3 && (line[:3] == "---" || line[:3] == "+++"):
			line = Title.Sprint(line)
		case len(line) > 0 && line[0] == '+':
			line = Added.Sprint(line)
		case len(line) > 0 && line[0] == '-':
			line = Removed.Sprint(line)
		}
		out = append(out, line...)
		if i < len(text) {
			out = append(out, '\n')
		}
		start = i + 1
	}
	return string(out)
}
