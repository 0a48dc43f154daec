package logging

import (
	"os"

	"github.com/fatih/color"
)

func noColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return color.NoColor
}
