package output

import (
	"os"
	"sync"
)

var (
	colorOnce    sync.Once
	colorEnabled bool
)

// IsColorSupported determines if color output should be enabled.
// NO_COLOR disables colors, FORCE_COLOR enables them, and otherwise stdout
// must be a terminal with a usable TERM.
func IsColorSupported() bool {
	colorOnce.Do(func() { colorEnabled = detectColorSupport() })
	return colorEnabled
}

func detectColorSupport() bool {
	// See https://no-color.org/
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if _, ok := os.LookupEnv("FORCE_COLOR"); ok {
		return true
	}

	stat, err := os.Stdout.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice == 0 {
		return false
	}

	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// StateColor picks the color for a sync state name.
func StateColor(state string) Color {
	switch state {
	case "idle", "done", "synced":
		return ColorGreen
	case "failed", "degraded":
		return ColorRed
	case "pending":
		return ColorYellow
	default:
		return ColorCyan
	}
}

// State renders a sync state with its color.
func (f *Formatter) State(state string) string {
	return f.Colorize(state, StateColor(state))
}
