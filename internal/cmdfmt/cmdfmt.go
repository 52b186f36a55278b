// Package cmdfmt holds the shared output helpers for the command front
// ends: progress lines with optional emoji markers and table/JSON rendering
// of structured results.
package cmdfmt

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/config"
)

// Printf writes user-facing output to stdout. Diagnostics belong on the
// logger, not here.
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}

// OK, Fail, Warn, and Info return the status markers used throughout
// command output, degrading to ASCII when emojis are disabled.
func OK() string   { return marker("✓", "+") }
func Fail() string { return marker("✗", "-") }
func Warn() string { return marker("⚠", "!") }
func Info() string { return marker("ℹ", "i") }

func marker(emoji, plain string) string {
	if viper.GetBool(config.DisableEmojisKey) {
		return plain
	}
	return emoji
}
