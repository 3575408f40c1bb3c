// Package term resolves terminal display capability from the standard
// environment-variable conventions (NO_COLOR, CLICOLOR, CLICOLOR_FORCE)
// plus a broker-specific STATUSLINE_NO_EMOJI escape hatch, mirroring the
// contract the teacher's own internal/ui package documents in its tests.
package term

import (
	"os"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether fd looks like an interactive terminal.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ShouldUseColor applies the NO_COLOR / CLICOLOR / CLICOLOR_FORCE
// convention: NO_COLOR (any value) always disables color; otherwise
// CLICOLOR_FORCE=1 forces it on even off a terminal; otherwise color is
// on iff stdout is a terminal and CLICOLOR isn't explicitly "0".
func ShouldUseColor(stdoutFd uintptr) bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") == "1" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	return IsTerminal(stdoutFd)
}

// ShouldUseEmoji reports whether status glyphs should render as emoji
// rather than ASCII fallbacks. STATUSLINE_NO_EMOJI=1 disables emoji
// unconditionally; otherwise it follows ShouldUseColor's verdict, since
// a non-color terminal is usually also emoji-hostile.
func ShouldUseEmoji(stdoutFd uintptr) bool {
	if os.Getenv("STATUSLINE_NO_EMOJI") == "1" {
		return false
	}
	return ShouldUseColor(stdoutFd)
}
