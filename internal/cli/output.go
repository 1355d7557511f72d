package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// plain disables emoji/unicode status markers, for output piped to a
// file or another program rather than a terminal. It defaults to the
// isatty check and can be forced with --plain.
var plain bool

func init() {
	plain = !isatty.IsTerminal(os.Stdout.Fd())
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", plain, "disable emoji status markers (defaults on when not a terminal)")
}

// ok formats a success status line, honoring --plain.
func ok(format string, args ...any) string {
	if plain {
		return fmt.Sprintf("OK: "+format, args...)
	}
	return fmt.Sprintf("✅ "+format, args...)
}

// fail formats a failure status line, honoring --plain.
func fail(format string, args ...any) string {
	if plain {
		return fmt.Sprintf("FAILED: "+format, args...)
	}
	return fmt.Sprintf("❌ "+format, args...)
}

// terminalWidth returns the current terminal column width, falling back
// to 100 when stdout isn't a terminal (piped output, CI logs).
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 100
}
