// Package logsink is the level-tagged printf-style sink every probe and
// mutation path writes non-fatal notes through: damaged files,
// recovered-but-suspicious catalog entries, sector-order fallbacks.
// It's a package-level sink any
// layer can call.
package logsink

import (
	"fmt"
	"strings"
)

func withNewline(format string) string {
	if strings.HasSuffix(format, "\n") {
		return format
	}
	return format + "\n"
}

// Info records a routine, expected-to-happen note.
func Info(format string, args ...interface{}) {
	fmt.Printf("INFO: "+withNewline(format), args...)
}

// Warn records something a caller inspecting a disk image should know
// about (a conflict, a quality downgrade, a fallback decision) but
// that doesn't itself fail the operation.
func Warn(format string, args ...interface{}) {
	fmt.Printf("WARN: "+withNewline(format), args...)
}
