package dos33

import (
	"strings"

	"github.com/fadden/ciderdisk/diskfs"
)

// IsValidFileName reports whether name is legal on a DOS 3.3 disk:
// 1-30 printable ASCII characters, no leading space, and no comma (the
// DOS command parser treats commas as argument separators).
func IsValidFileName(name string) bool {
	if len(name) == 0 || len(name) > maxNameLen {
		return false
	}
	if name[0] == ' ' {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c > 0x7e || c == ',' {
			return false
		}
	}
	return true
}

// NormalizeFileName folds an arbitrary host name into a valid DOS 3.3
// name: uppercase, commas and non-printable characters replaced with a
// period, truncated to 30 characters. Returns "" if nothing printable
// survives.
func NormalizeFileName(name string) string {
	var b strings.Builder
	for i := 0; i < len(name) && b.Len() < maxNameLen; i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 0x20)
		case c == ',' || c < 0x20 || c > 0x7e:
			b.WriteByte('.')
		default:
			b.WriteByte(c)
		}
	}
	out := strings.TrimRight(b.String(), " ")
	if strings.Trim(out, ". ") == "" {
		return ""
	}
	return out
}

// MakeFileNameUnique returns name, or a digit-suffixed variant of it, so
// that the result collides with no live catalog entry.
func (d *DOS33) MakeFileNameUnique(name string) string {
	return diskfs.MakeUnique(name, maxNameLen, func(candidate string) bool {
		for _, e := range d.entries {
			if !e.deleted && e.name() == candidate {
				return true
			}
		}
		return false
	})
}

// IsValidVolumeName reports whether name is a usable DOS volume
// "name": a decimal number 1-254, or the literal "DOS" Format() treats
// specially.
func IsValidVolumeName(name string) bool {
	if name == "DOS" {
		return true
	}
	_, ok := parseVolumeNumber(name)
	return ok
}

func parseVolumeNumber(name string) (int, bool) {
	if len(name) == 0 || len(name) > 3 {
		return 0, false
	}
	n := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if n < 1 || n > 254 {
		return 0, false
	}
	return n, true
}
