package pascal

import (
	"strings"

	"github.com/fadden/ciderdisk/diskfs"
)

// forbiddenChars are the characters the Pascal filer rejects in file
// names, in addition to control characters and spaces.
const forbiddenChars = "$=?,[#:"

// IsValidFileName reports whether name is legal on a UCSD Pascal
// volume: 1-15 characters, no control characters, spaces, or filer
// metacharacters.
func IsValidFileName(name string) bool {
	if len(name) == 0 || len(name) > maxFileNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c > 0x7e || strings.IndexByte(forbiddenChars, c) >= 0 {
			return false
		}
	}
	return true
}

// NormalizeFileName folds an arbitrary host name into a valid Pascal
// name: uppercase, forbidden characters and spaces dropped, truncated
// to 15 characters. Returns "" if nothing survives.
func NormalizeFileName(name string) string {
	var b strings.Builder
	for i := 0; i < len(name) && b.Len() < maxFileNameLen; i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 0x20
		}
		if c <= 0x20 || c > 0x7e || strings.IndexByte(forbiddenChars, c) >= 0 {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// MakeFileNameUnique returns name, or a digit-suffixed variant of it,
// so that the result collides with no directory entry.
func (p *Pascal) MakeFileNameUnique(name string) string {
	return diskfs.MakeUnique(name, maxFileNameLen, func(candidate string) bool {
		for _, e := range p.entries {
			if e.name == candidate {
				return true
			}
		}
		return false
	})
}

// IsValidVolumeName reports whether name is a legal Pascal volume name:
// 1-7 characters under the same character rules as file names.
func IsValidVolumeName(name string) bool {
	if len(name) == 0 || len(name) > maxVolNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c > 0x7e || strings.IndexByte(forbiddenChars, c) >= 0 {
			return false
		}
	}
	return true
}
