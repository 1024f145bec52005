package errors

import (
	"fmt"
	"testing"
)

func TestKindsAreDistinct(t *testing.T) {
	cases := []struct {
		name string
		make func(string, ...interface{}) error
		is   func(error) bool
	}{
		{"FilesystemNotFound", FilesystemNotFoundf, IsFilesystemNotFound},
		{"BadDiskImage", BadDiskImagef, IsBadDiskImage},
		{"DirectoryLoop", DirectoryLoopf, IsDirectoryLoop},
		{"AlreadyOpen", AlreadyOpenf, IsAlreadyOpen},
		{"ReadOnly", ReadOnlyf, IsReadOnly},
		{"DiskFull", DiskFullf, IsDiskFull},
		{"FileExists", FileExistsf, IsFileExists},
		{"InvalidArg", InvalidArgf, IsInvalidArg},
		{"InvalidSector", InvalidSectorf, IsInvalidSector},
	}

	for _, c := range cases {
		err := c.make("boom %d", 1)
		if err.Error() != "boom 1" {
			t.Errorf("%s: got message %q, want %q", c.name, err.Error(), "boom 1")
		}
		if !c.is(err) {
			t.Errorf("%s: Is%s(own error) = false, want true", c.name, c.name)
		}
		for _, other := range cases {
			if other.name == c.name {
				continue
			}
			if other.is(err) {
				t.Errorf("Is%s(%s error) = true, want false", other.name, c.name)
			}
		}
	}
}

func TestIsFalseForPlainErrors(t *testing.T) {
	err := fmt.Errorf("plain error")
	if IsBadDiskImage(err) {
		t.Errorf("IsBadDiskImage(plain error) = true, want false")
	}
	if IsReadOnly(New("also plain")) {
		t.Errorf("IsReadOnly(New(...)) = true, want false")
	}
}
