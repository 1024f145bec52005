// Package a2file defines the L4 contract shared by every filesystem
// variant's catalog entry and open-file handle: A2File and A2FileDescr.
// One concrete Go type per filesystem satisfies the interface, rather
// than one giant tagged union.
package a2file

import "github.com/fadden/ciderdisk/errors"

// Quality records how much we trust a catalog entry's declared metadata.
type Quality int

const (
	QualityGood Quality = iota
	QualitySuspicious
	QualityDamaged
)

func (q Quality) String() string {
	switch q {
	case QualitySuspicious:
		return "suspicious"
	case QualityDamaged:
		return "damaged"
	default:
		return "good"
	}
}

// Access is a ProDOS-style access-permission bitmask; every variant maps
// its own lock/protect bit onto it.
type Access int

const (
	AccessRead   Access = 1 << 0
	AccessWrite  Access = 1 << 1
	AccessRename Access = 1 << 2
	AccessDelete Access = 1 << 3
)

// Locked reports whether the file denies modification: a locked entry
// still allows reads but nothing else.
func (a Access) Locked() bool { return a&AccessWrite == 0 }

// A2File is the shared read surface every filesystem variant's catalog
// entry satisfies; variant-private fields (DOS33's T/S-list head,
// Pascal's start/next block pair, CPM's directory-entry list, RDOS's
// start sector + count, Gutenberg's start T/S) live on the concrete type
// a variant package returns, not on this interface.
type A2File interface {
	Name() string
	FileType() int // ProDOS-mapped file type byte
	AuxType() int
	Length() int
	Access() Access
	Quality() Quality

	// Open returns a descriptor for reading (and, where the variant
	// supports it, writing) this file's content.
	Open() (A2FileDescr, error)
}

// ProgressFunc is the caller-supplied write-progress hook: offset is
// the number of payload bytes committed so far. Returning false cancels
// the operation, which fails with a Cancelled error.
type ProgressFunc func(offset int64) bool

// ProgressReporter is implemented by descriptors whose Write path can
// poll a ProgressFunc between block writes. Callers type-assert for it;
// read-only variants don't provide one.
type ProgressReporter interface {
	SetProgress(fn ProgressFunc)
}

// Whence selects Seek's reference point.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// A2FileDescr is an open handle onto an A2File's content: a seekable
// byte stream over whatever block/sector list the variant resolved. Only
// one open descriptor per A2File is permitted at a time; variant
// Open() implementations enforce this by tracking
// an open flag on the A2File itself and returning errors.AlreadyOpenf.
type A2FileDescr interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Seek(offset int64, whence Whence) error
	Tell() (int64, error)
	Close() error
}

// ResolveSeek applies the shared descriptor seek contract and returns
// the new offset: SeekSet accepts [0, eof], SeekEnd accepts [-eof, 0],
// and SeekCur accepts [-pos, eof-pos) relative to the current offset.
func ResolveSeek(pos, offset, eof int64, whence Whence) (int64, error) {
	switch whence {
	case SeekSet:
		if offset < 0 || offset > eof {
			return 0, errors.InvalidArgf("a2file: seek %d out of [0,%d]", offset, eof)
		}
		return offset, nil
	case SeekEnd:
		if offset > 0 || offset < -eof {
			return 0, errors.InvalidArgf("a2file: seek %d from end out of [-%d,0]", offset, eof)
		}
		return eof + offset, nil
	case SeekCur:
		if offset < -pos || offset >= eof-pos {
			return 0, errors.InvalidArgf("a2file: relative seek %d out of [-%d,%d)", offset, pos, eof-pos)
		}
		return pos + offset, nil
	default:
		return 0, errors.InvalidArgf("a2file: bad whence %d", whence)
	}
}

// OpenGuard is a small embeddable helper that variant A2File
// implementations use to enforce the one-open-descriptor-at-a-time
// invariant without duplicating the check in every variant package.
type OpenGuard struct {
	open bool
}

// Acquire marks the file open, failing if it's already open.
func (g *OpenGuard) Acquire() error {
	if g.open {
		return errors.AlreadyOpenf("a2file: file already has an open descriptor")
	}
	g.open = true
	return nil
}

// Release marks the file closed, allowing a future Open() call.
func (g *OpenGuard) Release() {
	g.open = false
}
