// Package genericfd implements the L0 layer of the disk-image stack: a
// uniform, random-access byte stream over either a host file or an
// in-memory buffer. Every higher layer (wrapper, diskimg) reads and writes
// through a GenericFD instead of touching *os.File or []byte directly.
package genericfd

import (
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/fadden/ciderdisk/errors"
)

// Whence mirrors the three seek origins GenericFD.Seek accepts.
type Whence int

const (
	// Set seeks relative to the start of the stream.
	Set Whence = iota
	// Cur seeks relative to the current position.
	Cur
	// End seeks relative to the end of the stream.
	End
)

// GenericFD is a seekable, truncatable byte stream backed by an afero
// filesystem. The zero value is not usable; construct one with Open,
// OpenMem, or Wrap.
type GenericFD struct {
	fs       afero.Fs
	file     afero.File
	readOnly bool
}

// Open opens an existing host file as a GenericFD.
func Open(path string, readOnly bool) (*GenericFD, error) {
	return open(afero.NewOsFs(), path, readOnly)
}

// OpenMem creates an in-memory GenericFD seeded with the given bytes. It
// is used for images that have already been unwrapped into memory (e.g.
// the product of an OuterWrapper.Load).
func OpenMem(name string, data []byte, readOnly bool) (*GenericFD, error) {
	fs := afero.NewMemMapFs()
	f, err := fs.Create(name)
	if err != nil {
		return nil, errors.IOf("genericfd: cannot create memory file %q: %v", name, err)
	}
	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			return nil, errors.IOf("genericfd: cannot seed memory file %q: %v", name, err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, errors.IOf("genericfd: cannot rewind memory file %q: %v", name, err)
		}
	}
	return &GenericFD{fs: fs, file: f, readOnly: readOnly}, nil
}

func open(fs afero.Fs, path string, readOnly bool) (*GenericFD, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := fs.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.FileOpenf("genericfd: cannot open %q: %v", path, err)
	}
	return &GenericFD{fs: fs, file: f, readOnly: readOnly}, nil
}

// Read reads up to len(buf) bytes. Unlike io.Reader, a short read at EOF
// is reported as errors.EOFf rather than silently returning less.
func (g *GenericFD) Read(buf []byte) (int, error) {
	n, err := io.ReadFull(g.file, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, errors.EOFf("genericfd: short read: wanted %d, got %d", len(buf), n)
	}
	if err != nil {
		return n, errors.IOf("genericfd: read failed: %v", err)
	}
	return n, nil
}

// Write writes len(buf) bytes at the current position.
func (g *GenericFD) Write(buf []byte) (int, error) {
	if g.readOnly {
		return 0, errors.ReadOnlyf("genericfd: file is read-only")
	}
	n, err := g.file.Write(buf)
	if err != nil {
		return n, errors.IOf("genericfd: write failed: %v", err)
	}
	return n, nil
}

// Seek repositions the stream per the given Whence.
func (g *GenericFD) Seek(offset int64, whence Whence) (int64, error) {
	var w int
	switch whence {
	case Set:
		w = io.SeekStart
	case Cur:
		w = io.SeekCurrent
	case End:
		w = io.SeekEnd
	default:
		return 0, errors.InvalidArgf("genericfd: invalid whence %d", whence)
	}
	n, err := g.file.Seek(offset, w)
	if err != nil {
		return 0, errors.IOf("genericfd: seek failed: %v", err)
	}
	return n, nil
}

// Tell returns the current stream position.
func (g *GenericFD) Tell() (int64, error) {
	return g.Seek(0, Cur)
}

// Rewind seeks back to the start of the stream.
func (g *GenericFD) Rewind() error {
	_, err := g.Seek(0, Set)
	return err
}

// Length returns the total length of the stream.
func (g *GenericFD) Length() (int64, error) {
	info, err := g.file.Stat()
	if err != nil {
		return 0, errors.IOf("genericfd: stat failed: %v", err)
	}
	return info.Size(), nil
}

// Truncate resizes the stream to the given length.
func (g *GenericFD) Truncate(length int64) error {
	if g.readOnly {
		return errors.ReadOnlyf("genericfd: file is read-only")
	}
	if err := g.file.Truncate(length); err != nil {
		return errors.IOf("genericfd: truncate failed: %v", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (g *GenericFD) Close() error {
	return g.file.Close()
}

// ReadOnly reports whether the stream was opened read-only.
func (g *GenericFD) ReadOnly() bool {
	return g.readOnly
}

// CopyFile copies exactly n bytes from src to dst, starting at each
// stream's current position. If wantCRC is true, it also returns the
// zlib-compatible (IEEE) CRC-32 of the copied bytes.
func CopyFile(dst, src *GenericFD, n int64, wantCRC bool) (uint32, error) {
	var crc hash.Hash32
	if wantCRC {
		crc = crc32.NewIEEE()
	}
	buf := make([]byte, 32*1024)
	var remaining = n
	for remaining > 0 {
		chunk := int64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		nr, err := src.Read(buf[:chunk])
		if err != nil {
			return 0, err
		}
		if crc != nil {
			crc.Write(buf[:nr])
		}
		if _, err := dst.Write(buf[:nr]); err != nil {
			return 0, err
		}
		remaining -= int64(nr)
	}
	if crc != nil {
		return crc.Sum32(), nil
	}
	return 0, nil
}

// Bytes reads the entire remaining contents of the stream from the
// current position to EOF without disturbing callers that only want a
// one-shot slurp (e.g. feeding an OuterWrapper.Test probe).
func (g *GenericFD) Bytes() ([]byte, error) {
	pos, err := g.Tell()
	if err != nil {
		return nil, err
	}
	length, err := g.Length()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length-pos)
	if len(buf) > 0 {
		if _, err := g.Read(buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
