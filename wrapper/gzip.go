package wrapper

import (
	"bytes"
	"io"

	kgzip "github.com/klauspost/compress/gzip"

	"github.com/fadden/ciderdisk/errors"
)

// gzipMagic is the two-byte magic that opens a gzip stream.
var gzipMagic = []byte{0x1F, 0x8B}

// gzipMaxBytes bounds how large an unwrapped image we'll accept; the
// output buffer grows until EOF or this absolute cap.
const gzipMaxBytes = 32 * 1024 * 1024

// legacyFloppySizes are the two sizes for which a truncated/corrupt gzip
// trailer is downgraded from a fatal error to a WrapperDamaged note:
// some old gzip-compressed Apple II images were produced by tools that
// wrote a bad trailer but otherwise-complete data.
var legacyFloppySizes = map[int]bool{
	143360: true, // 140 KB 5.25" floppy
	819200: true, // 800 KB 3.5" floppy
}

// Gzip is the OuterWrapper variant for gzip-compressed disk images.
type Gzip struct{}

var _ Wrapper = Gzip{}

// Test reports whether raw begins with the gzip magic.
func (Gzip) Test(raw []byte) bool {
	return len(raw) >= 2 && bytes.Equal(raw[:2], gzipMagic)
}

// Load decompresses a gzip stream, growing the output buffer until EOF or
// the absolute size cap is exceeded. A decode failure is downgraded to a
// WrapperDamaged note, rather than a fatal error, if the bytes extracted
// so far are exactly one of the two well-known floppy sizes.
func (Gzip) Load(raw []byte) (LoadResult, error) {
	zr, err := kgzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return LoadResult{}, errors.BadCompressedDataf("wrapper: gzip header invalid: %v", err)
	}
	defer zr.Close()

	var out bytes.Buffer
	_, copyErr := io.CopyN(&out, zr, gzipMaxBytes+1)
	if copyErr == nil {
		return LoadResult{}, errors.BadCompressedDataf("wrapper: gzip stream exceeds %d byte cap", gzipMaxBytes)
	}
	if copyErr != io.EOF {
		if legacyFloppySizes[out.Len()] {
			return LoadResult{Data: out.Bytes(), Damaged: true}, nil
		}
		return LoadResult{}, errors.BadCompressedDataf("wrapper: gzip decode failed: %v", copyErr)
	}
	return LoadResult{Data: out.Bytes()}, nil
}

// Save re-encodes image as a maximally-compressed gzip stream.
func (Gzip) Save(image []byte) ([]byte, error) {
	var out bytes.Buffer
	zw, err := kgzip.NewWriterLevel(&out, kgzip.BestCompression)
	if err != nil {
		return nil, errors.Internalf("wrapper: gzip writer: %v", err)
	}
	if _, err := zw.Write(image); err != nil {
		return nil, errors.IOf("wrapper: gzip write failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.IOf("wrapper: gzip close failed: %v", err)
	}
	return out.Bytes(), nil
}
