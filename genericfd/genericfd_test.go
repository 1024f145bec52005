package genericfd

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/fadden/ciderdisk/errors"
)

func TestOpenMemReadWriteSeek(t *testing.T) {
	g, err := OpenMem("test.dsk", []byte("hello world"), false)
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	defer g.Close()

	buf := make([]byte, 5)
	n, err := g.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Errorf("Read got %q, want %q", buf, "hello")
	}

	if _, err := g.Seek(6, Set); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	rest, err := g.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(rest) != "world" {
		t.Errorf("Bytes after seek got %q, want %q", rest, "world")
	}

	if err := g.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if _, err := g.Write([]byte("HELLO")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := g.Rewind(); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	all, err := g.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(all) != "HELLO world" {
		t.Errorf("after overwrite got %q, want %q", all, "HELLO world")
	}
}

func TestReadOnlyRejectsWrite(t *testing.T) {
	g, err := OpenMem("ro.dsk", []byte("abc"), true)
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	defer g.Close()
	_, err = g.Write([]byte("x"))
	if !errors.IsReadOnly(err) {
		t.Errorf("Write on read-only GenericFD: got %v, want a ReadOnly error", err)
	}
}

func TestReadReportsShortReadAsEOF(t *testing.T) {
	g, err := OpenMem("short.dsk", []byte("ab"), false)
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	defer g.Close()
	buf := make([]byte, 10)
	if _, err := g.Read(buf); !errors.IsEOF(err) {
		t.Errorf("short Read: got %v, want an EOF error", err)
	}
}

func TestLengthAndTruncate(t *testing.T) {
	g, err := OpenMem("trunc.dsk", bytes.Repeat([]byte{0x42}, 100), false)
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	defer g.Close()
	length, err := g.Length()
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if length != 100 {
		t.Fatalf("Length = %d, want 100", length)
	}
	if err := g.Truncate(10); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	length, err = g.Length()
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if length != 10 {
		t.Errorf("Length after truncate = %d, want 10", length)
	}
}

func TestCopyFileWithCRC(t *testing.T) {
	payload := bytes.Repeat([]byte("abcd"), 64)
	src, err := OpenMem("src.dsk", payload, false)
	if err != nil {
		t.Fatalf("OpenMem src: %v", err)
	}
	defer src.Close()
	dst, err := OpenMem("dst.dsk", nil, false)
	if err != nil {
		t.Fatalf("OpenMem dst: %v", err)
	}
	defer dst.Close()

	crc, err := CopyFile(dst, src, int64(len(payload)), true)
	if err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	want := crc32.ChecksumIEEE(payload)
	if crc != want {
		t.Errorf("CopyFile CRC = 0x%08x, want 0x%08x", crc, want)
	}
	if err := dst.Rewind(); err != nil {
		t.Fatalf("Rewind dst: %v", err)
	}
	got, err := dst.Bytes()
	if err != nil {
		t.Fatalf("Bytes dst: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("CopyFile contents mismatch")
	}
}
