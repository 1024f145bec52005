package pascal

import (
	"bytes"
	"testing"

	"github.com/kr/pretty"

	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
)

const volBlocks = 110

// dirFile is one directory entry for buildVolume.
type dirFile struct {
	name      string
	start     int
	next      int
	fileType  int
	lastBytes int
}

// buildVolume assembles a block image with a UCSD volume directory at
// block 2 holding the given entries (which must be sorted by start
// block, the on-disk invariant).
func buildVolume(t *testing.T, volName string, files []dirFile) *diskimg.DiskImg {
	t.Helper()
	img, err := diskimg.NewBlockImage(make([]byte, volBlocks*512), volBlocks, false)
	if err != nil {
		t.Fatalf("NewBlockImage: %v", err)
	}

	dir := make([]byte, dirLenBlocks*blockSize)
	hdr := dir[:entrySize]
	hdr[2] = byte(volHeaderBlock + dirLenBlocks) // directory's own nextBlock
	hdr[6] = byte(len(volName))
	copy(hdr[7:], volName)
	hdr[14] = byte(volBlocks & 0xff)
	hdr[15] = byte(volBlocks >> 8)
	hdr[16] = byte(len(files))

	for i, f := range files {
		buf := dir[(i+1)*entrySize : (i+2)*entrySize]
		buf[0], buf[1] = byte(f.start), byte(f.start>>8)
		buf[2], buf[3] = byte(f.next), byte(f.next>>8)
		buf[4], buf[5] = byte(f.fileType), byte(f.fileType>>8)
		buf[6] = byte(len(f.name))
		copy(buf[7:], f.name)
		buf[22], buf[23] = byte(f.lastBytes), byte(f.lastBytes>>8)
	}
	for i := 0; i < dirLenBlocks; i++ {
		if err := img.WriteBlock(volHeaderBlock+i, dir[i*blockSize:(i+1)*blockSize]); err != nil {
			t.Fatalf("WriteBlock %d: %v", volHeaderBlock+i, err)
		}
	}
	return img
}

func mount(t *testing.T, img *diskimg.DiskImg) *Pascal {
	t.Helper()
	fs, err := New(img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := fs.(*Pascal)
	if err := p.Initialize(diskfs.InitFull, diskfs.ScanDisabled); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

func TestInitializeCatalog(t *testing.T) {
	p := mount(t, buildVolume(t, "WORK", []dirFile{
		{name: "SYSTEM.PASCAL", start: 6, next: 10, fileType: 2, lastBytes: 512},
		{name: "DOC.TEXT", start: 20, next: 24, fileType: 3, lastBytes: 100},
	}))
	if p.VolumeName() != "WORK" {
		t.Errorf("VolumeName() = %q, want WORK", p.VolumeName())
	}
	files, err := p.ListFiles("")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	var got []string
	for _, f := range files {
		got = append(got, f.Name())
	}
	want := []string{"SYSTEM.PASCAL", "DOC.TEXT"}
	if diff := pretty.Diff(got, want); len(diff) > 0 {
		t.Errorf("file list mismatch: %v", diff)
	}
	if l := files[0].Length(); l != 3*512+512 {
		t.Errorf("SYSTEM.PASCAL length = %d, want %d", l, 3*512+512)
	}
	if l := files[1].Length(); l != 3*512+100 {
		t.Errorf("DOC.TEXT length = %d, want %d", l, 3*512+100)
	}
}

// TestCreateFindsLargestGap pins the gap-allocation rule: with extents
// ending at blocks 7, 24, and 100, the largest free gap starts at 24.
func TestCreateFindsLargestGap(t *testing.T) {
	p := mount(t, buildVolume(t, "GAP", []dirFile{
		{name: "A", start: 6, next: 7, fileType: 3, lastBytes: 512},
		{name: "B", start: 20, next: 24, fileType: 3, lastBytes: 512},
		{name: "C", start: 50, next: 100, fileType: 3, lastBytes: 512},
	}))
	f, err := p.CreateFile("NEWFILE", 3, 0)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	pf := f.(*pascalFile)
	if pf.e.startBlock != 24 {
		t.Errorf("new file startBlock = %d, want 24 (gap 24..49 is largest)", pf.e.startBlock)
	}
	// Entries must remain sorted by startBlock after the insert.
	for i := 1; i < len(p.entries); i++ {
		if p.entries[i-1].startBlock > p.entries[i].startBlock {
			t.Errorf("entries out of order at %d: %d > %d", i,
				p.entries[i-1].startBlock, p.entries[i].startBlock)
		}
	}
}

func TestOneShotWriteReadBack(t *testing.T) {
	p := mount(t, buildVolume(t, "RW", nil))
	f, err := p.CreateFile("NOTES.TEXT", 3, 0)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	payload := make([]byte, 700)
	for i := range payload {
		payload[i] = byte(i * 3)
	}
	d, err := f.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n, err := d.Write(payload); err != nil || n != len(payload) {
		t.Fatalf("Write = (%d, %v), want (%d, nil)", n, err, len(payload))
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := p.OpenFile("NOTES.TEXT")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if got.Length() != len(payload) {
		t.Errorf("Length() = %d, want %d", got.Length(), len(payload))
	}
	rd, err := got.Open()
	if err != nil {
		t.Fatalf("Open (read): %v", err)
	}
	back := make([]byte, len(payload))
	if _, err := rd.Read(back); err != nil {
		t.Fatalf("Read: %v", err)
	}
	rd.Close()
	if !bytes.Equal(back, payload) {
		t.Errorf("read back differs from payload")
	}

	// A second write on a now non-empty file must be refused: Pascal
	// files are written in one shot.
	rw, err := got.Open()
	if err != nil {
		t.Fatalf("Open (rewrite): %v", err)
	}
	defer rw.Close()
	if _, err := rw.Write([]byte("more")); err == nil {
		t.Errorf("second Write on a non-empty file succeeded, want error")
	}
}

// TestContiguity pins the invariant that, after a create+write cycle,
// every consecutive entry pair satisfies prev.nextBlock <= next.startBlock.
func TestContiguity(t *testing.T) {
	p := mount(t, buildVolume(t, "TIGHT", []dirFile{
		{name: "A", start: 6, next: 8, fileType: 3, lastBytes: 512},
		{name: "Z", start: 90, next: 100, fileType: 3, lastBytes: 512},
	}))
	f, err := p.CreateFile("MID", 3, 0)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	d, _ := f.Open()
	if _, err := d.Write(make([]byte, 5*512)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	d.Close()
	for i := 1; i < len(p.entries); i++ {
		prev, next := p.entries[i-1], p.entries[i]
		if prev.nextBlock > next.startBlock {
			t.Errorf("overlap: %q ends at %d, %q starts at %d",
				prev.name, prev.nextBlock, next.name, next.startBlock)
		}
	}
}

func TestDateFields(t *testing.T) {
	d := Date(86<<9 | 14<<4 | 7)
	if d.Year() != 1986 || d.Day() != 14 || d.Month() != 7 {
		t.Errorf("Date decode = %d-%d-%d, want 1986-7-14", d.Year(), d.Month(), d.Day())
	}
	if y := Date(12 << 9).Year(); y != 2012 {
		t.Errorf("two-digit year 12 = %d, want 2012", y)
	}
}

func TestNameRules(t *testing.T) {
	valid := []string{"SYSTEM.PASCAL", "A", "NOTES.TEXT"}
	invalid := []string{"", "THIS.NAME.IS.TOO.LONG", "BAD NAME", "COST$", "A:B"}
	for _, n := range valid {
		if !IsValidFileName(n) {
			t.Errorf("IsValidFileName(%q) = false, want true", n)
		}
	}
	for _, n := range invalid {
		if IsValidFileName(n) {
			t.Errorf("IsValidFileName(%q) = true, want false", n)
		}
	}
	if got := NormalizeFileName("my notes, vol 2.text"); got != "MYNOTESVOL2.TEX" {
		t.Errorf("NormalizeFileName = %q", got)
	}
}

func TestMakeFileNameUnique(t *testing.T) {
	p := mount(t, buildVolume(t, "UNIQ", []dirFile{
		{name: "DOC.TEXT", start: 6, next: 7, fileType: 3, lastBytes: 10},
		{name: "DOC1.TEXT", start: 8, next: 9, fileType: 3, lastBytes: 10},
	}))
	if got := p.MakeFileNameUnique("README"); got != "README" {
		t.Errorf("unique name rewritten: %q", got)
	}
	if got := p.MakeFileNameUnique("DOC.TEXT"); got != "DOC2.TEXT" {
		t.Errorf("MakeFileNameUnique(DOC.TEXT) = %q, want DOC2.TEXT", got)
	}
}

func TestRenameFile(t *testing.T) {
	p := mount(t, buildVolume(t, "REN", []dirFile{
		{name: "OLD.TEXT", start: 6, next: 8, fileType: 3, lastBytes: 512},
		{name: "KEEP.TEXT", start: 10, next: 12, fileType: 3, lastBytes: 512},
	}))
	if err := p.RenameFile("OLD.TEXT", "NEW.TEXT"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}
	if _, err := p.OpenFile("NEW.TEXT"); err != nil {
		t.Errorf("new name doesn't resolve: %v", err)
	}

	p2 := mount(t, p.img)
	if _, err := p2.OpenFile("NEW.TEXT"); err != nil {
		t.Errorf("rename lost on remount: %v", err)
	}

	if err := p.RenameFile("NEW.TEXT", "KEEP.TEXT"); err == nil {
		t.Errorf("rename onto an existing name succeeded")
	}
	if err := p.RenameFile("NEW.TEXT", "BAD NAME"); err == nil {
		t.Errorf("rename to an invalid name succeeded")
	}
	if err := p.RenameFile("MISSING", "X"); err == nil {
		t.Errorf("renaming a missing file succeeded")
	}
}

func TestSetFileInfo(t *testing.T) {
	p := mount(t, buildVolume(t, "SFI", []dirFile{
		{name: "THING", start: 6, next: 8, fileType: typeData, lastBytes: 512},
	}))
	if err := p.SetFileInfo("THING", 0x03, 0, false); err != nil {
		t.Fatalf("SetFileInfo: %v", err)
	}
	f, err := p.OpenFile("THING")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if f.FileType() != 0x03 {
		t.Errorf("FileType() = %#x, want 0x03 (PTX)", f.FileType())
	}
	// An unsupported ProDOS type falls back to datafile.
	if err := p.SetFileInfo("THING", 0xFF, 0, false); err != nil {
		t.Fatalf("SetFileInfo (fallback): %v", err)
	}
	p2 := mount(t, p.img)
	f2, err := p2.OpenFile("THING")
	if err != nil {
		t.Fatalf("OpenFile after remount: %v", err)
	}
	if f2.FileType() != 0x05 {
		t.Errorf("FileType() = %#x, want 0x05 (PDA)", f2.FileType())
	}
}

func TestFormat(t *testing.T) {
	img, err := diskimg.NewBlockImage(make([]byte, 280*512), 280, false)
	if err != nil {
		t.Fatalf("NewBlockImage: %v", err)
	}
	fs, err := New(img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := fs.(*Pascal)
	if err := p.Format("BLANK"); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := p.Initialize(diskfs.InitFull, diskfs.ScanDisabled); err != nil {
		t.Fatalf("Initialize after Format: %v", err)
	}
	if p.VolumeName() != "BLANK" {
		t.Errorf("VolumeName() = %q, want BLANK", p.VolumeName())
	}
	if p.numBlocks != 280 {
		t.Errorf("numBlocks = %d, want 280", p.numBlocks)
	}
	files, err := p.ListFiles("")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("formatted volume lists %d files, want 0", len(files))
	}
	if p.lastDateSet != 0xa87b {
		t.Errorf("lastDateSet = %#x, want 0xa87b", p.lastDateSet)
	}

	if err := p.Format("TOO$BAD"); err == nil {
		t.Errorf("Format with an invalid volume name succeeded")
	}

	odd, _ := diskimg.NewBlockImage(make([]byte, 100*512), 100, false)
	oddFS, _ := New(odd)
	if err := oddFS.Format("X"); err == nil {
		t.Errorf("Format of a nonstandard block count succeeded")
	}
}

func TestWriteCancel(t *testing.T) {
	p := mount(t, buildVolume(t, "STOP", nil))
	f, err := p.CreateFile("BIG.DATA", 5, 0)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	d, err := f.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d.(*pascalDescr).SetProgress(func(offset int64) bool { return false })
	if _, err := d.Write(make([]byte, 3*512)); !errors.IsCancelled(err) {
		t.Errorf("Write = %v, want Cancelled", err)
	}
	d.Close()
	got, err := p.OpenFile("BIG.DATA")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if got.Length() != 0 {
		t.Errorf("Length() = %d after cancelled write, want 0", got.Length())
	}
}
