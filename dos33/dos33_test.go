package dos33

import (
	"testing"

	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
)

const (
	tracks  = 35
	sectors = 16
)

// blankImage builds a minimal DOS 3.3 image: a VTOC at (17,0) pointing at
// a single catalog sector (17,15), with every track marked free in the
// bitmap except track 17 itself.
func blankImage(t *testing.T) *diskimg.DiskImg {
	t.Helper()
	data := make([]byte, tracks*sectors*256)
	img, err := diskimg.NewSectored(data, tracks, sectors, diskimg.SectorOrderDOS, false)
	if err != nil {
		t.Fatalf("NewSectored: %v", err)
	}

	vtoc := make([]byte, 256)
	vtoc[0x01] = 17 // first catalog track
	vtoc[0x02] = 15 // first catalog sector
	vtoc[0x06] = defaultVolumeNo
	vtoc[0x27] = maxTSPairs
	vtoc[0x30] = 17 // last allocated track
	vtoc[0x31] = 0xFF // direction: -1 (search down first)
	vtoc[0x34] = tracks
	vtoc[0x35] = sectors
	for tr := 0; tr < tracks; tr++ {
		base := 0x38 + 4*tr
		for b := 0; b < 4; b++ {
			if tr == vtocTrack {
				vtoc[base+b] = 0x00 // track 17 fully allocated
			} else {
				vtoc[base+b] = 0xFF // every other track entirely free
			}
		}
	}
	if err := img.WriteTrackSector(vtocTrack, vtocSector, vtoc); err != nil {
		t.Fatalf("write VTOC: %v", err)
	}

	cat := make([]byte, 256)
	cat[0x01], cat[0x02] = 0, 0 // end of chain
	if err := img.WriteTrackSector(17, 15, cat); err != nil {
		t.Fatalf("write catalog sector: %v", err)
	}
	return img
}

func mount(t *testing.T, img *diskimg.DiskImg) *DOS33 {
	t.Helper()
	fs, err := New(img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d := fs.(*DOS33)
	if err := d.Initialize(diskfs.InitFull, diskfs.ScanDisabled); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return d
}

func TestInitializeEmptyCatalog(t *testing.T) {
	d := mount(t, blankImage(t))
	files, err := d.ListFiles("")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("ListFiles on blank disk: got %d entries, want 0", len(files))
	}
}

func TestCreateWriteReadDeleteRoundtrip(t *testing.T) {
	d := mount(t, blankImage(t))

	f, err := d.CreateFile("HELLO", TypeBinary.ProDOS(), 0x2000)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if f.Name() != "HELLO" {
		t.Errorf("CreateFile name = %q, want %q", f.Name(), "HELLO")
	}

	descr, err := f.Open()
	if err != nil {
		t.Fatalf("Open (for write): %v", err)
	}
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if _, err := descr.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := descr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := d.OpenFile("HELLO")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if got.FileType() != TypeBinary.ProDOS() {
		t.Errorf("FileType() = %d, want %d", got.FileType(), TypeBinary.ProDOS())
	}
	if got.AuxType() != 0x2000 {
		t.Errorf("AuxType() = %#x, want %#x", got.AuxType(), 0x2000)
	}
	if got.Length() != len(payload) {
		t.Errorf("Length() = %d, want %d", got.Length(), len(payload))
	}

	readDescr, err := got.Open()
	if err != nil {
		t.Fatalf("Open (for read): %v", err)
	}
	readBack := make([]byte, len(payload))
	if _, err := readDescr.Read(readBack); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := readDescr.Close(); err != nil {
		t.Fatalf("Close (read): %v", err)
	}
	if string(readBack) != string(payload) {
		t.Errorf("read back %v, want %v", readBack, payload)
	}

	if err := d.DeleteFile("HELLO"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := d.OpenFile("HELLO"); err == nil {
		t.Errorf("OpenFile after delete: got no error, want not-found")
	}
}

func TestFileTypeLetter(t *testing.T) {
	cases := map[FileType]byte{
		TypeText:      'T',
		TypeInteger:   'I',
		TypeApplesoft: 'A',
		TypeBinary:    'B',
	}
	for ft, want := range cases {
		if got := ft.Letter(); got != want {
			t.Errorf("FileType(%d).Letter() = %c, want %c", ft, got, want)
		}
	}
}

func TestRenameFile(t *testing.T) {
	d := mount(t, blankImage(t))
	if _, err := d.CreateFile("OLD", TypeText.ProDOS(), 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := d.RenameFile("OLD", "NEW NAME"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}
	if _, err := d.OpenFile("OLD"); err == nil {
		t.Errorf("old name still resolves after rename")
	}
	if _, err := d.OpenFile("NEW NAME"); err != nil {
		t.Errorf("new name doesn't resolve: %v", err)
	}

	// The rename must survive a remount, i.e. hit the catalog sector.
	d2 := mount(t, d.img)
	if _, err := d2.OpenFile("NEW NAME"); err != nil {
		t.Errorf("new name lost on remount: %v", err)
	}

	if err := d.RenameFile("MISSING", "X"); err == nil {
		t.Errorf("renaming a missing file succeeded")
	}
	if _, err := d.CreateFile("OTHER", TypeText.ProDOS(), 0); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := d.RenameFile("OTHER", "NEW NAME"); err == nil {
		t.Errorf("rename onto an existing name succeeded")
	}
}

func TestSetFileInfo(t *testing.T) {
	d := mount(t, blankImage(t))
	f, err := d.CreateFile("PROG", TypeBinary.ProDOS(), 0x0800)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	descr, err := f.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := descr.Write([]byte{0xA9, 0x00, 0x60}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := descr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := d.SetFileInfo("PROG", TypeBinary.ProDOS(), 0x2000, true); err != nil {
		t.Fatalf("SetFileInfo: %v", err)
	}
	got, err := d.OpenFile("PROG")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if !got.Access().Locked() {
		t.Errorf("file not locked after SetFileInfo")
	}
	if got.AuxType() != 0x2000 {
		t.Errorf("AuxType() = %#x, want 0x2000", got.AuxType())
	}
	// The new address must land in the first data sector's header word.
	e := got.(*dos33File).e
	list, err := d.tsList(e)
	if err != nil {
		t.Fatalf("tsList: %v", err)
	}
	sect, err := d.readDataSector(list[0])
	if err != nil {
		t.Fatalf("readDataSector: %v", err)
	}
	if addr := int(sect[0]) | int(sect[1])<<8; addr != 0x2000 {
		t.Errorf("first-sector address word = %#x, want 0x2000", addr)
	}

	if err := d.SetFileInfo("PROG", 0xB3, 0, false); err == nil {
		t.Errorf("SetFileInfo with a non-DOS type succeeded")
	}
}

// TestFormat pins the empty-disk accounting: a freshly formatted 35x16
// volume named "DOS" reserves the three DOS tracks plus the VTOC,
// leaving 560 - 48 - 1 = 511 sectors free.
func TestFormat(t *testing.T) {
	data := make([]byte, tracks*sectors*256)
	img, err := diskimg.NewSectored(data, tracks, sectors, diskimg.SectorOrderDOS, false)
	if err != nil {
		t.Fatalf("NewSectored: %v", err)
	}
	fs, err := New(img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d := fs.(*DOS33)
	if err := d.Format("DOS"); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := d.Initialize(diskfs.InitFull, diskfs.ScanDisabled); err != nil {
		t.Fatalf("Initialize after Format: %v", err)
	}
	files, err := d.ListFiles("")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("formatted disk lists %d files, want 0", len(files))
	}
	// The VTOC bitmap reserves the three DOS tracks plus the VTOC
	// sector; the catalog chain rides on the never-allocated VTOC track.
	bitmapFree := func() int {
		n := 0
		for tr := 0; tr < tracks; tr++ {
			for s := 0; s < sectors; s++ {
				used, _, _, err := d.usage.ChunkState(tr, s)
				if err != nil {
					t.Fatalf("ChunkState(%d,%d): %v", tr, s, err)
				}
				if !used {
					n++
				}
			}
		}
		return n
	}
	if free := bitmapFree(); free != 511 {
		t.Errorf("free sectors after format = %d, want 511", free)
	}
	if d.volumeNum != defaultVolumeNo {
		t.Errorf("volume number = %d, want %d", d.volumeNum, defaultVolumeNo)
	}

	// Create a one-sector file: one T/S list plus one data sector.
	f, err := d.CreateFile("HELLO", TypeApplesoft.ProDOS(), 0)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	descr, err := f.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := descr.Write([]byte{0x01}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := descr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if free := bitmapFree(); free != 511-2 {
		t.Errorf("free sectors after 1-sector create = %d, want %d", free, 511-2)
	}

	got, err := d.OpenFile("HELLO")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if got.Length() != 1 {
		t.Errorf("HELLO length = %d, want 1", got.Length())
	}
}

func TestRenameVolume(t *testing.T) {
	d := mount(t, blankImage(t))
	if err := d.RenameVolume("101"); err != nil {
		t.Fatalf("RenameVolume: %v", err)
	}
	if d.VolumeName() != "101" {
		t.Errorf("VolumeName() = %q, want 101", d.VolumeName())
	}
	d2 := mount(t, d.img)
	if d2.volumeNum != 101 {
		t.Errorf("volume number lost on remount: %d", d2.volumeNum)
	}
	for _, bad := range []string{"", "0", "255", "ABC", "1000"} {
		if err := d.RenameVolume(bad); err == nil {
			t.Errorf("RenameVolume(%q) succeeded, want error", bad)
		}
	}
}

// TestWriteCancel pins the progress-hook contract: a false return stops
// the commit before the catalog entry is updated, so the declared
// sector count never reflects the aborted payload.
func TestWriteCancel(t *testing.T) {
	d := mount(t, blankImage(t))
	f, err := d.CreateFile("BIG", TypeText.ProDOS(), 0)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	descr, err := f.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	calls := 0
	descr.(*dos33Descr).SetProgress(func(offset int64) bool {
		calls++
		return calls < 2
	})
	if _, err := descr.Write(make([]byte, 4*256)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := descr.Close(); !errors.IsCancelled(err) {
		t.Errorf("Close = %v, want Cancelled", err)
	}
	if e := f.(*dos33File).e; e.lengthInSectors != 1 {
		t.Errorf("catalog sector count = %d after cancelled write, want 1", e.lengthInSectors)
	}
}

// TestSparseTextLength crafts a Text file whose T/S list holds a (0,0)
// sparse pair between two data sectors: the length rule scans the last
// non-sparse sector for the first NUL, and a read over the hole returns
// zeros.
func TestSparseTextLength(t *testing.T) {
	img := blankImage(t)

	// Data sector at (20,5): "HI\r" then NUL padding.
	data := make([]byte, 256)
	copy(data, []byte{'H' | 0x80, 'I' | 0x80, 0x8D})
	if err := img.WriteTrackSector(20, 5, data); err != nil {
		t.Fatalf("write data sector: %v", err)
	}
	full := make([]byte, 256)
	for i := range full {
		full[i] = 0xC1
	}
	if err := img.WriteTrackSector(20, 7, full); err != nil {
		t.Fatalf("write data sector: %v", err)
	}

	// T/S list at (18,0): (20,7), sparse, (20,5).
	tsl := make([]byte, 256)
	tsl[tsListPairsOff+0], tsl[tsListPairsOff+1] = 20, 7
	tsl[tsListPairsOff+2], tsl[tsListPairsOff+3] = 0, 0
	tsl[tsListPairsOff+4], tsl[tsListPairsOff+5] = 20, 5
	if err := img.WriteTrackSector(18, 0, tsl); err != nil {
		t.Fatalf("write T/S list: %v", err)
	}

	// Catalog entry 0 in (17,15): Text file "SPARSE".
	cat, err := img.ReadTrackSector(17, 15)
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	e := cat[catEntryOffset : catEntryOffset+catEntryLen]
	e[0x00], e[0x01] = 18, 0
	e[0x02] = byte(TypeText)
	for i := 0; i < 30; i++ {
		e[0x03+i] = ' ' | 0x80
	}
	copy(e[0x03:], []byte{'S' | 0x80, 'P' | 0x80, 'A' | 0x80, 'R' | 0x80, 'S' | 0x80, 'E' | 0x80})
	e[0x21] = 4
	if err := img.WriteTrackSector(17, 15, cat); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	d := mount(t, img)
	f, err := d.OpenFile("SPARSE")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	// Last non-sparse sector is index 2; its first NUL is at byte 3.
	if want := 2*256 + 3; f.Length() != want {
		t.Errorf("Length() = %d, want %d", f.Length(), want)
	}

	descr, err := f.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer descr.Close()
	if err := descr.Seek(256, a2file.SeekSet); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	hole := make([]byte, 256)
	if _, err := descr.Read(hole); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range hole {
		if b != 0 {
			t.Fatalf("sparse sector byte %d = %#x, want 0", i, b)
		}
	}
}
