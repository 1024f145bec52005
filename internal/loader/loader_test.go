package loader_test

import (
	"testing"

	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/internal/loader"

	// Register the dos33 variant probe/factory the way main.go does.
	_ "github.com/fadden/ciderdisk/dos33"
)

const (
	tracks  = 35
	sectors = 16
)

// blankDOS33Image builds a minimal raw (unwrapped) DOS 3.3 image: a VTOC
// at (17,0) pointing at a single, empty catalog sector (17,15), matching
// dos33_test.go's fixture closely enough for loader.Open to identify and
// mount it end to end.
func blankDOS33Image(t *testing.T) []byte {
	t.Helper()
	data := make([]byte, tracks*sectors*256)
	img, err := diskimg.NewSectored(data, tracks, sectors, diskimg.SectorOrderDOS, false)
	if err != nil {
		t.Fatalf("NewSectored: %v", err)
	}

	vtoc := make([]byte, 256)
	vtoc[0x01] = 17
	vtoc[0x02] = 15
	vtoc[0x06] = 254
	vtoc[0x27] = 122
	vtoc[0x30] = 17
	vtoc[0x31] = 0xFF
	vtoc[0x34] = tracks
	vtoc[0x35] = sectors
	vtoc[0x36] = 0x00 // bytes/sector low byte (256 = 0x0100)
	vtoc[0x37] = 0x01 // bytes/sector high byte
	for tr := 0; tr < tracks; tr++ {
		base := 0x38 + 4*tr
		for b := 0; b < 4; b++ {
			if tr == 17 {
				vtoc[base+b] = 0x00
			} else {
				vtoc[base+b] = 0xFF
			}
		}
	}
	if err := img.WriteTrackSector(17, 0, vtoc); err != nil {
		t.Fatalf("write VTOC: %v", err)
	}
	cat := make([]byte, 256)
	if err := img.WriteTrackSector(17, 15, cat); err != nil {
		t.Fatalf("write catalog sector: %v", err)
	}
	raw, err := img.RawBytes()
	if err != nil {
		t.Fatalf("RawBytes: %v", err)
	}
	return raw
}

func TestOpenMountsDOS33(t *testing.T) {
	raw := blankDOS33Image(t)
	res, err := loader.Open(raw, true)
	if err != nil {
		t.Fatalf("loader.Open: %v", err)
	}
	if res.FS.Name() != "dos33" {
		t.Errorf("mounted filesystem = %q, want %q", res.FS.Name(), "dos33")
	}
	if res.FS.VolumeUsage() == nil {
		t.Error("VolumeUsage() is nil after InitFull")
	}
	files, err := res.FS.ListFiles("")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("ListFiles on a blank catalog = %d entries, want 0", len(files))
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	raw := make([]byte, 123) // not any known sectored image size
	if _, err := loader.Open(raw, true); err == nil {
		t.Error("loader.Open on garbage bytes: want error, got nil")
	}
}
