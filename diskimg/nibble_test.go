package diskimg

import (
	"bytes"
	"testing"

	"github.com/fadden/ciderdisk/nibble"
)

const testNumTracks = 35

// buildNibbleImage lays out a fully decodable 35-track 6&2 nibble image,
// all 16 sectors present on every track, volume 254, matching the
// standard 16-sector dialect. Sector N's payload is 256 bytes of value
// N, so tests can check which sector they read back without decoding
// the whole track.
func buildNibbleImage(t *testing.T) []byte {
	t.Helper()
	d := nibble.StandardDialects[0]
	data := make([]byte, NibbleImageSize)
	for trk := 0; trk < testNumTracks; trk++ {
		track := data[trk*nibbleTrackLen : (trk+1)*nibbleTrackLen]
		offset := 0
		for sector := 0; sector < 16; sector++ {
			writeNibbleAddrField(track, offset, &d, 254, trk, sector)
			dataOffset := offset + 14 + 10
			copy(track[dataOffset:], d.DataProlog[:])
			payload := bytes.Repeat([]byte{byte(sector)}, 256)
			nibble.Encode(track, dataOffset+3, payload, &d)
			offset = dataOffset + 3 + 343 + 10
		}
	}
	return data
}

// writeNibbleAddrField mirrors nibble_test.go's writeAddrField (kept
// package-local here since the nibble package's encoder internals are
// unexported), used only to synthesize test fixtures.
func writeNibbleAddrField(track []byte, offset int, d *nibble.Descr, vol, trk, sector int) {
	copy(track[offset:], d.AddrProlog[:])
	offset += 3
	checksum := vol ^ trk ^ sector
	for _, v := range []int{vol, trk, sector, checksum} {
		odd := byte(v>>1) | 0xaa
		even := byte(v) | 0xaa
		track[offset] = odd
		track[offset+1] = even
		offset += 2
	}
	copy(track[offset:], d.AddrEpilog[:])
}

func TestNewNibbleReadSector(t *testing.T) {
	data := buildNibbleImage(t)
	d := nibble.StandardDialects[0]
	img, err := NewNibble(data, testNumTracks, &d, true)
	if err != nil {
		t.Fatalf("NewNibble: %v", err)
	}
	if img.PhysicalFormat != PhysicalFormatNibble525 {
		t.Errorf("PhysicalFormat = %v, want PhysicalFormatNibble525", img.PhysicalFormat)
	}
	for sector := 0; sector < 16; sector++ {
		got, err := img.source.ReadSector(17, sector)
		if err != nil {
			t.Fatalf("ReadSector(17, %d): %v", sector, err)
		}
		want := bytes.Repeat([]byte{byte(sector)}, 256)
		if !bytes.Equal(got, want) {
			t.Errorf("sector %d: got %v, want %v", sector, got[:4], want[:4])
		}
	}
}

func TestNewNibbleWriteSectorRoundtrip(t *testing.T) {
	data := buildNibbleImage(t)
	d := nibble.StandardDialects[0]
	img, err := NewNibble(data, testNumTracks, &d, false)
	if err != nil {
		t.Fatalf("NewNibble: %v", err)
	}
	payload := bytes.Repeat([]byte{0xAB}, 256)
	if err := img.source.WriteSector(5, 0, payload); err != nil {
		t.Fatalf("WriteSector: %v", err)
	}
	got, err := img.source.ReadSector(5, 0)
	if err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("after WriteSector, ReadSector got %v, want %v", got[:4], payload[:4])
	}
	// Other tracks are untouched.
	other, err := img.source.ReadSector(6, 0)
	if err != nil {
		t.Fatalf("ReadSector(6): %v", err)
	}
	if bytes.Equal(other, payload) {
		t.Errorf("WriteSector(5, ...) leaked into track 6")
	}
}

func TestAnalyzeNibbleDialectPicksStandard62(t *testing.T) {
	data := buildNibbleImage(t)
	result, err := AnalyzeNibbleDialect(data, testNumTracks, nil)
	if err != nil {
		t.Fatalf("AnalyzeNibbleDialect: %v", err)
	}
	if result.Descr.Name != nibble.StandardDialects[0].Name {
		t.Errorf("AnalyzeNibbleDialect picked %q, want %q", result.Descr.Name, nibble.StandardDialects[0].Name)
	}
	if result.ProtoVol != 254 {
		t.Errorf("ProtoVol = %d, want 254", result.ProtoVol)
	}
}

func TestNewNibbleRejectsWrongSize(t *testing.T) {
	d := nibble.StandardDialects[0]
	_, err := NewNibble(make([]byte, 100), testNumTracks, &d, true)
	if err == nil {
		t.Error("NewNibble with wrong-sized data: want error, got nil")
	}
}
