package wrapper

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/fadden/ciderdisk/errors"
)

const floppy140K = 143360

// testImage builds a 140KB image with enough texture to exercise both
// the literal and RLE paths of every wrapper codec.
func testImage() []byte {
	img := make([]byte, floppy140K)
	for i := range img {
		switch {
		case i%4096 < 256:
			img[i] = 0x00 // long runs
		case i%4096 < 512:
			img[i] = byte(i) // literals
		default:
			img[i] = byte(i / 7)
		}
	}
	return img
}

func TestGzipRoundTrip(t *testing.T) {
	img := testImage()
	packed, err := Gzip{}.Save(img)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !(Gzip{}).Test(packed) {
		t.Fatalf("Test rejected our own Save output")
	}
	res, err := Gzip{}.Load(packed)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Damaged {
		t.Errorf("Load reported damage on a clean stream")
	}
	if !bytes.Equal(res.Data, img) {
		t.Errorf("round trip mismatch: got %d bytes", len(res.Data))
	}
}

func TestGzipPartialAccept(t *testing.T) {
	img := testImage()
	packed, err := Gzip{}.Save(img)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Corrupt the stored CRC-32 in the trailer: the stream still inflates
	// to exactly 143,360 bytes, so the failure must be downgraded to a
	// wrapper-damaged warning rather than a fatal error.
	packed[len(packed)-8] ^= 0xFF
	res, err := Gzip{}.Load(packed)
	if err != nil {
		t.Fatalf("Load on a 140KB image with a bad trailer: %v", err)
	}
	if !res.Damaged {
		t.Errorf("Load accepted a bad trailer without flagging damage")
	}
	if !bytes.Equal(res.Data, img) {
		t.Errorf("partial accept returned wrong bytes")
	}
}

func TestGzipBadTrailerOddSizeRejected(t *testing.T) {
	img := make([]byte, 10000) // not a recognized floppy size
	packed, err := Gzip{}.Save(img)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	packed[len(packed)-8] ^= 0xFF
	if _, err := (Gzip{}).Load(packed); !errors.IsBadCompressedData(err) {
		t.Errorf("Load = %v, want BadCompressedData", err)
	}
}

func TestZipRoundTrip(t *testing.T) {
	img := testImage()
	packed, err := Zip{}.Save(img)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !(Zip{}).Test(packed) {
		t.Fatalf("Test rejected our own Save output")
	}
	res, err := Zip{}.Load(packed)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(res.Data, img) {
		t.Errorf("round trip mismatch: got %d bytes", len(res.Data))
	}
}

func TestZipMultiEntryRefused(t *testing.T) {
	packed, err := Zip{}.Save(testImage())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	eocdOffset, ok := findEOCD(packed)
	if !ok {
		t.Fatalf("no EOCD in our own Save output")
	}
	binary.LittleEndian.PutUint16(packed[eocdOffset+8:], 2)
	binary.LittleEndian.PutUint16(packed[eocdOffset+10:], 2)
	if _, err := (Zip{}).Load(packed); !errors.IsBadDiskImage(err) {
		t.Errorf("Load with numEntries=2: %v, want BadDiskImage", err)
	}
}

func TestZipCRCMismatch(t *testing.T) {
	packed, err := Zip{}.Save(testImage())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	var cdeSig [4]byte
	binary.LittleEndian.PutUint32(cdeSig[:], cdeSignature)
	cdeOffset := bytes.Index(packed, cdeSig[:])
	if cdeOffset < 0 {
		t.Fatalf("no central directory entry in our own Save output")
	}
	packed[cdeOffset+16] ^= 0xFF // stored CRC-32
	if _, err := (Zip{}).Load(packed); !errors.IsBadChecksum(err) {
		t.Errorf("Load with corrupted CRC: %v, want BadChecksum", err)
	}
}

func TestDDDRoundTrip(t *testing.T) {
	img := testImage()
	packed, err := DDD{}.Save(img)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	res, err := DDD{}.Load(packed)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(res.Data, img) {
		for i := range res.Data {
			if res.Data[i] != img[i] {
				t.Fatalf("round trip diverges at byte %d (track %d): got %#02x want %#02x",
					i, i/4096, res.Data[i], img[i])
			}
		}
	}
}

func TestDDDSaveRejectsOddSize(t *testing.T) {
	if _, err := (DDD{}).Save(make([]byte, 1000)); !errors.IsInvalidArg(err) {
		t.Errorf("Save on a 1000-byte buffer: %v, want InvalidArg", err)
	}
}

func TestIdentifyOrder(t *testing.T) {
	img := testImage()
	gz, _ := Gzip{}.Save(img)
	if format, _ := Identify(gz); format != FormatGzip {
		t.Errorf("Identify(gzip) = %v", format)
	}
	zp, _ := Zip{}.Save(img)
	if format, _ := Identify(zp); format != FormatZip {
		t.Errorf("Identify(zip) = %v", format)
	}
	// DDD has no magic: a DDD stream must fall through to FormatNone.
	dd, _ := DDD{}.Save(img)
	if format, _ := Identify(dd); format != FormatNone {
		t.Errorf("Identify(ddd) = %v, want none (no magic, explicit opt-in only)", format)
	}
}
