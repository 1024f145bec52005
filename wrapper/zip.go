package wrapper

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/fadden/ciderdisk/errors"
)

const (
	eocdSignature = 0x06054b50
	cdeSignature  = 0x02014b50
	lfhSignature  = 0x04034b50

	methodStored   = 0
	methodDeflated = 8

	eocdFixedLen = 22
	cdeFixedLen  = 46
	lfhFixedLen  = 30

	maxEOCDScan = 64 * 1024
)

// Zip is the OuterWrapper variant for a ZIP archive containing exactly
// one member, the disk image.
type Zip struct{}

var _ Wrapper = Zip{}

// Test reports whether raw contains an EOCD record near the end, per the
// scan-the-last-64KB rule.
func (Zip) Test(raw []byte) bool {
	_, ok := findEOCD(raw)
	return ok
}

// findEOCD scans the last 64KB of raw for the EOCD signature and returns
// the offset at which it starts.
func findEOCD(raw []byte) (int, bool) {
	start := 0
	if len(raw) > maxEOCDScan+eocdFixedLen {
		start = len(raw) - (maxEOCDScan + eocdFixedLen)
	}
	window := raw[start:]
	for i := len(window) - eocdFixedLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(window[i:i+4]) == eocdSignature {
			return start + i, true
		}
	}
	return 0, false
}

type eocdRecord struct {
	diskNumber      uint16
	totalEntries    uint16 // on this disk
	totalEntriesAll uint16 // across all disks
	cdSize          uint32
	cdOffset        uint32
}

func parseEOCD(raw []byte, offset int) (eocdRecord, error) {
	if offset+eocdFixedLen > len(raw) {
		return eocdRecord{}, errors.BadDiskImagef("wrapper: zip EOCD truncated")
	}
	b := raw[offset:]
	return eocdRecord{
		diskNumber:      binary.LittleEndian.Uint16(b[4:6]),
		totalEntries:    binary.LittleEndian.Uint16(b[8:10]),
		totalEntriesAll: binary.LittleEndian.Uint16(b[10:12]),
		cdSize:          binary.LittleEndian.Uint32(b[12:16]),
		cdOffset:        binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

type cdEntry struct {
	method       uint16
	crc32        uint32
	compSize     uint32
	uncompSize   uint32
	lfhOffset    uint32
	nameLen      uint16
	extraLen     uint16
	commentLen   uint16
}

func parseCDE(raw []byte, offset int) (cdEntry, int, error) {
	if offset+cdeFixedLen > len(raw) {
		return cdEntry{}, 0, errors.BadDiskImagef("wrapper: zip central directory entry truncated")
	}
	b := raw[offset:]
	if binary.LittleEndian.Uint32(b[0:4]) != cdeSignature {
		return cdEntry{}, 0, errors.BadDiskImagef("wrapper: bad central directory entry signature")
	}
	e := cdEntry{
		method:     binary.LittleEndian.Uint16(b[10:12]),
		crc32:      binary.LittleEndian.Uint32(b[16:20]),
		compSize:   binary.LittleEndian.Uint32(b[20:24]),
		uncompSize: binary.LittleEndian.Uint32(b[24:28]),
		nameLen:    binary.LittleEndian.Uint16(b[28:30]),
		extraLen:   binary.LittleEndian.Uint16(b[30:32]),
		commentLen: binary.LittleEndian.Uint16(b[32:34]),
		lfhOffset:  binary.LittleEndian.Uint32(b[42:46]),
	}
	total := cdeFixedLen + int(e.nameLen) + int(e.extraLen) + int(e.commentLen)
	return e, total, nil
}

// lfhDataOffset returns the offset of the member's compressed data,
// computed from the local file header (whose size fields may be zero;
// the CDE is authoritative for sizes, but only the LFH tells us the data
// offset, since name/extra field lengths can differ from the CDE's).
func lfhDataOffset(raw []byte, offset uint32) (int, error) {
	o := int(offset)
	if o+lfhFixedLen > len(raw) {
		return 0, errors.BadDiskImagef("wrapper: zip local file header truncated")
	}
	b := raw[o:]
	if binary.LittleEndian.Uint32(b[0:4]) != lfhSignature {
		return 0, errors.BadDiskImagef("wrapper: bad local file header signature")
	}
	nameLen := binary.LittleEndian.Uint16(b[26:28])
	extraLen := binary.LittleEndian.Uint16(b[28:30])
	return o + lfhFixedLen + int(nameLen) + int(extraLen), nil
}

// Load locates the single member via the EOCD/CDE and inflates (or
// copies, if stored) its data, verifying the CRC-32 against the CDE's
// stored value.
func (Zip) Load(raw []byte) (LoadResult, error) {
	eocdOffset, ok := findEOCD(raw)
	if !ok {
		return LoadResult{}, errors.BadDiskImagef("wrapper: no zip EOCD record found")
	}
	eocd, err := parseEOCD(raw, eocdOffset)
	if err != nil {
		return LoadResult{}, err
	}
	if eocd.diskNumber != 0 {
		return LoadResult{}, errors.BadDiskImagef("wrapper: zip spans multiple disks (diskNumber=%d)", eocd.diskNumber)
	}
	if eocd.totalEntries != 1 || eocd.totalEntriesAll != 1 {
		return LoadResult{}, errors.BadDiskImagef("wrapper: zip must contain exactly one entry; got %d/%d", eocd.totalEntries, eocd.totalEntriesAll)
	}

	cde, _, err := parseCDE(raw, int(eocd.cdOffset))
	if err != nil {
		return LoadResult{}, err
	}
	if cde.method != methodStored && cde.method != methodDeflated {
		return LoadResult{}, errors.BadCompressedDataf("wrapper: unsupported zip method %d", cde.method)
	}

	dataOffset, err := lfhDataOffset(raw, cde.lfhOffset)
	if err != nil {
		return LoadResult{}, err
	}
	if dataOffset+int(cde.compSize) > len(raw) {
		return LoadResult{}, errors.BadDiskImagef("wrapper: zip member data runs past end of file")
	}
	compData := raw[dataOffset : dataOffset+int(cde.compSize)]

	var data []byte
	switch cde.method {
	case methodStored:
		data = append([]byte(nil), compData...)
	case methodDeflated:
		fr := flate.NewReader(bytes.NewReader(compData))
		defer fr.Close()
		out, err := io.ReadAll(io.LimitReader(fr, int64(cde.uncompSize)+1))
		if err != nil {
			return LoadResult{}, errors.BadCompressedDataf("wrapper: zip inflate failed: %v", err)
		}
		data = out
	}

	if crc32.ChecksumIEEE(data) != cde.crc32 {
		return LoadResult{}, errors.BadChecksumf("wrapper: zip member CRC-32 mismatch")
	}
	return LoadResult{Data: data}, nil
}

// Save writes a single-member ZIP archive: a local file header, the
// deflated payload, a central directory entry, and an EOCD record. The
// compressed size and CRC are computed before the LFH is emitted (the
// whole member is buffered in memory), so the header is correct on the
// first write and never needs rewriting afterward.
func (Zip) Save(image []byte) ([]byte, error) {
	const name = "disk.image"
	crc := crc32.ChecksumIEEE(image)

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return nil, errors.Internalf("wrapper: flate writer: %v", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, errors.IOf("wrapper: deflate failed: %v", err)
	}
	if err := fw.Close(); err != nil {
		return nil, errors.IOf("wrapper: deflate close failed: %v", err)
	}

	var out bytes.Buffer
	lfhOffset := uint32(out.Len())
	writeLFH(&out, name, methodDeflated, crc, uint32(compressed.Len()), uint32(len(image)))
	out.Write(compressed.Bytes())

	cdOffset := uint32(out.Len())
	writeCDE(&out, name, methodDeflated, crc, uint32(compressed.Len()), uint32(len(image)), lfhOffset)
	cdSize := uint32(out.Len()) - cdOffset

	writeEOCD(&out, 1, cdSize, cdOffset)
	return out.Bytes(), nil
}

func writeLFH(w *bytes.Buffer, name string, method uint16, crc, compSize, uncompSize uint32) {
	var hdr [lfhFixedLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], lfhSignature)
	binary.LittleEndian.PutUint16(hdr[4:6], 20) // version needed
	binary.LittleEndian.PutUint16(hdr[6:8], 0)  // flags
	binary.LittleEndian.PutUint16(hdr[8:10], method)
	binary.LittleEndian.PutUint16(hdr[10:12], 0) // mod time
	binary.LittleEndian.PutUint16(hdr[12:14], 0) // mod date
	binary.LittleEndian.PutUint32(hdr[14:18], crc)
	binary.LittleEndian.PutUint32(hdr[18:22], compSize)
	binary.LittleEndian.PutUint32(hdr[22:26], uncompSize)
	binary.LittleEndian.PutUint16(hdr[26:28], uint16(len(name)))
	binary.LittleEndian.PutUint16(hdr[28:30], 0) // extra len
	w.Write(hdr[:])
	w.WriteString(name)
}

func writeCDE(w *bytes.Buffer, name string, method uint16, crc, compSize, uncompSize, lfhOffset uint32) {
	var hdr [cdeFixedLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], cdeSignature)
	binary.LittleEndian.PutUint16(hdr[4:6], 20) // version made by
	binary.LittleEndian.PutUint16(hdr[6:8], 20) // version needed
	binary.LittleEndian.PutUint16(hdr[8:10], 0) // flags
	binary.LittleEndian.PutUint16(hdr[10:12], method)
	binary.LittleEndian.PutUint16(hdr[12:14], 0) // mod time
	binary.LittleEndian.PutUint16(hdr[14:16], 0) // mod date
	binary.LittleEndian.PutUint32(hdr[16:20], crc)
	binary.LittleEndian.PutUint32(hdr[20:24], compSize)
	binary.LittleEndian.PutUint32(hdr[24:28], uncompSize)
	binary.LittleEndian.PutUint16(hdr[28:30], uint16(len(name)))
	binary.LittleEndian.PutUint16(hdr[30:32], 0) // extra len
	binary.LittleEndian.PutUint16(hdr[32:34], 0) // comment len
	binary.LittleEndian.PutUint16(hdr[34:36], 0) // disk number start
	binary.LittleEndian.PutUint16(hdr[36:38], 0) // internal attrs
	binary.LittleEndian.PutUint32(hdr[38:42], 0) // external attrs
	binary.LittleEndian.PutUint32(hdr[42:46], lfhOffset)
	w.Write(hdr[:])
	w.WriteString(name)
}

func writeEOCD(w *bytes.Buffer, numEntries uint16, cdSize, cdOffset uint32) {
	var hdr [eocdFixedLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], eocdSignature)
	binary.LittleEndian.PutUint16(hdr[4:6], 0) // disk number
	binary.LittleEndian.PutUint16(hdr[6:8], 0) // disk with CD
	binary.LittleEndian.PutUint16(hdr[8:10], numEntries)
	binary.LittleEndian.PutUint16(hdr[10:12], numEntries)
	binary.LittleEndian.PutUint32(hdr[12:16], cdSize)
	binary.LittleEndian.PutUint32(hdr[16:20], cdOffset)
	binary.LittleEndian.PutUint16(hdr[20:22], 0) // comment len
	w.Write(hdr[:])
}
