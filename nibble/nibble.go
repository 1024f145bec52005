// Package nibble implements the L2a nibble codec: 5&3 and 6&2 GCR
// encode/decode, address-field search, and the multi-dialect track probe
// that AnalyzeNibbleData uses to pick a Descr for an unrecognized .nib
// image.
package nibble

import (
	"bytes"

	"github.com/icza/bitio"

	"github.com/fadden/ciderdisk/errors"
)

const (
	chunkSize62 = 86  // 256/3, rounded up
	chunkSize53 = 51  // 255/5
	threeSize53 = 154 // chunkSize53*3 + 1
	numSectors16 = 16
	numSectors13 = 13
)

// kInvInvalid marks a disk byte outside the alphabet.
const kInvInvalid = 0xff

// DiskBytes62 is the 64-entry 6&2 GCR alphabet, immutable and bit-exact.
var DiskBytes62 = [64]byte{
	0x96, 0x97, 0x9a, 0x9b, 0x9d, 0x9e, 0x9f, 0xa6,
	0xa7, 0xab, 0xac, 0xad, 0xae, 0xaf, 0xb2, 0xb3,
	0xb4, 0xb5, 0xb6, 0xb7, 0xb9, 0xba, 0xbb, 0xbc,
	0xbd, 0xbe, 0xbf, 0xcb, 0xcd, 0xce, 0xcf, 0xd3,
	0xd6, 0xd7, 0xd9, 0xda, 0xdb, 0xdc, 0xdd, 0xde,
	0xdf, 0xe5, 0xe6, 0xe7, 0xe9, 0xea, 0xeb, 0xec,
	0xed, 0xee, 0xef, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6,
	0xf7, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff,
}

// DiskBytes53 is the 32-entry 5&3 GCR alphabet.
var DiskBytes53 = [32]byte{
	0xab, 0xad, 0xae, 0xaf, 0xb5, 0xb6, 0xb7, 0xba,
	0xbb, 0xbd, 0xbe, 0xbf, 0xd6, 0xd7, 0xda, 0xdb,
	0xdd, 0xde, 0xdf, 0xea, 0xeb, 0xed, 0xee, 0xef,
	0xf5, 0xf6, 0xf7, 0xfa, 0xfb, 0xfd, 0xfe, 0xff,
}

// invDiskBytes62/53 are the inverse lookup tables, built once at
// package init; nothing mutates them afterward.
var invDiskBytes62 [256]byte
var invDiskBytes53 [256]byte

func init() {
	for i := range invDiskBytes62 {
		invDiskBytes62[i] = kInvInvalid
	}
	for i, b := range DiskBytes62 {
		invDiskBytes62[b] = byte(i)
	}
	for i := range invDiskBytes53 {
		invDiskBytes53[i] = kInvInvalid
	}
	for i, b := range DiskBytes53 {
		invDiskBytes53[b] = byte(i)
	}
}

// Encoding names a GCR data-field encoding.
type Encoding int

const (
	Enc62 Encoding = iota
	Enc53
)

// Special names a nibble dialect's address-decoding quirk.
type Special int

const (
	SpecialNone Special = iota
	SpecialMuse
	SpecialSkipFirstAddrByte
)

// Descr is a format descriptor for nibble decoding: prolog/epilog byte
// triples, checksum seeds, and the option flags that distinguish one
// disk-copy program's dialect from another.
type Descr struct {
	Name       string
	Encoding   Encoding
	NumSectors int

	AddrProlog             [3]byte
	AddrEpilog             [3]byte
	AddrEpilogVerifyCount  int
	AddrChecksumSeed       byte
	AddrVerifyChecksum     bool
	AddrVerifyTrack        bool

	DataProlog         [3]byte
	DataEpilog         [3]byte
	DataEpilogVerifyCount int
	DataChecksumSeed   byte
	DataVerifyChecksum bool

	Special Special
}

// StandardDialects are the NibbleDescr candidates AnalyzeNibbleData tries,
// in probe order: the common 16-sector 6&2 format, the 13-sector 5&3
// format, and two well-known oddballs (Muse's half-sector addressing,
// used by e.g. the original Castle Wolfenstein, and the skip-first-
// address-byte dialect some 4&4 encoders emit).
var StandardDialects = []Descr{
	{
		Name:                  "standard 16-sector 6&2",
		Encoding:              Enc62,
		NumSectors:            numSectors16,
		AddrProlog:            [3]byte{0xd5, 0xaa, 0x96},
		AddrEpilog:            [3]byte{0xde, 0xaa, 0xeb},
		AddrEpilogVerifyCount: 2,
		AddrVerifyChecksum:    true,
		AddrVerifyTrack:       true,
		DataProlog:            [3]byte{0xd5, 0xaa, 0xad},
		DataEpilog:            [3]byte{0xde, 0xaa, 0xeb},
		DataEpilogVerifyCount: 2,
		DataVerifyChecksum:    true,
	},
	{
		Name:                  "standard 13-sector 5&3",
		Encoding:              Enc53,
		NumSectors:            numSectors13,
		AddrProlog:            [3]byte{0xd5, 0xaa, 0xb5},
		AddrEpilog:            [3]byte{0xde, 0xaa, 0xeb},
		AddrEpilogVerifyCount: 2,
		AddrVerifyChecksum:    true,
		AddrVerifyTrack:       true,
		DataProlog:            [3]byte{0xd5, 0xaa, 0xad},
		DataEpilog:            [3]byte{0xde, 0xaa, 0xeb},
		DataEpilogVerifyCount: 2,
		DataVerifyChecksum:    true,
	},
	{
		Name:                  "Muse",
		Encoding:              Enc62,
		NumSectors:            numSectors16,
		AddrProlog:            [3]byte{0xd5, 0xaa, 0xb5},
		AddrEpilog:            [3]byte{0xde, 0xaa, 0xeb},
		AddrEpilogVerifyCount: 2,
		AddrVerifyChecksum:    true,
		AddrVerifyTrack:       true,
		DataProlog:            [3]byte{0xd5, 0xaa, 0xad},
		DataEpilog:            [3]byte{0xde, 0xaa, 0xeb},
		DataEpilogVerifyCount: 2,
		DataVerifyChecksum:    true,
		Special:               SpecialMuse,
	},
	{
		Name:                  "skip-first-addr-byte",
		Encoding:              Enc62,
		NumSectors:            numSectors16,
		AddrProlog:            [3]byte{0xd5, 0xaa, 0x96},
		AddrEpilog:            [3]byte{0xde, 0xaa, 0xeb},
		AddrEpilogVerifyCount: 2,
		AddrVerifyChecksum:    true,
		AddrVerifyTrack:       true,
		DataProlog:            [3]byte{0xd5, 0xaa, 0xad},
		DataEpilog:            [3]byte{0xde, 0xaa, 0xeb},
		DataEpilogVerifyCount: 2,
		DataVerifyChecksum:    true,
		Special:               SpecialSkipFirstAddrByte,
	},
}

// conv44 decodes an Apple II 4&4-encoded byte pair: odd = (byte<<1)|1,
// even = byte, combined as (odd & even).
func conv44(odd, even byte) byte {
	return ((odd << 1) | 1) & even
}

// enc44 splits a source byte into its 4&4-encoded disk-byte pair.
func enc44(val byte) (odd, even byte) {
	return (val >> 1) | 0xaa, val | 0xaa
}

// circularBuffer is a read-only view over one track's worth of nibble
// bytes that wraps around at the end: a nibble track is a closed loop
// with no fixed start point.
type circularBuffer struct {
	data []byte
}

func (c circularBuffer) at(i int) byte {
	n := len(c.data)
	return c.data[((i%n)+n)%n]
}

func (c circularBuffer) size() int { return len(c.data) }

func (c circularBuffer) normalize(i int) int {
	n := len(c.data)
	return ((i % n) + n) % n
}

// AddrField is a decoded address-field header.
type AddrField struct {
	Volume   int
	Track    int
	Sector   int
	Checksum int
}

// decodeAddr decodes the six 4&4-encoded nibbles at offset into a volume,
// track, sector, and checksum.
func decodeAddr(buf circularBuffer, offset int) AddrField {
	return AddrField{
		Volume:   int(conv44(buf.at(offset), buf.at(offset+1))),
		Track:    int(conv44(buf.at(offset+2), buf.at(offset+3))),
		Sector:   int(conv44(buf.at(offset+4), buf.at(offset+5))),
		Checksum: int(conv44(buf.at(offset+6), buf.at(offset+7))),
	}
}

// maxDataReach bounds how far past a verified address field we'll scan
// for the matching data prolog, so a search doesn't wander into the next
// sector's data field.
const maxDataReach = 48

// FindSectorStart locates the start of a sector's data field within a
// raw nibble track, returning the circular-buffer index of the first
// payload byte (just past the 3-byte data prolog) and the volume number
// recorded in its address field.
func FindSectorStart(track []byte, wantTrack, wantSector int, d *Descr) (start int, vol int, ok bool) {
	buf := circularBuffer{data: track}
	n := buf.size()

	for i := 0; i < n; i++ {
		var foundAddr bool
		if d.Special == SpecialSkipFirstAddrByte {
			foundAddr = buf.at(i+1) == d.AddrProlog[1] && buf.at(i+2) == d.AddrProlog[2]
		} else {
			foundAddr = buf.at(i) == d.AddrProlog[0] && buf.at(i+1) == d.AddrProlog[1] && buf.at(i+2) == d.AddrProlog[2]
		}
		if !foundAddr {
			continue
		}

		addr := decodeAddr(buf, i+3)

		if d.AddrVerifyTrack && wantTrack != addr.Track {
			continue
		}
		if d.AddrVerifyChecksum {
			seed := int(d.AddrChecksumSeed)
			if (seed ^ addr.Volume ^ addr.Track ^ addr.Sector ^ addr.Checksum) != 0 {
				continue
			}
		}

		j := i + 3
		matched := 0
		for matched < d.AddrEpilogVerifyCount {
			if buf.at(j+8+matched) != d.AddrEpilog[matched] {
				break
			}
			matched++
		}
		if matched != d.AddrEpilogVerifyCount {
			continue
		}

		hdrSector := addr.Sector
		if d.Special == SpecialMuse && wantTrack > 2 {
			if hdrSector&0x01 != 0 {
				continue
			}
			hdrSector /= 2
		}
		if wantSector != hdrSector {
			continue
		}

		for k := 0; k < maxDataReach; k++ {
			if buf.at(j+k) == d.DataProlog[0] && buf.at(j+k+1) == d.DataProlog[1] && buf.at(j+k+2) == d.DataProlog[2] {
				return buf.normalize(j + k + 3), addr.Volume, true
			}
		}
	}
	return 0, 0, false
}

// Decode62 decodes a 342-byte 6&2 data field (plus trailing checksum
// byte) starting at idx in the circular track buffer into a 256-byte
// sector.
func Decode62(track []byte, idx int, d *Descr) ([]byte, error) {
	buf := circularBuffer{data: track}
	sctBuf := make([]byte, 256)
	twos := make([]byte, chunkSize62*3)
	chksum := int(d.DataChecksumSeed)

	for i := 0; i < chunkSize62; i++ {
		decoded := invDiskBytes62[buf.at(idx)]
		idx++
		if decoded == kInvInvalid {
			return nil, errors.InvalidDiskBytef("nibble: disk byte outside 6&2 alphabet")
		}
		chksum ^= int(decoded)
		twos[i] = byte(((chksum & 0x01) << 1) | ((chksum & 0x02) >> 1))
		twos[i+chunkSize62] = byte(((chksum & 0x04) >> 1) | ((chksum & 0x08) >> 3))
		twos[i+chunkSize62*2] = byte(((chksum & 0x10) >> 3) | ((chksum & 0x20) >> 5))
	}

	for i := 0; i < 256; i++ {
		decoded := invDiskBytes62[buf.at(idx)]
		idx++
		if decoded == kInvInvalid {
			return nil, errors.InvalidDiskBytef("nibble: disk byte outside 6&2 alphabet")
		}
		chksum ^= int(decoded)
		sctBuf[i] = byte((chksum << 2)) | twos[i]
	}

	decoded := invDiskBytes62[buf.at(idx)]
	if decoded == kInvInvalid {
		return nil, errors.InvalidDiskBytef("nibble: disk byte outside 6&2 alphabet")
	}
	chksum ^= int(decoded)

	if d.DataVerifyChecksum && chksum != 0 {
		return nil, errors.BadChecksumf("nibble: 6&2 data checksum mismatch")
	}
	return sctBuf, nil
}

// Encode62 encodes a 256-byte sector into 343 disk bytes (342 data +
// checksum), writing them into track starting at idx.
func Encode62(track []byte, idx int, sctBuf []byte, d *Descr) {
	buf := circularBuffer{data: track}
	top := make([]byte, 256)
	twos := make([]byte, chunkSize62)

	twoPosn := chunkSize62 - 1
	twoShift := 0
	for i := 0; i < 256; i++ {
		val := sctBuf[i]
		top[i] = val >> 2
		twos[twoPosn] |= (((val & 0x01) << 1) | ((val & 0x02) >> 1)) << uint(twoShift)
		if twoPosn == 0 {
			twoPosn = chunkSize62
			twoShift += 2
		}
		twoPosn--
	}

	chksum := int(d.DataChecksumSeed)
	for i := chunkSize62 - 1; i >= 0; i-- {
		buf.data[buf.normalize(idx)] = DiskBytes62[int(twos[i])^chksum]
		idx++
		chksum = int(twos[i])
	}
	for i := 0; i < 256; i++ {
		buf.data[buf.normalize(idx)] = DiskBytes62[int(top[i])^chksum]
		idx++
		chksum = int(top[i])
	}
	buf.data[buf.normalize(idx)] = DiskBytes62[chksum]
}

// Decode53 decodes a 410-byte 5&3 data field starting at idx into a
// 256-byte sector.
func Decode53(track []byte, idx int, d *Descr) ([]byte, error) {
	buf := circularBuffer{data: track}
	base := make([]byte, 256)
	threes := make([]byte, threeSize53)
	chksum := int(d.DataChecksumSeed)

	for i := threeSize53 - 1; i >= 0; i-- {
		decoded := invDiskBytes53[buf.at(idx)]
		idx++
		if decoded == kInvInvalid {
			return nil, errors.InvalidDiskBytef("nibble: disk byte outside 5&3 alphabet")
		}
		chksum ^= int(decoded)
		threes[i] = byte(chksum)
	}

	for i := 0; i < 256; i++ {
		decoded := invDiskBytes53[buf.at(idx)]
		idx++
		if decoded == kInvInvalid {
			return nil, errors.InvalidDiskBytef("nibble: disk byte outside 5&3 alphabet")
		}
		chksum ^= int(decoded)
		base[i] = byte(chksum << 3)
	}

	decoded := invDiskBytes53[buf.at(idx)]
	if decoded == kInvInvalid {
		return nil, errors.InvalidDiskBytef("nibble: disk byte outside 5&3 alphabet")
	}
	chksum ^= int(decoded)
	if d.DataVerifyChecksum && chksum != 0 {
		return nil, errors.BadChecksumf("nibble: 5&3 data checksum mismatch")
	}

	out := make([]byte, 256)
	pos := 0
	for i := chunkSize53 - 1; i >= 0; i-- {
		three1 := int(threes[i])
		three2 := int(threes[chunkSize53+i])
		three3 := int(threes[chunkSize53*2+i])
		three4 := ((three1 & 0x02) << 1) | (three2 & 0x02) | ((three3 & 0x02) >> 1)
		three5 := ((three1 & 0x01) << 2) | ((three2 & 0x01) << 1) | (three3 & 0x01)

		out[pos] = base[i] | byte((three1>>2)&0x07)
		pos++
		out[pos] = base[chunkSize53+i] | byte((three2>>2)&0x07)
		pos++
		out[pos] = base[chunkSize53*2+i] | byte((three3>>2)&0x07)
		pos++
		out[pos] = base[chunkSize53*3+i] | byte(three4&0x07)
		pos++
		out[pos] = base[chunkSize53*4+i] | byte(three5&0x07)
		pos++
	}
	out[255] = base[255] | (threes[threeSize53-1] & 0x07)
	return out, nil
}

// Encode53 encodes a 256-byte sector into 411 disk bytes, written into
// track starting at idx.
func Encode53(track []byte, idx int, sctBuf []byte, d *Descr) {
	buf := circularBuffer{data: track}
	top := make([]byte, 256)
	threes := make([]byte, threeSize53)

	chunk := chunkSize53 - 1
	pos := 0
	for chunk >= 0 {
		three1 := int(sctBuf[pos])
		three2 := int(sctBuf[pos+1])
		three3 := int(sctBuf[pos+2])
		three4 := int(sctBuf[pos+3])
		three5 := int(sctBuf[pos+4])
		pos += 5

		top[chunk] = byte(three1 >> 3)
		top[chunk+chunkSize53] = byte(three2 >> 3)
		top[chunk+chunkSize53*2] = byte(three3 >> 3)
		top[chunk+chunkSize53*3] = byte(three4 >> 3)
		top[chunk+chunkSize53*4] = byte(three5 >> 3)

		threes[chunk] = byte(((three1 & 0x07) << 2) | ((three4 & 0x04) >> 1) | ((three5 & 0x04) >> 2))
		threes[chunk+chunkSize53] = byte(((three2 & 0x07) << 2) | (three4 & 0x02) | ((three5 & 0x02) >> 1))
		threes[chunk+chunkSize53*2] = byte(((three3 & 0x07) << 2) | ((three4 & 0x01) << 1) | (three5 & 0x01))

		chunk--
	}

	val := int(sctBuf[255])
	top[255] = byte(val >> 3)
	threes[threeSize53-1] = byte(val & 0x07)

	chksum := int(0)
	for i := len(threes) - 1; i >= 0; i-- {
		buf.data[buf.normalize(idx)] = DiskBytes53[int(threes[i])^chksum]
		idx++
		chksum = int(threes[i])
	}
	for i := 0; i < 256; i++ {
		buf.data[buf.normalize(idx)] = DiskBytes53[int(top[i])^chksum]
		idx++
		chksum = int(top[i])
	}
	buf.data[buf.normalize(idx)] = DiskBytes53[chksum]
}

// Decode decodes a sector's data field at idx according to d's encoding.
func Decode(track []byte, idx int, d *Descr) ([]byte, error) {
	switch d.Encoding {
	case Enc62:
		return Decode62(track, idx, d)
	case Enc53:
		return Decode53(track, idx, d)
	default:
		return nil, errors.Internalf("nibble: unknown encoding %d", d.Encoding)
	}
}

// Encode encodes a sector's data field at idx according to d's encoding.
func Encode(track []byte, idx int, sctBuf []byte, d *Descr) {
	switch d.Encoding {
	case Enc62:
		Encode62(track, idx, sctBuf, d)
	case Enc53:
		Encode53(track, idx, sctBuf, d)
	}
}

// probeTracks are the tracks AnalyzeNibbleData samples when scoring
// candidate dialects against an unlabeled .nib image.
var probeTracks = []int{1, 16, 17, 26}

// TestNibbleTrack scores a track as the number of sectors (0..d.NumSectors)
// whose data field decodes without error for dialect d.
func TestNibbleTrack(track []byte, trackNum int, d *Descr) int {
	good := 0
	for sector := 0; sector < d.NumSectors; sector++ {
		start, _, ok := FindSectorStart(track, trackNum, sector, d)
		if !ok {
			continue
		}
		if _, err := Decode(track, start, d); err == nil {
			good++
		}
	}
	return good
}

// AnalyzeResult is the winning dialect and the disk volume number read
// from its track-17 address field.
type AnalyzeResult struct {
	Descr    *Descr
	ProtoVol int
}

// AnalyzeNibbleData runs TestNibbleTrack over probeTracks against each
// candidate dialect (default StandardDialects). A dialect wins if at
// least 3 of the 4 probe tracks decode numSectors-4 or more sectors
// cleanly; ties are resolved by probe order. tracks must be indexable by
// the values in probeTracks (callers typically pass all 35 DOS tracks).
func AnalyzeNibbleData(tracks [][]byte, candidates []Descr) (AnalyzeResult, error) {
	if candidates == nil {
		candidates = StandardDialects
	}
	for ci := range candidates {
		d := &candidates[ci]
		passing := 0
		var protoVol int
		for _, t := range probeTracks {
			if t >= len(tracks) {
				continue
			}
			good := TestNibbleTrack(tracks[t], t, d)
			if good >= d.NumSectors-4 {
				passing++
			}
			if t == 17 {
				if _, vol, ok := FindSectorStart(tracks[t], t, 0, d); ok {
					protoVol = vol
				}
			}
		}
		if passing >= 3 {
			return AnalyzeResult{Descr: d, ProtoVol: protoVol}, nil
		}
	}
	return AnalyzeResult{}, errors.BadDiskImagef("nibble: no dialect matched this nibble image")
}

// writeField emits a byte triple to w using bitio's byte-aligned writer,
// used by the track-formatting path (FormatTrack) to lay out prolog/epilog
// sequences without reaching for manual slice appends at every call site.
func writeField(w *bitio.Writer, field [3]byte) error {
	for _, b := range field {
		if err := w.WriteByte(b); err != nil {
			return errors.IOf("nibble: track write failed: %v", err)
		}
	}
	return nil
}

// syncByte is the self-sync filler byte written between fields.
// gapLeadIn/gapAfterAddr/gapAfterData are the standard 16-sector gap
// lengths. Actual self-sync timing (the extra clock bit real disk
// hardware reads between these bytes) is not modeled; FormatTrack
// writes the gap as plain 0xFF filler bytes, same as every
// nibble-image tool that doesn't emulate drive timing.
const (
	syncByte     = 0xff
	gapLeadIn    = 48
	gapAfterAddr = 6
	gapAfterData = 27
)

// dataFieldLen returns the on-disk length of one encoded data field
// (payload nibbles plus the trailing checksum byte) for d's encoding:
// 343 bytes for 6&2 (Encode62), 411 bytes for 5&3 (Encode53).
func dataFieldLen(d *Descr) int {
	if d.Encoding == Enc53 {
		return threeSize53 + 256 + 1
	}
	return chunkSize62 + 256 + 1
}

// FormatTrack lays out one complete physical nibble track from scratch:
// a leading self-sync gap, then one {address field, sync gap, data
// field, sync gap} run per sector. sectorPayloads[i] is the 256-byte
// payload for sector i; len(sectorPayloads) must equal d.NumSectors.
// The returned buffer is 6,384 bytes for a 16-sector 6&2 track, 6,080
// for a 13-sector 5&3 track.
func FormatTrack(d *Descr, trackNum, volume int, sectorPayloads [][]byte) ([]byte, error) {
	if len(sectorPayloads) != d.NumSectors {
		return nil, errors.InvalidArgf("nibble: FormatTrack needs %d sector payloads, got %d", d.NumSectors, len(sectorPayloads))
	}
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)

	for i := 0; i < gapLeadIn; i++ {
		if err := w.WriteByte(syncByte); err != nil {
			return nil, errors.IOf("nibble: track write failed: %v", err)
		}
	}

	for sector := 0; sector < d.NumSectors; sector++ {
		if len(sectorPayloads[sector]) != 256 {
			return nil, errors.InvalidArgf("nibble: sector %d payload must be 256 bytes, got %d", sector, len(sectorPayloads[sector]))
		}
		if err := writeField(w, d.AddrProlog); err != nil {
			return nil, err
		}
		checksum := int(d.AddrChecksumSeed) ^ volume ^ trackNum ^ sector
		for _, v := range []int{volume, trackNum, sector, checksum} {
			odd, even := enc44(byte(v))
			if err := w.WriteByte(odd); err != nil {
				return nil, errors.IOf("nibble: track write failed: %v", err)
			}
			if err := w.WriteByte(even); err != nil {
				return nil, errors.IOf("nibble: track write failed: %v", err)
			}
		}
		if err := writeField(w, d.AddrEpilog); err != nil {
			return nil, err
		}
		for i := 0; i < gapAfterAddr; i++ {
			if err := w.WriteByte(syncByte); err != nil {
				return nil, errors.IOf("nibble: track write failed: %v", err)
			}
		}

		if err := writeField(w, d.DataProlog); err != nil {
			return nil, err
		}
		dataField := make([]byte, dataFieldLen(d))
		Encode(dataField, 0, sectorPayloads[sector], d)
		for _, b := range dataField {
			if err := w.WriteByte(b); err != nil {
				return nil, errors.IOf("nibble: track write failed: %v", err)
			}
		}
		if err := writeField(w, d.DataEpilog); err != nil {
			return nil, err
		}
		for i := 0; i < gapAfterData; i++ {
			if err := w.WriteByte(syncByte); err != nil {
				return nil, errors.IOf("nibble: track write failed: %v", err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, errors.IOf("nibble: track write failed: %v", err)
	}
	return buf.Bytes(), nil
}
