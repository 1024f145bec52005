package wrapper

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/icza/bitio"

	"github.com/fadden/ciderdisk/errors"
)

const (
	dddNumSymbols   = 256
	dddNumFavorites = 20
	dddRLEDelim     = 0x97 // high bit set, per format requirement
	dddTrackLen     = 4096
	dddNumTracks    = 35
	dddImageLen     = dddTrackLen * dddNumTracks

	// dddProSignature replaces the DOS addr/len bytes a DOS 'B' file would
	// carry; DDD Pro 1.1 writes this same four bytes, so we do too.
	dddProSignature = 0xd0bfc903

	// dddMaxExcessBytes bounds how much trailing garbage past track 35 is
	// tolerated before the archive is considered damaged rather than just
	// imprecisely terminated (DDD has no length field or checksum).
	dddMaxExcessBytes = 256
)

// favoriteBitEnc/Len are the prefix codes used for a track's 20 most
// frequent bytes; each value is odd, so its bit-reversed form (what
// actually lands in the bitstream first) always has its high bit set,
// which is how a decoder distinguishes a coded favorite from a literal
// byte.
var favoriteBitEnc = [dddNumFavorites]byte{
	0x03, 0x09, 0x1f, 0x0f, 0x07, 0x1b, 0x0b, 0x0d, 0x15, 0x37,
	0x3d, 0x25, 0x05, 0xb1, 0x11, 0x21, 0x01, 0x57, 0x5d, 0x1d,
}
var favoriteBitEncLen = [dddNumFavorites]int{
	4, 4, 5, 5, 5, 5, 5, 5, 5, 6,
	6, 6, 6, 6, 6, 6, 6, 7, 7, 7,
}

// favoriteBitDec is the reverse of favoriteBitEnc: each entry lacks the
// implied high bit and has its remaining bits reversed, so the decoder
// can compare its running bit accumulator directly against this table.
var favoriteBitDec = [dddNumFavorites]byte{
	0x04, 0x01, 0x0f, 0x0e, 0x0c, 0x0b, 0x0a, 0x06, 0x05, 0x1b,
	0x0f, 0x09, 0x08, 0x03, 0x02, 0x01, 0x00, 0x35, 0x1d, 0x1c,
}

// favoriteDecRanges gives the [start,end) slice of favoriteBitDec to
// search at each of the four extra-bit stages of prefix matching.
var favoriteDecRanges = [4][2]int{{0, 2}, {2, 9}, {9, 17}, {17, 20}}

// DDD is the OuterWrapper variant for DDD-compressed disk images: a
// per-track favorites table plus a prefix/RLE token stream over
// DOS-ordered sector bytes. Identify's auto-probe never selects it:
// DDD carries no magic number, so its Test always returns false and
// callers must request it explicitly.
type DDD struct{}

var _ Wrapper = DDD{}

// reverseBits reverses the low n bits of val; called with n=8 this is
// the original format's byte-reversal primitive.
func reverseBits(val byte, n int) byte {
	var result byte
	for i := 0; i < n; i++ {
		result = (result << 1) | (val & 0x01)
		val >>= 1
	}
	return result
}

func reverseByte(val byte) byte { return reverseBits(val, 8) }

// dddBitWriter adapts bitio.Writer to DDD's bit convention: the format
// rolls the low bits out of each value and shifts them into the output
// in reverse order, which is equivalent to writing the bit-reversed
// low n bits through a standard MSB-first bit writer.
type dddBitWriter struct {
	w *bitio.Writer
}

func (b *dddBitWriter) putBits(bits byte, numBits int) error {
	if err := b.w.WriteBits(uint64(reverseBits(bits, numBits)), uint8(numBits)); err != nil {
		return errors.IOf("wrapper: ddd bit write failed: %v", err)
	}
	return nil
}

// dddBitReader serves bits in stream order (standard MSB-first read),
// so it maps directly onto bitio's ReadBits with no reversal. Callers
// that need to undo a putBits(x, 8) call reverseByte themselves.
type dddBitReader struct {
	r *bitio.Reader
}

func (b *dddBitReader) getBits(numBits int) (byte, error) {
	v, err := b.r.ReadBits(uint8(numBits))
	if err != nil {
		return 0, errors.DataUnderrunf("wrapper: ddd bit stream ended early: %v", err)
	}
	return byte(v), nil
}

// Test never matches during auto-probe; DDD has no magic number, so
// it's only selected when a caller asks for it by name.
func (DDD) Test(raw []byte) bool { return false }

// Load unpacks a DDD-compressed image into a 143,360-byte DOS-ordered
// disk image.
func (DDD) Load(raw []byte) (LoadResult, error) {
	if len(raw) < 4 {
		return LoadResult{}, errors.BadCompressedDataf("wrapper: ddd stream too short")
	}
	br := bufio.NewReader(bytes.NewReader(raw[4:])) // skip the 4-byte DOS addr/len (or signature) prefix
	bitR := &dddBitReader{r: bitio.NewReader(br)}

	val, err := bitR.getBits(3)
	if err != nil {
		return LoadResult{}, err
	}
	if val != 0 {
		return LoadResult{}, errors.BadCompressedDataf("wrapper: ddd leading bits not zero (0x%02x), not a DDD file", val)
	}
	vb, err := bitR.getBits(8)
	if err != nil {
		return LoadResult{}, err
	}
	_ = reverseByte(vb) // disk volume number, informational only

	out := make([]byte, dddImageLen)
	for track := 0; track < dddNumTracks; track++ {
		trackBuf, err := unpackTrack(bitR)
		if err != nil {
			return LoadResult{}, errors.BadCompressedDataf("wrapper: ddd failed unpacking track %d: %v", track, err)
		}
		copy(out[track*dddTrackLen:], trackBuf)
	}
	if rest, _ := io.ReadAll(br); len(rest) > dddMaxExcessBytes {
		return LoadResult{}, errors.BadCompressedDataf("wrapper: ddd has %d bytes past the last track, not a DDD file", len(rest))
	}

	return LoadResult{Data: out}, nil
}

// unpackTrack decodes one 4096-byte track: 20 favorite bytes followed by
// a token stream of literal bytes, favorite-code references, and RLE runs.
func unpackTrack(bitR *dddBitReader) ([]byte, error) {
	var favorites [dddNumFavorites]byte
	for fav := 0; fav < dddNumFavorites; fav++ {
		v, err := bitR.getBits(8)
		if err != nil {
			return nil, err
		}
		favorites[fav] = reverseByte(v)
	}

	trackBuf := make([]byte, 0, dddTrackLen)
	for len(trackBuf) < dddTrackLen {
		flag, err := bitR.getBits(1)
		if err != nil {
			return nil, err
		}
		if flag == 0 {
			v, err := bitR.getBits(8)
			if err != nil {
				return nil, err
			}
			trackBuf = append(trackBuf, reverseByte(v))
			continue
		}

		val, err := bitR.getBits(2)
		if err != nil {
			return nil, err
		}
		matched := false
		var extraBits int
		for extraBits = 0; extraBits < 4; extraBits++ {
			bit, err := bitR.getBits(1)
			if err != nil {
				return nil, err
			}
			val = (val << 1) | bit

			rng := favoriteDecRanges[extraBits]
			for start := rng[0]; start < rng[1]; start++ {
				if val == favoriteBitDec[start] {
					trackBuf = append(trackBuf, favorites[start])
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if matched {
			continue
		}

		// Fell through all four stages: this is the RLE delimiter 0x97.
		if _, err := bitR.getBits(1); err != nil { // last bit of 0x97
			return nil, err
		}
		rc, err := bitR.getBits(8)
		if err != nil {
			return nil, err
		}
		rleChar := reverseByte(rc)
		rn, err := bitR.getBits(8)
		if err != nil {
			return nil, err
		}
		rleCount := int(reverseByte(rn))
		if rleCount == 0 {
			rleCount = 256
		}
		if len(trackBuf)+rleCount > dddTrackLen {
			return nil, errors.BadCompressedDataf("wrapper: ddd RLE run overruns track")
		}
		for i := 0; i < rleCount; i++ {
			trackBuf = append(trackBuf, rleChar)
		}
	}
	return trackBuf, nil
}

// Save packs a DOS-ordered disk image (143,360 bytes: 35 tracks of
// 4096 bytes) into DDD format.
func (DDD) Save(image []byte) ([]byte, error) {
	if len(image) != dddImageLen {
		return nil, errors.InvalidArgf("wrapper: ddd save expects a %d-byte DOS-ordered image, got %d", dddImageLen, len(image))
	}

	var out bytes.Buffer
	var sig [4]byte
	binary.LittleEndian.PutUint32(sig[:], dddProSignature)
	out.Write(sig[:])

	bw := bitio.NewWriter(&out)
	bitW := &dddBitWriter{w: bw}

	if err := bitW.putBits(0x00, 3); err != nil {
		return nil, err
	}
	if err := bitW.putBits(0, 8); err != nil { // disk volume number; unknown at this layer, written as 0
		return nil, err
	}

	for track := 0; track < dddNumTracks; track++ {
		trackBuf := image[track*dddTrackLen : (track+1)*dddTrackLen]
		if err := packTrack(trackBuf, bitW); err != nil {
			return nil, err
		}
	}

	if err := bitW.putBits(0x00, 8); err != nil { // flush any partial byte
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, errors.IOf("wrapper: ddd bit writer close failed: %v", err)
	}
	out.WriteByte(0) // trailing zero byte, matching DDD Pro v1.1

	return out.Bytes(), nil
}

// packTrack compresses one 4096-byte track: a favorites table (the 20
// most frequent non-run bytes) followed by the literal/favorite/RLE
// token stream.
func packTrack(trackBuf []byte, bitW *dddBitWriter) error {
	freq := computeFreqCounts(trackBuf)
	favorites := computeFavorites(freq)

	for fav := 0; fav < dddNumFavorites; fav++ {
		if err := bitW.putBits(favorites[fav], 8); err != nil {
			return err
		}
	}

	for i := 0; i < dddTrackLen; {
		if i < dddTrackLen-3 && trackBuf[i] == trackBuf[i+1] && trackBuf[i] == trackBuf[i+2] && trackBuf[i] == trackBuf[i+3] {
			runLen := 4
			j := i + 3
			for j < dddTrackLen-1 && trackBuf[j] == trackBuf[j+1] {
				runLen++
				j++
				if runLen == 256 {
					runLen = 0
					break
				}
			}
			if err := bitW.putBits(dddRLEDelim, 8); err != nil {
				return err
			}
			if err := bitW.putBits(trackBuf[j], 8); err != nil {
				return err
			}
			if err := bitW.putBits(byte(runLen), 8); err != nil {
				return err
			}
			i = j + 1
			continue
		}

		b := trackBuf[i]
		fav := -1
		for f := 0; f < dddNumFavorites; f++ {
			if b == favorites[f] {
				fav = f
				break
			}
		}
		if fav == -1 {
			if err := bitW.putBits(0x00, 1); err != nil {
				return err
			}
			if err := bitW.putBits(b, 8); err != nil {
				return err
			}
		} else {
			if err := bitW.putBits(favoriteBitEnc[fav], favoriteBitEncLen[fav]); err != nil {
				return err
			}
		}
		i++
	}
	return nil
}

// computeFreqCounts tallies byte frequencies across a track, skipping
// over runs of four or more identical bytes (those are always RLE-coded,
// so they shouldn't bias favorites selection).
func computeFreqCounts(trackBuf []byte) [dddNumSymbols]int {
	var freq [dddNumSymbols]int
	for i := 0; i < dddTrackLen; {
		if i < dddTrackLen-3 && trackBuf[i] == trackBuf[i+1] && trackBuf[i] == trackBuf[i+2] && trackBuf[i] == trackBuf[i+3] {
			runLen := 4
			j := i + 3
			for j < dddTrackLen-1 && trackBuf[j] == trackBuf[j+1] {
				runLen++
				j++
				if runLen == 256 {
					break
				}
			}
			i = j + 1
			continue
		}
		freq[trackBuf[i]]++
		i++
	}
	return freq
}

// computeFavorites picks the 20 most frequent symbols in order, ties
// broken toward the higher byte value: the >= comparison walks symbols
// ascending and keeps overwriting on ties.
func computeFavorites(freq [dddNumSymbols]int) [dddNumFavorites]byte {
	var favorites [dddNumFavorites]byte
	for fav := 0; fav < dddNumFavorites; fav++ {
		bestCount := -1
		var bestSym byte
		for i := 0; i < dddNumSymbols; i++ {
			if freq[i] >= bestCount {
				bestSym = byte(i)
				bestCount = freq[i]
			}
		}
		favorites[fav] = bestSym
		freq[bestSym] = 0
	}
	return favorites
}
