// Nibble-image support: a SectorSource backed by raw GCR tracks
// instead of a flat sectored buffer. Sector writes encode directly
// into the image's track bytes; there is no separate track buffer to
// flush.
package diskimg

import (
	"github.com/google/uuid"

	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/nibble"
)

// nibbleTrackLen is the on-disk length of one 16-sector 6&2 nibble
// track as written by standard Apple II disk-copy programs; .nib
// images pad every track to this fixed length regardless of the
// actual encoded length.
const nibbleTrackLen = 6656

// NibbleImageSize is the total byte length of a standard 35-track,
// 16-sector-per-track .nib image.
const NibbleImageSize = 35 * nibbleTrackLen

// nibbleSectorSource is a SectorSource over raw nibble tracks. Unlike
// sliceSectorSource, ReadSector/WriteSector do not address raw bytes
// directly; every access runs FindSectorStart + Decode/Encode against
// the dialect descriptor bound at construction, re-scanning the track
// each time. cachedTrack and dirty only record the last track touched
// and whether it was written since; no decoded data is cached.
type nibbleSectorSource struct {
	tracks    [][]byte // one nibbleTrackLen slice per track, raw GCR bytes
	descr     *nibble.Descr
	numTracks int

	cachedTrack int
	dirty       bool
}

func newNibbleSectorSource(data []byte, numTracks int, descr *nibble.Descr) *nibbleSectorSource {
	tracks := make([][]byte, numTracks)
	for t := 0; t < numTracks; t++ {
		tracks[t] = data[t*nibbleTrackLen : (t+1)*nibbleTrackLen]
	}
	return &nibbleSectorSource{tracks: tracks, descr: descr, numTracks: numTracks, cachedTrack: -1}
}

func (n *nibbleSectorSource) touch(track int) {
	if n.cachedTrack != track {
		n.cachedTrack = track
		n.dirty = false
	}
}

func (n *nibbleSectorSource) ReadSector(track, sector int) ([]byte, error) {
	if track < 0 || track >= n.numTracks || sector < 0 || sector >= n.descr.NumSectors {
		return nil, errors.InvalidSectorf("diskimg: nibble track/sector %d/%d out of range", track, sector)
	}
	n.touch(track)
	start, _, ok := nibble.FindSectorStart(n.tracks[track], track, sector, n.descr)
	if !ok {
		return nil, errors.InvalidSectorf("diskimg: nibble track %d has no address field for sector %d", track, sector)
	}
	return nibble.Decode(n.tracks[track], start, n.descr)
}

func (n *nibbleSectorSource) WriteSector(track, sector int, data []byte) error {
	if len(data) != 256 {
		return errors.InvalidArgf("diskimg: sector write must be exactly 256 bytes, got %d", len(data))
	}
	if track < 0 || track >= n.numTracks || sector < 0 || sector >= n.descr.NumSectors {
		return errors.InvalidSectorf("diskimg: nibble track/sector %d/%d out of range", track, sector)
	}
	n.touch(track)
	start, _, ok := nibble.FindSectorStart(n.tracks[track], track, sector, n.descr)
	if !ok {
		return errors.InvalidSectorf("diskimg: nibble track %d has no address field for sector %d", track, sector)
	}
	nibble.Encode(n.tracks[track], start, data, n.descr)
	n.dirty = true
	return nil
}

func (n *nibbleSectorSource) NumTracks() int       { return n.numTracks }
func (n *nibbleSectorSource) SectorsPerTrack() int { return n.descr.NumSectors }

// NewNibble builds a DiskImg over a raw .nib-style nibble image: fixed
// nibbleTrackLen tracks of GCR data, one NibbleDescr dialect shared by
// every track. Callers that don't already know the dialect should run
// AnalyzeNibbleDialect first.
func NewNibble(data []byte, numTracks int, descr *nibble.Descr, readOnly bool) (*DiskImg, error) {
	if len(data) != numTracks*nibbleTrackLen {
		return nil, errors.BadDiskImagef("diskimg: expected %d bytes for a %d-track nibble image, got %d",
			numTracks*nibbleTrackLen, numTracks, len(data))
	}
	return &DiskImg{
		ID:              uuid.New(),
		NumTracks:       numTracks,
		SectorsPerTrack: descr.NumSectors,
		PhysicalFormat:  PhysicalFormatNibble525,
		SectorOrder:     SectorOrderPhysical,
		DOSVolumeNum:    0,
		ReadOnly:        readOnly,
		source:          newNibbleSectorSource(data, numTracks, descr),
		hasNibbles:      true,
	}, nil
}

// AnalyzeNibbleDialect splits a raw .nib image into per-track slices and
// runs nibble.AnalyzeNibbleData against the standard dialect table,
// returning the winning descriptor and the volume number read from
// track 17's address field. Candidates defaults to
// nibble.StandardDialects.
func AnalyzeNibbleDialect(data []byte, numTracks int, candidates []nibble.Descr) (nibble.AnalyzeResult, error) {
	if len(data) != numTracks*nibbleTrackLen {
		return nibble.AnalyzeResult{}, errors.BadDiskImagef("diskimg: expected %d bytes for a %d-track nibble image, got %d",
			numTracks*nibbleTrackLen, numTracks, len(data))
	}
	tracks := make([][]byte, numTracks)
	for t := 0; t < numTracks; t++ {
		tracks[t] = data[t*nibbleTrackLen : (t+1)*nibbleTrackLen]
	}
	return nibble.AnalyzeNibbleData(tracks, candidates)
}
