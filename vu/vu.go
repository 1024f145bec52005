// Package vu implements the VolumeUsage layer: a per-chunk
// allocation/conflict map indexed by track×sector or by block. Each
// chunk carries an (isUsed, isMarkedUsed, purpose) triple, so a
// filesystem's own free bitmap and our catalog walk can disagree
// without losing either side's claim.
package vu

import (
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/internal/logsink"
)

// Purpose names why a chunk is used.
type Purpose int

const (
	PurposeUnknown Purpose = iota
	PurposeSystem
	PurposeVolumeDir
	PurposeFileStruct
	PurposeUserData
	PurposeSubdir
	PurposeEmbedded
	PurposeConflict
)

func (p Purpose) String() string {
	switch p {
	case PurposeSystem:
		return "system"
	case PurposeVolumeDir:
		return "volume-dir"
	case PurposeFileStruct:
		return "file-struct"
	case PurposeUserData:
		return "user-data"
	case PurposeSubdir:
		return "subdir"
	case PurposeEmbedded:
		return "embedded"
	case PurposeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// chunkState is one chunk's usage record.
type chunkState struct {
	isUsed       bool // per the filesystem's own free-space bitmap
	isMarkedUsed bool // per our own scan while walking the catalog
	purpose      Purpose
}

// VolumeUsage tracks, for every addressable chunk (track/sector pair or
// block number) on a volume, whether it's used and for what. Two owners
// claiming the same chunk flips its purpose to PurposeConflict, which is
// permanent: once set it's never overwritten by a later claim.
type VolumeUsage struct {
	chunks      []chunkState
	numPerTrack int // 0 for a block-addressed volume
}

// Create builds a VolumeUsage for a sector-addressed volume with
// numTracks tracks of sectorsPerTrack sectors each.
func Create(numTracks, sectorsPerTrack int) *VolumeUsage {
	return &VolumeUsage{
		chunks:      make([]chunkState, numTracks*sectorsPerTrack),
		numPerTrack: sectorsPerTrack,
	}
}

// CreateBlocks builds a VolumeUsage for a block-addressed volume.
func CreateBlocks(numBlocks int) *VolumeUsage {
	return &VolumeUsage{chunks: make([]chunkState, numBlocks)}
}

func (vu *VolumeUsage) index(track, sector int) (int, error) {
	if vu.numPerTrack == 0 {
		return 0, errors.InvalidArgf("vu: volume is block-addressed, not track/sector")
	}
	idx := track*vu.numPerTrack + sector
	if idx < 0 || idx >= len(vu.chunks) {
		return 0, errors.InvalidSectorf("vu: track/sector %d/%d out of range", track, sector)
	}
	return idx, nil
}

// SetUsed marks a track/sector chunk as used by the filesystem's own
// free-space bitmap (as opposed to our own catalog-walk observation).
func (vu *VolumeUsage) SetUsed(track, sector int, used bool) error {
	idx, err := vu.index(track, sector)
	if err != nil {
		return err
	}
	vu.chunks[idx].isUsed = used
	return nil
}

// SetBlockUsed is SetUsed's block-addressed counterpart.
func (vu *VolumeUsage) SetBlockUsed(block int, used bool) error {
	if block < 0 || block >= len(vu.chunks) {
		return errors.InvalidSectorf("vu: block %d out of range", block)
	}
	vu.chunks[block].isUsed = used
	return nil
}

// MarkUsed records that our own catalog walk claims a chunk for purpose
// p. A second, different claim on an already-claimed chunk sets purpose
// to PurposeConflict rather than overwriting it, and once a chunk is
// PurposeConflict it stays that way.
func (vu *VolumeUsage) markUsed(idx int, purpose Purpose) {
	c := &vu.chunks[idx]
	if c.isMarkedUsed && c.purpose != PurposeConflict && c.purpose != purpose {
		logsink.Warn("vu: chunk %d claimed as both %v and %v, marking conflict", idx, c.purpose, purpose)
		c.purpose = PurposeConflict
		return
	}
	if c.purpose == PurposeConflict {
		return
	}
	c.isMarkedUsed = true
	c.purpose = purpose
}

// MarkUsed is markUsed's track/sector-addressed public form.
func (vu *VolumeUsage) MarkUsed(track, sector int, purpose Purpose) error {
	idx, err := vu.index(track, sector)
	if err != nil {
		return err
	}
	vu.markUsed(idx, purpose)
	return nil
}

// MarkBlockUsed is MarkUsed's block-addressed counterpart.
func (vu *VolumeUsage) MarkBlockUsed(block int, purpose Purpose) error {
	if block < 0 || block >= len(vu.chunks) {
		return errors.InvalidSectorf("vu: block %d out of range", block)
	}
	vu.markUsed(block, purpose)
	return nil
}

// ChunkState reports a track/sector chunk's (isUsed, isMarkedUsed,
// purpose) triple.
func (vu *VolumeUsage) ChunkState(track, sector int) (isUsed, isMarkedUsed bool, purpose Purpose, err error) {
	idx, err := vu.index(track, sector)
	if err != nil {
		return false, false, PurposeUnknown, err
	}
	c := vu.chunks[idx]
	return c.isUsed, c.isMarkedUsed, c.purpose, nil
}

// GetActualFreeChunks returns the number of chunks that are neither used
// per the filesystem's own bitmap nor claimed by our catalog walk: the
// space a filesystem-repair tool could safely reclaim.
func (vu *VolumeUsage) GetActualFreeChunks() int {
	free := 0
	for _, c := range vu.chunks {
		if !c.isUsed && !c.isMarkedUsed {
			free++
		}
	}
	return free
}

// letter is the purpose's one-character tag in Dump output.
func (p Purpose) letter() byte {
	switch p {
	case PurposeSystem:
		return 'S'
	case PurposeVolumeDir:
		return 'V'
	case PurposeFileStruct:
		return 'I'
	case PurposeUserData:
		return 'F'
	case PurposeSubdir:
		return 'D'
	case PurposeEmbedded:
		return 'E'
	default:
		return '?'
	}
}

// chunkGlyph is the single character Dump emits for each chunk's state:
// '.' free, 'X' marked but unused, '!' used but not marked, '#' conflict,
// otherwise the purpose letter.
func chunkGlyph(c chunkState) byte {
	switch {
	case c.purpose == PurposeConflict:
		return '#'
	case c.isUsed && !c.isMarkedUsed:
		return '!' // filesystem thinks it's used, we found no owner
	case !c.isUsed && c.isMarkedUsed:
		return 'X' // we found an owner the filesystem's bitmap missed
	case c.isUsed && c.isMarkedUsed:
		return c.purpose.letter()
	default:
		return '.'
	}
}

// Conflicts counts chunks claimed by more than one owner.
func (vu *VolumeUsage) Conflicts() int {
	n := 0
	for _, c := range vu.chunks {
		if c.purpose == PurposeConflict {
			n++
		}
	}
	return n
}

// Unowned counts chunks the filesystem's bitmap says are used but no
// catalog walk claimed, the "used but not marked" state CheckDiskIsGood
// treats as a structural warning.
func (vu *VolumeUsage) Unowned() int {
	n := 0
	for _, c := range vu.chunks {
		if c.isUsed && !c.isMarkedUsed {
			n++
		}
	}
	return n
}

// Dump renders the usage map as a compact character grid, one row per
// track (or, for a block-addressed volume, one row per 16 blocks).
func (vu *VolumeUsage) Dump() string {
	perRow := vu.numPerTrack
	if perRow == 0 {
		perRow = 16
	}
	var out []byte
	for i, c := range vu.chunks {
		if i > 0 && i%perRow == 0 {
			out = append(out, '\n')
		}
		out = append(out, chunkGlyph(c))
	}
	return string(out)
}
