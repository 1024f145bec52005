// Package diskimg implements the L2 layer: physical-format and
// sector-order identification, the track/sector and block addressing
// model, and the staged AnalyzeImage probe that binds a DiskImg to a
// DiskFS variant. Filesystem probes register themselves here, so this
// package never imports a variant package directly.
package diskimg

import (
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/fadden/ciderdisk/errors"
)

// SectorOrder names one of the five fixed 16-entry sector permutations.
type SectorOrder int

const (
	SectorOrderUnknown SectorOrder = iota
	SectorOrderDOS
	SectorOrderProDOS
	SectorOrderCPM
	SectorOrderPhysical
)

func (o SectorOrder) String() string {
	switch o {
	case SectorOrderDOS:
		return "dos"
	case SectorOrderProDOS:
		return "prodos"
	case SectorOrderCPM:
		return "cpm"
	case SectorOrderPhysical:
		return "physical"
	default:
		return "unknown"
	}
}

// sectorOrderTables holds, for each order, the logical-to-physical
// sector permutation within a track. Physical and Unknown are identity
// (passthrough) by definition. CPM is a reconstructed self-inverse
// permutation, not a verified copy of the Apple II CP/M skew table;
// see DESIGN.md.
var sectorOrderTables = map[SectorOrder][16]byte{
	SectorOrderDOS: {
		0x00, 0x0D, 0x0B, 0x09, 0x07, 0x05, 0x03, 0x01,
		0x0E, 0x0C, 0x0A, 0x08, 0x06, 0x04, 0x02, 0x0F,
	},
	SectorOrderProDOS: {
		0x00, 0x02, 0x04, 0x06, 0x08, 0x0A, 0x0C, 0x0E,
		0x01, 0x03, 0x05, 0x07, 0x09, 0x0B, 0x0D, 0x0F,
	},
	SectorOrderCPM: {
		0x00, 0x0E, 0x0D, 0x0C, 0x0B, 0x0A, 0x09, 0x08,
		0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01, 0x0F,
	},
	SectorOrderPhysical: {
		0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
	},
	SectorOrderUnknown: {
		0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
	},
}

// ProbeOrder lists the orders to try, in priority, for generic sector-order
// auto-detection. AnalyzeImage tries every registered probe under each
// of these orders; only the sub-volumes that the container formats mount
// are probed under ProDOS order alone.
var ProbeOrder = []SectorOrder{SectorOrderDOS, SectorOrderProDOS, SectorOrderCPM, SectorOrderPhysical}

// permute maps a logical sector to its physical counterpart under order.
func permute(order SectorOrder, logicalSector int) (int, error) {
	t, ok := sectorOrderTables[order]
	if !ok {
		return 0, errors.InvalidArgf("diskimg: unknown sector order %v", order)
	}
	if logicalSector < 0 || logicalSector >= len(t) {
		return 0, errors.InvalidSectorf("diskimg: logical sector %d out of range", logicalSector)
	}
	return int(t[logicalSector]), nil
}

// unpermute is permute's inverse: given a physical sector, finds the
// logical sector under order.
func unpermute(order SectorOrder, physicalSector int) (int, error) {
	t, ok := sectorOrderTables[order]
	if !ok {
		return 0, errors.InvalidArgf("diskimg: unknown sector order %v", order)
	}
	for logical, physical := range t {
		if int(physical) == physicalSector {
			return logical, nil
		}
	}
	return 0, errors.InvalidSectorf("diskimg: physical sector %d out of range", physicalSector)
}

// Reorder rewrites a raw sectored image from one physical sector order
// to another, preserving each track's logical sector contents. Any two
// orders in sectorOrderTables may be paired.
func Reorder(data []byte, numTracks, sectorsPerTrack int, from, to SectorOrder) ([]byte, error) {
	if len(data) != numTracks*sectorsPerTrack*256 {
		return nil, errors.BadDiskImagef("diskimg: expected %d bytes for %dx%d sectored image, got %d",
			numTracks*sectorsPerTrack*256, numTracks, sectorsPerTrack, len(data))
	}
	out := make([]byte, len(data))
	trackBytes := sectorsPerTrack * 256
	for track := 0; track < numTracks; track++ {
		base := track * trackBytes
		for logical := 0; logical < sectorsPerTrack; logical++ {
			fromPhys, err := permute(from, logical)
			if err != nil {
				return nil, err
			}
			toPhys, err := permute(to, logical)
			if err != nil {
				return nil, err
			}
			src := data[base+fromPhys*256 : base+fromPhys*256+256]
			dst := out[base+toPhys*256 : base+toPhys*256+256]
			copy(dst, src)
		}
	}
	return out, nil
}

// PhysicalFormat names the underlying medium layout a DiskImg was
// decoded from.
type PhysicalFormat int

const (
	PhysicalFormatUnknown PhysicalFormat = iota
	PhysicalFormatSectors
	PhysicalFormatNibble525
	PhysicalFormatBlocks
)

// SectorSource is the byte-addressable source a DiskImg reads its raw
// 256-byte sectors from: a plain slice for most images, or something
// backed by nibble decoding for .nib-format images.
type SectorSource interface {
	ReadSector(track, physicalSector int) ([]byte, error)
	WriteSector(track, physicalSector int, data []byte) error
	NumTracks() int
	SectorsPerTrack() int
}

// sliceSectorSource is a SectorSource over a contiguous in-memory image
// laid out in raw physical-sector order (track-major, sector-minor).
type sliceSectorSource struct {
	data            []byte
	numTracks       int
	sectorsPerTrack int
}

func newSliceSectorSource(data []byte, numTracks, sectorsPerTrack int) *sliceSectorSource {
	return &sliceSectorSource{data: data, numTracks: numTracks, sectorsPerTrack: sectorsPerTrack}
}

func (s *sliceSectorSource) offset(track, sector int) (int, error) {
	if track < 0 || track >= s.numTracks || sector < 0 || sector >= s.sectorsPerTrack {
		return 0, errors.InvalidSectorf("diskimg: track/sector %d/%d out of range", track, sector)
	}
	return (track*s.sectorsPerTrack + sector) * 256, nil
}

func (s *sliceSectorSource) ReadSector(track, sector int) ([]byte, error) {
	off, err := s.offset(track, sector)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 256)
	copy(out, s.data[off:off+256])
	return out, nil
}

func (s *sliceSectorSource) WriteSector(track, sector int, data []byte) error {
	if len(data) != 256 {
		return errors.InvalidArgf("diskimg: sector write must be exactly 256 bytes, got %d", len(data))
	}
	off, err := s.offset(track, sector)
	if err != nil {
		return err
	}
	copy(s.data[off:off+256], data)
	return nil
}

func (s *sliceSectorSource) NumTracks() int       { return s.numTracks }
func (s *sliceSectorSource) SectorsPerTrack() int { return s.sectorsPerTrack }

// DiskImg identifies a disk's physical layout and the mappings needed to
// address it by track/sector or block. Exactly one of hasSectors,
// hasBlocks, hasNibbles is primary; the others may be derived views
// computed on demand.
type DiskImg struct {
	ID uuid.UUID // log-correlation id for this opened image, never persisted

	NumTracks       int
	SectorsPerTrack int
	NumBlocks       int

	PhysicalFormat PhysicalFormat
	SectorOrder    SectorOrder
	DOSVolumeNum   int
	ReadOnly       bool

	// Depth counts how many container levels (MacPart/FocusDrive
	// partitions) this image is nested beneath; containers refuse to
	// recurse past their cap so a self-referential partition map can't
	// recurse forever.
	Depth int

	source SectorSource

	hasSectors bool
	hasBlocks  bool
	hasNibbles bool
}

// NewSectored builds a DiskImg over a raw sectored image in the given
// physical order.
func NewSectored(data []byte, numTracks, sectorsPerTrack int, order SectorOrder, readOnly bool) (*DiskImg, error) {
	if len(data) != numTracks*sectorsPerTrack*256 {
		return nil, errors.BadDiskImagef("diskimg: expected %d bytes for %dx%d sectored image, got %d",
			numTracks*sectorsPerTrack*256, numTracks, sectorsPerTrack, len(data))
	}
	return &DiskImg{
		ID:              uuid.New(),
		NumTracks:       numTracks,
		SectorsPerTrack: sectorsPerTrack,
		PhysicalFormat:  PhysicalFormatSectors,
		SectorOrder:     order,
		ReadOnly:        readOnly,
		source:          newSliceSectorSource(data, numTracks, sectorsPerTrack),
		hasSectors:      true,
	}, nil
}

// RawBytes returns the underlying sectored image buffer in its physical
// layout, reflecting any writes already applied. Used by the CLI to
// persist a mutated image back to disk (re-wrapped if it came from a
// gzip/ZIP/DDD wrapper). Only sectored, slice-backed images support this.
func (di *DiskImg) RawBytes() ([]byte, error) {
	s, ok := di.source.(*sliceSectorSource)
	if !ok {
		return nil, errors.InvalidArgf("diskimg: RawBytes needs a slice-backed sectored image")
	}
	return s.data, nil
}

// ReadTrackSector reads logical sector `logicalSector` of `track`,
// translated to its physical position via di.SectorOrder.
func (di *DiskImg) ReadTrackSector(track, logicalSector int) ([]byte, error) {
	phys, err := permute(di.SectorOrder, logicalSector)
	if err != nil {
		return nil, err
	}
	return di.source.ReadSector(track, phys)
}

// WriteTrackSector is ReadTrackSector's write counterpart.
func (di *DiskImg) WriteTrackSector(track, logicalSector int, data []byte) error {
	if di.ReadOnly {
		return errors.ReadOnlyf("diskimg: image is read-only")
	}
	phys, err := permute(di.SectorOrder, logicalSector)
	if err != nil {
		return err
	}
	return di.source.WriteSector(track, phys, data)
}

// ReadTrackSectorSwapped reads a sector addressed under imageOrder and
// returns it as if the image were requestedOrder: it un-permutes the
// logical sector under imageOrder to find the physical sector, then
// re-permutes that physical sector under requestedOrder to find which
// logical slot the caller meant.
func (di *DiskImg) ReadTrackSectorSwapped(track, sect int, imageOrder, requestedOrder SectorOrder) ([]byte, error) {
	phys, err := unpermute(requestedOrder, sect)
	if err != nil {
		return nil, err
	}
	logicalUnderImage, err := unpermute(imageOrder, phys)
	if err != nil {
		return nil, err
	}
	return di.ReadTrackSector(track, logicalUnderImage)
}

// ReadBlock reads a 512-byte ProDOS block: `block = track*(sectorsPerTrack/2)
// + half`, with the block's two halves being ProDOS logical sectors
// `2*half` and `2*half+1` within the track. Deriving both halves from
// the ProDOS sector-order permutation avoids a second lookup table.
// 13-sector disks have no block mapping.
func (di *DiskImg) ReadBlock(index int) ([]byte, error) {
	if di.SectorsPerTrack != 16 {
		return nil, errors.InvalidArgf("diskimg: block mapping requires 16 sectors/track, have %d", di.SectorsPerTrack)
	}
	blocksPerTrack := di.SectorsPerTrack / 2
	track := index / blocksPerTrack
	half := index % blocksPerTrack
	if track >= di.NumTracks {
		return nil, errors.InvalidSectorf("diskimg: block %d out of range", index)
	}

	b0, err := di.readPhysicalAsProDOS(track, half*2)
	if err != nil {
		return nil, err
	}
	b1, err := di.readPhysicalAsProDOS(track, half*2+1)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 512)
	copy(out[:256], b0)
	copy(out[256:], b1)
	return out, nil
}

// WriteBlock is ReadBlock's write counterpart.
func (di *DiskImg) WriteBlock(index int, data []byte) error {
	if di.ReadOnly {
		return errors.ReadOnlyf("diskimg: image is read-only")
	}
	if len(data) != 512 {
		return errors.InvalidArgf("diskimg: block write must be exactly 512 bytes, got %d", len(data))
	}
	if di.SectorsPerTrack != 16 {
		return errors.InvalidArgf("diskimg: block mapping requires 16 sectors/track, have %d", di.SectorsPerTrack)
	}
	blocksPerTrack := di.SectorsPerTrack / 2
	track := index / blocksPerTrack
	half := index % blocksPerTrack
	if track >= di.NumTracks {
		return errors.InvalidSectorf("diskimg: block %d out of range", index)
	}

	phys0, err := permute(SectorOrderProDOS, half*2)
	if err != nil {
		return err
	}
	logical0, err := unpermute(di.SectorOrder, phys0)
	if err != nil {
		return err
	}
	phys1, err := permute(SectorOrderProDOS, half*2+1)
	if err != nil {
		return err
	}
	logical1, err := unpermute(di.SectorOrder, phys1)
	if err != nil {
		return err
	}
	if err := di.source.WriteSector(track, logical0, data[:256]); err != nil {
		return err
	}
	return di.source.WriteSector(track, logical1, data[256:])
}

// readPhysicalAsProDOS reads the sector that holds ProDOS logical sector
// `prodosSector` on this image's own sector order.
func (di *DiskImg) readPhysicalAsProDOS(track, prodosSector int) ([]byte, error) {
	phys, err := permute(SectorOrderProDOS, prodosSector)
	if err != nil {
		return nil, err
	}
	logicalUnderImage, err := unpermute(di.SectorOrder, phys)
	if err != nil {
		return nil, err
	}
	return di.source.ReadSector(track, logicalUnderImage)
}

// ReadBlockRange reads count consecutive 512-byte blocks starting at
// start, concatenated, used to hand a container format (MacPart,
// FocusDrive) a contiguous byte range to wrap as a sub-image.
func (di *DiskImg) ReadBlockRange(start, count int) ([]byte, error) {
	out := make([]byte, 0, count*512)
	for i := 0; i < count; i++ {
		blk, err := di.ReadBlock(start + i)
		if err != nil {
			return nil, err
		}
		out = append(out, blk...)
	}
	return out, nil
}

// NewBlockImage builds a DiskImg over a raw block-addressable image
// (already extracted from a parent image's block range by the caller,
// e.g. one MacPart or FocusDrive partition). It assumes the standard
// 16-sector-per-track, ProDOS-order geometry every sub-image in
// practice uses.
func NewBlockImage(data []byte, numBlocks int, readOnly bool) (*DiskImg, error) {
	if len(data) != numBlocks*512 {
		return nil, errors.BadDiskImagef("diskimg: expected %d bytes for %d blocks, got %d", numBlocks*512, numBlocks, len(data))
	}
	const sectorsPerTrack = 16
	blocksPerTrack := sectorsPerTrack / 2
	numTracks := (numBlocks + blocksPerTrack - 1) / blocksPerTrack
	padded := data
	if want := numTracks * blocksPerTrack * 512; want != len(data) {
		padded = make([]byte, want)
		copy(padded, data)
	}
	return &DiskImg{
		ID:              uuid.New(),
		NumTracks:       numTracks,
		SectorsPerTrack: sectorsPerTrack,
		NumBlocks:       numBlocks,
		PhysicalFormat:  PhysicalFormatBlocks,
		SectorOrder:     SectorOrderProDOS,
		ReadOnly:        readOnly,
		source:          newSliceSectorSource(padded, numTracks, sectorsPerTrack),
		hasBlocks:       true,
	}, nil
}

// FormatProbe is implemented by each DiskFS variant package and
// registered via RegisterFormatProbe, so diskimg never imports a
// filesystem-variant package directly.
type FormatProbe interface {
	// Name identifies the filesystem this probe tests for.
	Name() string
	// TestFS reports whether di, addressed under order, looks like this
	// filesystem, with what confidence.
	TestFS(di *DiskImg, order SectorOrder) (ok bool, confidence int)
}

var formatProbes []FormatProbe

// RegisterFormatProbe registers a DiskFS variant's probe. Expected to be
// called only from variant package init functions.
func RegisterFormatProbe(p FormatProbe) {
	formatProbes = append(formatProbes, p)
}

// AnalyzeResult is the outcome of AnalyzeImage: the winning filesystem
// probe, the sector order under which it matched, and its confidence.
type AnalyzeResult struct {
	Probe       FormatProbe
	SectorOrder SectorOrder
	Confidence  int
}

// AnalyzeImage runs the staged identification probe: for each
// candidate sector order, ask every registered FormatProbe whether
// it matches, and keep the highest-confidence match. Every unsuccessful
// candidate's failure is folded into a go-multierror.Error so a caller
// that wants to know why nothing matched gets the full list, not just
// the first failure.
func (di *DiskImg) AnalyzeImage(orders []SectorOrder) (AnalyzeResult, error) {
	if orders == nil {
		orders = ProbeOrder
	}
	if len(formatProbes) == 0 {
		return AnalyzeResult{}, errors.FilesystemNotFoundf("diskimg: no filesystem probes registered")
	}

	var best AnalyzeResult
	var errs *multierror.Error
	for _, order := range orders {
		for _, probe := range formatProbes {
			ok, confidence := probe.TestFS(di, order)
			if !ok {
				errs = multierror.Append(errs, errors.FilesystemNotFoundf(
					"diskimg: %s did not match under %v order", probe.Name(), order))
				continue
			}
			if best.Probe == nil || confidence > best.Confidence {
				best = AnalyzeResult{Probe: probe, SectorOrder: order, Confidence: confidence}
			}
		}
	}
	if best.Probe == nil {
		return AnalyzeResult{}, errors.FilesystemNotFoundf("diskimg: no filesystem matched (id=%s): %v", di.ID, errs.ErrorOrNil())
	}
	di.SectorOrder = best.SectorOrder
	return best, nil
}
