// Package macpart implements the MacPart container DiskFS variant: a
// Macintosh-style driver descriptor record plus partition map, with
// each partition recursively mounted as its own sub-volume. All
// partition-map fields are big-endian.
package macpart

import (
	"encoding/binary"

	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/vu"
)

const (
	ddrSignature = 0x4552 // "ER"
	pmSignature  = 0x504D // "PM"
	maxDepth     = 4
)

type partitionEntry struct {
	startBlock int
	blockCount int
	name       string
	partType   string
}

// MacPart is a mounted partition-map container; its own "files" are
// the sub-volumes, each recursively identified and mounted.
type MacPart struct {
	diskfs.UnsupportedMutation
	img        *diskimg.DiskImg
	partitions []partitionEntry
	subVols    []diskfs.DiskFS
}

func New(img *diskimg.DiskImg) (diskfs.DiskFS, error) { return &MacPart{img: img}, nil }

func (m *MacPart) Name() string                      { return "macpart" }
func (m *MacPart) Capabilities() diskfs.Capabilities { return diskfs.Capabilities{} }

type probe struct{}

func (probe) Name() string { return "macpart" }

func (probe) TestFS(img *diskimg.DiskImg, order diskimg.SectorOrder) (bool, int) {
	saved := img.SectorOrder
	img.SectorOrder = order
	defer func() { img.SectorOrder = saved }()

	block0, err := img.ReadBlock(0)
	if err != nil || len(block0) < 2 {
		return false, 0
	}
	if binary.BigEndian.Uint16(block0) != ddrSignature {
		return false, 0
	}
	block1, err := img.ReadBlock(1)
	if err != nil || len(block1) < 2 {
		return false, 0
	}
	if binary.BigEndian.Uint16(block1) != pmSignature {
		return false, 0
	}
	return true, 60
}

func init() {
	diskimg.RegisterFormatProbe(probe{})
	diskfs.Register("macpart", New)
}

// Initialize reads the partition map starting at block 1 and mounts
// each partition as its own sub-DiskFS, recursing up to maxDepth.
func (m *MacPart) Initialize(depth diskfs.InitDepth, scan diskfs.ScanSubVolumes) error {
	block1, err := m.img.ReadBlock(1)
	if err != nil {
		return err
	}
	if binary.BigEndian.Uint16(block1) != pmSignature {
		return errors.BadDiskImagef("macpart: block 1 missing PM signature")
	}
	mapBlkCnt := int(binary.BigEndian.Uint32(block1[4:8]))
	if mapBlkCnt <= 0 || mapBlkCnt > 64 {
		return errors.BadDiskImagef("macpart: implausible partition map block count %d", mapBlkCnt)
	}

	for i := 0; i < mapBlkCnt; i++ {
		blk, err := m.img.ReadBlock(1 + i)
		if err != nil {
			return err
		}
		if binary.BigEndian.Uint16(blk) != pmSignature {
			break
		}
		startBlock := int(binary.BigEndian.Uint32(blk[8:12]))
		blockCount := int(binary.BigEndian.Uint32(blk[12:16]))
		name := trimCString(blk[16:48])
		partType := trimCString(blk[48:80])
		m.partitions = append(m.partitions, partitionEntry{
			startBlock: startBlock, blockCount: blockCount, name: name, partType: partType,
		})
	}

	if depth == diskfs.InitHeaderOnly || scan == diskfs.ScanDisabled {
		return nil
	}
	return m.mountAll()
}

func (m *MacPart) mountAll() error {
	if m.img.Depth >= maxDepth {
		return errors.DirectoryLoopf("macpart: partition nesting exceeds depth %d", maxDepth)
	}
	for _, p := range m.partitions {
		raw, err := m.img.ReadBlockRange(p.startBlock, p.blockCount)
		if err != nil {
			m.subVols = append(m.subVols, diskfs.NewUnknown(p.name))
			continue
		}
		sub, err := diskimg.NewBlockImage(raw, p.blockCount, m.img.ReadOnly)
		if err != nil {
			m.subVols = append(m.subVols, diskfs.NewUnknown(p.name))
			continue
		}
		sub.Depth = m.img.Depth + 1
		fs, err := diskfs.Open(sub, []diskimg.SectorOrder{diskimg.SectorOrderProDOS})
		if err != nil {
			// identification failed: still expose an Unknown placeholder
			// so the partition remains visible.
			m.subVols = append(m.subVols, diskfs.NewUnknown(p.name))
			continue
		}
		if err := fs.Initialize(diskfs.InitFull, diskfs.ScanEnabled); err != nil {
			m.subVols = append(m.subVols, diskfs.NewUnknown(p.name))
			continue
		}
		m.subVols = append(m.subVols, fs)
	}
	return nil
}

func trimCString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func (m *MacPart) VolumeName() string           { return "" }
func (m *MacPart) VolumeUsage() *vu.VolumeUsage { return nil }

func (m *MacPart) ListFiles(subdir string) ([]a2file.A2File, error) {
	return nil, errors.InvalidArgf("macpart: is a container, use SubVolumes")
}

func (m *MacPart) OpenFile(name string) (a2file.A2File, error) {
	return nil, errors.ForkNotFoundf("macpart: is a container, has no files of its own")
}

func (m *MacPart) SubVolumes() []diskfs.DiskFS { return m.subVols }
