// Package focusdrive implements the FocusDrive container DiskFS
// variant: a "Parsons Engin." signature block, a fixed 30-entry
// partition table in block 0, and recursively mounted sub-volumes.
package focusdrive

import (
	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/vu"
)

const (
	signature      = "Parsons Engin."
	entryTableOff  = 0x20
	entrySize      = 16
	maxEntries     = 30
	namesStartBlk  = 1
	nameLen        = 32
	maxDepth       = 4
)

type partitionEntry struct {
	startBlock int
	blockCount int
	name       string
}

// FocusDrive is a mounted partition container; its own "files" are the
// sub-volumes, each recursively identified and mounted.
type FocusDrive struct {
	diskfs.UnsupportedMutation
	img        *diskimg.DiskImg
	partitions []partitionEntry
	subVols    []diskfs.DiskFS
}

func New(img *diskimg.DiskImg) (diskfs.DiskFS, error) { return &FocusDrive{img: img}, nil }

func (f *FocusDrive) Name() string                      { return "focusdrive" }
func (f *FocusDrive) Capabilities() diskfs.Capabilities { return diskfs.Capabilities{} }

func hasSignature(block0 []byte) bool {
	if len(block0) < len(signature) {
		return false
	}
	return string(block0[:len(signature)]) == signature
}

type probe struct{}

func (probe) Name() string { return "focusdrive" }

func (probe) TestFS(img *diskimg.DiskImg, order diskimg.SectorOrder) (bool, int) {
	saved := img.SectorOrder
	img.SectorOrder = order
	defer func() { img.SectorOrder = saved }()

	block0, err := img.ReadBlock(0)
	if err != nil || !hasSignature(block0) {
		return false, 0
	}
	count := int(block0[len(signature)])
	if count <= 0 || count > maxEntries {
		return false, 0
	}
	return true, 55
}

func init() {
	diskimg.RegisterFormatProbe(probe{})
	diskfs.Register("focusdrive", New)
}

func (f *FocusDrive) Initialize(depth diskfs.InitDepth, scan diskfs.ScanSubVolumes) error {
	block0, err := f.img.ReadBlock(0)
	if err != nil {
		return err
	}
	if !hasSignature(block0) {
		return errors.BadDiskImagef("focusdrive: missing %q signature", signature)
	}
	count := int(block0[len(signature)])
	if count <= 0 || count > maxEntries {
		return errors.BadDiskImagef("focusdrive: implausible partition count %d", count)
	}

	names, err := f.readNameBlocks()
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		off := entryTableOff + i*entrySize
		if off+8 > len(block0) {
			break
		}
		startBlock := int(block0[off])<<24 | int(block0[off+1])<<16 | int(block0[off+2])<<8 | int(block0[off+3])
		blockCount := int(block0[off+4])<<24 | int(block0[off+5])<<16 | int(block0[off+6])<<8 | int(block0[off+7])
		name := ""
		if nameOff := 32 + i*nameLen; nameOff+nameLen <= len(names) {
			name = trimCString(names[nameOff : nameOff+nameLen])
		}
		f.partitions = append(f.partitions, partitionEntry{
			startBlock: startBlock, blockCount: blockCount, name: name,
		})
	}

	if depth == diskfs.InitHeaderOnly || scan == diskfs.ScanDisabled {
		return nil
	}
	return f.mountAll()
}

// readNameBlocks reads blocks 1-2, which hold the 32-char partition
// names starting at offset 32.
func (f *FocusDrive) readNameBlocks() ([]byte, error) {
	b1, err := f.img.ReadBlock(namesStartBlk)
	if err != nil {
		return nil, err
	}
	b2, err := f.img.ReadBlock(namesStartBlk + 1)
	if err != nil {
		return nil, err
	}
	return append(b1, b2...), nil
}

func trimCString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func (f *FocusDrive) mountAll() error {
	if f.img.Depth >= maxDepth {
		return errors.DirectoryLoopf("focusdrive: partition nesting exceeds depth %d", maxDepth)
	}
	for _, p := range f.partitions {
		raw, err := f.img.ReadBlockRange(p.startBlock, p.blockCount)
		if err != nil {
			f.subVols = append(f.subVols, diskfs.NewUnknown(p.name))
			continue
		}
		sub, err := diskimg.NewBlockImage(raw, p.blockCount, f.img.ReadOnly)
		if err != nil {
			f.subVols = append(f.subVols, diskfs.NewUnknown(p.name))
			continue
		}
		sub.Depth = f.img.Depth + 1
		fs, err := diskfs.Open(sub, []diskimg.SectorOrder{diskimg.SectorOrderProDOS})
		if err != nil {
			f.subVols = append(f.subVols, diskfs.NewUnknown(p.name))
			continue
		}
		if err := fs.Initialize(diskfs.InitFull, diskfs.ScanEnabled); err != nil {
			f.subVols = append(f.subVols, diskfs.NewUnknown(p.name))
			continue
		}
		f.subVols = append(f.subVols, fs)
	}
	return nil
}

func (f *FocusDrive) VolumeName() string           { return "" }
func (f *FocusDrive) VolumeUsage() *vu.VolumeUsage { return nil }

func (f *FocusDrive) ListFiles(subdir string) ([]a2file.A2File, error) {
	return nil, errors.InvalidArgf("focusdrive: is a container, use SubVolumes")
}

func (f *FocusDrive) OpenFile(name string) (a2file.A2File, error) {
	return nil, errors.ForkNotFoundf("focusdrive: is a container, has no files of its own")
}

func (f *FocusDrive) SubVolumes() []diskfs.DiskFS { return f.subVols }
