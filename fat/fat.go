// Package fat implements identification-only support for FAT volumes:
// it recognizes an MBR or BIOS Parameter Block and exposes a single
// descriptive pseudo-file, never parsing the FAT filesystem itself.
package fat

import (
	"fmt"

	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/vu"
)

const (
	bootSigOffset = 0x1FE
	bootSigLo     = 0x55
	bootSigHi     = 0xAA
	mbrPartOffset = 0x1BE
)

type Kind int

const (
	KindUnknown Kind = iota
	KindMBR
	KindBPB
)

func (k Kind) String() string {
	switch k {
	case KindMBR:
		return "mbr"
	case KindBPB:
		return "bpb"
	default:
		return "unknown"
	}
}

// FAT is a recognized-but-unparsed FAT volume: it exposes exactly one
// descriptive pseudo-file and supports no mutation.
type FAT struct {
	diskfs.UnsupportedMutation
	img  *diskimg.DiskImg
	kind Kind
}

func New(img *diskimg.DiskImg) (diskfs.DiskFS, error) { return &FAT{img: img}, nil }

func (f *FAT) Name() string                      { return "fat" }
func (f *FAT) Capabilities() diskfs.Capabilities { return diskfs.Capabilities{} }

func classify(block0 []byte) Kind {
	if len(block0) < 512 {
		return KindUnknown
	}
	if block0[bootSigOffset] != bootSigLo || block0[bootSigOffset+1] != bootSigHi {
		return KindUnknown
	}
	switch block0[0] {
	case 0xEB, 0xFA, 0x33:
		// distinguish MBR (partition table with an active-drive marker
		// of 0x00 or 0x80 in each of the four 16-byte entries) from a
		// plain BPB boot sector.
		mbrLike := true
		for i := 0; i < 4; i++ {
			active := block0[mbrPartOffset+i*16]
			if active != 0x00 && active != 0x80 {
				mbrLike = false
				break
			}
		}
		if mbrLike && block0[0] != 0xEB {
			return KindMBR
		}
		return KindBPB
	default:
		return KindUnknown
	}
}

type probe struct{}

func (probe) Name() string { return "fat" }

func (probe) TestFS(img *diskimg.DiskImg, order diskimg.SectorOrder) (bool, int) {
	saved := img.SectorOrder
	img.SectorOrder = order
	defer func() { img.SectorOrder = saved }()

	block0, err := img.ReadBlock(0)
	if err != nil {
		return false, 0
	}
	if classify(block0) == KindUnknown {
		return false, 0
	}
	return true, 20 // low confidence: deliberately loses to any real filesystem match
}

func init() {
	diskimg.RegisterFormatProbe(probe{})
	diskfs.Register("fat", New)
}

func (f *FAT) Initialize(depth diskfs.InitDepth, scan diskfs.ScanSubVolumes) error {
	block0, err := f.img.ReadBlock(0)
	if err != nil {
		return err
	}
	f.kind = classify(block0)
	return nil
}

func (f *FAT) VolumeName() string           { return fmt.Sprintf("FAT (%s, unsupported)", f.kind) }
func (f *FAT) VolumeUsage() *vu.VolumeUsage { return nil }

func (f *FAT) ListFiles(subdir string) ([]a2file.A2File, error) {
	if subdir != "" {
		return nil, errors.InvalidArgf("fat: no subdirectories")
	}
	return []a2file.A2File{&fatPseudoFile{f: f}}, nil
}

func (f *FAT) OpenFile(name string) (a2file.A2File, error) {
	if name != fatPseudoName {
		return nil, errors.ForkNotFoundf("fat: file %q not found", name)
	}
	return &fatPseudoFile{f: f}, nil
}

const fatPseudoName = "(unsupported FAT volume)"

// fatPseudoFile is the single placeholder entry a FAT volume exposes:
// content is never parsed, only identified.
type fatPseudoFile struct{ f *FAT }

func (p *fatPseudoFile) Name() string           { return fatPseudoName }
func (p *fatPseudoFile) FileType() int          { return 0 }
func (p *fatPseudoFile) AuxType() int           { return 0 }
func (p *fatPseudoFile) Length() int            { return 0 }
func (p *fatPseudoFile) Access() a2file.Access   { return 0 }
func (p *fatPseudoFile) Quality() a2file.Quality { return a2file.QualitySuspicious }
func (p *fatPseudoFile) Open() (a2file.A2FileDescr, error) {
	return nil, errors.AccessDeniedf("fat: content is not accessible, identification only")
}
