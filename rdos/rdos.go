// Package rdos implements the read-only RDOS (2.x/3.2/3.3/"3") DiskFS
// variant: a flat catalog at track 1 naming contiguous-sector files.
package rdos

import (
	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/vu"
)

const (
	catTrack    = 1
	catSectors  = 11
	entrySize   = 32
	nameLen     = 24
	sectorSize  = 256
)

// Variant distinguishes the three RDOS flavors. Initialize picks one by
// sector count alone (13 sectors: VariantRDOS32, otherwise VariantRDOS33);
// no catalog magic is checked and VariantRDOS3 is never selected.
type Variant int

const (
	VariantRDOS33 Variant = iota
	VariantRDOS32
	VariantRDOS3
)

func (v Variant) String() string {
	switch v {
	case VariantRDOS32:
		return "rdos32"
	case VariantRDOS3:
		return "rdos3"
	default:
		return "rdos33"
	}
}

type rdosFile struct {
	name        string
	fileType    byte
	sectorCount int
	loadAddr    int
	length      int
	startSector int
}

// RDOS is a mounted, read-only RDOS volume.
type RDOS struct {
	diskfs.UnsupportedMutation
	img     *diskimg.DiskImg
	variant Variant
	files   []*rdosFile
	usage   *vu.VolumeUsage
}

func New(img *diskimg.DiskImg) (diskfs.DiskFS, error) { return &RDOS{img: img}, nil }

func (r *RDOS) Name() string                      { return "rdos" }
func (r *RDOS) Capabilities() diskfs.Capabilities { return diskfs.Capabilities{} }

func readCatalog(img *diskimg.DiskImg) ([]byte, error) {
	out := make([]byte, 0, catSectors*sectorSize)
	for s := 0; s < catSectors; s++ {
		sect, err := img.ReadTrackSector(catTrack, s)
		if err != nil {
			return nil, err
		}
		out = append(out, sect...)
	}
	return out, nil
}

type probe struct{}

func (probe) Name() string { return "rdos" }

func (probe) TestFS(img *diskimg.DiskImg, order diskimg.SectorOrder) (bool, int) {
	saved := img.SectorOrder
	img.SectorOrder = order
	defer func() { img.SectorOrder = saved }()

	cat, err := readCatalog(img)
	if err != nil {
		return false, 0
	}
	valid, total := 0, 0
	for off := 0; off+entrySize <= len(cat); off += entrySize {
		if cat[off] == 0x00 {
			continue
		}
		total++
		startSector := int(cat[off+30]) | int(cat[off+31])<<8
		if startSector < img.NumTracks*img.SectorsPerTrack {
			valid++
		}
	}
	if total == 0 || valid != total {
		return false, 0
	}
	return true, 35
}

func init() {
	diskimg.RegisterFormatProbe(probe{})
	diskfs.Register("rdos", New)
}

func (r *RDOS) Initialize(depth diskfs.InitDepth, scan diskfs.ScanSubVolumes) error {
	if r.img.SectorsPerTrack == 13 {
		r.variant = VariantRDOS32
	} else {
		r.variant = VariantRDOS33
	}

	r.usage = vu.Create(r.img.NumTracks, r.img.SectorsPerTrack)
	for s := 0; s < catSectors; s++ {
		r.usage.MarkUsed(catTrack, s, vu.PurposeVolumeDir)
	}
	if depth == diskfs.InitHeaderOnly {
		return nil
	}

	cat, err := readCatalog(r.img)
	if err != nil {
		return err
	}
	for off := 0; off+entrySize <= len(cat); off += entrySize {
		if cat[off] == 0x00 {
			continue
		}
		f := &rdosFile{
			name:        stripHighAscii(cat[off : off+nameLen]),
			fileType:    cat[off+nameLen],
			sectorCount: int(cat[off+nameLen+1]),
			loadAddr:    int(cat[off+nameLen+2]) | int(cat[off+nameLen+3])<<8,
			length:      int(cat[off+nameLen+4]) | int(cat[off+nameLen+5])<<8,
			startSector: int(cat[off+nameLen+6]) | int(cat[off+nameLen+7])<<8,
		}
		r.files = append(r.files, f)
		spt := r.img.SectorsPerTrack
		for s := f.startSector; s < f.startSector+f.sectorCount; s++ {
			r.usage.MarkUsed(s/spt, s%spt, vu.PurposeUserData)
		}
	}
	return nil
}

func stripHighAscii(buf []byte) string {
	out := make([]byte, 0, len(buf))
	for _, b := range buf {
		c := b & 0x7f
		if c == 0 {
			break
		}
		out = append(out, c)
	}
	n := len(out)
	for n > 0 && out[n-1] == ' ' {
		n--
	}
	return string(out[:n])
}

func (r *RDOS) VolumeName() string           { return r.variant.String() }
func (r *RDOS) VolumeUsage() *vu.VolumeUsage { return r.usage }

func (r *RDOS) ListFiles(subdir string) ([]a2file.A2File, error) {
	if subdir != "" {
		return nil, errors.InvalidArgf("rdos: no subdirectories")
	}
	out := make([]a2file.A2File, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, &rdosA2File{r: r, f: f})
	}
	return out, nil
}

func (r *RDOS) OpenFile(name string) (a2file.A2File, error) {
	for _, f := range r.files {
		if f.name == name {
			return &rdosA2File{r: r, f: f}, nil
		}
	}
	return nil, errors.ForkNotFoundf("rdos: file %q not found", name)
}

type rdosA2File struct {
	r    *RDOS
	f    *rdosFile
	open a2file.OpenGuard
}

func (f *rdosA2File) Name() string { return f.f.name }

// FileType maps RDOS's letter type onto the ProDOS byte the shared
// contract reports: A->BAS, B->BIN, T->TXT.
func (f *rdosA2File) FileType() int {
	switch f.f.fileType & 0x7f {
	case 'A':
		return 0xFC
	case 'T':
		return 0x04
	default:
		return 0x06
	}
}
func (f *rdosA2File) AuxType() int           { return f.f.loadAddr }
func (f *rdosA2File) Length() int            { return f.f.length }
func (f *rdosA2File) Access() a2file.Access   { return a2file.AccessRead }
func (f *rdosA2File) Quality() a2file.Quality { return a2file.QualityGood }

func (f *rdosA2File) Open() (a2file.A2FileDescr, error) {
	if err := f.open.Acquire(); err != nil {
		return nil, err
	}
	return &rdosDescr{f: f}, nil
}

type rdosDescr struct {
	f   *rdosA2File
	pos int64
}

func (d *rdosDescr) Read(buf []byte) (int, error) {
	length := int64(d.f.Length())
	if d.pos >= length {
		if len(buf) == 0 {
			return 0, nil
		}
		return 0, errors.DataUnderrunf("rdos: read past end of file")
	}
	spt := d.f.r.img.SectorsPerTrack
	n := 0
	for n < len(buf) && d.pos < length {
		absSector := d.f.f.startSector + int(d.pos/sectorSize)
		within := int(d.pos % sectorSize)
		sect, err := d.f.r.img.ReadTrackSector(absSector/spt, absSector%spt)
		if err != nil {
			return n, err
		}
		toCopy := len(buf) - n
		if toCopy > sectorSize-within {
			toCopy = sectorSize - within
		}
		if int64(toCopy) > length-d.pos {
			toCopy = int(length - d.pos)
		}
		copy(buf[n:n+toCopy], sect[within:within+toCopy])
		n += toCopy
		d.pos += int64(toCopy)
	}
	return n, nil
}

func (d *rdosDescr) Write([]byte) (int, error) {
	return 0, errors.ReadOnlyf("rdos: filesystem is read-only")
}
func (d *rdosDescr) Seek(offset int64, whence a2file.Whence) error {
	pos, err := a2file.ResolveSeek(d.pos, offset, int64(d.f.Length()), whence)
	if err != nil {
		return err
	}
	d.pos = pos
	return nil
}
func (d *rdosDescr) Tell() (int64, error) { return d.pos, nil }
func (d *rdosDescr) Close() error {
	d.f.open.Release()
	return nil
}
