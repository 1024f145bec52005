// Package gutenberg implements the read-only Gutenberg word-processor
// DiskFS variant: per-sector linked-list headers and a catalog that is
// itself a chained file starting at track 17 sector 7.
package gutenberg

import (
	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/vu"
)

const (
	catTrack       = 17
	catSector      = 7
	entrySize      = 16
	entriesPerBlk  = 15
	entryStartOff  = 0x10
	deletedMask    = 0x40
	sectorSize     = 256
	headerLen      = 6 // prevT, prevS, curT, curS, nextT, nextS
	volNameLen     = 9
)

type gutenFile struct {
	name        string
	startTrack  int
	startSector int
}

// Gutenberg is a mounted, read-only Gutenberg volume.
type Gutenberg struct {
	diskfs.UnsupportedMutation
	img     *diskimg.DiskImg
	volName string
	files   []*gutenFile
	usage   *vu.VolumeUsage
}

func New(img *diskimg.DiskImg) (diskfs.DiskFS, error) { return &Gutenberg{img: img}, nil }

func (g *Gutenberg) Name() string                      { return "gutenberg" }
func (g *Gutenberg) Capabilities() diskfs.Capabilities { return diskfs.Capabilities{} }

type probe struct{}

func (probe) Name() string { return "gutenberg" }

func (probe) TestFS(img *diskimg.DiskImg, order diskimg.SectorOrder) (bool, int) {
	saved := img.SectorOrder
	img.SectorOrder = order
	defer func() { img.SectorOrder = saved }()

	sect, err := img.ReadTrackSector(catTrack, catSector)
	if err != nil || len(sect) < sectorSize {
		return false, 0
	}
	curT := int(sect[2] & 0x7f)
	curS := int(sect[3])
	if curT != catTrack || curS != catSector {
		return false, 0
	}
	terminated := 0
	for i := 0; i < entriesPerBlk; i++ {
		off := entryStartOff + i*entrySize
		if off+entrySize > len(sect) {
			break
		}
		if sect[off+entrySize-1] == 0x8D {
			terminated++
		}
	}
	if terminated < entriesPerBlk/2 {
		return false, 0
	}
	return true, 30
}

func init() {
	diskimg.RegisterFormatProbe(probe{})
	diskfs.Register("gutenberg", New)
}

func (g *Gutenberg) Initialize(depth diskfs.InitDepth, scan diskfs.ScanSubVolumes) error {
	g.usage = vu.Create(g.img.NumTracks, g.img.SectorsPerTrack)
	if depth == diskfs.InitHeaderOnly {
		return nil
	}

	track, sector := catTrack, catSector
	seen := map[[2]int]bool{}
	for track != 0 || sector != 0 {
		key := [2]int{track, sector}
		if seen[key] {
			return errors.DirectoryLoopf("gutenberg: catalog chain loops at track %d sector %d", track, sector)
		}
		seen[key] = true

		sect, err := g.img.ReadTrackSector(track, sector)
		if err != nil {
			return err
		}
		g.usage.MarkUsed(track, sector, vu.PurposeVolumeDir)
		if g.volName == "" {
			// The nine-character volume name follows the first catalog
			// sector's T/S links; it repeats on every catalog sector.
			g.volName = stripHighBit(sect[headerLen : headerLen+volNameLen])
		}

		for i := 0; i < entriesPerBlk; i++ {
			off := entryStartOff + i*entrySize
			if off+entrySize > len(sect) {
				break
			}
			entry := sect[off : off+entrySize]
			// 12 bytes of name, then track and sector; 0x40 in either
			// position marks a deleted entry (Gutenberg Jr. uses the
			// track byte, the senior version the sector byte).
			if entry[0x0c] == deletedMask || entry[0x0d] == deletedMask {
				continue
			}
			if entry[0] == 0xa0 || entry[0] == 0x00 {
				continue
			}
			name := stripHighBit(entry[0:12])
			if name == "" {
				continue
			}
			g.files = append(g.files, &gutenFile{
				name:        name,
				startTrack:  int(entry[0x0c] & 0x7f),
				startSector: int(entry[0x0d]),
			})
		}

		nextHigh := sect[4]&0x80 != 0
		nextT := int(sect[4] & 0x7f)
		nextS := int(sect[5])
		if nextHigh {
			break // high bit on nextT marks the chain boundary
		}
		track, sector = nextT, nextS
	}

	for _, f := range g.files {
		g.markFileChunks(f)
	}
	return nil
}

func (g *Gutenberg) markFileChunks(f *gutenFile) {
	track, sector := f.startTrack, f.startSector
	seen := map[[2]int]bool{}
	for {
		key := [2]int{track, sector}
		if seen[key] {
			return
		}
		seen[key] = true
		sect, err := g.img.ReadTrackSector(track, sector)
		if err != nil {
			return
		}
		g.usage.MarkUsed(track, sector, vu.PurposeUserData)
		nextHigh := sect[4]&0x80 != 0
		nextT := int(sect[4] & 0x7f)
		nextS := int(sect[5])
		if nextHigh {
			return
		}
		track, sector = nextT, nextS
	}
}

func stripHighBit(buf []byte) string {
	out := make([]byte, 0, len(buf))
	for _, b := range buf {
		c := b & 0x7f
		if c == 0 || c == 0x8d {
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

func (g *Gutenberg) VolumeName() string           { return g.volName }
func (g *Gutenberg) VolumeUsage() *vu.VolumeUsage { return g.usage }

func (g *Gutenberg) ListFiles(subdir string) ([]a2file.A2File, error) {
	if subdir != "" {
		return nil, errors.InvalidArgf("gutenberg: no subdirectories")
	}
	out := make([]a2file.A2File, 0, len(g.files))
	for _, f := range g.files {
		out = append(out, &gutenA2File{g: g, f: f})
	}
	return out, nil
}

func (g *Gutenberg) OpenFile(name string) (a2file.A2File, error) {
	for _, f := range g.files {
		if f.name == name {
			return &gutenA2File{g: g, f: f}, nil
		}
	}
	return nil, errors.ForkNotFoundf("gutenberg: file %q not found", name)
}

type gutenA2File struct {
	g    *Gutenberg
	f    *gutenFile
	open a2file.OpenGuard
}

func (f *gutenA2File) Name() string           { return f.f.name }
func (f *gutenA2File) FileType() int          { return 0 }
func (f *gutenA2File) AuxType() int           { return 0 }
func (f *gutenA2File) Access() a2file.Access   { return a2file.AccessRead }
func (f *gutenA2File) Quality() a2file.Quality { return a2file.QualityGood }

// Length walks the file's sector chain, since Gutenberg has no declared
// length field; only the chain itself bounds the content.
func (f *gutenA2File) Length() int {
	data, err := f.g.readChain(f.f)
	if err != nil {
		return 0
	}
	return len(data)
}

func (g *Gutenberg) readChain(f *gutenFile) ([]byte, error) {
	var out []byte
	track, sector := f.startTrack, f.startSector
	seen := map[[2]int]bool{}
	for {
		key := [2]int{track, sector}
		if seen[key] {
			return out, nil
		}
		seen[key] = true
		sect, err := g.img.ReadTrackSector(track, sector)
		if err != nil {
			return out, err
		}
		out = append(out, sect[headerLen:]...)
		nextHigh := sect[4]&0x80 != 0
		nextT := int(sect[4] & 0x7f)
		nextS := int(sect[5])
		if nextHigh {
			return out, nil
		}
		track, sector = nextT, nextS
	}
}

func (f *gutenA2File) Open() (a2file.A2FileDescr, error) {
	if err := f.open.Acquire(); err != nil {
		return nil, err
	}
	data, err := f.g.readChain(f.f)
	if err != nil {
		f.open.Release()
		return nil, err
	}
	return &gutenDescr{f: f, data: data}, nil
}

type gutenDescr struct {
	f    *gutenA2File
	data []byte
	pos  int64
}

func (d *gutenDescr) Read(buf []byte) (int, error) {
	if d.pos >= int64(len(d.data)) {
		if len(buf) == 0 {
			return 0, nil
		}
		return 0, errors.DataUnderrunf("gutenberg: read past end of file")
	}
	n := copy(buf, d.data[d.pos:])
	d.pos += int64(n)
	return n, nil
}

func (d *gutenDescr) Write([]byte) (int, error) {
	return 0, errors.ReadOnlyf("gutenberg: filesystem is read-only")
}
func (d *gutenDescr) Seek(offset int64, whence a2file.Whence) error {
	pos, err := a2file.ResolveSeek(d.pos, offset, int64(len(d.data)), whence)
	if err != nil {
		return err
	}
	d.pos = pos
	return nil
}
func (d *gutenDescr) Tell() (int64, error) { return d.pos, nil }
func (d *gutenDescr) Close() error {
	d.f.open.Release()
	return nil
}
