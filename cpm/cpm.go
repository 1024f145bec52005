// Package cpm implements the read-only CP/M DiskFS variant: the
// 2KB/4-block directory at ProDOS block 24 and the multi-extent file
// model.
package cpm

import (
	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/vu"
)

const (
	dirBlock      = 24
	dirBlocks     = 4
	entrySize     = 32
	maxUserNum    = 31
	maxExtent     = 31
	erasedByte    = 0xE5
	cpmBlockBytes = 1024 // CP/M block = two ProDOS blocks
)

type extent struct {
	userNum    int
	name       string
	extentNum  int
	recordBlks int
	records    int
	blocks     [16]int // CP/M block numbers, 0 = unused slot
}

type cpmFile struct {
	name    string
	extents []*extent
}

func (f *cpmFile) length() int {
	if len(f.extents) == 0 {
		return 0
	}
	last := f.extents[len(f.extents)-1]
	for i := 1; i < len(f.extents); i++ {
		if f.extents[i].extentNum > f.extents[i-1].extentNum {
			last = f.extents[i]
		}
	}
	return last.recordBlks*1024 + last.records*128
}

// CPM is a mounted, read-only CP/M volume.
type CPM struct {
	diskfs.UnsupportedMutation
	img   *diskimg.DiskImg
	files []*cpmFile
	usage *vu.VolumeUsage
}

func New(img *diskimg.DiskImg) (diskfs.DiskFS, error) { return &CPM{img: img}, nil }

func (c *CPM) Name() string                   { return "cpm" }
func (c *CPM) Capabilities() diskfs.Capabilities { return diskfs.Capabilities{} }

func readDirBlocks(img *diskimg.DiskImg) ([]byte, error) {
	out := make([]byte, 0, dirBlocks*512)
	for i := 0; i < dirBlocks; i++ {
		blk, err := img.ReadBlock(dirBlock + i)
		if err != nil {
			return nil, err
		}
		out = append(out, blk...)
	}
	return out, nil
}

type probe struct{}

func (probe) Name() string { return "cpm" }

func (probe) TestFS(img *diskimg.DiskImg, order diskimg.SectorOrder) (bool, int) {
	saved := img.SectorOrder
	img.SectorOrder = order
	defer func() { img.SectorOrder = saved }()

	dir, err := readDirBlocks(img)
	if err != nil {
		return false, 0
	}
	validEntries, total := 0, 0
	for off := 0; off+entrySize <= len(dir); off += entrySize {
		user := dir[off]
		if user == erasedByte {
			continue
		}
		total++
		if int(user) <= maxUserNum && plausibleName(dir[off+1:off+12]) {
			validEntries++
		}
	}
	if total == 0 || validEntries*3 < total*2 {
		return false, 0
	}
	return true, 40
}

// plausibleName reports whether an 11-byte name+ext field holds only
// printable characters once the attribute high bits are stripped, with
// at least one character that isn't a space. An all-zero entry fails,
// which keeps a blank disk from probing as CP/M.
func plausibleName(buf []byte) bool {
	nonSpace := false
	for _, b := range buf {
		c := b & 0x7f
		if c < 0x20 || c == 0x7f {
			return false
		}
		if c != ' ' {
			nonSpace = true
		}
	}
	return nonSpace
}

func init() {
	diskimg.RegisterFormatProbe(probe{})
	diskfs.Register("cpm", New)
}

func (c *CPM) Initialize(depth diskfs.InitDepth, scan diskfs.ScanSubVolumes) error {
	c.usage = vu.CreateBlocks(c.img.NumBlocks)
	for i := 0; i < dirBlocks; i++ {
		c.usage.MarkBlockUsed(dirBlock+i, vu.PurposeVolumeDir)
	}
	if depth == diskfs.InitHeaderOnly {
		return nil
	}

	dir, err := readDirBlocks(c.img)
	if err != nil {
		return err
	}

	byName := map[string]*cpmFile{}
	for off := 0; off+entrySize <= len(dir); off += entrySize {
		buf := dir[off : off+entrySize]
		user := int(buf[0])
		if user == erasedByte || user > maxUserNum {
			continue
		}
		name := stripHighBit(buf[1:9]) + "." + stripHighBit(buf[9:12])
		e := &extent{
			userNum:    user,
			name:       name,
			extentNum:  int(buf[12]),
			recordBlks: int(buf[13]),
			records:    int(buf[15]),
		}
		for i := 0; i < 16; i++ {
			e.blocks[i] = int(buf[16+i])
		}
		f := byName[name]
		if f == nil {
			f = &cpmFile{name: name}
			byName[name] = f
			c.files = append(c.files, f)
		}
		f.extents = append(f.extents, e)
		for _, cb := range e.blocks {
			if cb == 0 {
				continue
			}
			pb0 := dirBlock + dirBlocks + cb*2
			pb1 := pb0 + 1
			c.usage.MarkBlockUsed(pb0, vu.PurposeUserData)
			if pb1 < c.img.NumBlocks {
				c.usage.MarkBlockUsed(pb1, vu.PurposeUserData)
			}
		}
	}
	return nil
}

func stripHighBit(buf []byte) string {
	out := make([]byte, 0, len(buf))
	for _, b := range buf {
		c := b & 0x7f
		if c == ' ' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

func (c *CPM) VolumeName() string           { return "" }
func (c *CPM) VolumeUsage() *vu.VolumeUsage { return c.usage }

func (c *CPM) ListFiles(subdir string) ([]a2file.A2File, error) {
	if subdir != "" {
		return nil, errors.InvalidArgf("cpm: no subdirectories")
	}
	out := make([]a2file.A2File, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, &cpmA2File{c: c, f: f})
	}
	return out, nil
}

func (c *CPM) OpenFile(name string) (a2file.A2File, error) {
	for _, f := range c.files {
		if f.name == name {
			return &cpmA2File{c: c, f: f}, nil
		}
	}
	return nil, errors.ForkNotFoundf("cpm: file %q not found", name)
}

type cpmA2File struct {
	c    *CPM
	f    *cpmFile
	open a2file.OpenGuard
}

func (f *cpmA2File) Name() string            { return f.f.name }
func (f *cpmA2File) FileType() int           { return 0 }
func (f *cpmA2File) AuxType() int            { return 0 }
func (f *cpmA2File) Length() int             { return f.f.length() }
func (f *cpmA2File) Access() a2file.Access    { return a2file.AccessRead }
func (f *cpmA2File) Quality() a2file.Quality  { return a2file.QualityGood }

func (f *cpmA2File) Open() (a2file.A2FileDescr, error) {
	if err := f.open.Acquire(); err != nil {
		return nil, err
	}
	return &cpmDescr{f: f}, nil
}

// cpmDescr concatenates every extent's CP/M blocks (each two ProDOS
// blocks) in extent order to form the read stream.
type cpmDescr struct {
	f   *cpmA2File
	pos int64
}

func (d *cpmDescr) Read(buf []byte) (int, error) {
	length := int64(d.f.Length())
	if d.pos >= length {
		if len(buf) == 0 {
			return 0, nil
		}
		return 0, errors.DataUnderrunf("cpm: read past end of file")
	}
	n := 0
	for n < len(buf) && d.pos < length {
		cpmBlockIdx := int(d.pos / cpmBlockBytes)
		within := int(d.pos % cpmBlockBytes)
		extentIdx := cpmBlockIdx / 16
		slotIdx := cpmBlockIdx % 16
		if extentIdx >= len(d.f.f.extents) {
			break
		}
		cb := d.f.f.extents[extentIdx].blocks[slotIdx]
		pb0 := dirBlock + dirBlocks + cb*2
		b0, err := d.f.c.img.ReadBlock(pb0)
		if err != nil {
			return n, err
		}
		b1, err := d.f.c.img.ReadBlock(pb0 + 1)
		if err != nil {
			return n, err
		}
		full := append(append([]byte{}, b0...), b1...)
		toCopy := len(buf) - n
		if toCopy > cpmBlockBytes-within {
			toCopy = cpmBlockBytes - within
		}
		if int64(toCopy) > length-d.pos {
			toCopy = int(length - d.pos)
		}
		copy(buf[n:n+toCopy], full[within:within+toCopy])
		n += toCopy
		d.pos += int64(toCopy)
	}
	return n, nil
}

func (d *cpmDescr) Write([]byte) (int, error) {
	return 0, errors.ReadOnlyf("cpm: filesystem is read-only")
}
func (d *cpmDescr) Seek(offset int64, whence a2file.Whence) error {
	pos, err := a2file.ResolveSeek(d.pos, offset, int64(d.f.Length()), whence)
	if err != nil {
		return err
	}
	d.pos = pos
	return nil
}
func (d *cpmDescr) Tell() (int64, error) { return d.pos, nil }
func (d *cpmDescr) Close() error {
	d.f.open.Release()
	return nil
}
