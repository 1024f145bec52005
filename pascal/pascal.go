// Package pascal implements the Apple Pascal (UCSD) DiskFS variant:
// the four-block volume directory, contiguous file extents, and the
// create-gap allocation model for its contiguous files.
package pascal

import (
	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/internal/logsink"
	"github.com/fadden/ciderdisk/vu"
)

const (
	blockSize       = 512
	volHeaderBlock  = 2
	dirLenBlocks    = 4
	entrySize       = 26
	maxVolNameLen   = 7
	maxFileNameLen  = 15
	entriesPerBlock = blockSize / entrySize

	// Pascal directory file types (low 4 bits of the type word).
	typeCode = 2
	typeText = 3
	typeData = 5
)

// Date is Pascal's packed 16-bit date: yyyyyyy dddddmmm m (year[7] in
// the top bits, day[5], month[4]). Month 0 means "invalid".
type Date uint16

func (d Date) Year() int {
	y := int(d >> 9)
	if y < 40 {
		return 2000 + y
	}
	return 1900 + y
}
func (d Date) Day() int   { return int((d >> 4) & 0x1f) }
func (d Date) Month() int { return int(d & 0x0f) }

type dirEntry struct {
	blockOffset      int // which 26-byte slot within the 4 directory blocks
	startBlock       int
	nextBlock        int
	fileType         int
	name             string
	bytesInLastBlock int
	modDate          Date
}

func (e *dirEntry) length() int {
	return (e.nextBlock-e.startBlock-1)*blockSize + e.bytesInLastBlock
}

// Pascal is a mounted UCSD Pascal volume.
type Pascal struct {
	diskfs.UnsupportedMutation
	img *diskimg.DiskImg

	volName     string
	numBlocks   int
	numFiles    int
	lastDateSet Date
	entries     []*dirEntry
	usage       *vu.VolumeUsage
	notGood     bool
}

func New(img *diskimg.DiskImg) (diskfs.DiskFS, error) {
	return &Pascal{img: img}, nil
}

func (p *Pascal) Name() string { return "pascal" }

func (p *Pascal) Capabilities() diskfs.Capabilities {
	return diskfs.Capabilities{
		CanCreateFile: true, CanDeleteFile: true,
		CanRenameFile: true, CanSetInfo: true,
		CanFormat: true, CanRenameVolume: true,
	}
}

func readName(buf []byte, maxLen int) string {
	n := int(buf[0] & 0x0f)
	if n > maxLen {
		n = maxLen
	}
	return string(buf[1 : 1+n])
}

type probe struct{}

func (probe) Name() string { return "pascal" }

func (probe) TestFS(img *diskimg.DiskImg, order diskimg.SectorOrder) (bool, int) {
	saved := img.SectorOrder
	img.SectorOrder = order
	defer func() { img.SectorOrder = saved }()

	hdr, err := img.ReadBlock(volHeaderBlock)
	if err != nil || len(hdr) < entrySize {
		return false, 0
	}
	startBlock := int(hdr[0]) | int(hdr[1])<<8
	nextBlock := int(hdr[2]) | int(hdr[3])<<8
	fileType := int(hdr[4]) | int(hdr[5])<<8
	if startBlock != 0 || fileType != 0 {
		return false, 0
	}
	nameLen := int(hdr[6] & 0x0f)
	if nameLen == 0 || nameLen > maxVolNameLen {
		return false, 0
	}
	if nextBlock <= volHeaderBlock || nextBlock > img.NumBlocks {
		return false, 0
	}
	return true, 65
}

func init() {
	diskimg.RegisterFormatProbe(probe{})
	diskfs.Register("pascal", New)
}

func (p *Pascal) Initialize(depth diskfs.InitDepth, scan diskfs.ScanSubVolumes) error {
	hdr, err := p.img.ReadBlock(volHeaderBlock)
	if err != nil {
		return err
	}
	p.volName = readName(hdr[6:], maxVolNameLen)
	p.numBlocks = int(hdr[14]) | int(hdr[15])<<8
	p.numFiles = int(hdr[16]) | int(hdr[17])<<8
	p.lastDateSet = Date(int(hdr[20]) | int(hdr[21])<<8)
	if p.numBlocks == 0 {
		p.numBlocks = p.img.NumBlocks
	}

	p.usage = vu.CreateBlocks(p.numBlocks)
	for b := volHeaderBlock; b < volHeaderBlock+dirLenBlocks; b++ {
		p.usage.MarkBlockUsed(b, vu.PurposeVolumeDir)
	}

	if depth == diskfs.InitHeaderOnly {
		return nil
	}

	dir := make([]byte, 0, dirLenBlocks*blockSize)
	for b := volHeaderBlock; b < volHeaderBlock+dirLenBlocks; b++ {
		blk, err := p.img.ReadBlock(b)
		if err != nil {
			return err
		}
		dir = append(dir, blk...)
	}

	for i := 1; i <= p.numFiles && i < entriesPerBlock*dirLenBlocks; i++ {
		off := i * entrySize
		if off+entrySize > len(dir) {
			break
		}
		buf := dir[off : off+entrySize]
		e := &dirEntry{
			blockOffset:      i,
			startBlock:       int(buf[0]) | int(buf[1])<<8,
			nextBlock:        int(buf[2]) | int(buf[3])<<8,
			fileType:         int(buf[4]) | int(buf[5])<<8,
			name:             readName(buf[6:], maxFileNameLen),
			bytesInLastBlock: int(buf[22]) | int(buf[23])<<8,
			modDate:          Date(int(buf[24]) | int(buf[25])<<8),
		}
		p.entries = append(p.entries, e)
		for b := e.startBlock; b < e.nextBlock && b < p.numBlocks; b++ {
			p.usage.MarkBlockUsed(b, vu.PurposeUserData)
		}
	}
	p.CheckDiskIsGood()
	return nil
}

// CheckDiskIsGood scans the usage map and every entry's quality. Chunk
// conflicts are noted; a damaged entry (a start/next pair that isn't a
// valid extent) marks the disk not-good, refusing mutations while still
// permitting reads.
func (p *Pascal) CheckDiskIsGood() bool {
	good := true
	if n := p.usage.Conflicts(); n > 0 {
		logsink.Warn("pascal: %d blocks claimed by more than one owner", n)
		good = false
	}
	for _, e := range p.entries {
		f := &pascalFile{p: p, e: e}
		if q := f.Quality(); q != a2file.QualityGood {
			logsink.Warn("pascal: file %q is %v", e.name, q)
			good = false
		}
	}
	p.notGood = !good
	return good
}

func (p *Pascal) VolumeName() string          { return p.volName }
func (p *Pascal) VolumeUsage() *vu.VolumeUsage { return p.usage }

func (p *Pascal) ListFiles(subdir string) ([]a2file.A2File, error) {
	if subdir != "" {
		return nil, errors.InvalidArgf("pascal: no subdirectories")
	}
	out := make([]a2file.A2File, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, &pascalFile{p: p, e: e})
	}
	return out, nil
}

func (p *Pascal) OpenFile(name string) (a2file.A2File, error) {
	for _, e := range p.entries {
		if e.name == name {
			return &pascalFile{p: p, e: e}, nil
		}
	}
	return nil, errors.ForkNotFoundf("pascal: file %q not found", name)
}

type pascalFile struct {
	p    *Pascal
	e    *dirEntry
	open a2file.OpenGuard
}

func (f *pascalFile) Name() string { return f.e.name }

// FileType maps the Pascal directory type onto the ProDOS byte the
// shared contract reports: codefile->PCD, textfile->PTX, datafile->PDA.
func (f *pascalFile) FileType() int {
	switch f.e.fileType & 0x0f {
	case typeCode:
		return 0x02 // PCD
	case typeText:
		return 0x03 // PTX
	case typeData:
		return 0x05 // PDA
	default:
		return 0x00 // NON
	}
}
func (f *pascalFile) AuxType() int { return 0 }
func (f *pascalFile) Length() int  { return f.e.length() }
func (f *pascalFile) Access() a2file.Access {
	return a2file.AccessRead | a2file.AccessWrite | a2file.AccessRename | a2file.AccessDelete
}
func (f *pascalFile) Quality() a2file.Quality {
	if f.e.nextBlock <= f.e.startBlock || f.e.nextBlock > f.p.numBlocks {
		return a2file.QualityDamaged
	}
	return a2file.QualityGood
}

func (f *pascalFile) Open() (a2file.A2FileDescr, error) {
	if err := f.open.Acquire(); err != nil {
		return nil, err
	}
	return &pascalDescr{f: f}, nil
}

// pascalDescr is a seekable view over a file's contiguous block extent.
// Pascal files are written in one shot: the whole payload arrives in a
// single Write call against a freshly created (zero-length) file, which
// sizes the contiguous extent then and there. Close flushes the updated
// directory entry.
type pascalDescr struct {
	f        *pascalFile
	pos      int64
	dirty    bool
	progress a2file.ProgressFunc
}

// SetProgress installs a hook Write polls between block writes; a
// false return cancels the write before the directory is flushed.
func (d *pascalDescr) SetProgress(fn a2file.ProgressFunc) { d.progress = fn }

func (d *pascalDescr) Read(buf []byte) (int, error) {
	length := int64(d.f.Length())
	if d.pos >= length {
		if len(buf) == 0 {
			return 0, nil
		}
		return 0, errors.DataUnderrunf("pascal: read past end of file")
	}
	n := 0
	for n < len(buf) && d.pos < length {
		blockIdx := d.f.e.startBlock + int(d.pos/blockSize)
		within := int(d.pos % blockSize)
		blk, err := d.f.p.img.ReadBlock(blockIdx)
		if err != nil {
			return n, err
		}
		toCopy := len(buf) - n
		if toCopy > blockSize-within {
			toCopy = blockSize - within
		}
		if int64(toCopy) > length-d.pos {
			toCopy = int(length - d.pos)
		}
		copy(buf[n:n+toCopy], blk[within:within+toCopy])
		n += toCopy
		d.pos += int64(toCopy)
	}
	return n, nil
}

func (d *pascalDescr) Write(buf []byte) (int, error) {
	p := d.f.p
	e := d.f.e
	if p.img.ReadOnly {
		return 0, errors.ReadOnlyf("pascal: image is read-only")
	}
	if d.pos != 0 || d.f.Length() != 0 {
		return 0, errors.InvalidArgf("pascal: write requires an empty file opened at offset 0")
	}

	blocksNeeded := (len(buf) + blockSize - 1) / blockSize
	if blocksNeeded == 0 {
		blocksNeeded = 1
	}
	if avail := p.extentLimit(e) - e.startBlock; blocksNeeded > avail {
		return 0, errors.DiskFullf("pascal: %d blocks needed but only %d contiguous from block %d",
			blocksNeeded, avail, e.startBlock)
	}

	for i := 0; i < blocksNeeded; i++ {
		blk := make([]byte, blockSize)
		lo := i * blockSize
		hi := lo + blockSize
		if hi > len(buf) {
			hi = len(buf)
		}
		if lo < len(buf) {
			copy(blk, buf[lo:hi])
		}
		if err := p.img.WriteBlock(e.startBlock+i, blk); err != nil {
			return 0, err
		}
		if d.progress != nil && !d.progress(int64(hi)) {
			return 0, errors.Cancelledf("pascal: write cancelled at offset %d", hi)
		}
	}

	e.nextBlock = e.startBlock + blocksNeeded
	e.bytesInLastBlock = len(buf) % blockSize
	if e.bytesInLastBlock == 0 && len(buf) > 0 {
		e.bytesInLastBlock = blockSize
	}
	for b := e.startBlock; b < e.startBlock+blocksNeeded; b++ {
		p.usage.MarkBlockUsed(b, vu.PurposeUserData)
	}
	d.pos = int64(len(buf))
	d.dirty = true
	return len(buf), nil
}

func (d *pascalDescr) Seek(offset int64, whence a2file.Whence) error {
	pos, err := a2file.ResolveSeek(d.pos, offset, int64(d.f.Length()), whence)
	if err != nil {
		return err
	}
	d.pos = pos
	return nil
}

func (d *pascalDescr) Tell() (int64, error) { return d.pos, nil }

// Close flushes the directory if a write resized this file's extent.
func (d *pascalDescr) Close() error {
	d.f.open.Release()
	if !d.dirty {
		return nil
	}
	d.dirty = false
	return d.f.p.writeDirectory()
}

// extentLimit returns the first block the extent starting at e.startBlock
// must not reach: the next entry's startBlock, or the end of the volume.
func (p *Pascal) extentLimit(e *dirEntry) int {
	limit := p.numBlocks
	for _, other := range p.entries {
		if other != e && other.startBlock >= e.nextBlock && other.startBlock < limit {
			limit = other.startBlock
		}
	}
	return limit
}

// findGap implements the create allocation rule: the
// largest free gap between the last used block of one entry and the
// first used block of the next, scanning entries in startBlock order
// (the invariant they're always stored in).
func (p *Pascal) findGap(blocksNeeded int) (start int, ok bool) {
	prevEnd := volHeaderBlock + dirLenBlocks
	bestStart, bestSize := -1, 0
	for _, e := range p.entries {
		if gap := e.startBlock - prevEnd; gap > bestSize {
			bestStart, bestSize = prevEnd, gap
		}
		if e.nextBlock > prevEnd {
			prevEnd = e.nextBlock
		}
	}
	if gap := p.numBlocks - prevEnd; gap > bestSize {
		bestStart, bestSize = prevEnd, gap
	}
	if bestSize < blocksNeeded {
		return 0, false
	}
	return bestStart, true
}

// CreateFile reserves a one-block extent in the largest free gap and
// appends a sorted directory entry; the caller is expected to complete
// the allocation via a single Write call on the returned file's Open().
func (p *Pascal) CreateFile(name string, fileType, auxType int) (a2file.A2File, error) {
	if p.img.ReadOnly {
		return nil, errors.ReadOnlyf("pascal: image is read-only")
	}
	if p.notGood {
		return nil, errors.AccessDeniedf("pascal: disk structure is damaged, writes refused")
	}
	if !IsValidFileName(name) {
		return nil, errors.InvalidArgf("pascal: %q is not a valid file name", name)
	}
	for _, e := range p.entries {
		if e.name == name {
			return nil, errors.FileExistsf("pascal: file %q already exists", name)
		}
	}
	start, ok := p.findGap(1)
	if !ok {
		return nil, errors.DiskFullf("pascal: no free gap for new file")
	}
	pasType := typeData
	switch fileType {
	case 0x02: // PCD
		pasType = typeCode
	case 0x03: // PTX
		pasType = typeText
	}
	e := &dirEntry{
		startBlock: start, nextBlock: start + 1,
		fileType: pasType, name: name, bytesInLastBlock: 0,
	}
	// Entries are stored sorted by startBlock; findGap depends on it.
	pos := len(p.entries)
	for i, other := range p.entries {
		if other.startBlock > e.startBlock {
			pos = i
			break
		}
	}
	p.entries = append(p.entries, nil)
	copy(p.entries[pos+1:], p.entries[pos:])
	p.entries[pos] = e
	p.usage.MarkBlockUsed(start, vu.PurposeUserData)
	if err := p.writeDirectory(); err != nil {
		return nil, err
	}
	return &pascalFile{p: p, e: e}, nil
}

func (p *Pascal) writeDirectory() error {
	dir := make([]byte, dirLenBlocks*blockSize)
	hdr := dir[:entrySize]
	hdr[2] = byte(volHeaderBlock + dirLenBlocks)
	hdr[6] = byte(len(p.volName) & 0x0f)
	copy(hdr[7:], p.volName)
	hdr[14] = byte(p.numBlocks & 0xff)
	hdr[15] = byte(p.numBlocks >> 8)
	hdr[16] = byte(len(p.entries) & 0xff)
	hdr[17] = byte(len(p.entries) >> 8)
	hdr[20] = byte(p.lastDateSet)
	hdr[21] = byte(p.lastDateSet >> 8)

	for i, e := range p.entries {
		off := (i + 1) * entrySize
		if off+entrySize > len(dir) {
			return errors.VolumeDirFullf("pascal: directory has no room for %d files", len(p.entries))
		}
		buf := dir[off : off+entrySize]
		buf[0], buf[1] = byte(e.startBlock), byte(e.startBlock>>8)
		buf[2], buf[3] = byte(e.nextBlock), byte(e.nextBlock>>8)
		buf[4], buf[5] = byte(e.fileType), byte(e.fileType>>8)
		buf[6] = byte(len(e.name) & 0x0f)
		copy(buf[7:7+maxFileNameLen], e.name)
		buf[22], buf[23] = byte(e.bytesInLastBlock), byte(e.bytesInLastBlock>>8)
		buf[24], buf[25] = byte(e.modDate), byte(e.modDate>>8)
	}

	for i := 0; i < dirLenBlocks; i++ {
		if err := p.img.WriteBlock(volHeaderBlock+i, dir[i*blockSize:(i+1)*blockSize]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pascal) DeleteFile(name string) error {
	if p.img.ReadOnly {
		return errors.ReadOnlyf("pascal: image is read-only")
	}
	if p.notGood {
		return errors.AccessDeniedf("pascal: disk structure is damaged, writes refused")
	}
	idx := -1
	for i, e := range p.entries {
		if e.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.ForkNotFoundf("pascal: file %q not found", name)
	}
	e := p.entries[idx]
	for b := e.startBlock; b < e.nextBlock; b++ {
		p.usage.SetBlockUsed(b, false)
	}
	p.entries = append(p.entries[:idx], p.entries[idx+1:]...)
	return p.writeDirectory()
}

func (p *Pascal) RenameVolume(newName string) error {
	if p.img.ReadOnly {
		return errors.ReadOnlyf("pascal: image is read-only")
	}
	if !IsValidVolumeName(newName) {
		return errors.InvalidArgf("pascal: %q is not a valid volume name", newName)
	}
	p.volName = newName
	return p.writeDirectory()
}

// RenameFile rewrites the directory entry's name; the extent is
// untouched, so the entry keeps its startBlock-sorted position.
func (p *Pascal) RenameFile(oldName, newName string) error {
	if p.img.ReadOnly {
		return errors.ReadOnlyf("pascal: image is read-only")
	}
	if p.notGood {
		return errors.AccessDeniedf("pascal: disk structure is damaged, writes refused")
	}
	if !IsValidFileName(newName) {
		return errors.InvalidArgf("pascal: %q is not a valid file name", newName)
	}
	var target *dirEntry
	for _, e := range p.entries {
		if e.name == newName {
			return errors.FileExistsf("pascal: file %q already exists", newName)
		}
		if e.name == oldName {
			target = e
		}
	}
	if target == nil {
		return errors.ForkNotFoundf("pascal: file %q not found", oldName)
	}
	target.name = newName
	return p.writeDirectory()
}

// SetFileInfo changes the directory file type. Pascal has no aux type
// or access flags; an unsupported ProDOS type falls back to datafile,
// and auxType/locked are accepted and ignored.
func (p *Pascal) SetFileInfo(name string, fileType, auxType int, locked bool) error {
	if p.img.ReadOnly {
		return errors.ReadOnlyf("pascal: image is read-only")
	}
	if p.notGood {
		return errors.AccessDeniedf("pascal: disk structure is damaged, writes refused")
	}
	var target *dirEntry
	for _, e := range p.entries {
		if e.name == name {
			target = e
			break
		}
	}
	if target == nil {
		return errors.ForkNotFoundf("pascal: file %q not found", name)
	}
	switch fileType {
	case 0x02: // PCD
		target.fileType = typeCode
	case 0x03: // PTX
		target.fileType = typeText
	default:
		target.fileType = typeData
	}
	return p.writeDirectory()
}

// Format writes a fresh volume directory over the bound image: zeroed
// boot blocks, a four-block directory holding only the volume header,
// and no files. Only the two standard Pascal volume sizes (140KB and
// 800KB floppies) are accepted. The in-memory catalog is reset; callers
// re-Initialize to mount the formatted volume.
func (p *Pascal) Format(volumeName string) error {
	if p.img.ReadOnly {
		return errors.ReadOnlyf("pascal: image is read-only")
	}
	if !IsValidVolumeName(volumeName) {
		return errors.InvalidArgf("pascal: %q is not a valid volume name", volumeName)
	}
	if p.img.NumBlocks != 280 && p.img.NumBlocks != 1600 {
		return errors.InvalidArgf("pascal: can't format %d blocks", p.img.NumBlocks)
	}

	zero := make([]byte, blockSize)
	for b := 0; b < volHeaderBlock; b++ {
		if err := p.img.WriteBlock(b, zero); err != nil {
			return err
		}
	}

	p.volName = volumeName
	p.numBlocks = p.img.NumBlocks
	p.numFiles = 0
	p.lastDateSet = 0xa87b // Nov 7 1984, the formatter's stamp
	p.entries = nil
	p.usage = nil
	p.notGood = false
	return p.writeDirectory()
}
