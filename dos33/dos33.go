// Package dos33 implements the DOS 3.2/3.3 DiskFS variant: VTOC parsing,
// catalog-chain traversal, per-file-type length computation, and the
// create/delete mutation paths: the VTOC-driven catalog walk and the
// downward-then-upward allocation scan DOS itself performs, expressed
// through the diskfs/a2file interfaces built on genericfd's style of
// small seekable views.
package dos33

import (
	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/internal/logsink"
	"github.com/fadden/ciderdisk/vu"
)

const (
	vtocTrack  = 17
	vtocSector = 0

	catEntryOffset  = 0x0B
	catEntryLen     = 0x23
	catEntriesPer   = 7
	maxTSPairs      = 122
	tsListPairsOff  = 0x0C
	sectorSize      = 256
	maxTracksLogic  = 50
	maxNameLen      = 30
	defaultVolumeNo = 254
)

// FileType is DOS 3.3's low-7-bits file type encoding.
type FileType int

const (
	TypeText       FileType = 0x00
	TypeInteger    FileType = 0x01
	TypeApplesoft  FileType = 0x02
	TypeBinary     FileType = 0x04
	TypeS          FileType = 0x08
	TypeRelocat    FileType = 0x10
	TypeNewA       FileType = 0x20
	TypeNewB       FileType = 0x40
	lockedBit               = 0x80
)

// ProDOS maps a DOS type onto the ProDOS file-type byte the shared
// A2File contract reports: T->TXT, I->INT, A->BAS, B->BIN, and the
// $F2-$F4 range for the S/new-A/new-B types that have no direct
// ProDOS equivalent.
func (t FileType) ProDOS() int {
	switch t {
	case TypeInteger:
		return 0xFA
	case TypeApplesoft:
		return 0xFC
	case TypeBinary:
		return 0x06
	case TypeS:
		return 0xF2
	case TypeRelocat:
		return 0xFE
	case TypeNewA:
		return 0xF3
	case TypeNewB:
		return 0xF4
	default:
		return 0x04 // TXT
	}
}

// fileTypeFromProDOS is ProDOS's inverse, for CreateFile callers that
// speak the shared contract's type byte.
func fileTypeFromProDOS(p int) (FileType, bool) {
	switch p {
	case 0x04:
		return TypeText, true
	case 0xFA:
		return TypeInteger, true
	case 0xFC:
		return TypeApplesoft, true
	case 0x06:
		return TypeBinary, true
	case 0xF2:
		return TypeS, true
	case 0xFE:
		return TypeRelocat, true
	case 0xF3:
		return TypeNewA, true
	case 0xF4:
		return TypeNewB, true
	default:
		return 0, false
	}
}

func (t FileType) Letter() byte {
	switch t {
	case TypeInteger:
		return 'I'
	case TypeApplesoft:
		return 'A'
	case TypeBinary:
		return 'B'
	case TypeS:
		return 'S'
	case TypeRelocat:
		return 'R'
	case TypeNewA:
		return 'a'
	case TypeNewB:
		return 'b'
	default:
		return 'T'
	}
}

// entry is one 35-byte catalog descriptor, decoded.
type entry struct {
	catTrack, catSector int // location of the descriptor itself, for rewrite on delete
	slotIndex            int
	tsListTrack          int
	tsListSector         int
	typeAndLock          byte
	rawName              [30]byte
	lengthInSectors       int
	auxType              int
	deleted              bool
}

func (e *entry) fileType() FileType { return FileType(e.typeAndLock &^ lockedBit) }
func (e *entry) locked() bool       { return e.typeAndLock&lockedBit != 0 }

func (e *entry) name() string {
	b := make([]byte, 0, 30)
	for _, c := range e.rawName {
		b = append(b, c&0x7f)
	}
	n := len(b)
	for n > 0 && b[n-1] == ' ' {
		n--
	}
	return string(b[:n])
}

// DOS33 is a mounted DOS 3.2/3.3 volume.
type DOS33 struct {
	diskfs.UnsupportedMutation
	img *diskimg.DiskImg

	volumeNum    int
	tsPairsMax   int
	lastAllocTrk int
	allocDir     int
	tracks       int
	sectorsPer   int

	entries []*entry
	usage   *vu.VolumeUsage
	notGood bool
}

// New constructs a DOS33 bound to img. Call Initialize before use.
func New(img *diskimg.DiskImg) (diskfs.DiskFS, error) {
	return &DOS33{img: img}, nil
}

func (d *DOS33) Name() string { return "dos33" }

func (d *DOS33) Capabilities() diskfs.Capabilities {
	return diskfs.Capabilities{
		CanCreateFile: true, CanDeleteFile: true,
		CanRenameFile: true, CanSetInfo: true,
		CanFormat: true, CanRenameVolume: true,
	}
}

// probe is the diskimg.FormatProbe this package registers: a VTOC at
// (17,0) whose tracks/sectorsPerTrack/bytesPerSector fields are
// self-consistent with the image's own geometry is a strong signal.
type probe struct{}

func (probe) Name() string { return "dos33" }

func (probe) TestFS(img *diskimg.DiskImg, order diskimg.SectorOrder) (bool, int) {
	saved := img.SectorOrder
	img.SectorOrder = order
	defer func() { img.SectorOrder = saved }()

	vtoc, err := img.ReadTrackSector(vtocTrack, vtocSector)
	if err != nil || len(vtoc) < sectorSize {
		return false, 0
	}
	tracks := int(vtoc[0x34])
	sectorsPer := int(vtoc[0x35])
	bytesPerSector := int(vtoc[0x36]) | int(vtoc[0x37])<<8
	if bytesPerSector != sectorSize {
		return false, 0
	}
	if tracks < 1 || tracks > maxTracksLogic || sectorsPer != 13 && sectorsPer != 16 && sectorsPer != 32 {
		return false, 0
	}
	if tracks != img.NumTracks || sectorsPer != img.SectorsPerTrack {
		return false, 0
	}
	catTrack := int(vtoc[0x01])
	catSector := int(vtoc[0x02])
	if catTrack >= tracks || catSector >= sectorsPer {
		return false, 0
	}
	return true, 70
}

func init() {
	diskimg.RegisterFormatProbe(probe{})
	diskfs.Register("dos33", New)
}

// Initialize reads the VTOC and walks the catalog chain, decoding every
// file descriptor slot and building the volume usage map.
func (d *DOS33) Initialize(depth diskfs.InitDepth, scan diskfs.ScanSubVolumes) error {
	vtoc, err := d.img.ReadTrackSector(vtocTrack, vtocSector)
	if err != nil {
		return err
	}
	d.volumeNum = int(vtoc[0x06])
	d.tsPairsMax = int(vtoc[0x27])
	if d.tsPairsMax == 0 {
		d.tsPairsMax = maxTSPairs
	}
	d.lastAllocTrk = int(vtoc[0x30])
	d.allocDir = int(int8(vtoc[0x31]))
	d.tracks = int(vtoc[0x34])
	d.sectorsPer = int(vtoc[0x35])
	if d.tracks == 0 {
		d.tracks = d.img.NumTracks
	}
	if d.sectorsPer == 0 {
		d.sectorsPer = d.img.SectorsPerTrack
	}

	d.usage = vu.Create(d.tracks, d.sectorsPer)
	d.loadFreeMap(vtoc)
	if err := d.usage.MarkUsed(vtocTrack, vtocSector, vu.PurposeSystem); err != nil {
		return err
	}

	if depth == diskfs.InitHeaderOnly {
		return nil
	}

	catTrack := int(vtoc[0x01])
	catSector := int(vtoc[0x02])
	seen := map[[2]int]bool{}
	for catTrack != 0 || catSector != 0 {
		key := [2]int{catTrack, catSector}
		if seen[key] {
			return errors.DirectoryLoopf("dos33: catalog chain loops at track %d sector %d", catTrack, catSector)
		}
		seen[key] = true

		sect, err := d.img.ReadTrackSector(catTrack, catSector)
		if err != nil {
			return err
		}
		if err := d.usage.MarkUsed(catTrack, catSector, vu.PurposeVolumeDir); err != nil {
			return err
		}
		for i := 0; i < catEntriesPer; i++ {
			off := catEntryOffset + i*catEntryLen
			d.decodeEntry(sect[off:off+catEntryLen], catTrack, catSector, i)
		}
		catTrack, catSector = int(sect[0x01]), int(sect[0x02])
	}

	for _, e := range d.entries {
		if e.deleted {
			continue
		}
		d.markFileChunks(e)
	}
	d.CheckDiskIsGood()
	return nil
}

// CheckDiskIsGood scans the usage map and every file's quality. Chunk
// conflicts and bitmap/catalog disagreements are noted; a file whose
// metadata came back Damaged or Suspicious marks the disk not-good,
// which refuses the mutation APIs while still permitting reads.
func (d *DOS33) CheckDiskIsGood() bool {
	good := true
	if n := d.usage.Conflicts(); n > 0 {
		logsink.Warn("dos33: %d chunks claimed by more than one owner", n)
		good = false
	}
	if n := d.usage.Unowned(); n > 0 {
		logsink.Warn("dos33: %d chunks allocated in the VTOC bitmap but unreferenced", n)
	}
	for _, e := range d.entries {
		if e.deleted {
			continue
		}
		f := &dos33File{d: d, e: e}
		if q := f.Quality(); q != a2file.QualityGood {
			logsink.Warn("dos33: file %q is %v", e.name(), q)
			good = false
		}
	}
	d.notGood = !good
	return good
}

// loadFreeMap reads the VTOC's per-track bitmap: 4 bytes per track
// starting at 0x38, bit (sector%8) of byte (sector/8) set means free.
func (d *DOS33) loadFreeMap(vtoc []byte) {
	for t := 0; t < d.tracks; t++ {
		base := 0x38 + 4*t
		if base+4 > len(vtoc) {
			break
		}
		for s := 0; s < d.sectorsPer; s++ {
			byteIdx := base + s/8
			bit := uint(s % 8)
			free := vtoc[byteIdx]&(1<<bit) != 0
			d.usage.SetUsed(t, s, !free)
		}
	}
}

func (d *DOS33) decodeEntry(buf []byte, catTrack, catSector, slot int) {
	if buf[0x00] == 0x00 {
		return // never-used slot
	}
	e := &entry{catTrack: catTrack, catSector: catSector, slotIndex: slot}
	if buf[0x00] == 0xFF {
		e.deleted = true
		e.tsListTrack = int(buf[0x20]) // original T/S-list track relocated here on delete
	} else {
		e.tsListTrack = int(buf[0x00])
	}
	e.tsListSector = int(buf[0x01])
	e.typeAndLock = buf[0x02]
	copy(e.rawName[:], buf[0x03:0x21])
	e.lengthInSectors = int(buf[0x21]) | int(buf[0x22])<<8
	d.entries = append(d.entries, e)
}

// tsList resolves a file's full sector list by walking its T/S-list
// chain, used both for length computation and for reads.
func (d *DOS33) tsList(e *entry) ([][2]int, error) {
	var out [][2]int
	track, sector := e.tsListTrack, e.tsListSector
	seen := map[[2]int]bool{}
	for track != 0 || sector != 0 {
		key := [2]int{track, sector}
		if seen[key] {
			return nil, errors.DirectoryLoopf("dos33: T/S list loops at track %d sector %d", track, sector)
		}
		seen[key] = true
		sect, err := d.img.ReadTrackSector(track, sector)
		if err != nil {
			return nil, err
		}
		for i := 0; i < d.tsPairsMax; i++ {
			off := tsListPairsOff + i*2
			t, s := int(sect[off]), int(sect[off+1])
			if t == 0 && s == 0 {
				out = append(out, [2]int{0, 0}) // sparse sector marker, only legal for Text
				continue
			}
			out = append(out, [2]int{t, s})
		}
		track, sector = int(sect[0x01]), int(sect[0x02])
	}
	// Trim trailing sparse placeholders the original list padded with.
	for len(out) > 0 && out[len(out)-1] == [2]int{0, 0} {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (d *DOS33) markFileChunks(e *entry) {
	d.usage.MarkUsed(e.tsListTrack, e.tsListSector, vu.PurposeFileStruct)
	list, err := d.tsList(e)
	if err != nil {
		return
	}
	// Walk the chain again to mark intermediate T/S-list sectors, since
	// tsList only returns data sectors.
	track, sector := e.tsListTrack, e.tsListSector
	for track != 0 || sector != 0 {
		sect, err := d.img.ReadTrackSector(track, sector)
		if err != nil {
			break
		}
		track, sector = int(sect[0x01]), int(sect[0x02])
		if track != 0 || sector != 0 {
			d.usage.MarkUsed(track, sector, vu.PurposeFileStruct)
		}
	}
	for _, ts := range list {
		if ts[0] == 0 && ts[1] == 0 {
			continue
		}
		d.usage.MarkUsed(ts[0], ts[1], vu.PurposeUserData)
	}
}

// computeLength implements the per-file-type length rule, including
// the DDD-in-DOS-archive special case for Binary files whose name
// contains '<' and '>' with zero declared length/aux and at least 8
// T/S pairs.
func (d *DOS33) computeLength(e *entry, list [][2]int) (length int, dataOffset int, quality a2file.Quality) {
	tsCount := len(list)
	switch e.fileType() {
	case TypeApplesoft, TypeInteger:
		if tsCount == 0 {
			return 0, 2, a2file.QualityDamaged
		}
		first, err := d.readDataSector(list[0])
		if err != nil {
			return 0, 2, a2file.QualityDamaged
		}
		length = int(first[0]) | int(first[1])<<8
		dataOffset = 2
	case TypeBinary:
		if tsCount == 0 {
			return 0, 4, a2file.QualityDamaged
		}
		first, err := d.readDataSector(list[0])
		if err != nil {
			return 0, 4, a2file.QualityDamaged
		}
		declaredLen := int(first[2]) | int(first[3])<<8
		aux := int(first[0]) | int(first[1])<<8
		if declaredLen == 0 && aux == 0 && containsDDDMarkers(e.name()) && tsCount >= 8 {
			return tsCount * sectorSize, 0, a2file.QualityGood
		}
		length = declaredLen
		dataOffset = 4
	case TypeText:
		length = d.textLength(list)
		dataOffset = 0
	default:
		length = tsCount * sectorSize
		dataOffset = 0
	}
	quality = a2file.QualityGood
	if length > tsCount*sectorSize {
		quality = a2file.QualitySuspicious
		logsink.Warn("dos33: %q declares length %d beyond its %d-sector footprint", e.name(), length, tsCount)
	}
	return length, dataOffset, quality
}

func containsDDDMarkers(name string) bool {
	hasLT, hasGT := false, false
	for _, c := range name {
		if c == '<' {
			hasLT = true
		}
		if c == '>' {
			hasGT = true
		}
	}
	return hasLT && hasGT
}

// textLength scans the last non-sparse sector for the first NUL byte.
func (d *DOS33) textLength(list [][2]int) int {
	last := -1
	for i, ts := range list {
		if ts != [2]int{0, 0} {
			last = i
		}
	}
	if last < 0 {
		return 0
	}
	sect, err := d.readDataSector(list[last])
	if err != nil {
		return last * sectorSize
	}
	pos := sectorSize
	for i, b := range sect {
		if b == 0 {
			pos = i
			break
		}
	}
	return last*sectorSize + pos
}

func (d *DOS33) readDataSector(ts [2]int) ([]byte, error) {
	return d.img.ReadTrackSector(ts[0], ts[1])
}

// VolumeName reports the volume number as a synthetic name; DOS 3.3 has
// no textual volume name, only the numeric DOSVolumeNum in the VTOC.
func (d *DOS33) VolumeName() string {
	return itoaPad(d.volumeNum)
}

func itoaPad(n int) string {
	digits := "0123456789"
	if n == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf[i:])
}

func (d *DOS33) VolumeUsage() *vu.VolumeUsage { return d.usage }

func (d *DOS33) ListFiles(subdir string) ([]a2file.A2File, error) {
	if subdir != "" {
		return nil, errors.InvalidArgf("dos33: no subdirectories")
	}
	var out []a2file.A2File
	for _, e := range d.entries {
		if e.deleted {
			continue
		}
		out = append(out, &dos33File{d: d, e: e})
	}
	return out, nil
}

func (d *DOS33) OpenFile(name string) (a2file.A2File, error) {
	for _, e := range d.entries {
		if !e.deleted && e.name() == name {
			return &dos33File{d: d, e: e}, nil
		}
	}
	return nil, errors.ForkNotFoundf("dos33: file %q not found", name)
}

// dos33File adapts a catalog entry to a2file.A2File.
type dos33File struct {
	d    *DOS33
	e    *entry
	open a2file.OpenGuard
}

func (f *dos33File) Name() string { return f.e.name() }
func (f *dos33File) FileType() int {
	return f.e.fileType().ProDOS()
}
// AuxType reports the Binary load address, stashed in the entry at
// create time and mirrored into the first data sector's header bytes.
func (f *dos33File) AuxType() int {
	if f.e.fileType() != TypeBinary {
		return 0
	}
	return f.e.auxType
}
func (f *dos33File) Length() int {
	list, err := f.d.tsList(f.e)
	if err != nil {
		return 0
	}
	length, _, _ := f.d.computeLength(f.e, list)
	return length
}
func (f *dos33File) Access() a2file.Access {
	if f.e.locked() {
		return a2file.AccessRead
	}
	return a2file.AccessRead | a2file.AccessWrite | a2file.AccessRename | a2file.AccessDelete
}
func (f *dos33File) Quality() a2file.Quality {
	list, err := f.d.tsList(f.e)
	if err != nil {
		return a2file.QualityDamaged
	}
	_, _, q := f.d.computeLength(f.e, list)
	return q
}

func (f *dos33File) Open() (a2file.A2FileDescr, error) {
	if err := f.open.Acquire(); err != nil {
		return nil, err
	}
	list, err := f.d.tsList(f.e)
	if err != nil {
		f.open.Release()
		return nil, err
	}
	length, dataOffset, _ := f.d.computeLength(f.e, list)
	return &dos33Descr{f: f, list: list, length: length, dataOffset: dataOffset}, nil
}

// dos33Descr is a seekable view over a file's sector chain.
// Writes are a one-shot operation requiring offset=0 on an empty
// file; dos33Descr.Write implements that restricted form, not general
// random-access writes.
type dos33Descr struct {
	f          *dos33File
	list       [][2]int
	length     int
	dataOffset int
	pos        int64
	pending    []byte // buffered Write() payload, committed to disk on Close
	progress   a2file.ProgressFunc
}

// SetProgress installs a hook commitWrite polls between data-sector
// writes; a false return cancels the commit before the catalog entry
// is updated.
func (d *dos33Descr) SetProgress(fn a2file.ProgressFunc) { d.progress = fn }

func (d *dos33Descr) Read(buf []byte) (int, error) {
	if d.pos >= int64(d.length) {
		if len(buf) == 0 {
			return 0, nil
		}
		return 0, errors.DataUnderrunf("dos33: read past end of file")
	}
	n := 0
	for n < len(buf) && d.pos < int64(d.length) {
		abs := d.pos + int64(d.dataOffset)
		sectorIdx := int(abs / sectorSize)
		within := int(abs % sectorSize)
		if sectorIdx >= len(d.list) {
			break
		}
		ts := d.list[sectorIdx]
		var sect []byte
		var err error
		if ts == [2]int{0, 0} {
			sect = make([]byte, sectorSize)
		} else {
			sect, err = d.f.d.readDataSector(ts)
			if err != nil {
				return n, err
			}
		}
		toCopy := len(buf) - n
		if toCopy > sectorSize-within {
			toCopy = sectorSize - within
		}
		if int64(toCopy) > int64(d.length)-d.pos {
			toCopy = int(int64(d.length) - d.pos)
		}
		copy(buf[n:n+toCopy], sect[within:within+toCopy])
		n += toCopy
		d.pos += int64(toCopy)
	}
	return n, nil
}

// Write buffers the one-shot payload; the actual allocation and header
// back-patching happens in Close, once the final content length is known.
func (d *dos33Descr) Write(buf []byte) (int, error) {
	if d.pos != 0 || d.length != 0 {
		return 0, errors.InvalidArgf("dos33: write requires an empty file opened at offset 0")
	}
	d.pending = append([]byte(nil), buf...)
	d.length = len(buf)
	d.pos = int64(len(buf))
	return len(buf), nil
}

func (d *dos33Descr) Seek(offset int64, whence a2file.Whence) error {
	pos, err := a2file.ResolveSeek(d.pos, offset, int64(d.length), whence)
	if err != nil {
		return err
	}
	d.pos = pos
	return nil
}

func (d *dos33Descr) Tell() (int64, error) { return d.pos, nil }

func (d *dos33Descr) Close() error {
	defer d.f.open.Release()
	if d.pending == nil {
		return nil
	}
	err := d.commitWrite(d.pending)
	d.pending = nil
	return err
}

// commitWrite lays content out across freshly allocated data sectors
// referenced from the entry's existing T/S-list sector, allocating and
// chaining further T/S-list sectors as needed, and prepends the
// per-type header (Binary's address+length, Applesoft/Integer's length)
// that DOS 3.3 stores as the first bytes of a file's data.
func (d *dos33Descr) commitWrite(content []byte) error {
	fs := d.f.d
	e := d.f.e

	var header []byte
	switch e.fileType() {
	case TypeBinary:
		header = []byte{byte(e.auxType), byte(e.auxType >> 8), byte(len(content)), byte(len(content) >> 8)}
	case TypeApplesoft, TypeInteger:
		header = []byte{byte(len(content)), byte(len(content) >> 8)}
	}
	buf := append(header, content...)

	nData := (len(buf) + sectorSize - 1) / sectorSize
	if nData == 0 {
		nData = 1 // every file occupies at least its already-allocated T/S-list sector's first data slot
	}
	dataTS := make([][2]int, 0, nData)
	for i := 0; i < nData; i++ {
		t, s, ok := fs.allocSector()
		if !ok {
			return errors.DiskFullf("dos33: no free sectors for file data")
		}
		dataTS = append(dataTS, [2]int{t, s})
	}

	tsListSectors := [][2]int{{e.tsListTrack, e.tsListSector}}
	for need := len(dataTS) - fs.tsPairsMax; need > 0; need -= fs.tsPairsMax {
		t, s, ok := fs.allocSector()
		if !ok {
			return errors.DiskFullf("dos33: no free sectors for T/S list")
		}
		tsListSectors = append(tsListSectors, [2]int{t, s})
	}

	for i, ts := range dataTS {
		chunk := make([]byte, sectorSize)
		start := i * sectorSize
		end := start + sectorSize
		if end > len(buf) {
			end = len(buf)
		}
		if start < len(buf) {
			copy(chunk, buf[start:end])
		}
		if err := fs.img.WriteTrackSector(ts[0], ts[1], chunk); err != nil {
			return err
		}
		fs.usage.MarkUsed(ts[0], ts[1], vu.PurposeUserData)
		if d.progress != nil && !d.progress(int64(end)) {
			return errors.Cancelledf("dos33: write cancelled at offset %d", end)
		}
	}

	for i, tsSect := range tsListSectors {
		sect := make([]byte, sectorSize)
		if i+1 < len(tsListSectors) {
			sect[0x01] = byte(tsListSectors[i+1][0])
			sect[0x02] = byte(tsListSectors[i+1][1])
		}
		base := i * fs.tsPairsMax
		for j := 0; j < fs.tsPairsMax && base+j < len(dataTS); j++ {
			off := tsListPairsOff + j*2
			sect[off] = byte(dataTS[base+j][0])
			sect[off+1] = byte(dataTS[base+j][1])
		}
		if err := fs.img.WriteTrackSector(tsSect[0], tsSect[1], sect); err != nil {
			return err
		}
		fs.usage.MarkUsed(tsSect[0], tsSect[1], vu.PurposeFileStruct)
	}

	e.lengthInSectors = len(tsListSectors) + len(dataTS)
	return fs.writeCatalogEntry(e)
}

// CreateFile allocates a T/S-list sector and a catalog slot:
// lengthInSectors starts at 1, and the
// first data sector is back-patched with header bytes on Close for
// Applesoft/Integer/Binary.
func (d *DOS33) CreateFile(name string, fileType, auxType int) (a2file.A2File, error) {
	if d.img.ReadOnly {
		return nil, errors.ReadOnlyf("dos33: image is read-only")
	}
	if d.notGood {
		return nil, errors.AccessDeniedf("dos33: disk structure is damaged, writes refused")
	}
	if !IsValidFileName(name) {
		return nil, errors.InvalidArgf("dos33: %q is not a valid file name", name)
	}
	dosType, ok := fileTypeFromProDOS(fileType)
	if !ok {
		return nil, errors.InvalidArgf("dos33: no DOS 3.3 type for file type $%02X", fileType)
	}
	for _, e := range d.entries {
		if !e.deleted && e.name() == name {
			return nil, errors.FileExistsf("dos33: file %q already exists", name)
		}
	}
	tsTrack, tsSector, ok := d.allocSector()
	if !ok {
		return nil, errors.DiskFullf("dos33: no free sectors for T/S list")
	}
	catTrack, catSector, slot, ok := d.findFreeCatalogSlot()
	if !ok {
		return nil, errors.VolumeDirFullf("dos33: catalog is full")
	}
	empty := make([]byte, sectorSize)
	if err := d.img.WriteTrackSector(tsTrack, tsSector, empty); err != nil {
		return nil, err
	}
	if err := d.usage.MarkUsed(tsTrack, tsSector, vu.PurposeFileStruct); err != nil {
		return nil, err
	}

	e := &entry{
		catTrack: catTrack, catSector: catSector, slotIndex: slot,
		tsListTrack: tsTrack, tsListSector: tsSector,
		typeAndLock: byte(dosType), lengthInSectors: 1,
		auxType: auxType,
	}
	padded := [30]byte{}
	for i := range padded {
		padded[i] = ' ' | 0x80
	}
	for i := 0; i < len(name) && i < 30; i++ {
		padded[i] = name[i] | 0x80
	}
	e.rawName = padded
	if err := d.writeCatalogEntry(e); err != nil {
		return nil, err
	}
	d.entries = append(d.entries, e)
	return &dos33File{d: d, e: e}, nil
}

func (d *DOS33) writeCatalogEntry(e *entry) error {
	sect, err := d.img.ReadTrackSector(e.catTrack, e.catSector)
	if err != nil {
		return err
	}
	off := catEntryOffset + e.slotIndex*catEntryLen
	buf := sect[off : off+catEntryLen]
	buf[0x00] = byte(e.tsListTrack)
	buf[0x01] = byte(e.tsListSector)
	buf[0x02] = e.typeAndLock
	copy(buf[0x03:0x21], e.rawName[:])
	buf[0x21] = byte(e.lengthInSectors & 0xff)
	buf[0x22] = byte(e.lengthInSectors >> 8)
	return d.img.WriteTrackSector(e.catTrack, e.catSector, sect)
}

// findFreeCatalogSlot scans the existing catalog chain for a slot whose
// first byte is 0x00 (never used).
func (d *DOS33) findFreeCatalogSlot() (track, sector, slot int, ok bool) {
	vtoc, err := d.img.ReadTrackSector(vtocTrack, vtocSector)
	if err != nil {
		return 0, 0, 0, false
	}
	track, sector = int(vtoc[0x01]), int(vtoc[0x02])
	for track != 0 || sector != 0 {
		sect, err := d.img.ReadTrackSector(track, sector)
		if err != nil {
			return 0, 0, 0, false
		}
		for i := 0; i < catEntriesPer; i++ {
			off := catEntryOffset + i*catEntryLen
			if sect[off] == 0x00 {
				return track, sector, i, true
			}
		}
		track, sector = int(sect[0x01]), int(sect[0x02])
	}
	return 0, 0, 0, false
}

// allocSector implements DOS's allocation policy: scan
// downward from the VTOC track toward track 0, then upward from
// VTOC+1 toward the last track; within a track, allocate the highest
// free sector.
func (d *DOS33) allocSector() (track, sector int, ok bool) {
	for t := vtocTrack - 1; t >= 0; t-- {
		if s, found := d.highestFreeSector(t); found {
			d.claimSector(t, s)
			return t, s, true
		}
	}
	for t := vtocTrack + 1; t < d.tracks; t++ {
		if s, found := d.highestFreeSector(t); found {
			d.claimSector(t, s)
			return t, s, true
		}
	}
	return 0, 0, false
}

func (d *DOS33) highestFreeSector(track int) (int, bool) {
	for s := d.sectorsPer - 1; s >= 0; s-- {
		isUsed, isMarked, _, err := d.usage.ChunkState(track, s)
		if err != nil {
			continue
		}
		if !isUsed && !isMarked {
			return s, true
		}
	}
	return 0, false
}

func (d *DOS33) claimSector(track, sector int) {
	d.usage.SetUsed(track, sector, true)
	d.setVTOCBitmap(track, sector, false)
	d.lastAllocTrk = track
	d.updateVTOCAlloc(track)
}

// setVTOCBitmap flips the on-disk free-sector bit for (track, sector) to
// match loadFreeMap's encoding, keeping the VTOC in sync with allocations
// and frees made through allocSector/DeleteFile.
func (d *DOS33) setVTOCBitmap(track, sector int, free bool) {
	vtoc, err := d.img.ReadTrackSector(vtocTrack, vtocSector)
	if err != nil {
		return
	}
	byteIdx := 0x38 + 4*track + sector/8
	bit := byte(1 << uint(sector%8))
	if free {
		vtoc[byteIdx] |= bit
	} else {
		vtoc[byteIdx] &^= bit
	}
	d.img.WriteTrackSector(vtocTrack, vtocSector, vtoc)
}

func (d *DOS33) updateVTOCAlloc(track int) {
	vtoc, err := d.img.ReadTrackSector(vtocTrack, vtocSector)
	if err != nil {
		return
	}
	vtoc[0x30] = byte(track)
	d.img.WriteTrackSector(vtocTrack, vtocSector, vtoc)
}

// DeleteFile marks the
// catalog entry's first byte 0xFF (relocating the T/S-list track to
// offset 0x20) and free every sector the file's T/S chain touches.
func (d *DOS33) DeleteFile(name string) error {
	if d.img.ReadOnly {
		return errors.ReadOnlyf("dos33: image is read-only")
	}
	if d.notGood {
		return errors.AccessDeniedf("dos33: disk structure is damaged, writes refused")
	}
	var target *entry
	for _, e := range d.entries {
		if !e.deleted && e.name() == name {
			target = e
			break
		}
	}
	if target == nil {
		return errors.ForkNotFoundf("dos33: file %q not found", name)
	}

	list, err := d.tsList(target)
	if err != nil {
		return err
	}
	for _, ts := range list {
		if ts != [2]int{0, 0} {
			d.usage.SetUsed(ts[0], ts[1], false)
			d.setVTOCBitmap(ts[0], ts[1], true)
		}
	}
	track, sector := target.tsListTrack, target.tsListSector
	for track != 0 || sector != 0 {
		sect, err := d.img.ReadTrackSector(track, sector)
		if err != nil {
			break
		}
		next := [2]int{int(sect[0x01]), int(sect[0x02])}
		d.usage.SetUsed(track, sector, false)
		d.setVTOCBitmap(track, sector, true)
		track, sector = next[0], next[1]
	}

	sect, err := d.img.ReadTrackSector(target.catTrack, target.catSector)
	if err != nil {
		return err
	}
	off := catEntryOffset + target.slotIndex*catEntryLen
	sect[off+0x20] = byte(target.tsListTrack)
	sect[off] = 0xFF
	if err := d.img.WriteTrackSector(target.catTrack, target.catSector, sect); err != nil {
		return err
	}
	target.deleted = true
	return nil
}

// RenameFile rewrites the catalog entry's name bytes in place; the T/S
// chain and type byte are untouched.
func (d *DOS33) RenameFile(oldName, newName string) error {
	if d.img.ReadOnly {
		return errors.ReadOnlyf("dos33: image is read-only")
	}
	if d.notGood {
		return errors.AccessDeniedf("dos33: disk structure is damaged, writes refused")
	}
	if !IsValidFileName(newName) {
		return errors.InvalidArgf("dos33: %q is not a valid file name", newName)
	}
	var target *entry
	for _, e := range d.entries {
		if e.deleted {
			continue
		}
		if e.name() == newName {
			return errors.FileExistsf("dos33: file %q already exists", newName)
		}
		if e.name() == oldName {
			target = e
		}
	}
	if target == nil {
		return errors.ForkNotFoundf("dos33: file %q not found", oldName)
	}
	padded := [30]byte{}
	for i := range padded {
		padded[i] = ' ' | 0x80
	}
	for i := 0; i < len(newName) && i < maxNameLen; i++ {
		padded[i] = newName[i] | 0x80
	}
	target.rawName = padded
	return d.writeCatalogEntry(target)
}

// SetFileInfo changes the type letter and locked bit. Changing to or
// from a type with embedded header data (B/I/A) does not rewrite the
// file content; only the catalog byte changes and the length is
// reinterpreted under the new type's rule. A new aux type is honored
// only for Binary files, where it's patched into the address word at
// the front of the first data sector.
func (d *DOS33) SetFileInfo(name string, fileType, auxType int, locked bool) error {
	if d.img.ReadOnly {
		return errors.ReadOnlyf("dos33: image is read-only")
	}
	if d.notGood {
		return errors.AccessDeniedf("dos33: disk structure is damaged, writes refused")
	}
	dosType, ok := fileTypeFromProDOS(fileType)
	if !ok {
		return errors.InvalidArgf("dos33: no DOS 3.3 type for file type $%02X", fileType)
	}
	var target *entry
	for _, e := range d.entries {
		if !e.deleted && e.name() == name {
			target = e
			break
		}
	}
	if target == nil {
		return errors.ForkNotFoundf("dos33: file %q not found", name)
	}

	target.typeAndLock = byte(dosType)
	if locked {
		target.typeAndLock |= lockedBit
	}
	if err := d.writeCatalogEntry(target); err != nil {
		return err
	}

	if dosType == TypeBinary && auxType != target.auxType {
		list, err := d.tsList(target)
		if err != nil {
			return err
		}
		if len(list) > 0 && list[0] != [2]int{0, 0} {
			sect, err := d.img.ReadTrackSector(list[0][0], list[0][1])
			if err != nil {
				return err
			}
			sect[0x00] = byte(auxType)
			sect[0x01] = byte(auxType >> 8)
			if err := d.img.WriteTrackSector(list[0][0], list[0][1], sect); err != nil {
				return err
			}
		}
		target.auxType = auxType
	}
	return nil
}

// Format lays down a fresh VTOC and an empty catalog chain on the bound
// image. A volumeName of "DOS" additionally reserves tracks 0-2 for the
// DOS image itself (the bitmap accounting; the boot tracks' content is
// whatever the image already holds); a decimal name sets the VTOC
// volume number. The in-memory catalog is reset; callers re-Initialize
// to mount the formatted volume.
func (d *DOS33) Format(volumeName string) error {
	if d.img.ReadOnly {
		return errors.ReadOnlyf("dos33: image is read-only")
	}
	tracks, spt := d.img.NumTracks, d.img.SectorsPerTrack
	if tracks < vtocTrack+1 || tracks > maxTracksLogic {
		return errors.InvalidArgf("dos33: can't format %d tracks", tracks)
	}
	if spt != 13 && spt != 16 && spt != 32 {
		return errors.InvalidArgf("dos33: can't format %d sectors per track", spt)
	}
	addDOS := false
	volNum := defaultVolumeNo
	switch {
	case volumeName == "DOS":
		if spt != 13 && spt != 16 {
			return errors.InvalidArgf("dos33: can't write DOS tracks with %d sectors per track", spt)
		}
		addDOS = true
	case volumeName != "":
		n, ok := parseVolumeNumber(volumeName)
		if !ok {
			return errors.InvalidArgf("dos33: %q is not a valid volume number", volumeName)
		}
		volNum = n
	}

	vtoc := make([]byte, sectorSize)
	vtoc[0x00] = 0x04
	vtoc[0x01] = vtocTrack            // first catalog track
	vtoc[0x02] = byte(spt - 1)        // first catalog sector
	vtoc[0x03] = 3                    // DOS version
	vtoc[0x06] = byte(volNum)
	vtoc[0x27] = maxTSPairs
	vtoc[0x30] = vtocTrack + 1        // last allocated
	vtoc[0x31] = 1                    // ascending
	vtoc[0x34] = byte(tracks)
	vtoc[0x35] = byte(spt)
	vtoc[0x37] = 0x01                 // 256 bytes/sector
	if spt == 13 {
		vtoc[0x00] = 0x02
		vtoc[0x03] = 2
	}

	// Free bitmap: everything free except the boot track(s) and the
	// VTOC sector itself. The catalog chain lives on the VTOC track,
	// which the allocation scan never visits.
	reserved := 1
	if addDOS {
		reserved = 3
	}
	for t := 0; t < tracks; t++ {
		for s := 0; s < spt; s++ {
			if t < reserved || (t == vtocTrack && s == vtocSector) {
				continue
			}
			vtoc[0x38+4*t+s/8] |= 1 << uint(s%8)
		}
	}
	if err := d.img.WriteTrackSector(vtocTrack, vtocSector, vtoc); err != nil {
		return err
	}

	// Catalog chain: highest sector down to sector 2, each linking to
	// the one below; sector 1 stays zero and terminates the chain.
	sect := make([]byte, sectorSize)
	sect[0x01] = vtocTrack
	for s := spt - 1; s > 1; s-- {
		sect[0x02] = byte(s - 1)
		if err := d.img.WriteTrackSector(vtocTrack, s, sect); err != nil {
			return err
		}
	}
	if err := d.img.WriteTrackSector(vtocTrack, 1, make([]byte, sectorSize)); err != nil {
		return err
	}

	d.entries = nil
	d.usage = nil
	d.notGood = false
	d.volumeNum = volNum
	return nil
}

// RenameVolume changes the VTOC volume number. The numbers embedded in
// the nibble sector address headers can't be rewritten from here, so
// only the VTOC entry changes.
func (d *DOS33) RenameVolume(newName string) error {
	if d.img.ReadOnly {
		return errors.ReadOnlyf("dos33: image is read-only")
	}
	n, ok := parseVolumeNumber(newName)
	if !ok {
		return errors.InvalidArgf("dos33: %q is not a valid volume number", newName)
	}
	vtoc, err := d.img.ReadTrackSector(vtocTrack, vtocSector)
	if err != nil {
		return err
	}
	vtoc[0x06] = byte(n)
	if err := d.img.WriteTrackSector(vtocTrack, vtocSector, vtoc); err != nil {
		return err
	}
	d.volumeNum = n
	return nil
}
