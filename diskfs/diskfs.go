// Package diskfs defines the L3 common interface every filesystem
// variant (DOS33, Pascal, CPM, RDOS, Gutenberg, FAT, MacPart,
// FocusDrive) implements, plus the variant registry that binds a
// diskimg.AnalyzeResult to a concrete DiskFS. The mutation operations
// are optional; the capability set is a per-variant constant, so a
// caller can treat every variant uniformly and consult Capabilities()
// before attempting a write.
package diskfs

import (
	pkgerrors "github.com/pkg/errors"

	"github.com/fadden/ciderdisk/a2file"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/vu"
)

// InitDepth controls how much of a volume Initialize reads.
type InitDepth int

const (
	// InitHeaderOnly loads just enough to identify the volume (name,
	// size) without walking the full catalog.
	InitHeaderOnly InitDepth = iota
	// InitFull loads the catalog and usage map.
	InitFull
)

// ScanSubVolumes controls whether Initialize looks for an embedded
// container filesystem.
type ScanSubVolumes int

const (
	ScanDisabled ScanSubVolumes = iota
	ScanContainerOnly
	ScanEnabled
)

// Capabilities is the per-variant constant set of optional mutation
// operations a DiskFS instance actually supports.
type Capabilities struct {
	CanCreateFile    bool
	CanDeleteFile    bool
	CanRenameFile    bool
	CanSetInfo       bool
	CanFormat        bool
	CanRenameVolume  bool
	HasSubdirs       bool
}

// DiskFS is the common interface every filesystem variant implements.
// The six mutation methods are meaningful only when the corresponding
// Capabilities flag is set; a variant that doesn't support an operation
// returns errors.InvalidArgf rather than omitting the method, so callers
// can treat DiskFS uniformly and consult Capabilities() up front.
type DiskFS interface {
	// Name identifies the variant, e.g. "dos33", "pascal".
	Name() string
	Capabilities() Capabilities

	// Initialize loads the catalog (and, for InitFull, the usage map)
	// from the bound DiskImg.
	Initialize(depth InitDepth, scan ScanSubVolumes) error

	VolumeName() string
	VolumeUsage() *vu.VolumeUsage

	// ListFiles returns every catalog entry at the top level (or, for
	// filesystems with subdirectories, at subdir).
	ListFiles(subdir string) ([]a2file.A2File, error)
	// OpenFile retrieves a file by name, ready for A2File.Open().
	OpenFile(name string) (a2file.A2File, error)

	CreateFile(name string, fileType, auxType int) (a2file.A2File, error)
	DeleteFile(name string) error
	RenameFile(oldName, newName string) error
	SetFileInfo(name string, fileType, auxType int, locked bool) error
	Format(volumeName string) error
	RenameVolume(newName string) error

	// SubVolumes returns child DiskFS instances recursively mounted from
	// a partitioned container (MacPart, FocusDrive); empty for ordinary
	// variants.
	SubVolumes() []DiskFS
}

// Factory constructs a DiskFS bound to img, using the sector order and
// confidence AnalyzeImage already settled on.
type Factory func(img *diskimg.DiskImg) (DiskFS, error)

var factories = map[string]Factory{}

// Register binds a variant name (matching the diskimg.FormatProbe.Name
// that won AnalyzeImage) to its DiskFS constructor. Expected to be
// called only from variant package init functions.
func Register(name string, f Factory) {
	factories[name] = f
}

// Open runs diskimg.AnalyzeImage and constructs the winning variant's
// DiskFS. It does not call Initialize; embedded containers are mounted
// by the container variant's own Initialize.
func Open(img *diskimg.DiskImg, orders []diskimg.SectorOrder) (DiskFS, error) {
	result, err := img.AnalyzeImage(orders)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "diskfs: open")
	}
	factory, ok := factories[result.Probe.Name()]
	if !ok {
		return nil, errors.FilesystemNotFoundf("diskfs: %s matched but has no registered factory", result.Probe.Name())
	}
	fs, err := factory(img)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "diskfs: constructing %s", result.Probe.Name())
	}
	return fs, nil
}

// Unknown is the placeholder DiskFS a container format (MacPart,
// FocusDrive) mounts for a partition whose filesystem couldn't be
// identified, so the partition still shows up in SubVolumes() rather
// than vanishing silently.
type Unknown struct {
	UnsupportedMutation
	volumeName string
}

// NewUnknown builds an Unknown placeholder carrying just the partition
// name a container already knows from its own partition-map entry.
func NewUnknown(volumeName string) DiskFS { return &Unknown{volumeName: volumeName} }

func (u *Unknown) Name() string                                       { return "unknown" }
func (u *Unknown) Capabilities() Capabilities                         { return Capabilities{} }
func (u *Unknown) Initialize(depth InitDepth, scan ScanSubVolumes) error { return nil }
func (u *Unknown) VolumeName() string                                 { return u.volumeName }
func (u *Unknown) VolumeUsage() *vu.VolumeUsage                       { return nil }
func (u *Unknown) ListFiles(subdir string) ([]a2file.A2File, error) {
	return nil, errors.FilesystemNotFoundf("diskfs: partition %q has no identified filesystem", u.volumeName)
}
func (u *Unknown) OpenFile(name string) (a2file.A2File, error) {
	return nil, errors.FilesystemNotFoundf("diskfs: partition %q has no identified filesystem", u.volumeName)
}

// UnsupportedMutation is the shared implementation every read-only (or
// partially-mutable) variant embeds for the mutation methods its
// Capabilities doesn't claim, so each variant package only needs to
// override what it actually supports.
type UnsupportedMutation struct{}

func (UnsupportedMutation) CreateFile(name string, fileType, auxType int) (a2file.A2File, error) {
	return nil, errors.InvalidArgf("diskfs: create not supported")
}
func (UnsupportedMutation) DeleteFile(name string) error {
	return errors.InvalidArgf("diskfs: delete not supported")
}
func (UnsupportedMutation) RenameFile(oldName, newName string) error {
	return errors.InvalidArgf("diskfs: rename not supported")
}
func (UnsupportedMutation) SetFileInfo(name string, fileType, auxType int, locked bool) error {
	return errors.InvalidArgf("diskfs: set-info not supported")
}
func (UnsupportedMutation) Format(volumeName string) error {
	return errors.InvalidArgf("diskfs: format not supported")
}
func (UnsupportedMutation) RenameVolume(newName string) error {
	return errors.InvalidArgf("diskfs: rename-volume not supported")
}
func (UnsupportedMutation) SubVolumes() []DiskFS { return nil }
