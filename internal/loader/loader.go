// Package loader turns a raw file on disk into a mounted diskfs.DiskFS:
// strip any outer wrapper (gzip/ZIP/DDD), infer sectored geometry from
// the unwrapped size, build a diskimg.DiskImg, then run the variant
// probe.
package loader

import (
	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
	"github.com/fadden/ciderdisk/errors"
	"github.com/fadden/ciderdisk/genericfd"
	"github.com/fadden/ciderdisk/internal/logsink"
	"github.com/fadden/ciderdisk/wrapper"
)

const (
	size13Sector = 35 * 13 * 256
	size16Sector = 35 * 16 * 256
	nibbleTracks = 35
)

// Result is a fully mounted image, ready for ListFiles/OpenFile.
type Result struct {
	Image *diskimg.DiskImg
	FS    diskfs.DiskFS
	Wrap  wrapper.Format
}

// Open unwraps raw, infers geometry, and mounts the best-matching
// DiskFS variant. raw is first run through a genericfd.GenericFD so
// the unwrap/analyze pipeline below reads the image the same way
// regardless of whether the caller got these bytes from a host file or
// an in-memory buffer.
func Open(raw []byte, readOnly bool) (*Result, error) {
	gfd, err := genericfd.OpenMem("image", raw, readOnly)
	if err != nil {
		return nil, err
	}
	defer gfd.Close()
	raw, err = gfd.Bytes()
	if err != nil {
		return nil, err
	}

	format, w := wrapper.Identify(raw)
	data := raw
	if w != nil {
		res, err := w.Load(raw)
		if err != nil {
			return nil, err
		}
		if res.Damaged {
			logsink.Warn("loader: %s wrapper tolerated damage while unwrapping", format)
		}
		data = res.Data
	}

	if len(data) == diskimg.NibbleImageSize {
		return openNibble(data, format, readOnly)
	}

	sectorsPerTrack, ok := inferSectorsPerTrack(len(data))
	if !ok {
		return nil, errors.BadDiskImagef("loader: %d bytes doesn't match a known sectored image size", len(data))
	}
	tracks := len(data) / (sectorsPerTrack * 256)

	img, err := diskimg.NewSectored(data, tracks, sectorsPerTrack, diskimg.SectorOrderDOS, readOnly)
	if err != nil {
		return nil, err
	}

	fs, err := diskfs.Open(img, nil)
	if err != nil {
		return nil, err
	}
	if err := fs.Initialize(diskfs.InitFull, diskfs.ScanEnabled); err != nil {
		return nil, err
	}
	return &Result{Image: img, FS: fs, Wrap: format}, nil
}

// openNibble handles the case where the unwrapped image is a raw
// 35-track 6&2/5&3 nibble dump: it has no fixed sector order to probe
// (physical format only), so the dialect itself must be identified
// before a DiskFS variant can be tried against the decoded sectors.
func openNibble(data []byte, format wrapper.Format, readOnly bool) (*Result, error) {
	analyzed, err := diskimg.AnalyzeNibbleDialect(data, nibbleTracks, nil)
	if err != nil {
		return nil, err
	}
	img, err := diskimg.NewNibble(data, nibbleTracks, analyzed.Descr, readOnly)
	if err != nil {
		return nil, err
	}
	img.DOSVolumeNum = analyzed.ProtoVol

	// A nibble decode already returns each sector addressed by the raw
	// hardware sector number recorded in its address field; there is no
	// separate linear-layout skew to probe, unlike a flat sectored .dsk.
	// Only SectorOrderPhysical (the identity permutation) is meaningful
	// here; trying the other orders would silently misaddress every
	// sector past 0 once a filesystem probe reads its catalog chain.
	fs, err := diskfs.Open(img, []diskimg.SectorOrder{diskimg.SectorOrderPhysical})
	if err != nil {
		return nil, err
	}
	if err := fs.Initialize(diskfs.InitFull, diskfs.ScanEnabled); err != nil {
		return nil, err
	}
	return &Result{Image: img, FS: fs, Wrap: format}, nil
}

func inferSectorsPerTrack(size int) (int, bool) {
	switch {
	case size == size16Sector:
		return 16, true
	case size == size13Sector:
		return 13, true
	case size%(16*256) == 0:
		return 16, true
	case size%(13*256) == 0:
		return 13, true
	default:
		return 0, false
	}
}
