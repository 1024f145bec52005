package focusdrive

import (
	"testing"

	"github.com/fadden/ciderdisk/diskfs"
	"github.com/fadden/ciderdisk/diskimg"
)

const volBlocks = 64

type testPart struct {
	start, count int
	name         string
}

// buildContainer assembles a FocusDrive image: the "Parsons Engin."
// signature block with the partition table at 0x20, and the partition
// names in blocks 1-2.
func buildContainer(t *testing.T, parts []testPart) *diskimg.DiskImg {
	t.Helper()
	img, err := diskimg.NewBlockImage(make([]byte, volBlocks*512), volBlocks, false)
	if err != nil {
		t.Fatalf("NewBlockImage: %v", err)
	}

	block0 := make([]byte, 512)
	copy(block0, signature)
	block0[len(signature)] = byte(len(parts))
	for i, p := range parts {
		off := entryTableOff + i*entrySize
		block0[off] = byte(p.start >> 24)
		block0[off+1] = byte(p.start >> 16)
		block0[off+2] = byte(p.start >> 8)
		block0[off+3] = byte(p.start)
		block0[off+4] = byte(p.count >> 24)
		block0[off+5] = byte(p.count >> 16)
		block0[off+6] = byte(p.count >> 8)
		block0[off+7] = byte(p.count)
	}
	if err := img.WriteBlock(0, block0); err != nil {
		t.Fatal(err)
	}

	names := make([]byte, 1024)
	for i, p := range parts {
		copy(names[32+i*nameLen:], p.name)
	}
	if err := img.WriteBlock(namesStartBlk, names[:512]); err != nil {
		t.Fatal(err)
	}
	if err := img.WriteBlock(namesStartBlk+1, names[512:]); err != nil {
		t.Fatal(err)
	}
	return img
}

func TestProbe(t *testing.T) {
	img := buildContainer(t, []testPart{{start: 10, count: 8, name: "HD.1"}})
	if ok, _ := (probe{}).TestFS(img, diskimg.SectorOrderProDOS); !ok {
		t.Errorf("probe rejected a valid FocusDrive block 0")
	}
	blank, _ := diskimg.NewBlockImage(make([]byte, volBlocks*512), volBlocks, false)
	if ok, _ := (probe{}).TestFS(blank, diskimg.SectorOrderProDOS); ok {
		t.Errorf("probe accepted a blank image")
	}
}

func TestPartitionTableAndNames(t *testing.T) {
	img := buildContainer(t, []testPart{
		{start: 10, count: 8, name: "SYSTEM"},
		{start: 18, count: 20, name: "USER.DATA"},
	})
	fs, err := New(img)
	if err != nil {
		t.Fatal(err)
	}
	f := fs.(*FocusDrive)
	if err := f.Initialize(diskfs.InitFull, diskfs.ScanEnabled); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(f.partitions) != 2 {
		t.Fatalf("parsed %d partitions, want 2", len(f.partitions))
	}
	if f.partitions[0].startBlock != 10 || f.partitions[0].blockCount != 8 {
		t.Errorf("partition 0 = %+v", f.partitions[0])
	}
	if f.partitions[1].name != "USER.DATA" {
		t.Errorf("partition 1 name = %q, want USER.DATA", f.partitions[1].name)
	}

	// Neither partition holds an identifiable filesystem; both stay
	// visible as named Unknown placeholders.
	subs := f.SubVolumes()
	if len(subs) != 2 {
		t.Fatalf("SubVolumes() = %d entries, want 2", len(subs))
	}
	if subs[0].VolumeName() != "SYSTEM" {
		t.Errorf("placeholder name = %q, want SYSTEM", subs[0].VolumeName())
	}
}

func TestImplausiblePartitionCountRejected(t *testing.T) {
	img := buildContainer(t, []testPart{{start: 10, count: 8, name: "X"}})
	block0, err := img.ReadBlock(0)
	if err != nil {
		t.Fatal(err)
	}
	block0[len(signature)] = maxEntries + 1
	img.WriteBlock(0, block0)

	if ok, _ := (probe{}).TestFS(img, diskimg.SectorOrderProDOS); ok {
		t.Errorf("probe accepted a partition count above %d", maxEntries)
	}
	fs, _ := New(img)
	if err := fs.Initialize(diskfs.InitFull, diskfs.ScanEnabled); err == nil {
		t.Errorf("Initialize accepted a partition count above %d", maxEntries)
	}
}
