package vu

import "testing"

func TestMarkUsedConflict(t *testing.T) {
	v := Create(1, 16)
	if err := v.MarkUsed(0, 3, PurposeUserData); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if err := v.MarkUsed(0, 3, PurposeSystem); err != nil {
		t.Fatalf("MarkUsed (second claim): %v", err)
	}
	_, marked, purpose, err := v.ChunkState(0, 3)
	if err != nil {
		t.Fatalf("ChunkState: %v", err)
	}
	if !marked || purpose != PurposeConflict {
		t.Errorf("after conflicting claims: marked=%v purpose=%v, want marked=true purpose=Conflict", marked, purpose)
	}

	// A conflict is sticky: further claims never clear it.
	if err := v.MarkUsed(0, 3, PurposeUserData); err != nil {
		t.Fatalf("MarkUsed (third claim): %v", err)
	}
	_, _, purpose, _ = v.ChunkState(0, 3)
	if purpose != PurposeConflict {
		t.Errorf("conflict cleared by a later claim: purpose=%v", purpose)
	}
	if got := v.Conflicts(); got != 1 {
		t.Errorf("Conflicts() = %d, want 1", got)
	}
}

func TestMarkUsedSamePurposeNoConflict(t *testing.T) {
	v := Create(1, 16)
	v.MarkUsed(0, 5, PurposeUserData)
	v.MarkUsed(0, 5, PurposeUserData)
	_, _, purpose, _ := v.ChunkState(0, 5)
	if purpose != PurposeUserData {
		t.Errorf("repeated same-purpose claim: purpose=%v, want UserData", purpose)
	}
}

func TestGetActualFreeChunks(t *testing.T) {
	v := Create(1, 16)
	v.SetUsed(0, 0, true)
	v.MarkUsed(0, 1, PurposeUserData)
	// sector 0: used by bitmap, not claimed by us -> not free
	// sector 1: claimed by us, not in bitmap -> not free
	// sectors 2-15: neither -> free
	if got, want := v.GetActualFreeChunks(), 14; got != want {
		t.Errorf("GetActualFreeChunks() = %d, want %d", got, want)
	}
}

func TestDumpGlyphs(t *testing.T) {
	v := Create(1, 5)
	v.SetUsed(0, 0, true)
	v.MarkUsed(0, 0, PurposeSystem) // 'S': used + marked, purpose letter
	v.SetUsed(0, 1, true)           // '!': used, unmarked
	v.MarkUsed(0, 2, PurposeSubdir) // 'X': marked, unused
	v.MarkUsed(0, 3, PurposeUserData)
	v.MarkUsed(0, 3, PurposeSystem) // '#': conflicting claims
	// sector 4 stays '.'
	want := "S!X#."
	if got := v.Dump(); got != want {
		t.Errorf("Dump() = %q, want %q", got, want)
	}
	if got := v.Unowned(); got != 1 {
		t.Errorf("Unowned() = %d, want 1", got)
	}
}

func TestBlockAddressedVolume(t *testing.T) {
	v := CreateBlocks(280)
	if err := v.MarkBlockUsed(5, PurposeVolumeDir); err != nil {
		t.Fatalf("MarkBlockUsed: %v", err)
	}
	if err := v.MarkUsed(0, 0, PurposeSystem); err == nil {
		t.Errorf("MarkUsed on a block-addressed volume: got nil error, want an InvalidArg error")
	}
}
