package snapshot

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func sampleSnapshot() SnapshotV1 {
	return SnapshotV1{
		Header: Header{Version: Version, SessionID: "s1", Tick: 99},
		Ledger: []LedgerEntryV1{
			{ID: "pawn_1", Level: 0.1 + 0.2},
			{ID: "thing_9", Level: math.SmallestNonzeroFloat64},
		},
		Grids: []GridV1{
			{Region: "map_0", Width: 2, Height: 2, Values: []float64{0, 1.5, math.MaxFloat64, 1.0 / 7.0}},
		},
	}
}

func TestWriteReadSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "99.snap.zst")
	want := sampleSnapshot()
	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if got.Header != want.Header {
		t.Fatalf("header=%+v want %+v", got.Header, want.Header)
	}
	for i := range want.Ledger {
		if got.Ledger[i].ID != want.Ledger[i].ID || math.Float64bits(got.Ledger[i].Level) != math.Float64bits(want.Ledger[i].Level) {
			t.Fatalf("ledger[%d]=%+v want %+v", i, got.Ledger[i], want.Ledger[i])
		}
	}
	g := got.Grids[0]
	for i, v := range want.Grids[0].Values {
		if math.Float64bits(g.Values[i]) != math.Float64bits(v) {
			t.Fatalf("grid value %d=%v want %v", i, g.Values[i], v)
		}
	}
}

func TestReadHeader(t *testing.T) {
	b, err := Marshal(sampleSnapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	h, err := ReadHeader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.SessionID != "s1" || h.Tick != 99 {
		t.Fatalf("header=%+v", h)
	}
}

func TestDecode_EmptyBlocks(t *testing.T) {
	b, err := Marshal(SnapshotV1{Header: Header{Version: Version}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	snap, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(snap.Ledger) != 0 || len(snap.Grids) != 0 {
		t.Fatalf("unexpected blocks: %+v", snap)
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Unmarshal([]byte("not a snapshot")); err == nil {
		t.Fatalf("expected error")
	}
}
