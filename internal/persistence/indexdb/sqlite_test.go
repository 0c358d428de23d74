package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	persistlog "taintgrid.ai/internal/persistence/log"
	"taintgrid.ai/internal/persistence/snapshot"
	"taintgrid.ai/internal/sim/tuning"
)

func TestSQLiteIndex_WritesOpsAndSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "session.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = idx.WriteOp(persistlog.OpEntry{Tick: 5, SessionID: "s", Op: "ADD", Target: "object:a", OK: true, Value: 2})
	_ = idx.WriteOp(persistlog.OpEntry{Tick: 5, SessionID: "s", Op: "EQUALIZE", Target: "object:a", Other: "object:b", OK: true, Moved: 0.5})
	_ = idx.WriteOp(persistlog.OpEntry{Tick: 6, SessionID: "s", Op: "GET", Code: "E_INVALID_TARGET"})
	idx.RecordSnapshot("/data/10.snap.zst", snapshot.SnapshotV1{
		Header: snapshot.Header{Version: 1, SessionID: "s", Tick: 10},
		Ledger: []snapshot.LedgerEntryV1{{ID: "a", Level: 1}, {ID: "b", Level: 0.5}},
		Grids:  []snapshot.GridV1{{Region: "r", Width: 1, Height: 2, Values: []float64{0.25, 0.25}}},
	})
	if err := idx.RecordTuning(tuning.Defaults()); err != nil {
		t.Fatalf("RecordTuning: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ops WHERE tick=5`).Scan(&n); err != nil {
		t.Fatalf("count ops: %v", err)
	}
	if n != 2 {
		t.Fatalf("ops at tick 5=%d want 2", n)
	}
	var (
		seq   int
		moved float64
	)
	if err := db.QueryRow(`SELECT seq, moved FROM ops WHERE op='EQUALIZE'`).Scan(&seq, &moved); err != nil {
		t.Fatalf("scan equalize: %v", err)
	}
	if seq != 1 || moved != 0.5 {
		t.Fatalf("seq=%d moved=%v want 1, 0.5", seq, moved)
	}
	var digest string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='tuning_digest'`).Scan(&digest); err != nil || len(digest) != 64 {
		t.Fatalf("tuning digest=%q err=%v", digest, err)
	}

	rows, err := QuerySnapshots(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("QuerySnapshots: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("snapshots=%d want 1", len(rows))
	}
	r := rows[0]
	if r.Tick != 10 || r.LedgerEntries != 2 || r.Regions != 1 || r.LedgerTotal != 1.5 || r.GridTotal != 0.5 {
		t.Fatalf("row=%+v", r)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqOp}

	_ = s.WriteOp(persistlog.OpEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropOpTotal != 1 {
		t.Fatalf("DropOpTotal=%d want=1", st.DropOpTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilSafe(t *testing.T) {
	var s *SQLiteIndex
	_ = s.WriteOp(persistlog.OpEntry{})
	s.RecordSnapshot("", snapshot.SnapshotV1{})
	if err := s.RecordTuning(tuning.Defaults()); err != nil {
		t.Fatalf("RecordTuning: %v", err)
	}
	if st := s.Stats(); st.QueueCapacity != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestSQLiteIndex_SeqResumesAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.sqlite")
	for i := 0; i < 2; i++ {
		idx, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		_ = idx.WriteOp(persistlog.OpEntry{Tick: 3, SessionID: "s", Op: "ADD", OK: true})
		if err := idx.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	db, _ := sql.Open("sqlite", path)
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ops WHERE tick=3`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("ops=%d want 2 (second run must not overwrite seq 0)", n)
	}
}
