package main

import (
	"os"
	"path/filepath"
	"testing"

	persistlog "taintgrid.ai/internal/persistence/log"
)

func TestLatestSnapshot_PicksHighestTick(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"9.snap.zst", "120.snap.zst", "30.snap.zst", "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := latestSnapshot(dir); filepath.Base(got) != "120.snap.zst" {
		t.Fatalf("latest=%q want 120.snap.zst", got)
	}
	if got := latestSnapshot(filepath.Join(dir, "missing")); got != "" {
		t.Fatalf("missing dir latest=%q", got)
	}
}

func TestOpenRuntimeIndex_Backends(t *testing.T) {
	dir := t.TempDir()

	idx, err := openRuntimeIndex(dir, true)
	if err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}

	t.Setenv("TAINTGRID_INDEX_BACKEND", "off")
	idx, err = openRuntimeIndex(dir, false)
	if err != nil || idx != nil {
		t.Fatalf("off: idx=%v err=%v", idx, err)
	}

	t.Setenv("TAINTGRID_INDEX_BACKEND", "postgres")
	if _, err := openRuntimeIndex(dir, false); err == nil {
		t.Fatalf("expected unsupported backend error")
	}

	t.Setenv("TAINTGRID_INDEX_BACKEND", "sqlite")
	idx, err = openRuntimeIndex(dir, false)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer idx.Close()
	if _, err := os.Stat(IndexPath(dir)); err != nil {
		t.Fatalf("index file: %v", err)
	}
}

type countingLogger struct{ n int }

func (c *countingLogger) WriteOp(persistlog.OpEntry) error { c.n++; return nil }

func TestMultiOpLogger_FansOut(t *testing.T) {
	a, b := &countingLogger{}, &countingLogger{}
	m := multiOpLogger{a: a, b: b}
	_ = m.WriteOp(persistlog.OpEntry{Op: "ADD"})
	_ = m.WriteOp(persistlog.OpEntry{Op: "SET"})
	if a.n != 2 || b.n != 2 {
		t.Fatalf("a=%d b=%d want 2 2", a.n, b.n)
	}
	_ = multiOpLogger{a: a}.WriteOp(persistlog.OpEntry{})
	if a.n != 3 {
		t.Fatalf("a=%d want 3", a.n)
	}
}
