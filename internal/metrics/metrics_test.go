package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordOp("EQUALIZE", true, time.Millisecond)
	m.RecordOp("EQUALIZE", true, time.Millisecond)
	m.RecordOp("EQUALIZE", false, time.Millisecond)
	m.AddClamps(3)
	m.AddClamps(-1)
	m.RecordSnapshot(nil)
	m.RecordReload(errors.New("bad"))
	m.SetState(7, 2, 1.5, 1, 0.25)
	m.RecordUpload("snapshot", nil)
	m.RecordUpload("snapshot", errors.New("503"))

	if got := testutil.ToFloat64(m.ops.WithLabelValues("EQUALIZE", "ok")); got != 2 {
		t.Fatalf("ops ok=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.ops.WithLabelValues("EQUALIZE", "error")); got != 1 {
		t.Fatalf("ops error=%v want 1", got)
	}
	if got := testutil.ToFloat64(m.clamps); got != 3 {
		t.Fatalf("clamps=%v want 3", got)
	}
	if got := testutil.ToFloat64(m.reloads.WithLabelValues("error")); got != 1 {
		t.Fatalf("reloads error=%v want 1", got)
	}
	if got := testutil.ToFloat64(m.ledgerTotal); got != 1.5 {
		t.Fatalf("ledger total=%v want 1.5", got)
	}
	if got := testutil.ToFloat64(m.tick); got != 7 {
		t.Fatalf("tick=%v want 7", got)
	}
	if got := testutil.ToFloat64(m.uploads.WithLabelValues("snapshot", "error")); got != 1 {
		t.Fatalf("uploads error=%v want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordOp("GET", true, 0)
	m.AddClamps(1)
	m.RecordSnapshot(nil)
	m.RecordReload(nil)
	m.RecordUpload("archive", nil)
	m.ConnOpened()
	m.ConnClosed()
	m.SetState(0, 0, 0, 0, 0)
}
