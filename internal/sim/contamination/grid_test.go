package contamination

import "testing"

func TestGrids_InvalidRegionOrCellIsNoop(t *testing.T) {
	gs := NewGrids()
	if got := gs.Get("missing", Cell{X: 1, Z: 1}); got != 0 {
		t.Fatalf("Get=%v want 0", got)
	}
	if got := gs.Add("missing", Cell{X: 1, Z: 1}, 5); got != 0 {
		t.Fatalf("Add=%v want 0", got)
	}
	gs.Set("missing", Cell{}, 5)

	gs.Create("r1", 4, 3)
	for _, c := range []Cell{{X: -1, Z: 0}, {X: 4, Z: 0}, {X: 0, Z: 3}, {X: 0, Z: -1}} {
		gs.Set("r1", c, 7)
		if got := gs.Add("r1", c, 7); got != 0 {
			t.Fatalf("Add out of bounds %v=%v want 0", c, got)
		}
		if got := gs.Get("r1", c); got != 0 {
			t.Fatalf("Get out of bounds %v=%v want 0", c, got)
		}
	}
	if g := gs.Grid("r1"); g.Total() != 0 {
		t.Fatalf("grid total=%v want 0", g.Total())
	}
}

func TestGrids_AddClampsAtZero(t *testing.T) {
	gs := NewGrids()
	gs.Create("r1", 2, 2)
	c := Cell{X: 1, Z: 1}
	gs.Set("r1", c, 3)
	if got := gs.Add("r1", c, -5); got != -3 {
		t.Fatalf("Add=%v want -3", got)
	}
	if got := gs.Get("r1", c); got != 0 {
		t.Fatalf("Get=%v want 0", got)
	}
	gs.Set("r1", c, -1)
	if got := gs.Get("r1", c); got != 0 {
		t.Fatalf("negative Set stored %v", got)
	}
}

func TestGrids_RowMajorLayout(t *testing.T) {
	gs := NewGrids()
	g, err := gs.Create("r1", 3, 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	gs.Set("r1", Cell{X: 2, Z: 1}, 9)
	if g.Values[5] != 9 {
		t.Fatalf("values=%v want index 5 set", g.Values)
	}
	if g.Max() != 9 {
		t.Fatalf("Max=%v want 9", g.Max())
	}
}

func TestGrids_RestoreValidatesLength(t *testing.T) {
	gs := NewGrids()
	if err := gs.Restore("r1", 2, 2, []float64{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short value array")
	}
	if err := gs.Restore("r1", 2, 2, []float64{1, -2, 3, 4}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := gs.Get("r1", Cell{X: 1, Z: 0}); got != 0 {
		t.Fatalf("negative restored as %v", got)
	}
	gs.Destroy("r1")
	if gs.Grid("r1") != nil || gs.Len() != 0 {
		t.Fatalf("grid survived Destroy")
	}
}

func TestGrids_RejectsOversizedDimensions(t *testing.T) {
	gs := NewGrids()
	if _, err := gs.Create("r1", 4, 4); err != nil {
		t.Fatalf("Create: %v", err)
	}
	cases := []struct{ w, h int }{
		{1 << 32, 1 << 32}, // product wraps to 0 in int
		{MaxGridSide + 1, 1},
		{MaxGridSide, MaxGridSide},
		{-1, 4},
		{100000, 100000},
	}
	for _, c := range cases {
		if _, err := gs.Create("r1", c.w, c.h); err == nil {
			t.Fatalf("Create(%d,%d) accepted", c.w, c.h)
		}
		if err := gs.Restore("r2", c.w, c.h, nil); err == nil {
			t.Fatalf("Restore(%d,%d) accepted", c.w, c.h)
		}
	}
	if g := gs.Grid("r1"); g == nil || g.Width != 4 {
		t.Fatalf("rejected Create replaced the existing grid")
	}
	if gs.Grid("r2") != nil {
		t.Fatalf("rejected Restore installed a grid")
	}
	if err := CheckGridSize(MaxGridSide, MaxGridCells/MaxGridSide); err != nil {
		t.Fatalf("largest allowed grid rejected: %v", err)
	}
}
