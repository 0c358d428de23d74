package contamination

import (
	"errors"
	"math"
	"testing"
)

type fakeWorld struct {
	region   map[ObjectID]RegionID
	cell     map[ObjectID]Cell
	holdings map[ObjectID][]ObjectID
	stacks   map[ObjectID]int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		region:   map[ObjectID]RegionID{},
		cell:     map[ObjectID]Cell{},
		holdings: map[ObjectID][]ObjectID{},
		stacks:   map[ObjectID]int{},
	}
}

func (w *fakeWorld) place(id ObjectID, r RegionID, c Cell) {
	w.region[id] = r
	w.cell[id] = c
}

func (w *fakeWorld) env() Env {
	return Env{
		RegionOfFn: func(id ObjectID) (RegionID, bool) {
			r, ok := w.region[id]
			return r, ok
		},
		CellOfFn: func(id ObjectID) (Cell, bool) {
			c, ok := w.cell[id]
			return c, ok
		},
		HoldingsFn: func(id ObjectID) []ObjectID { return w.holdings[id] },
		ObjectsAtFn: func(r RegionID, c Cell) []ObjectID {
			var out []ObjectID
			for id, rr := range w.region {
				if rr == r && w.cell[id] == c {
					out = append(out, id)
				}
			}
			return out
		},
		StackCountFn: func(id ObjectID) int { return w.stacks[id] },
	}
}

func newTestSession(w *fakeWorld) *Session {
	s := NewSession(SessionConfig{ID: "test"}, w.env())
	s.CreateRegion("r1", 8, 8)
	s.CreateRegion("r2", 8, 8)
	return s
}

func TestEqualize_FullWeightMeetsAtMidpoint(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Add(sc, Object("a"), 10)

	got := s.Equalize(sc, Object("a"), Object("b"), 1.0, false, false)
	if got != -5 {
		t.Fatalf("delta=%v want -5", got)
	}
	if a, b := s.Get(sc, Object("a"), false), s.Get(sc, Object("b"), false); a != 5 || b != 5 {
		t.Fatalf("a=%v b=%v want 5/5", a, b)
	}
}

func TestEqualize_HalfWeight(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Add(sc, Object("a"), 10)

	s.Equalize(sc, Object("a"), Object("b"), 0.5, false, false)
	if a, b := s.Get(sc, Object("a"), false), s.Get(sc, Object("b"), false); a != 7.5 || b != 2.5 {
		t.Fatalf("a=%v b=%v want 7.5/2.5", a, b)
	}
}

func TestEqualize_SameTargetIsNoop(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Add(sc, Object("a"), 10)
	for _, w := range []float64{0, 0.3, 1, 2} {
		if got := s.Equalize(sc, Object("a"), Object("a"), w, false, true); got != 0 {
			t.Fatalf("w=%v delta=%v want 0", w, got)
		}
	}
	if got := s.Get(sc, Object("a"), false); got != 10 {
		t.Fatalf("a=%v want 10", got)
	}
}

func TestEqualize_ObjectWithCell(t *testing.T) {
	w := newFakeWorld()
	w.place("pawn", "r1", Cell{X: 2, Z: 3})
	s := newTestSession(w)
	var sc Scope
	s.Set(sc, CellIn("r1", Cell{X: 2, Z: 3}), 8)

	got := s.Equalize(sc, Object("pawn"), Underfoot("pawn"), 1, false, false)
	if got != 4 {
		t.Fatalf("delta=%v want 4", got)
	}
	if cell := s.Grids().Get("r1", Cell{X: 2, Z: 3}); cell != 4 {
		t.Fatalf("cell=%v want 4", cell)
	}
}

func TestEqualize_LoserClampConservesMass(t *testing.T) {
	w := newFakeWorld()
	w.holdings["pawn"] = []ObjectID{"coat"}
	s := newTestSession(w)
	var sc Scope
	s.Set(sc, Object("pawn"), 1)
	s.Set(sc, Object("coat"), 9)

	// pawn reads 10 with holdings but only owns 1 itself.
	got := s.Equalize(sc, Object("pawn"), Object("rock"), 1, true, false)
	if got != -1 {
		t.Fatalf("delta=%v want -1", got)
	}
	if rock := s.Get(sc, Object("rock"), false); rock != 1 {
		t.Fatalf("rock=%v want 1", rock)
	}
	if s.Stats().Clamps == 0 {
		t.Fatalf("expected clamp to be counted")
	}
}

func TestTransfer_SingleTarget(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Add(sc, Object("a"), 10)
	s.Add(sc, Object("b"), 1)

	moved := s.Transfer(sc, Object("a"), 0.3, []Target{Object("b")}, EqualSplit)
	if !approx(moved, 3) {
		t.Fatalf("moved=%v want 3", moved)
	}
	if a := s.Get(sc, Object("a"), false); !approx(a, 7) {
		t.Fatalf("a=%v want 7", a)
	}
	if b := s.Get(sc, Object("b"), false); !approx(b, 4) {
		t.Fatalf("b=%v want 4", b)
	}
}

func TestTransfer_EqualSplitTwoTargets(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Add(sc, Object("a"), 10)

	moved := s.Transfer(sc, Object("a"), 1.0, []Target{Object("b"), Object("c")}, nil)
	if moved != 10 {
		t.Fatalf("moved=%v want 10", moved)
	}
	if a, b, c := s.Get(sc, Object("a"), false), s.Get(sc, Object("b"), false), s.Get(sc, Object("c"), false); a != 0 || b != 5 || c != 5 {
		t.Fatalf("a=%v b=%v c=%v want 0/5/5", a, b, c)
	}
}

func TestTransfer_StackSplit(t *testing.T) {
	w := newFakeWorld()
	w.stacks["b"] = 3
	w.stacks["c"] = 1
	s := newTestSession(w)
	var sc Scope
	s.Add(sc, Object("a"), 8)

	s.Transfer(sc, Object("a"), 1, []Target{Object("b"), Object("c")}, StackSplit)
	if b, c := s.Get(sc, Object("b"), false), s.Get(sc, Object("c"), false); b != 6 || c != 2 {
		t.Fatalf("b=%v c=%v want 6/2", b, c)
	}
}

func TestTransfer_EdgeCases(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Add(sc, Object("a"), 10)

	if got := s.Transfer(sc, Object("a"), -0.5, []Target{Object("b")}, nil); got != 0 {
		t.Fatalf("negative factor moved %v", got)
	}
	if got := s.Transfer(sc, Object("a"), 1, nil, nil); got != 0 {
		t.Fatalf("no targets moved %v", got)
	}
	// Factor above one cannot remove more than the source holds.
	if got := s.Transfer(sc, Object("a"), 3, []Target{Object("b")}, nil); got != 10 {
		t.Fatalf("moved=%v want 10", got)
	}
	// Unresolvable target loses its share.
	s.Add(sc, Object("a"), 10)
	got := s.Transfer(sc, Object("a"), 1, []Target{Object("c"), CellIn("nowhere", Cell{})}, Weights(1, 1))
	if got != 5 || s.Get(sc, Object("a"), false) != 0 {
		t.Fatalf("moved=%v a=%v want 5/0", got, s.Get(sc, Object("a"), false))
	}
}

func TestSubtract_ReportsClampedDelta(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Add(sc, Object("a"), 10)
	if got := s.Subtract(sc, Object("a"), 100); got != -10 {
		t.Fatalf("delta=%v want -10", got)
	}
	if got := s.Get(sc, Object("a"), false); got != 0 {
		t.Fatalf("a=%v want 0", got)
	}
}

func TestAddWithin_Caps(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	lo, hi := 2.0, 5.0
	s.Set(sc, Object("a"), 4)

	if got := s.AddWithin(sc, Object("a"), 3, nil, &hi); got != 1 {
		t.Fatalf("gain=%v want 1", got)
	}
	if got := s.AddWithin(sc, Object("a"), 3, nil, &hi); got != 0 {
		t.Fatalf("gain at cap=%v want 0", got)
	}
	if got := s.AddWithin(sc, Object("a"), -10, &lo, nil); got != -3 {
		t.Fatalf("loss=%v want -3", got)
	}
	if got := s.AddWithin(sc, Object("a"), 1, &lo, nil); got != 1 {
		t.Fatalf("uncapped gain=%v want 1", got)
	}
}

func TestGetIncludingHoldings(t *testing.T) {
	w := newFakeWorld()
	w.holdings["box"] = []ObjectID{"x", "y"}
	s := newTestSession(w)
	var sc Scope
	s.Set(sc, Object("box"), 2)
	s.Set(sc, Object("x"), 3)
	s.Set(sc, Object("y"), 4)

	if got := s.Get(sc, Object("box"), true); got != 9 {
		t.Fatalf("including holdings=%v want 9", got)
	}
	if got := s.Get(sc, Object("box"), false); got != 2 {
		t.Fatalf("own=%v want 2", got)
	}
}

func TestGetIncludingHoldings_CycleTerminates(t *testing.T) {
	w := newFakeWorld()
	w.holdings["a"] = []ObjectID{"b"}
	w.holdings["b"] = []ObjectID{"a"}
	s := newTestSession(w)
	var sc Scope
	s.Set(sc, Object("a"), 1)
	s.Set(sc, Object("b"), 2)
	if got := s.Get(sc, Object("a"), true); got != 3 {
		t.Fatalf("cyclic holdings=%v want 3", got)
	}
}

func TestAbsorbStack_WeightedMean(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Set(sc, Object("dst"), 2)
	s.Set(sc, Object("src"), 8)

	// 3 units at 2 absorb 1 of 4 units at 8 -> (3*2 + 1*8) / 4 = 3.5
	s.AbsorbStack(sc, "dst", "src", 3, 1, 4)
	if got := s.Get(sc, Object("dst"), false); got != 3.5 {
		t.Fatalf("dst=%v want 3.5", got)
	}
	// 3 of 4 units remain: src is debited 8*3/4.
	if got := s.Get(sc, Object("src"), false); got != 2 {
		t.Fatalf("src=%v want 2", got)
	}

	s.AbsorbStack(sc, "dst", "src", 4, 3, 3)
	if s.Ledger().Get("src") != 0 {
		t.Fatalf("fully absorbed source not pruned")
	}
}

func TestSplitOffAndInherit(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Set(sc, Object("stack"), 10)
	if got := s.SplitOff(sc, "stack", "part"); got != 10 {
		t.Fatalf("split applied=%v want 10", got)
	}
	if src, dst := s.Get(sc, Object("stack"), false), s.Get(sc, Object("part"), false); src != 10 || dst != 10 {
		t.Fatalf("src=%v dst=%v want 10/10", src, dst)
	}
	if got := s.SplitOff(sc, "clean", "part2"); got != 0 || s.Ledger().Get("part2") != 0 {
		t.Fatalf("clean split applied=%v", got)
	}
	s.Set(sc, Object("part3"), 4)
	if got := s.SplitOff(sc, "stack", "part3"); got != 6 || s.Ledger().Get("part3") != 10 {
		t.Fatalf("split onto dirty part applied=%v level=%v want 6/10", got, s.Ledger().Get("part3"))
	}
	s.Set(sc, Object("stack"), 7.5)
	s.Inherit(sc, Object("corpse"), Object("stack"))
	if got := s.Get(sc, Object("corpse"), false); got != 7.5 {
		t.Fatalf("corpse=%v want 7.5", got)
	}
}

func TestTransferFrom_PoolsSources(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	s.Set(sc, Object("meat"), 4)
	s.Set(sc, Object("herbs"), 8)

	sources := []Target{Object("meat"), Object("herbs"), Object("unknown")}
	got := s.TransferFrom(sc, sources, 0.5, []Target{Object("meal1"), Object("meal2")}, EqualSplit)
	if got != 6 {
		t.Fatalf("moved=%v want 6", got)
	}
	if m, h := s.Get(sc, Object("meat"), false), s.Get(sc, Object("herbs"), false); m != 2 || h != 4 {
		t.Fatalf("meat=%v herbs=%v want 2/4", m, h)
	}
	if a, b := s.Get(sc, Object("meal1"), false), s.Get(sc, Object("meal2"), false); a != 3 || b != 3 {
		t.Fatalf("meals=%v/%v want 3/3", a, b)
	}
	if got := s.TransferFrom(sc, nil, 1, []Target{Object("meal1")}, nil); got != 0 {
		t.Fatalf("no sources moved %v", got)
	}
}

func TestAdd_SaturatesInsteadOfOverflowing(t *testing.T) {
	s := newTestSession(newFakeWorld())
	var sc Scope
	huge := math.MaxFloat64 * 0.75
	s.Add(sc, Object("a"), huge)
	s.Add(sc, Object("a"), huge)
	if got := s.Get(sc, Object("a"), false); got != math.MaxFloat64 {
		t.Fatalf("a=%v want MaxFloat64", got)
	}
	c := CellIn("r1", Cell{X: 1, Z: 1})
	s.Add(sc, c, huge)
	s.Add(sc, c, huge)
	if got := s.Get(sc, c, false); math.IsInf(got, 0) || got != math.MaxFloat64 {
		t.Fatalf("cell=%v want MaxFloat64", got)
	}
	// Both sides saturated: equalizing moves nothing and stays finite.
	if got := s.Equalize(sc, Object("a"), c, 1, false, false); got != 0 {
		t.Fatalf("equalize delta=%v want 0", got)
	}
	if got := s.Get(sc, Object("a"), false); got != math.MaxFloat64 {
		t.Fatalf("a after equalize=%v", got)
	}
}

func TestSuppress_CellAndObjects(t *testing.T) {
	w := newFakeWorld()
	c := Cell{X: 1, Z: 1}
	w.place("p", "r1", c)
	w.place("q", "r1", c)
	s := newTestSession(w)
	var sc Scope
	s.Set(sc, CellIn("r1", c), 5)
	s.Set(sc, Object("p"), 1)
	s.Set(sc, Object("q"), 4)

	removed := s.Suppress(sc, "r1", c, 2)
	if removed != 5 {
		t.Fatalf("removed=%v want 5", removed)
	}
	if s.Get(sc, CellIn("r1", c), false) != 3 || s.Get(sc, Object("p"), false) != 0 || s.Get(sc, Object("q"), false) != 2 {
		t.Fatalf("cell=%v p=%v q=%v", s.Get(sc, CellIn("r1", c), false), s.Get(sc, Object("p"), false), s.Get(sc, Object("q"), false))
	}
}

func TestEnterCell(t *testing.T) {
	w := newFakeWorld()
	w.place("p", "r1", Cell{X: 0, Z: 0})
	s := newTestSession(w)
	var sc Scope
	s.Set(sc, CellIn("r1", Cell{}), 10)
	s.Set(sc, Object("p"), 2)

	// dirty cell: gap = 10*0.5 - 2 = 3, scaled by 0.5
	if got := s.EnterCell(sc, "p", 0.5, 0.5, 0.1); got != 1.5 {
		t.Fatalf("gain=%v want 1.5", got)
	}

	// cleaner cell: equalize instead
	s.Set(sc, CellIn("r1", Cell{}), 0)
	if got := s.EnterCell(sc, "p", 0.5, 0.5, 1); got != -1.75 {
		t.Fatalf("loss=%v want -1.75", got)
	}
	if cell := s.Get(sc, CellIn("r1", Cell{}), false); cell != 1.75 {
		t.Fatalf("cell=%v want 1.75", cell)
	}
}

func TestScope_OverrideResolvesRegion(t *testing.T) {
	w := newFakeWorld()
	w.place("item", "r1", Cell{X: 4, Z: 4})
	s := newTestSession(w)
	var root Scope
	s.Set(root, CellIn("r1", Cell{X: 4, Z: 4}), 1)
	s.Set(root, CellIn("r2", Cell{X: 4, Z: 4}), 6)

	errBoom := errors.New("boom")
	err := s.WithRegion(root, "item", "r2", func(sc Scope) error {
		if got := s.Get(sc, Underfoot("item"), false); got != 6 {
			t.Fatalf("overridden lookup=%v want 6", got)
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err=%v want boom", err)
	}
	if got := s.Get(root, Underfoot("item"), false); got != 1 {
		t.Fatalf("after scope lookup=%v want 1", got)
	}
}

func TestScope_NestingRestoresPrevious(t *testing.T) {
	w := newFakeWorld()
	s := newTestSession(w)
	var root Scope
	outer := root.With("o", "r1")
	inner := outer.With("o", "r2")

	if r, _ := s.ResolveRegion(inner, "o"); r != "r2" {
		t.Fatalf("inner=%v want r2", r)
	}
	if r, _ := s.ResolveRegion(outer, "o"); r != "r1" {
		t.Fatalf("outer=%v want r1", r)
	}
	if _, ok := s.ResolveRegion(root, "o"); ok {
		t.Fatalf("root scope resolved an unplaced object")
	}
}

func TestScope_PanicDoesNotLeak(t *testing.T) {
	w := newFakeWorld()
	w.place("item", "r1", Cell{})
	s := newTestSession(w)
	var root Scope

	func() {
		defer func() { _ = recover() }()
		_ = s.WithRegion(root, "item", "r2", func(Scope) error { panic("mid-operation failure") })
	}()
	if r, _ := s.ResolveRegion(root, "item"); r != "r1" {
		t.Fatalf("region after panic=%v want r1", r)
	}
}

func TestInvariant_NeverNegative(t *testing.T) {
	w := newFakeWorld()
	w.place("p", "r1", Cell{X: 1, Z: 2})
	s := newTestSession(w)
	var sc Scope
	targets := []Target{Object("p"), Object("q"), Underfoot("p"), CellIn("r1", Cell{X: 3, Z: 3})}
	amounts := []float64{5, -7, 2.5, -100, 0.1, 33}
	for i := 0; i < 60; i++ {
		a := targets[i%len(targets)]
		b := targets[(i*7+1)%len(targets)]
		amt := amounts[i%len(amounts)]
		switch i % 5 {
		case 0:
			s.Add(sc, a, amt)
		case 1:
			s.Subtract(sc, a, amt)
		case 2:
			s.Equalize(sc, a, b, amt/10, i%2 == 0, false)
		case 3:
			s.Transfer(sc, a, amt/20, []Target{b, a}, StackSplit)
		case 4:
			s.Suppress(sc, "r1", Cell{X: 1, Z: 2}, amt)
		}
		for _, t2 := range targets {
			if v := s.Get(sc, t2, false); v < 0 {
				t.Fatalf("step %d: %v=%v is negative", i, t2, v)
			}
		}
	}
}
