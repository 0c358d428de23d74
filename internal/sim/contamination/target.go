package contamination

import "fmt"

type targetKind uint8

const (
	targetNone targetKind = iota
	targetObject
	targetCell
	targetUnderfoot
)

// Target addresses a contamination source or sink: an object in the ledger or
// a cell in a region grid.
type Target struct {
	kind   targetKind
	obj    ObjectID
	region RegionID
	cell   Cell
}

func Object(id ObjectID) Target {
	if id == "" {
		return Target{}
	}
	return Target{kind: targetObject, obj: id}
}

func CellIn(region RegionID, c Cell) Target {
	if region == "" {
		return Target{}
	}
	return Target{kind: targetCell, region: region, cell: c}
}

// Underfoot is the cell an object stands on. Its region goes through the
// operation's Scope, so an override for id moves the cell lookup as well.
func Underfoot(id ObjectID) Target {
	if id == "" {
		return Target{}
	}
	return Target{kind: targetUnderfoot, obj: id}
}

func (t Target) IsObject() bool { return t.kind == targetObject }

func (t Target) ObjectID() ObjectID { return t.obj }

func (t Target) String() string {
	switch t.kind {
	case targetObject:
		return "obj:" + string(t.obj)
	case targetCell:
		return fmt.Sprintf("cell:%s%s", t.region, t.cell)
	case targetUnderfoot:
		return "under:" + string(t.obj)
	default:
		return "none"
	}
}

// slot is a Target resolved against a scope.
type slot struct {
	ok     bool
	isCell bool
	obj    ObjectID
	region RegionID
	cell   Cell
}

func (a slot) same(b slot) bool {
	if !a.ok || !b.ok || a.isCell != b.isCell {
		return false
	}
	if a.isCell {
		return a.region == b.region && a.cell == b.cell
	}
	return a.obj == b.obj
}

func (s *Session) resolve(scope Scope, t Target) slot {
	switch t.kind {
	case targetObject:
		return slot{ok: true, obj: t.obj}
	case targetCell:
		g := s.grids.Grid(t.region)
		if g == nil || !g.InBounds(t.cell) {
			return slot{}
		}
		return slot{ok: true, isCell: true, region: t.region, cell: t.cell}
	case targetUnderfoot:
		region, ok := s.ResolveRegion(scope, t.obj)
		if !ok {
			return slot{}
		}
		c, ok := s.env.cellOf(t.obj)
		if !ok {
			return slot{}
		}
		return s.resolve(scope, CellIn(region, c))
	default:
		return slot{}
	}
}

func (s *Session) read(sl slot, includeHoldings bool) float64 {
	if !sl.ok {
		return 0
	}
	if sl.isCell {
		return s.grids.Get(sl.region, sl.cell)
	}
	if includeHoldings {
		return s.includingHoldings(sl.obj)
	}
	return s.ledger.Get(sl.obj)
}

// apply adds amount to the slot and returns the delta actually applied.
func (s *Session) apply(sl slot, amount float64) float64 {
	if !sl.ok {
		return 0
	}
	amount = finite(amount)
	if amount < 0 && s.read(sl, false)+amount < 0 {
		s.clamps++
	}
	if sl.isCell {
		return s.grids.Add(sl.region, sl.cell, amount)
	}
	return s.ledger.Add(sl.obj, amount)
}

func (s *Session) includingHoldings(root ObjectID) float64 {
	seen := map[ObjectID]struct{}{}
	var walk func(id ObjectID, depth int) float64
	walk = func(id ObjectID, depth int) float64 {
		if _, ok := seen[id]; ok {
			return 0
		}
		seen[id] = struct{}{}
		sum := s.ledger.Get(id)
		if depth >= s.cfg.MaxHoldingDepth {
			return sum
		}
		for _, h := range s.env.holdings(id) {
			sum = addLevel(sum, walk(h, depth+1))
		}
		return sum
	}
	return walk(root, 0)
}
