package contamination

import (
	"fmt"
	"math"
)

// ObjectID is the stable identity of a trackable object (pawn, item, building, filth...).
type ObjectID string

// RegionID identifies a bounded playing field with its own grid.
type RegionID string

// Cell is a 2D cell coordinate inside a region (x fastest, then z).
type Cell struct {
	X int `json:"x"`
	Z int `json:"z"`
}

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Z) }

// Env exposes the host's object model to the engine. The engine never owns
// placement or the container hierarchy; it only queries them.
// A nil function means "no information": unplaced, holds nothing, stack of one.
type Env struct {
	RegionOfFn   func(id ObjectID) (RegionID, bool)
	CellOfFn     func(id ObjectID) (Cell, bool)
	HoldingsFn   func(id ObjectID) []ObjectID
	ObjectsAtFn  func(region RegionID, c Cell) []ObjectID
	StackCountFn func(id ObjectID) int
}

func (e Env) regionOf(id ObjectID) (RegionID, bool) {
	if e.RegionOfFn == nil {
		return "", false
	}
	r, ok := e.RegionOfFn(id)
	if r == "" {
		return "", false
	}
	return r, ok
}

func (e Env) cellOf(id ObjectID) (Cell, bool) {
	if e.CellOfFn == nil {
		return Cell{}, false
	}
	return e.CellOfFn(id)
}

func (e Env) holdings(id ObjectID) []ObjectID {
	if e.HoldingsFn == nil {
		return nil
	}
	return e.HoldingsFn(id)
}

func (e Env) objectsAt(region RegionID, c Cell) []ObjectID {
	if e.ObjectsAtFn == nil {
		return nil
	}
	return e.ObjectsAtFn(region, c)
}

func (e Env) stackCount(id ObjectID) int {
	if e.StackCountFn == nil {
		return 1
	}
	n := e.StackCountFn(id)
	if n <= 0 {
		return 1
	}
	return n
}

// finite maps NaN and infinities to 0 so they never reach stored state.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// level clamps a candidate stored value to the valid range.
func level(v float64) float64 {
	v = finite(v)
	if v < 0 {
		return 0
	}
	return v
}

// addLevel is old+amount clamped to [0, MaxFloat64]; two large finite levels must
// not overflow into +Inf.
func addLevel(old, amount float64) float64 {
	next := old + amount
	switch {
	case next < 0:
		return 0
	case next > math.MaxFloat64:
		return math.MaxFloat64
	}
	return next
}
