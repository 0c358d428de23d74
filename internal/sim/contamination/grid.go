package contamination

import (
	"fmt"
	"sort"
)

// Grid is a dense per-region field of cell levels.
type Grid struct {
	Width  int
	Height int
	Values []float64 // len = Width*Height, x fastest then z
}

// Grid size limits. A side above MaxGridSide or an area above MaxGridCells
// (128 MiB of values) is rejected before anything is allocated.
const (
	MaxGridSide  = 1 << 14
	MaxGridCells = 1 << 24
)

// CheckGridSize reports whether width x height is an allocatable grid.
func CheckGridSize(width, height int) error {
	if width < 0 || height < 0 || width > MaxGridSide || height > MaxGridSide {
		return fmt.Errorf("grid %dx%d: each side must be in [0,%d]", width, height, MaxGridSide)
	}
	if width*height > MaxGridCells {
		return fmt.Errorf("grid %dx%d: more than %d cells", width, height, MaxGridCells)
	}
	return nil
}

func NewGrid(width, height int) (*Grid, error) {
	if err := CheckGridSize(width, height); err != nil {
		return nil, err
	}
	return &Grid{
		Width:  width,
		Height: height,
		Values: make([]float64, width*height),
	}, nil
}

func (g *Grid) InBounds(c Cell) bool {
	return c.X >= 0 && c.Z >= 0 && c.X < g.Width && c.Z < g.Height
}

func (g *Grid) index(c Cell) int {
	return c.X + c.Z*g.Width
}

func (g *Grid) Get(c Cell) float64 {
	if !g.InBounds(c) {
		return 0
	}
	return g.Values[g.index(c)]
}

func (g *Grid) Set(c Cell, v float64) {
	if !g.InBounds(c) {
		return
	}
	g.Values[g.index(c)] = level(v)
}

// Add follows the same clamping rule as Ledger.Add.
func (g *Grid) Add(c Cell, amount float64) float64 {
	if !g.InBounds(c) {
		return 0
	}
	amount = finite(amount)
	if amount == 0 {
		return 0
	}
	i := g.index(c)
	old := g.Values[i]
	next := addLevel(old, amount)
	g.Values[i] = next
	return next - old
}

func (g *Grid) Total() float64 {
	var sum float64
	for _, v := range g.Values {
		sum += v
	}
	return sum
}

func (g *Grid) Max() float64 {
	var m float64
	for _, v := range g.Values {
		if v > m {
			m = v
		}
	}
	return m
}

// Grids holds one Grid per active region.
type Grids struct {
	byRegion map[RegionID]*Grid
}

func NewGrids() *Grids {
	return &Grids{byRegion: map[RegionID]*Grid{}}
}

// Create allocates a zeroed grid for region, replacing any previous one. An
// oversized request leaves the existing grid in place.
func (gs *Grids) Create(region RegionID, width, height int) (*Grid, error) {
	g, err := NewGrid(width, height)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", region, err)
	}
	gs.byRegion[region] = g
	return g, nil
}

// Restore installs persisted values for region.
func (gs *Grids) Restore(region RegionID, width, height int, values []float64) error {
	if err := CheckGridSize(width, height); err != nil {
		return fmt.Errorf("region %s: %w", region, err)
	}
	if len(values) != width*height {
		return fmt.Errorf("region %s: %d values for %dx%d grid", region, len(values), width, height)
	}
	g, err := NewGrid(width, height)
	if err != nil {
		return err
	}
	for i, v := range values {
		g.Values[i] = level(v)
	}
	gs.byRegion[region] = g
	return nil
}

func (gs *Grids) Destroy(region RegionID) {
	delete(gs.byRegion, region)
}

func (gs *Grids) Grid(region RegionID) *Grid {
	return gs.byRegion[region]
}

func (gs *Grids) Len() int { return len(gs.byRegion) }

func (gs *Grids) Regions() []RegionID {
	out := make([]RegionID, 0, len(gs.byRegion))
	for r := range gs.byRegion {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (gs *Grids) Get(region RegionID, c Cell) float64 {
	g := gs.byRegion[region]
	if g == nil {
		return 0
	}
	return g.Get(c)
}

func (gs *Grids) Set(region RegionID, c Cell, v float64) {
	if g := gs.byRegion[region]; g != nil {
		g.Set(c, v)
	}
}

func (gs *Grids) Add(region RegionID, c Cell, amount float64) float64 {
	g := gs.byRegion[region]
	if g == nil {
		return 0
	}
	return g.Add(c, amount)
}

func (gs *Grids) reset() {
	gs.byRegion = map[RegionID]*Grid{}
}
