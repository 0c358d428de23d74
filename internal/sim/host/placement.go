package host

import (
	"sort"

	"taintgrid.ai/internal/sim/contamination"
)

type placement struct {
	region contamination.RegionID
	cell   contamination.Cell
	holder contamination.ObjectID
	stack  int
}

type cellKey struct {
	region contamination.RegionID
	cell   contamination.Cell
}

// placements is the host's minimal object model: where each object lies, what
// holds it and how many units its stack has. It backs the engine's Env.
type placements struct {
	maxDepth int

	byID  map[contamination.ObjectID]*placement
	held  map[contamination.ObjectID]map[contamination.ObjectID]struct{}
	cells map[cellKey]map[contamination.ObjectID]struct{}
}

func newPlacements(maxDepth int) *placements {
	if maxDepth <= 0 {
		maxDepth = 64
	}
	return &placements{
		maxDepth: maxDepth,
		byID:     map[contamination.ObjectID]*placement{},
		held:     map[contamination.ObjectID]map[contamination.ObjectID]struct{}{},
		cells:    map[cellKey]map[contamination.ObjectID]struct{}{},
	}
}

func (p *placements) env() contamination.Env {
	return contamination.Env{
		RegionOfFn:   p.regionOf,
		CellOfFn:     p.cellOf,
		HoldingsFn:   p.holdings,
		ObjectsAtFn:  p.objectsAt,
		StackCountFn: p.stackCount,
	}
}

func (p *placements) get(id contamination.ObjectID) *placement {
	pl := p.byID[id]
	if pl == nil {
		pl = &placement{}
		p.byID[id] = pl
	}
	return pl
}

func (p *placements) detach(id contamination.ObjectID, pl *placement) {
	if pl.holder != "" {
		if set := p.held[pl.holder]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(p.held, pl.holder)
			}
		}
		pl.holder = ""
	}
	if pl.region != "" {
		k := cellKey{pl.region, pl.cell}
		if set := p.cells[k]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(p.cells, k)
			}
		}
		pl.region = ""
		pl.cell = contamination.Cell{}
	}
}

// place puts id on the ground at region/cell.
func (p *placements) place(id contamination.ObjectID, region contamination.RegionID, c contamination.Cell) {
	pl := p.get(id)
	p.detach(id, pl)
	pl.region = region
	pl.cell = c
	k := cellKey{region, c}
	set := p.cells[k]
	if set == nil {
		set = map[contamination.ObjectID]struct{}{}
		p.cells[k] = set
	}
	set[id] = struct{}{}
}

// hold moves id into holder. It reports false if that would create a cycle.
func (p *placements) hold(id, holder contamination.ObjectID) bool {
	if id == holder {
		return false
	}
	for cur, depth := holder, 0; cur != "" && depth <= p.maxDepth; depth++ {
		if cur == id {
			return false
		}
		pl := p.byID[cur]
		if pl == nil {
			break
		}
		cur = pl.holder
	}
	pl := p.get(id)
	p.detach(id, pl)
	pl.holder = holder
	set := p.held[holder]
	if set == nil {
		set = map[contamination.ObjectID]struct{}{}
		p.held[holder] = set
	}
	set[id] = struct{}{}
	return true
}

func (p *placements) setStack(id contamination.ObjectID, n int) {
	if n <= 0 {
		return
	}
	p.get(id).stack = n
}

// remove forgets id. Objects it held drop to its former cell when it had one.
func (p *placements) remove(id contamination.ObjectID) {
	pl := p.byID[id]
	if pl == nil {
		return
	}
	region, c, onGround := pl.region, pl.cell, pl.region != ""
	for _, child := range p.holdings(id) {
		cp := p.byID[child]
		if cp == nil {
			continue
		}
		p.detach(child, cp)
		if onGround {
			p.place(child, region, c)
		}
	}
	p.detach(id, pl)
	delete(p.byID, id)
}

// dropRegion unplaces every object lying in region.
func (p *placements) dropRegion(region contamination.RegionID) {
	for k, set := range p.cells {
		if k.region != region {
			continue
		}
		for id := range set {
			if pl := p.byID[id]; pl != nil {
				pl.region = ""
				pl.cell = contamination.Cell{}
			}
		}
		delete(p.cells, k)
	}
}

// root follows the holder chain to the outermost container.
func (p *placements) root(id contamination.ObjectID) *placement {
	pl := p.byID[id]
	for depth := 0; pl != nil && pl.holder != "" && depth < p.maxDepth; depth++ {
		next := p.byID[pl.holder]
		if next == nil {
			return nil
		}
		pl = next
	}
	return pl
}

func (p *placements) regionOf(id contamination.ObjectID) (contamination.RegionID, bool) {
	pl := p.root(id)
	if pl == nil || pl.region == "" {
		return "", false
	}
	return pl.region, true
}

func (p *placements) cellOf(id contamination.ObjectID) (contamination.Cell, bool) {
	pl := p.root(id)
	if pl == nil || pl.region == "" {
		return contamination.Cell{}, false
	}
	return pl.cell, true
}

func (p *placements) holdings(id contamination.ObjectID) []contamination.ObjectID {
	return sortedIDs(p.held[id])
}

func (p *placements) objectsAt(region contamination.RegionID, c contamination.Cell) []contamination.ObjectID {
	return sortedIDs(p.cells[cellKey{region, c}])
}

func (p *placements) stackCount(id contamination.ObjectID) int {
	if pl := p.byID[id]; pl != nil && pl.stack > 0 {
		return pl.stack
	}
	return 1
}

func sortedIDs(set map[contamination.ObjectID]struct{}) []contamination.ObjectID {
	if len(set) == 0 {
		return nil
	}
	out := make([]contamination.ObjectID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
