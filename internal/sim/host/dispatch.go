package host

import (
	"fmt"
	"math"

	"taintgrid.ai/internal/protocol"
	"taintgrid.ai/internal/sim/contamination"
)

type auditInfo struct {
	mutating bool
	target   string
	other    string
}

type opError struct {
	code string
	msg  string
}

func (e *opError) Error() string { return e.code + ": " + e.msg }

func badRequest(format string, args ...any) *opError {
	return &opError{code: protocol.ErrBadRequest, msg: fmt.Sprintf(format, args...)}
}

func ok(value, applied, moved float64) protocol.ResultMsg {
	return protocol.ResultMsg{OK: true, Value: value, Applied: applied, Moved: moved}
}

func (h *Host) dispatch(op protocol.OpMsg) (protocol.ResultMsg, auditInfo) {
	var (
		res  protocol.ResultMsg
		info auditInfo
		err  *opError
	)
	switch op.Op {
	case protocol.OpRegionCreate:
		res, info, err = h.opRegionCreate(op)
	case protocol.OpRegionDestroy:
		res, info, err = h.opRegionDestroy(op)
	case protocol.OpPlace:
		res, info, err = h.opPlace(op)
	case protocol.OpHold:
		res, info, err = h.opHold(op)
	case protocol.OpRemove:
		res, info, err = h.opRemove(op)
	case protocol.OpGet:
		res, info, err = h.opGet(op)
	case protocol.OpGetCell:
		res, info, err = h.opGetCell(op)
	case protocol.OpAdd:
		res, info, err = h.opAdd(op)
	case protocol.OpSubtract:
		res, info, err = h.opSubtract(op)
	case protocol.OpSet:
		res, info, err = h.opSet(op)
	case protocol.OpSetCell:
		res, info, err = h.opSetCell(op)
	case protocol.OpAddCell:
		res, info, err = h.opAddCell(op)
	case protocol.OpEqualize:
		res, info, err = h.opEqualize(op)
	case protocol.OpTransfer:
		res, info, err = h.opTransfer(op)
	case protocol.OpSuppress:
		res, info, err = h.opSuppress(op)
	case protocol.OpAbsorb:
		res, info, err = h.opAbsorb(op)
	case protocol.OpSplit:
		res, info, err = h.opSplit(op)
	case protocol.OpInherit:
		res, info, err = h.opInherit(op)
	case protocol.OpEnterCell:
		res, info, err = h.opEnterCell(op)
	case protocol.OpTick:
		h.step()
		res = ok(0, 0, 0)
	case protocol.OpSave:
		res, info, err = h.opSave(op)
	default:
		err = &opError{code: protocol.ErrUnknownOp, msg: fmt.Sprintf("unknown op %q", op.Op)}
	}
	if err != nil {
		return protocol.ResultMsg{Code: err.code, Message: err.msg}, info
	}
	return res, info
}

func (h *Host) scope(op protocol.OpMsg) contamination.Scope {
	var sc contamination.Scope
	for _, o := range op.Overrides {
		if o.Object == "" {
			continue
		}
		sc = sc.With(contamination.ObjectID(o.Object), contamination.RegionID(o.Region))
	}
	return sc
}

func targetOf(ref *protocol.TargetRef, field string) (contamination.Target, *opError) {
	if ref == nil {
		return contamination.Target{}, badRequest("missing %s", field)
	}
	set := 0
	var t contamination.Target
	if ref.Object != "" {
		set++
		t = contamination.Object(contamination.ObjectID(ref.Object))
	}
	if ref.Underfoot != "" {
		set++
		t = contamination.Underfoot(contamination.ObjectID(ref.Underfoot))
	}
	if ref.Region != "" || ref.Cell != nil {
		if ref.Region == "" || ref.Cell == nil {
			return contamination.Target{}, badRequest("%s: region and cell go together", field)
		}
		set++
		t = contamination.CellIn(contamination.RegionID(ref.Region), contamination.Cell{X: ref.Cell[0], Z: ref.Cell[1]})
	}
	if set != 1 {
		return contamination.Target{}, badRequest("%s: exactly one of object, underfoot, region+cell", field)
	}
	return t, nil
}

// writeTarget is targetOf for mutating ops: a cell target must name an
// existing grid.
func (h *Host) writeTarget(ref *protocol.TargetRef, field string) (contamination.Target, *opError) {
	t, err := targetOf(ref, field)
	if err != nil {
		return t, err
	}
	if ref.Region != "" {
		if err := h.requireCell(contamination.RegionID(ref.Region), contamination.Cell{X: ref.Cell[0], Z: ref.Cell[1]}); err != nil {
			return contamination.Target{}, err
		}
	}
	return t, nil
}

func (h *Host) cellOf(op protocol.OpMsg) (contamination.RegionID, contamination.Cell, *opError) {
	if op.Region == "" || op.Cell == nil {
		return "", contamination.Cell{}, badRequest("region and cell required")
	}
	return contamination.RegionID(op.Region), contamination.Cell{X: op.Cell[0], Z: op.Cell[1]}, nil
}

// requireCell rejects writes aimed at a region without a grid or outside it.
func (h *Host) requireCell(region contamination.RegionID, c contamination.Cell) *opError {
	g := h.sess.Grids().Grid(region)
	if g == nil {
		return &opError{code: protocol.ErrNoRegion, msg: fmt.Sprintf("no grid for region %q", region)}
	}
	if !g.InBounds(c) {
		return &opError{code: protocol.ErrInvalidTarget, msg: fmt.Sprintf("cell %s outside region %q", c, region)}
	}
	return nil
}

func (h *Host) amount(op protocol.OpMsg) (float64, *opError) {
	if op.Amount == nil {
		return 0, badRequest("amount required")
	}
	v := *op.Amount
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, badRequest("amount must be finite")
	}
	return v, nil
}

// factor resolves a literal factor, or a key into the active tuning. An
// unknown key is a configuration error and leaves the session untouched.
func (h *Host) factor(op protocol.OpMsg, defaultKey string) (float64, *opError) {
	if op.Factor != nil {
		v := *op.Factor
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, badRequest("factor must be finite")
		}
		return v, nil
	}
	key := op.FactorKey
	if key == "" {
		key = defaultKey
	}
	if key == "" {
		return 0, badRequest("factor or factor_key required")
	}
	v, found := h.tune.Contamination.Factor(key)
	if !found {
		return 0, &opError{code: protocol.ErrBadConfig, msg: fmt.Sprintf("unknown factor_key %q", key)}
	}
	return v, nil
}

func (h *Host) opRegionCreate(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	if op.Region == "" || op.Width <= 0 || op.Height <= 0 {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("region, width and height required")
	}
	if err := h.sess.CreateRegion(contamination.RegionID(op.Region), op.Width, op.Height); err != nil {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("%v", err)
	}
	return ok(0, 0, 0), auditInfo{mutating: true, target: "region:" + op.Region}, nil
}

func (h *Host) opRegionDestroy(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	if op.Region == "" {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("region required")
	}
	region := contamination.RegionID(op.Region)
	var removed float64
	if g := h.sess.Grids().Grid(region); g != nil {
		removed = g.Total()
	}
	h.sess.DestroyRegion(region)
	h.places.dropRegion(region)
	return ok(0, -removed, 0), auditInfo{mutating: true, target: "region:" + op.Region}, nil
}

func (h *Host) opPlace(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	if op.Object == "" {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("object required")
	}
	region, c, err := h.cellOf(op)
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	id := contamination.ObjectID(op.Object)
	h.places.place(id, region, c)
	h.places.setStack(id, op.Stack)
	return ok(h.sess.Ledger().Get(id), 0, 0), auditInfo{mutating: true, target: "obj:" + op.Object}, nil
}

func (h *Host) opHold(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	if op.Object == "" || op.Holder == "" {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("object and holder required")
	}
	id := contamination.ObjectID(op.Object)
	if !h.places.hold(id, contamination.ObjectID(op.Holder)) {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("%s cannot hold %s", op.Holder, op.Object)
	}
	h.places.setStack(id, op.Stack)
	return ok(h.sess.Ledger().Get(id), 0, 0), auditInfo{mutating: true, target: "obj:" + op.Object, other: "obj:" + op.Holder}, nil
}

func (h *Host) opRemove(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	if op.Object == "" {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("object required")
	}
	id := contamination.ObjectID(op.Object)
	before := h.sess.Ledger().Get(id)
	h.places.remove(id)
	h.sess.Prune(id)
	return ok(0, -before, 0), auditInfo{mutating: true, target: "obj:" + op.Object}, nil
}

func (h *Host) opGet(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	t, err := targetOf(op.Target, "target")
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	return ok(h.sess.Get(h.scope(op), t, op.IncludeHoldings), 0, 0), auditInfo{target: t.String()}, nil
}

func (h *Host) opGetCell(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	region, c, err := h.cellOf(op)
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	return ok(h.sess.Grids().Get(region, c), 0, 0), auditInfo{}, nil
}

// write runs fn against target t and reports t's resulting level.
func (h *Host) write(op protocol.OpMsg, t contamination.Target, fn func(sc contamination.Scope) float64) (protocol.ResultMsg, auditInfo, *opError) {
	sc := h.scope(op)
	applied := fn(sc)
	return ok(h.sess.Get(sc, t, false), applied, 0), auditInfo{mutating: true, target: t.String()}, nil
}

func (h *Host) opAdd(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	t, err := h.writeTarget(op.Target, "target")
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	amount, err := h.amount(op)
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	if op.Factor != nil || op.FactorKey != "" {
		f, err := h.factor(op, "")
		if err != nil {
			return protocol.ResultMsg{}, auditInfo{}, err
		}
		amount *= f
	}
	if op.Min != nil || op.Max != nil {
		return h.write(op, t, func(sc contamination.Scope) float64 {
			return h.sess.AddWithin(sc, t, amount, op.Min, op.Max)
		})
	}
	return h.write(op, t, func(sc contamination.Scope) float64 { return h.sess.Add(sc, t, amount) })
}

func (h *Host) opSubtract(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	t, err := h.writeTarget(op.Target, "target")
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	amount, err := h.amount(op)
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	return h.write(op, t, func(sc contamination.Scope) float64 { return h.sess.Subtract(sc, t, amount) })
}

func (h *Host) opSet(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	t, err := h.writeTarget(op.Target, "target")
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	v, err := h.amount(op)
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	return h.write(op, t, func(sc contamination.Scope) float64 { return h.sess.Set(sc, t, v) })
}

func (h *Host) opSetCell(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	return h.cellWrite(op, func(sc contamination.Scope, t contamination.Target, v float64) float64 {
		return h.sess.Set(sc, t, v)
	})
}

func (h *Host) opAddCell(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	return h.cellWrite(op, func(sc contamination.Scope, t contamination.Target, v float64) float64 {
		return h.sess.Add(sc, t, v)
	})
}

func (h *Host) cellWrite(op protocol.OpMsg, fn func(contamination.Scope, contamination.Target, float64) float64) (protocol.ResultMsg, auditInfo, *opError) {
	region, c, err := h.cellOf(op)
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	if err := h.requireCell(region, c); err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	v, err := h.amount(op)
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	t := contamination.CellIn(region, c)
	return h.write(op, t, func(sc contamination.Scope) float64 { return fn(sc, t, v) })
}

func (h *Host) opEqualize(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	a, err := h.writeTarget(op.Target, "target")
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	b, err := h.writeTarget(op.Other, "other")
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	var weight float64
	if op.Skill != nil && op.Factor == nil && op.FactorKey == "" {
		weight = h.tune.Contamination.TendWeight(*op.Skill)
	} else {
		weight, err = h.factor(op, "")
		if err != nil {
			return protocol.ResultMsg{}, auditInfo{}, err
		}
	}
	sc := h.scope(op)
	delta := h.sess.Equalize(sc, a, b, weight, op.IncludeHoldings, op.OtherIncludeHoldings)
	return ok(h.sess.Get(sc, a, false), delta, math.Abs(delta)),
		auditInfo{mutating: true, target: a.String(), other: b.String()}, nil
}

// opTransfer moves from target, or from every entry of sources when set.
func (h *Host) opTransfer(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	var sources []contamination.Target
	switch {
	case len(op.Sources) > 0 && op.Target != nil:
		return protocol.ResultMsg{}, auditInfo{}, badRequest("target and sources are exclusive")
	case len(op.Sources) > 0:
		for i := range op.Sources {
			t, err := h.writeTarget(&op.Sources[i], fmt.Sprintf("sources[%d]", i))
			if err != nil {
				return protocol.ResultMsg{}, auditInfo{}, err
			}
			sources = append(sources, t)
		}
	default:
		t, err := h.writeTarget(op.Target, "target")
		if err != nil {
			return protocol.ResultMsg{}, auditInfo{}, err
		}
		sources = append(sources, t)
	}
	if len(op.Targets) == 0 {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("targets required")
	}
	targets := make([]contamination.Target, 0, len(op.Targets))
	for i := range op.Targets {
		t, err := targetOf(&op.Targets[i], fmt.Sprintf("targets[%d]", i))
		if err != nil {
			return protocol.ResultMsg{}, auditInfo{}, err
		}
		targets = append(targets, t)
	}
	var split contamination.Split
	switch op.Split {
	case "", protocol.SplitEqual:
		split = contamination.EqualSplit
	case protocol.SplitStack:
		split = contamination.StackSplit
	case protocol.SplitWeights:
		if len(op.Weights) != len(targets) {
			return protocol.ResultMsg{}, auditInfo{}, badRequest("weights must match targets")
		}
		split = contamination.Weights(op.Weights...)
	default:
		return protocol.ResultMsg{}, auditInfo{}, badRequest("unknown split %q", op.Split)
	}
	factor, err := h.factor(op, "general_transfer")
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	sc := h.scope(op)
	src := sources[0]
	before := h.sess.Get(sc, src, false)
	moved := h.sess.TransferFrom(sc, sources, factor, targets, split)
	after := h.sess.Get(sc, src, false)
	return ok(after, after-before, moved), auditInfo{mutating: true, target: src.String(), other: targets[0].String()}, nil
}

func (h *Host) opSuppress(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	region, c, err := h.cellOf(op)
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	if err := h.requireCell(region, c); err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	var amount float64
	if op.Amount != nil {
		if amount, err = h.amount(op); err != nil {
			return protocol.ResultMsg{}, auditInfo{}, err
		}
	} else if amount, err = h.factor(op, "fire_reduction"); err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	sc := h.scope(op)
	removed := h.sess.Suppress(sc, region, c, amount)
	t := contamination.CellIn(region, c)
	return ok(h.sess.Get(sc, t, false), 0, removed), auditInfo{mutating: true, target: t.String()}, nil
}

func (h *Host) opAbsorb(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	if op.Object == "" || op.Src == "" {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("object and src required")
	}
	if op.Absorbed <= 0 {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("absorbed must be > 0")
	}
	dst, src := contamination.ObjectID(op.Object), contamination.ObjectID(op.Src)
	dstCount := op.DstCount
	if dstCount <= 0 {
		dstCount = h.places.stackCount(dst)
	}
	srcBefore := op.SrcBefore
	if srcBefore <= 0 {
		srcBefore = h.places.stackCount(src)
	}
	sc := h.scope(op)
	applied := h.sess.AbsorbStack(sc, dst, src, dstCount, op.Absorbed, srcBefore)

	h.places.setStack(dst, dstCount+op.Absorbed)
	if srcBefore <= op.Absorbed {
		h.places.remove(src)
	} else {
		h.places.setStack(src, srcBefore-op.Absorbed)
	}
	return ok(h.sess.Ledger().Get(dst), applied, 0),
		auditInfo{mutating: true, target: "obj:" + op.Object, other: "obj:" + op.Src}, nil
}

// opSplit records a stack split: dst takes src's level, and with stack > 0
// the two stack counts are updated.
func (h *Host) opSplit(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	if op.Object == "" || op.Src == "" || op.Object == op.Src {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("distinct object and src required")
	}
	dst, src := contamination.ObjectID(op.Object), contamination.ObjectID(op.Src)
	srcCount := h.places.stackCount(src)
	if op.Stack > 0 && op.Stack >= srcCount {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("cannot split %d of a stack of %d", op.Stack, srcCount)
	}

	applied := h.sess.SplitOff(h.scope(op), src, dst)

	if op.Stack > 0 {
		h.places.setStack(dst, op.Stack)
		h.places.setStack(src, srcCount-op.Stack)
	}
	if region, found := h.places.regionOf(src); found {
		c, _ := h.places.cellOf(src)
		if _, placed := h.places.regionOf(dst); !placed {
			h.places.place(dst, region, c)
		}
	}
	return ok(h.sess.Ledger().Get(dst), applied, 0),
		auditInfo{mutating: true, target: "obj:" + op.Object, other: "obj:" + op.Src}, nil
}

func (h *Host) opInherit(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	dst, err := h.writeTarget(op.Target, "target")
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	src, err := targetOf(op.Other, "other")
	if err != nil {
		return protocol.ResultMsg{}, auditInfo{}, err
	}
	sc := h.scope(op)
	applied := h.sess.Inherit(sc, dst, src)
	return ok(h.sess.Get(sc, dst, false), applied, 0), auditInfo{mutating: true, target: dst.String(), other: src.String()}, nil
}

// opEnterCell optionally moves object first (region+cell), then applies the
// enter-cell exchange with the tuning's cell_factor, enter_cell_add and
// enter_cell_loose.
func (h *Host) opEnterCell(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	if op.Object == "" {
		return protocol.ResultMsg{}, auditInfo{}, badRequest("object required")
	}
	id := contamination.ObjectID(op.Object)
	if op.Region != "" || op.Cell != nil {
		region, c, err := h.cellOf(op)
		if err != nil {
			return protocol.ResultMsg{}, auditInfo{}, err
		}
		h.places.place(id, region, c)
	}
	sc := h.scope(op)
	if r, found := h.sess.ResolveRegion(sc, id); !found || h.sess.Grids().Grid(r) == nil {
		return protocol.ResultMsg{}, auditInfo{}, &opError{code: protocol.ErrNoRegion, msg: fmt.Sprintf("%s is not on a region grid", op.Object)}
	}
	f := h.tune.Contamination
	applied := h.sess.EnterCell(sc, id, f.CellFactor, f.EnterCellAdd, f.EnterCellLoose)
	return ok(h.sess.Ledger().Get(id), applied, math.Abs(applied)), auditInfo{mutating: true, target: "obj:" + op.Object}, nil
}

func (h *Host) opSave(op protocol.OpMsg) (protocol.ResultMsg, auditInfo, *opError) {
	tick := h.tick.Load()
	if !h.emitSnapshot(tick) {
		return protocol.ResultMsg{}, auditInfo{}, &opError{code: protocol.ErrBusy, msg: "snapshot sink unavailable"}
	}
	res := ok(0, 0, 0)
	if h.cfg.SnapshotDir != "" {
		res.Path = SnapshotPath(h.cfg.SnapshotDir, tick)
	}
	return res, auditInfo{}, nil
}
