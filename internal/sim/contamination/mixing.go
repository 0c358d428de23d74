package contamination

// Get reads a target's level. includeHoldings only affects object targets.
func (s *Session) Get(scope Scope, t Target, includeHoldings bool) float64 {
	return s.read(s.resolve(scope, t), includeHoldings)
}

// Set overwrites a target's level and returns the resulting delta.
func (s *Session) Set(scope Scope, t Target, v float64) float64 {
	sl := s.resolve(scope, t)
	if !sl.ok {
		return 0
	}
	return s.apply(sl, level(v)-s.read(sl, false))
}

// Add applies amount (any sign) and returns the delta actually applied.
func (s *Session) Add(scope Scope, t Target, amount float64) float64 {
	return s.apply(s.resolve(scope, t), amount)
}

// Subtract removes amount and returns the (non-positive) delta actually applied.
func (s *Session) Subtract(scope Scope, t Target, amount float64) float64 {
	return s.apply(s.resolve(scope, t), -finite(amount))
}

// AddScaled adds amount*factor.
func (s *Session) AddScaled(scope Scope, t Target, amount, factor float64) float64 {
	return s.apply(s.resolve(scope, t), finite(amount)*finite(factor))
}

// AddWithin adds amount but never lets a gain lift the level above max nor a
// loss push it below min. A nil cap is unbounded. A level already beyond a cap
// is left alone rather than pulled back.
func (s *Session) AddWithin(scope Scope, t Target, amount float64, min, max *float64) float64 {
	sl := s.resolve(scope, t)
	if !sl.ok {
		return 0
	}
	amount = finite(amount)
	cur := s.read(sl, false)
	switch {
	case amount > 0 && max != nil:
		room := *max - cur
		if room <= 0 {
			return 0
		}
		if amount > room {
			amount = room
		}
	case amount < 0 && min != nil:
		room := *min - cur
		if room >= 0 {
			return 0
		}
		if amount < room {
			amount = room
		}
	}
	return s.apply(sl, amount)
}

// Equalize moves a and b toward each other. delta = (levelB-levelA)*weight/2 is
// taken from the higher side and given to the lower one; weight 1 meets at the
// midpoint. The loser is debited first so the winner receives exactly what was
// removed. The returned value is the signed change applied to a.
func (s *Session) Equalize(scope Scope, a, b Target, weight float64, includeHoldingsA, includeHoldingsB bool) float64 {
	sa := s.resolve(scope, a)
	sb := s.resolve(scope, b)
	if !sa.ok || !sb.ok || sa.same(sb) {
		return 0
	}
	la := s.read(sa, includeHoldingsA)
	lb := s.read(sb, includeHoldingsB)
	delta := (lb - la) * finite(weight) / 2
	switch {
	case delta > 0:
		given := -s.apply(sb, -delta)
		return s.apply(sa, given)
	case delta < 0:
		taken := s.apply(sa, delta)
		s.apply(sb, -taken)
		return taken
	default:
		return 0
	}
}

// Transfer moves level*factor from source to targets, divided by split, and
// returns the total actually received by the targets. Targets that cannot be
// resolved lose their share.
func (s *Session) Transfer(scope Scope, source Target, factor float64, targets []Target, split Split) float64 {
	return s.TransferFrom(scope, []Target{source}, factor, targets, split)
}

// TransferFrom is Transfer with several sources (recipe ingredients): each
// source gives level*factor, and the pooled amount is divided among targets
// by split.
func (s *Session) TransferFrom(scope Scope, sources []Target, factor float64, targets []Target, split Split) float64 {
	if len(targets) == 0 {
		return 0
	}
	factor = finite(factor)
	if !(factor > 0) {
		return 0
	}
	var removed float64
	for _, source := range sources {
		src := s.resolve(scope, source)
		if !src.ok {
			continue
		}
		amount := s.read(src, false) * factor
		if !(amount > 0) {
			continue
		}
		removed = addLevel(removed, -s.apply(src, -amount))
	}
	if removed <= 0 {
		return 0
	}
	shares := s.shares(split, targets)
	var moved float64
	for i, t := range targets {
		moved += s.apply(s.resolve(scope, t), removed*shares[i])
	}
	return moved
}

// AbsorbStack merges absorbed units of src into dst, whose stack held dstCount
// units before. dst ends at the count-weighted mean of both levels. A source
// left with units afterwards is debited by srcLevel*remaining/srcBefore; a
// fully absorbed one is pruned.
func (s *Session) AbsorbStack(scope Scope, dst, src ObjectID, dstCount, absorbed, srcBefore int) float64 {
	if dst == "" || src == "" || dst == src || absorbed <= 0 || dstCount < 0 {
		return 0
	}
	srcLevel := s.includingHoldings(src)
	dstLevel := s.includingHoldings(dst)
	mean := (float64(absorbed)*srcLevel + float64(dstCount)*dstLevel) / float64(absorbed+dstCount)
	applied := s.Add(scope, Object(dst), mean-dstLevel)

	if srcBefore <= absorbed {
		s.Prune(src)
		return applied
	}
	remaining := srcBefore - absorbed
	s.Subtract(scope, Object(src), srcLevel*float64(remaining)/float64(srcBefore))
	return applied
}

// SplitOff gives a freshly split product the level of the stack it came from.
// Levels are per thing, so the source keeps its own.
func (s *Session) SplitOff(scope Scope, src, dst ObjectID) float64 {
	if src == "" || dst == "" || src == dst {
		return 0
	}
	return s.Set(scope, Object(dst), s.ledger.Get(src))
}

// Inherit gives dst the level of src (a corpse taking over its pawn's level).
func (s *Session) Inherit(scope Scope, dst, src Target) float64 {
	return s.Set(scope, dst, s.Get(scope, src, false))
}

// Suppress lowers a cell and every object on it by amount, as fire does.
// It returns the total removed.
func (s *Session) Suppress(scope Scope, region RegionID, c Cell, amount float64) float64 {
	amount = finite(amount)
	if amount <= 0 {
		return 0
	}
	removed := -s.Subtract(scope, CellIn(region, c), amount)
	for _, id := range s.env.objectsAt(region, c) {
		removed -= s.Subtract(scope, Object(id), amount)
	}
	return removed
}

// EnterCell is applied when obj steps onto a new cell. A cell dirtier than
// the object (after cellFactor) contaminates it by the gap times gainFactor;
// otherwise the two equalize at looseWeight. Returns the change applied to obj.
func (s *Session) EnterCell(scope Scope, obj ObjectID, cellFactor, gainFactor, looseWeight float64) float64 {
	under := Underfoot(obj)
	if !s.resolve(scope, under).ok {
		return 0
	}
	objLevel := s.Get(scope, Object(obj), true)
	gap := s.Get(scope, under, false)*finite(cellFactor) - objLevel
	if gap > 0 {
		return s.AddScaled(scope, Object(obj), gap, gainFactor)
	}
	return s.Equalize(scope, Object(obj), under, looseWeight, false, false)
}
