package contamination

// Scope carries the region overrides for one operation. It is an immutable
// value: With returns a derived scope and leaves the receiver untouched, so an
// override only lives as long as the call chain that holds the derived value.
// The zero Scope has no overrides.
type Scope struct {
	top *override
}

type override struct {
	obj    ObjectID
	region RegionID
	parent *override
}

// With treats obj as belonging to region for everything resolved through the
// returned scope. Nested overrides of the same object shadow outer ones.
func (s Scope) With(obj ObjectID, region RegionID) Scope {
	return Scope{top: &override{obj: obj, region: region, parent: s.top}}
}

// Region reports the innermost override for obj, if any.
func (s Scope) Region(obj ObjectID) (RegionID, bool) {
	for o := s.top; o != nil; o = o.parent {
		if o.obj == obj {
			return o.region, true
		}
	}
	return "", false
}

// Empty reports whether the scope carries no overrides.
func (s Scope) Empty() bool { return s.top == nil }

// ResolveRegion returns the region used for obj's region-sensitive lookups:
// the scope's override when present, otherwise the object's natural region.
func (s *Session) ResolveRegion(scope Scope, obj ObjectID) (RegionID, bool) {
	if r, ok := scope.Region(obj); ok {
		return r, r != ""
	}
	return s.env.regionOf(obj)
}

// WithRegion runs fn with obj pinned to region. Whatever way fn exits, the
// caller's scope is unchanged afterwards.
func (s *Session) WithRegion(scope Scope, obj ObjectID, region RegionID, fn func(Scope) error) error {
	return fn(scope.With(obj, region))
}
