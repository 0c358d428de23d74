package contamination

import "math"

// Split decides how a transferred amount is divided among targets. It returns
// one raw weight per target; weights are normalized by the session, negative
// or non-finite weights count as zero and an all-zero result means equal shares.
type Split func(env Env, targets []Target) []float64

// EqualSplit gives every target the same share.
var EqualSplit Split = func(_ Env, targets []Target) []float64 {
	w := make([]float64, len(targets))
	for i := range w {
		w[i] = 1
	}
	return w
}

// StackSplit weights object targets by stack count; cells count as one.
var StackSplit Split = func(env Env, targets []Target) []float64 {
	w := make([]float64, len(targets))
	for i, t := range targets {
		if t.IsObject() {
			w[i] = float64(env.stackCount(t.ObjectID()))
			continue
		}
		w[i] = 1
	}
	return w
}

// Weights uses explicit per-target weights, in target order. Missing weights are zero.
func Weights(ws ...float64) Split {
	return func(_ Env, targets []Target) []float64 {
		w := make([]float64, len(targets))
		copy(w, ws)
		return w
	}
}

func (s *Session) shares(split Split, targets []Target) []float64 {
	if split == nil {
		split = EqualSplit
	}
	raw := split(s.env, targets)
	out := make([]float64, len(targets))
	var total float64
	for i := range out {
		if i < len(raw) {
			v := raw[i]
			if v > 0 && !math.IsInf(v, 0) {
				out[i] = v
				total += v
			}
		}
	}
	if total <= 0 {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}
