package contamination

import "sort"

// LedgerEntry is one object's stored level.
type LedgerEntry struct {
	ID    ObjectID
	Level float64
}

// Ledger is the sparse object -> level table. Absent entries read as zero and
// an entry that reaches zero is dropped.
type Ledger struct {
	levels map[ObjectID]float64
}

func NewLedger() *Ledger {
	return &Ledger{levels: map[ObjectID]float64{}}
}

func (l *Ledger) Get(id ObjectID) float64 {
	return l.levels[id]
}

func (l *Ledger) Set(id ObjectID, v float64) {
	if id == "" {
		return
	}
	l.store(id, level(v))
}

// Add applies amount (any sign) and returns the delta actually applied, which
// is smaller in magnitude than amount when the result had to be clamped at zero.
func (l *Ledger) Add(id ObjectID, amount float64) float64 {
	if id == "" {
		return 0
	}
	amount = finite(amount)
	if amount == 0 {
		return 0
	}
	old := l.levels[id]
	next := addLevel(old, amount)
	l.store(id, next)
	return next - old
}

func (l *Ledger) Remove(id ObjectID) {
	delete(l.levels, id)
}

func (l *Ledger) Len() int { return len(l.levels) }

func (l *Ledger) Total() float64 {
	var sum float64
	for _, v := range l.levels {
		sum += v
	}
	return sum
}

// Entries returns all stored entries sorted by id.
func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, 0, len(l.levels))
	for id, v := range l.levels {
		out = append(out, LedgerEntry{ID: id, Level: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) reset() {
	l.levels = map[ObjectID]float64{}
}

func (l *Ledger) store(id ObjectID, v float64) {
	if v == 0 {
		delete(l.levels, id)
		return
	}
	l.levels[id] = v
}
