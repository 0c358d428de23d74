package contamination

import (
	"fmt"

	"taintgrid.ai/internal/persistence/snapshot"
)

// ExportSnapshot captures the ledger and every region grid. Zero entries are
// never stored, so none are exported.
func (s *Session) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:   snapshot.Version,
			SessionID: s.cfg.ID,
			Tick:      tick,
		},
	}
	for _, e := range s.ledger.Entries() {
		snap.Ledger = append(snap.Ledger, snapshot.LedgerEntryV1{ID: string(e.ID), Level: e.Level})
	}
	for _, r := range s.grids.Regions() {
		g := s.grids.Grid(r)
		values := make([]float64, len(g.Values))
		copy(values, g.Values)
		snap.Grids = append(snap.Grids, snapshot.GridV1{
			Region: string(r),
			Width:  g.Width,
			Height: g.Height,
			Values: values,
		})
	}
	return snap
}

// ImportSnapshot replaces the session's state wholesale. On error the session
// is left empty rather than half-loaded.
func (s *Session) ImportSnapshot(snap snapshot.SnapshotV1) error {
	s.ledger.reset()
	s.grids.reset()
	s.clamps = 0
	if snap.Header.SessionID != "" {
		s.cfg.ID = snap.Header.SessionID
	}

	for _, e := range snap.Ledger {
		s.ledger.Set(ObjectID(e.ID), e.Level)
	}
	for _, g := range snap.Grids {
		if g.Region == "" {
			s.ledger.reset()
			s.grids.reset()
			return fmt.Errorf("grid block without region id")
		}
		if err := s.grids.Restore(RegionID(g.Region), g.Width, g.Height, g.Values); err != nil {
			s.ledger.reset()
			s.grids.reset()
			return err
		}
	}
	return nil
}

// Save serializes the session for the host's save cycle.
func (s *Session) Save(tick uint64) ([]byte, error) {
	return snapshot.Marshal(s.ExportSnapshot(tick))
}

// Load restores the session from a Save blob and returns the saved tick.
func (s *Session) Load(blob []byte) (uint64, error) {
	snap, err := snapshot.Unmarshal(blob)
	if err != nil {
		return 0, fmt.Errorf("decode session: %w", err)
	}
	if err := s.ImportSnapshot(snap); err != nil {
		return 0, fmt.Errorf("import session: %w", err)
	}
	return snap.Header.Tick, nil
}
