package contamination

import (
	"fmt"

	"github.com/google/uuid"
)

const defaultMaxHoldingDepth = 64

type SessionConfig struct {
	// ID identifies the save this session belongs to. Empty means a fresh uuid.
	ID string
	// MaxHoldingDepth bounds the recursion of holdings-inclusive reads.
	MaxHoldingDepth int
}

// Session owns the ledger and every region grid of one loaded save. It is not
// safe for concurrent use: all calls must come from the host's simulation loop.
type Session struct {
	cfg SessionConfig
	env Env

	ledger *Ledger
	grids  *Grids

	clamps uint64
}

type Stats struct {
	LedgerEntries int
	LedgerTotal   float64
	Regions       int
	GridTotal     float64
	Clamps        uint64
}

func NewSession(cfg SessionConfig, env Env) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.MaxHoldingDepth <= 0 {
		cfg.MaxHoldingDepth = defaultMaxHoldingDepth
	}
	return &Session{
		cfg:    cfg,
		env:    env,
		ledger: NewLedger(),
		grids:  NewGrids(),
	}
}

func (s *Session) ID() string { return s.cfg.ID }

func (s *Session) Ledger() *Ledger { return s.ledger }

func (s *Session) Grids() *Grids { return s.grids }

// CreateRegion allocates a zeroed grid when a region is created or generated.
func (s *Session) CreateRegion(region RegionID, width, height int) error {
	if region == "" {
		return fmt.Errorf("empty region id")
	}
	_, err := s.grids.Create(region, width, height)
	return err
}

func (s *Session) DestroyRegion(region RegionID) {
	s.grids.Destroy(region)
}

// Prune drops the ledger entry of an object that was permanently removed.
func (s *Session) Prune(id ObjectID) {
	s.ledger.Remove(id)
}

// Clamps counts debits that would have driven a level below zero.
func (s *Session) Clamps() uint64 { return s.clamps }

func (s *Session) Stats() Stats {
	st := Stats{
		LedgerEntries: s.ledger.Len(),
		LedgerTotal:   s.ledger.Total(),
		Regions:       s.grids.Len(),
		Clamps:        s.clamps,
	}
	for _, r := range s.grids.Regions() {
		st.GridTotal += s.grids.Grid(r).Total()
	}
	return st
}
