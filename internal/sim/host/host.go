package host

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"taintgrid.ai/internal/metrics"
	persistlog "taintgrid.ai/internal/persistence/log"
	"taintgrid.ai/internal/persistence/snapshot"
	"taintgrid.ai/internal/protocol"
	"taintgrid.ai/internal/sim/contamination"
	"taintgrid.ai/internal/sim/tuning"
)

type Config struct {
	SessionID          string
	TickRateHz         int
	SnapshotEveryTicks int
	MaxHoldingDepth    int
	// SnapshotDir is where SAVE and periodic snapshots are reported to land.
	SnapshotDir string
}

type Request struct {
	Op   protocol.OpMsg
	Resp chan protocol.ResultMsg
}

// OpLogger receives one entry per handled op. Implemented in internal/persistence/*.
type OpLogger interface {
	WriteOp(entry persistlog.OpEntry) error
}

// Host owns one contamination session and applies ops to it from a single
// loop goroutine. All session state must be accessed only from that loop.
type Host struct {
	cfg Config

	sess   *contamination.Session
	places *placements
	tune   tuning.Tuning

	tick      atomic.Uint64
	sessionID atomic.Value

	inbox    chan Request
	tuneCh   chan tuning.Tuning
	stop     chan struct{}
	stopOnce sync.Once

	opLogger     OpLogger
	snapshotSink chan<- snapshot.SnapshotV1
	metrics      *metrics.Metrics

	lastClamps uint64
}

func New(cfg Config, tune tuning.Tuning) *Host {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = tune.TickRateHz
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 10
	}
	if cfg.SnapshotEveryTicks == 0 {
		cfg.SnapshotEveryTicks = tune.SnapshotEveryTicks
	}
	if cfg.MaxHoldingDepth <= 0 {
		cfg.MaxHoldingDepth = tune.MaxHoldingDepth
	}
	places := newPlacements(cfg.MaxHoldingDepth)
	sess := contamination.NewSession(contamination.SessionConfig{
		ID:              cfg.SessionID,
		MaxHoldingDepth: cfg.MaxHoldingDepth,
	}, places.env())
	h := &Host{
		cfg:    cfg,
		sess:   sess,
		places: places,
		tune:   tune,
		inbox:  make(chan Request, 1024),
		tuneCh: make(chan tuning.Tuning, 1),
		stop:   make(chan struct{}),
	}
	h.sessionID.Store(sess.ID())
	return h
}

func (h *Host) SetOpLogger(l OpLogger)                        { h.opLogger = l }
func (h *Host) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { h.snapshotSink = ch }
func (h *Host) SetMetrics(m *metrics.Metrics)                 { h.metrics = m }

func (h *Host) Inbox() chan<- Request { return h.inbox }

func (h *Host) CurrentTick() uint64 { return h.tick.Load() }

func (h *Host) SessionID() string { return h.sessionID.Load().(string) }

func (h *Host) TickRateHz() int { return h.cfg.TickRateHz }

// ImportSnapshot replaces the session state. Call it before Run.
func (h *Host) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if err := h.sess.ImportSnapshot(snap); err != nil {
		return err
	}
	h.tick.Store(snap.Header.Tick)
	h.sessionID.Store(h.sess.ID())
	h.lastClamps = 0
	return nil
}

// SetTuning hands a reloaded tuning to the loop. A pending, not yet applied
// tuning is replaced.
func (h *Host) SetTuning(t tuning.Tuning) {
	for {
		select {
		case h.tuneCh <- t:
			return
		default:
		}
		select {
		case <-h.tuneCh:
		default:
		}
	}
}

// Submit sends op to the loop and waits for its result.
func (h *Host) Submit(ctx context.Context, op protocol.OpMsg) (protocol.ResultMsg, error) {
	select {
	case <-h.stop:
		return protocol.ResultMsg{}, fmt.Errorf("host stopped")
	default:
	}
	resp := make(chan protocol.ResultMsg, 1)
	select {
	case h.inbox <- Request{Op: op, Resp: resp}:
	case <-ctx.Done():
		return protocol.ResultMsg{}, ctx.Err()
	case <-h.stop:
		return protocol.ResultMsg{}, fmt.Errorf("host stopped")
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return protocol.ResultMsg{}, ctx.Err()
	case <-h.stop:
		return protocol.ResultMsg{}, fmt.Errorf("host stopped")
	}
}

func (h *Host) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Run drives the loop until ctx is done or Stop is called. Either way the host
// counts as stopped afterwards, so pending and later Submits fail fast.
func (h *Host) Run(ctx context.Context) error {
	defer h.Stop()
	interval := time.Second / time.Duration(h.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case t := <-h.tuneCh:
			h.tune = t
		case req := <-h.inbox:
			res := h.handle(req.Op)
			if req.Resp != nil {
				req.Resp <- res
			}
		case <-ticker.C:
			h.step()
		}
	}
}

func (h *Host) step() {
	tick := h.tick.Add(1)
	if every := h.cfg.SnapshotEveryTicks; every > 0 && tick%uint64(every) == 0 {
		h.emitSnapshot(tick)
	}
	st := h.sess.Stats()
	h.metrics.SetState(tick, st.LedgerEntries, st.LedgerTotal, st.Regions, st.GridTotal)
}

// emitSnapshot exports the session to the sink without blocking the loop.
// It reports false when no sink is set or the sink is full.
func (h *Host) emitSnapshot(tick uint64) bool {
	if h.snapshotSink == nil {
		return false
	}
	snap := h.sess.ExportSnapshot(tick)
	select {
	case h.snapshotSink <- snap:
		return true
	default:
		h.metrics.RecordSnapshot(fmt.Errorf("sink full"))
		return false
	}
}

// safeDispatch keeps the loop alive when an op panics; the op fails with
// E_INTERNAL and nothing is audited as applied.
func (h *Host) safeDispatch(op protocol.OpMsg) (res protocol.ResultMsg, info auditInfo) {
	defer func() {
		if r := recover(); r != nil {
			res = protocol.ResultMsg{Code: protocol.ErrInternal, Message: fmt.Sprintf("panic in %s: %v", op.Op, r)}
			info = auditInfo{}
		}
	}()
	return h.dispatch(op)
}

// SnapshotPath is the file a snapshot of tick is written to under dir.
func SnapshotPath(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick))
}

func (h *Host) handle(op protocol.OpMsg) protocol.ResultMsg {
	start := time.Now()
	res, entry := h.safeDispatch(op)
	res.Type = protocol.TypeResult
	res.ProtocolVersion = protocol.Version
	res.ID = op.ID
	res.Tick = h.tick.Load()

	clamps := h.sess.Clamps()
	newClamps := int(clamps - h.lastClamps)
	h.lastClamps = clamps
	h.metrics.AddClamps(newClamps)
	h.metrics.RecordOp(op.Op, res.OK, time.Since(start))

	if h.opLogger != nil && (entry.mutating || !res.OK) {
		_ = h.opLogger.WriteOp(persistlog.OpEntry{
			Tick:      res.Tick,
			SessionID: h.SessionID(),
			ReqID:     op.ID,
			Op:        op.Op,
			Target:    entry.target,
			Other:     entry.other,
			OK:        res.OK,
			Code:      res.Code,
			Value:     res.Value,
			Moved:     res.Moved,
			Clamps:    newClamps,
			MicroSecs: time.Since(start).Microseconds(),
		})
	}
	return res
}
