package host

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taintgrid.ai/internal/protocol"
)

// Saver is what Autosave drives; *Host implements it.
type Saver interface {
	Submit(ctx context.Context, op protocol.OpMsg) (protocol.ResultMsg, error)
}

// Autosave submits a SAVE op on a wall-clock cron schedule ("0 * * * *",
// "@every 10m"), on top of the tick-driven snapshots.
type Autosave struct {
	Schedule string
	Host     Saver
	Logger   *log.Logger

	mu   sync.Mutex
	cron *cron.Cron
	seq  uint64
}

// Start validates the schedule and begins saving until ctx is done. An empty
// schedule is a no-op.
func (a *Autosave) Start(ctx context.Context) error {
	if a.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(a.Schedule); err != nil {
		return fmt.Errorf("invalid autosave schedule %q: %w", a.Schedule, err)
	}
	c := cron.New()
	if _, err := c.AddFunc(a.Schedule, func() { a.save(ctx) }); err != nil {
		return fmt.Errorf("schedule autosave: %w", err)
	}

	a.mu.Lock()
	a.cron = c
	a.mu.Unlock()
	c.Start()

	go func() {
		<-ctx.Done()
		a.Stop()
	}()
	return nil
}

func (a *Autosave) save(ctx context.Context) {
	a.mu.Lock()
	a.seq++
	id := fmt.Sprintf("autosave_%d", a.seq)
	a.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := a.Host.Submit(callCtx, protocol.OpMsg{Type: protocol.TypeOp, ID: id, Op: protocol.OpSave})
	switch {
	case err != nil:
		a.printf("autosave: %v", err)
	case !res.OK:
		a.printf("autosave: %s %s", res.Code, res.Message)
	default:
		a.printf("autosave tick=%d path=%s", res.Tick, res.Path)
	}
}

// Stop halts the schedule and waits for a running save to finish.
func (a *Autosave) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Next reports the next scheduled save, or ok=false when not running.
func (a *Autosave) Next() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron == nil {
		return time.Time{}, false
	}
	entries := a.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}, false
	}
	return entries[0].Next, true
}

func (a *Autosave) printf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}
