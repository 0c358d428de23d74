package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	persistlog "taintgrid.ai/internal/persistence/log"
	"taintgrid.ai/internal/persistence/indexdb"
	"taintgrid.ai/internal/persistence/snapshot"
	"taintgrid.ai/internal/sim/host"
	"taintgrid.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	host.OpLogger
	Close() error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordTuning(tune tuning.Tuning) error
}

type indexEnv struct {
	Backend string `env:"TAINTGRID_INDEX_BACKEND" envDefault:"sqlite"`
}

// IndexPath is where the sqlite index of a session lives.
func IndexPath(sessionDir string) string {
	return filepath.Join(sessionDir, "index", "session.sqlite")
}

func openRuntimeIndex(sessionDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	var cfg indexEnv
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "none", "off", "disabled":
		return nil, nil
	case "", "sqlite":
		idx, err := indexdb.OpenSQLite(IndexPath(sessionDir))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported TAINTGRID_INDEX_BACKEND: %s", cfg.Backend)
	}
}

type multiOpLogger struct {
	a host.OpLogger
	b host.OpLogger
}

func (m multiOpLogger) WriteOp(entry persistlog.OpEntry) error {
	if m.a != nil {
		_ = m.a.WriteOp(entry)
	}
	if m.b != nil {
		_ = m.b.WriteOp(entry)
	}
	return nil
}
