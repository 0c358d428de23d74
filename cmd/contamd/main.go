package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taintgrid.ai/internal/metrics"
	"taintgrid.ai/internal/persistence/archive"
	persistlog "taintgrid.ai/internal/persistence/log"
	"taintgrid.ai/internal/persistence/mirror"
	"taintgrid.ai/internal/persistence/snapshot"
	"taintgrid.ai/internal/sim/host"
	"taintgrid.ai/internal/sim/tuning"
	"taintgrid.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		sessionID  = flag.String("session", "session_1", "session id")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (reloaded on change)")
		tickHz     = flag.Int("tick_hz", 0, "tick rate override (default: tuning tick_rate_hz)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (op audit + snapshot metadata)")

		archiveEvery  = flag.Uint64("archive_every_ticks", 36000, "copy snapshots on this tick boundary to <session>/archives (0 disables)")
		autosave      = flag.String("autosave", "", "cron schedule for wall-clock saves, e.g. \"@every 10m\" (empty disables)")
		keepSnapshots = flag.Int("keep_snapshots", 10, "periodic snapshots kept in <session>/snapshots (0 keeps all)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[contamd] ", log.LstdFlags|log.Lmicroseconds)

	sessionDir := filepath.Join(*dataDir, "sessions", *sessionID)
	snapDir := filepath.Join(sessionDir, "snapshots")
	_ = os.MkdirAll(snapDir, 0o755)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	h := host.New(host.Config{
		SessionID:   *sessionID,
		TickRateHz:  *tickHz,
		SnapshotDir: snapDir,
	}, tune)
	h.SetMetrics(m)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(snapDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.SessionID != "" && snap.Header.SessionID != *sessionID {
			logger.Fatalf("snapshot session id mismatch: flag=%s snap=%s", *sessionID, snap.Header.SessionID)
		}
		if err := h.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), h.CurrentTick())
	}

	// Optional: read-model index backend (does not affect session state).
	idx, err := openRuntimeIndex(sessionDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.RecordTuning(tune); err != nil {
			logger.Printf("index backend: record tuning: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	mirrorCfg, err := mirror.ConfigFromEnv()
	if err != nil {
		logger.Fatalf("mirror config: %v", err)
	}
	mir, err := mirror.Open(ctx, mirrorCfg, *dataDir, mirror.Options{
		Logger:   logger,
		OnUpload: func(k mirror.Kind, err error) { m.RecordUpload(string(k), err) },
	})
	if err != nil {
		logger.Fatalf("init mirror: %v", err)
	}
	defer mir.Close()

	opLog := persistlog.NewOpLogger(sessionDir)
	opLog.OnClose(mir.Enqueue)
	defer opLog.Close()
	if idx != nil {
		h.SetOpLogger(multiOpLogger{a: opLog, b: idx})
	} else {
		h.SetOpLogger(opLog)
	}

	var digest atomic.Value
	digest.Store(tune.Digest())

	watcher := &tuning.Watcher{
		Path:   *tuningPath,
		Logger: logger,
		OnChange: func(t tuning.Tuning) {
			h.SetTuning(t)
			digest.Store(t.Digest())
			if idx != nil {
				if err := idx.RecordTuning(t); err != nil {
					logger.Printf("index backend: record tuning: %v", err)
				}
			}
			m.RecordReload(nil)
			logger.Printf("tuning reloaded digest=%s", t.Digest())
		},
		OnReject: func(err error) { m.RecordReload(err) },
	}
	go func() {
		if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
			logger.Printf("tuning watcher stopped: %v", err)
		}
	}()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	h.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := host.SnapshotPath(snapDir, snap.Header.Tick)
				err := snapshot.WriteSnapshot(path, snap)
				m.RecordSnapshot(err)
				if err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				mir.Enqueue(path)
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
				if archivedPath, ok, err := archive.ArchiveSnapshot(sessionDir, path, snap, *archiveEvery); err != nil {
					logger.Printf("archive snapshot: %v", err)
				} else if ok {
					mir.Enqueue(archivedPath)
					enqueueIfExists(mir, filepath.Join(filepath.Dir(archivedPath), "meta.json"))
				}
				if _, err := archive.PruneSnapshots(snapDir, *keepSnapshots); err != nil {
					logger.Printf("prune snapshots: %v", err)
				}
			}
		}
	}()

	go func() {
		if err := h.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("host stopped: %v", err)
		}
	}()

	saver := &host.Autosave{Schedule: strings.TrimSpace(*autosave), Host: h, Logger: logger}
	if err := saver.Start(ctx); err != nil {
		logger.Fatalf("autosave: %v", err)
	}

	wsSrv := ws.NewServer(h, logger, m)
	wsSrv.Digest = func() string { return digest.Load().(string) }

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}))
	mux.HandleFunc("/v1/status", wsSrv.StatusHandler())
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s session=%s tick_hz=%d", *addr, h.SessionID(), h.TickRateHz())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func enqueueIfExists(m *mirror.Mirror, path string) {
	if m == nil {
		return
	}
	if _, err := os.Stat(path); err == nil {
		m.Enqueue(path)
	}
}
