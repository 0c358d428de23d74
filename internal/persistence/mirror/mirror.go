package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies a mirrored session artifact by where it lives under the
// session directory.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindArchive  Kind = "archive"
	KindOpLog    Kind = "oplog"
	KindOther    Kind = "other"
)

// KindOf derives the artifact kind from an object key such as
// "sessions/s1/snapshots/100.snap.zst".
func KindOf(key string) Kind {
	parts := strings.Split(key, "/")
	for i := len(parts) - 2; i >= 0; i-- {
		switch parts[i] {
		case "snapshots":
			return KindSnapshot
		case "archives":
			return KindArchive
		case "audit":
			return KindOpLog
		}
	}
	return KindOther
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

type Options struct {
	Workers       int
	QueueCapacity int
	// EnqueueWait bounds how long Enqueue blocks on a full queue before
	// dropping the upload.
	EnqueueWait time.Duration
	Backoff     time.Duration
	MaxAttempts int
	Logger      *log.Logger
	// OnUpload is called once per finished upload (after retries).
	OnUpload func(kind Kind, err error)
}

type Stats struct {
	Pending   int
	Capacity  int
	Enqueued  uint64
	Dropped   uint64
	Uploaded  uint64
	Failed    uint64
	LastError string
}

// Mirror copies finished session artifacts (snapshots, archives, rotated op
// logs) from the data dir to an object store. Keys mirror the layout under
// the data dir.
type Mirror struct {
	client  Uploader
	dataDir string
	prefix  string
	opts    Options

	jobs      chan string
	wg        sync.WaitGroup
	closeOnce sync.Once

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
	lastErr  atomic.Value
}

func New(client Uploader, dataDir, prefix string, opts Options) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 2048
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	m := &Mirror{
		client:  client,
		dataDir: dataDir,
		prefix:  strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		opts:    opts,
		jobs:    make(chan string, opts.QueueCapacity),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. Safe on a nil *Mirror, which is
// what Open returns when mirroring is off.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}

	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		n := m.dropped.Add(1)
		m.printf("mirror: drop %s (queue full, dropped=%d)", localPath, n)
	}
}

// Close drains the queue and waits for in-flight uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	st := Stats{
		Pending:  len(m.jobs),
		Capacity: cap(m.jobs),
		Enqueued: m.enqueued.Load(),
		Dropped:  m.dropped.Load(),
		Uploaded: m.uploaded.Load(),
		Failed:   m.failed.Load(),
	}
	if s, ok := m.lastErr.Load().(string); ok {
		st.LastError = s
	}
	return st
}

func (m *Mirror) upload(localPath string) {
	key, err := m.Key(localPath)
	if err != nil {
		m.printf("mirror: skip %s: %v", localPath, err)
		return
	}
	err = m.putWithRetry(key, localPath)
	if m.opts.OnUpload != nil {
		m.opts.OnUpload(KindOf(key), err)
	}
	if err != nil {
		m.failed.Add(1)
		m.lastErr.Store(err.Error())
		m.printf("mirror: upload %s failed: %v", key, err)
		return
	}
	m.uploaded.Add(1)
	m.printf("mirror: uploaded %s", key)
}

func (m *Mirror) putWithRetry(key, localPath string) error {
	var err error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < m.opts.MaxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	return fmt.Errorf("after %d attempts: %w", m.opts.MaxAttempts, err)
}

// Key maps a local file under the data dir to its object key.
func (m *Mirror) Key(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside data dir %s", abs, base)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}

// Open builds a Mirror from cfg, or returns nil when mirroring is disabled.
func Open(ctx context.Context, cfg Config, dataDir string, opts Options) (*Mirror, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts.Workers = cfg.Workers
	opts.QueueCapacity = cfg.QueueCapacity
	return New(client, dataDir, cfg.Prefix, opts), nil
}
