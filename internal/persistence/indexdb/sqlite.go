package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	persistlog "taintgrid.ai/internal/persistence/log"
	"taintgrid.ai/internal/persistence/snapshot"
	"taintgrid.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropOp       atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqOp reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	op       persistlog.OpEntry
	snapshot SnapshotRow
}

// SnapshotRow is the index record of one written snapshot.
type SnapshotRow struct {
	Tick          uint64
	SessionID     string
	Path          string
	LedgerEntries int
	Regions       int
	LedgerTotal   float64
	GridTotal     float64
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropOpTotal       uint64
	DropSnapshotTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			applied_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ops (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			req_id TEXT,
			op TEXT NOT NULL,
			target TEXT,
			other TEXT,
			ok INTEGER NOT NULL,
			code TEXT,
			value REAL NOT NULL,
			moved REAL NOT NULL,
			clamps INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ops_target_tick ON ops(target, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_ops_op_tick ON ops(op, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			path TEXT NOT NULL,
			ledger_entries INTEGER NOT NULL,
			regions INTEGER NOT NULL,
			ledger_total REAL NOT NULL,
			grid_total REAL NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropOpTotal:       s.dropOp.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteOp(entry persistlog.OpEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqOp, op: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropOp.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := SnapshotRow{
		Tick:          snap.Header.Tick,
		SessionID:     snap.Header.SessionID,
		Path:          path,
		LedgerEntries: len(snap.Ledger),
		Regions:       len(snap.Grids),
	}
	for _, e := range snap.Ledger {
		r.LedgerTotal += e.Level
	}
	for _, g := range snap.Grids {
		for _, v := range g.Values {
			r.GridTotal += v
		}
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// RecordTuning stores the tuning values actually applied, keyed by digest.
// It is synchronous; reloads are rare.
func (s *SQLiteIndex) RecordTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b := tune.JSON()
	digest := tune.Digest()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,applied_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestSnapshot returns the newest indexed snapshot, or ok=false if none.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error) {
	rows, err := s.Snapshots(ctx, 1)
	if err != nil || len(rows) == 0 {
		return SnapshotRow{}, false, err
	}
	return rows[0], true, nil
}

// Snapshots lists indexed snapshots, newest first. limit <= 0 means all.
func (s *SQLiteIndex) Snapshots(ctx context.Context, limit int) ([]SnapshotRow, error) {
	return querySnapshots(ctx, s.db, limit)
}

func querySnapshots(ctx context.Context, db *sql.DB, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT tick,session_id,path,ledger_entries,regions,ledger_total,grid_total FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var (
			r    SnapshotRow
			tick int64
		)
		if err := rows.Scan(&tick, &r.SessionID, &r.Path, &r.LedgerEntries, &r.Regions, &r.LedgerTotal, &r.GridTotal); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// OpenReadOnly opens an existing index for queries (operator tooling).
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return sql.Open("sqlite", "file:"+path+"?mode=ro")
}

// QuerySnapshots lists snapshots from a database opened with OpenReadOnly.
func QuerySnapshots(ctx context.Context, db *sql.DB, limit int) ([]SnapshotRow, error) {
	return querySnapshots(ctx, db, limit)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertOp, _ := s.db.Prepare(`INSERT OR REPLACE INTO ops(tick,seq,session_id,req_id,op,target,other,ok,code,value,moved,clamps) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,session_id,path,ledger_entries,regions,ledger_total,grid_total) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertOp != nil {
			_ = insertOp.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastOpTick uint64
		opSeq      int
	)
	// Resume sequencing after a restart at the same tick.
	{
		var (
			t   sql.NullInt64
			seq sql.NullInt64
		)
		row := s.db.QueryRow(`SELECT tick, MAX(seq) FROM ops WHERE tick=(SELECT MAX(tick) FROM ops)`)
		if err := row.Scan(&t, &seq); err == nil && t.Valid && seq.Valid {
			lastOpTick = uint64(t.Int64)
			opSeq = int(seq.Int64) + 1
		}
	}

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqOp:
			o := r.op
			if o.Tick != lastOpTick {
				lastOpTick = o.Tick
				opSeq = 0
			}
			seq := opSeq
			opSeq++
			if insertOp != nil {
				ok := 0
				if o.OK {
					ok = 1
				}
				if _, err := tx.Stmt(insertOp).Exec(
					int64(o.Tick), seq, o.SessionID, o.ReqID, o.Op, o.Target, o.Other,
					ok, o.Code, o.Value, o.Moved, o.Clamps,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick), sn.SessionID, sn.Path,
					sn.LedgerEntries, sn.Regions, sn.LedgerTotal, sn.GridTotal,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
