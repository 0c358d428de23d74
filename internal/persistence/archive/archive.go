package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"taintgrid.ai/internal/persistence/snapshot"
)

type Meta struct {
	SessionID     string  `json:"session_id"`
	Tick          uint64  `json:"tick"`
	Snapshot      string  `json:"snapshot"`
	CreatedAt     string  `json:"created_at"`
	LedgerEntries int     `json:"ledger_entries"`
	Regions       int     `json:"regions"`
	LedgerTotal   float64 `json:"ledger_total"`
}

// ArchiveSnapshot copies a snapshot taken on an everyTicks boundary into
// `sessionDir/archives/tick_<N>/` with a meta.json beside it. Archived copies
// are never pruned. It returns archived=false for off-boundary ticks.
func ArchiveSnapshot(sessionDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks uint64) (archivedPath string, archived bool, err error) {
	if everyTicks == 0 || snap.Header.Tick == 0 || snap.Header.Tick%everyTicks != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(sessionDir, "archives", fmt.Sprintf("tick_%d", snap.Header.Tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := Meta{
		SessionID:     snap.Header.SessionID,
		Tick:          snap.Header.Tick,
		Snapshot:      filepath.Base(dst),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		LedgerEntries: len(snap.Ledger),
		Regions:       len(snap.Grids),
	}
	for _, e := range snap.Ledger {
		meta.LedgerTotal += e.Level
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, true, nil
}

// PruneSnapshots deletes all but the keep newest `<tick>.snap.zst` files in
// dir and returns the removed paths. keep <= 0 disables pruning.
func PruneSnapshots(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snapFile struct {
		tick uint64
		path string
	}
	var files []snapFile
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, snapFile{tick: tick, path: filepath.Join(dir, name)})
	}
	if len(files) <= keep {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].tick > files[j].tick })

	var removed []string
	for _, f := range files[keep:] {
		if err := os.Remove(f.path); err != nil {
			return removed, err
		}
		removed = append(removed, f.path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
