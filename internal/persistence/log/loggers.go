package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	// OnClose, if set, is called with the path of every file the writer
	// finishes, on rotation and on Close.
	OnClose func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	closed := ""
	if w.f != nil {
		closed = w.pathForHour(w.curHour)
	}
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	if closed != "" && w.OnClose != nil {
		w.OnClose(closed)
	}
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// OpEntry is one line of the op audit trail.
type OpEntry struct {
	Tick      uint64  `json:"tick"`
	SessionID string  `json:"session_id"`
	ReqID     string  `json:"req_id,omitempty"`
	Op        string  `json:"op"`
	Target    string  `json:"target,omitempty"`
	Other     string  `json:"other,omitempty"`
	OK        bool    `json:"ok"`
	Code      string  `json:"code,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Moved     float64 `json:"moved,omitempty"`
	Clamps    int     `json:"clamps,omitempty"`
	MicroSecs int64   `json:"us"`
}

// OpLogger writes the op audit trail (compressed).
type OpLogger struct{ w *JSONLZstdWriter }

func NewOpLogger(sessionDir string) *OpLogger {
	return &OpLogger{w: NewJSONLZstdWriter(filepath.Join(sessionDir, "audit"), "ops")}
}

func (l *OpLogger) WriteOp(e OpEntry) error { return l.w.Write(e) }
func (l *OpLogger) Close() error            { return l.w.Close() }

// OnClose registers fn for every finished audit file.
func (l *OpLogger) OnClose(fn func(path string)) { l.w.OnClose = fn }

// ReadOps decodes every entry from one ops-*.jsonl.zst file. Files written by
// several process runs hold concatenated zstd frames, which the decoder reads
// back to back.
func ReadOps(path string) ([]OpEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return decodeOps(zr)
}

func decodeOps(r io.Reader) ([]OpEntry, error) {
	dec := json.NewDecoder(r)
	var out []OpEntry
	for {
		var e OpEntry
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, fmt.Errorf("decode op entry %d: %w", len(out), err)
		}
		out = append(out, e)
	}
}

// OpFiles lists the audit files of a session directory, oldest first.
func OpFiles(sessionDir string) ([]string, error) {
	dir := filepath.Join(sessionDir, "audit")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "ops-") || !strings.HasSuffix(e.Name(), ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
