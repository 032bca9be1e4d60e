package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelpath.ai/internal/sim/nav/planner"
)

const hourLayout = "2006-01-02-15"

// JSONLZstdWriter appends JSON lines to zstd-compressed files rotated per UTC
// hour: <baseDir>/<prefix>-<hour>.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

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

// Write appends v as one line. Each line is flushed into the encoder; the
// zstd frame is only complete once the file is rotated or closed.
func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if hour := w.now().UTC().Format(hourLayout); hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Path returns the file the writer is currently appending to, or "".
func (w *JSONLZstdWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curHour == "" {
		return ""
	}
	return w.pathForHour(w.curHour)
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	name := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc = f, enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var errs []error
	if w.w != nil {
		errs = append(errs, w.w.Flush())
		w.w = nil
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}
	w.curHour = ""
	return errors.Join(errs...)
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// SearchLogger persists planner records under dataDir/searches and
// dataDir/failures. It implements planner.Recorder; write errors are counted
// rather than returned.
type SearchLogger struct {
	searches *JSONLZstdWriter
	failures *JSONLZstdWriter

	errCount atomic.Uint64
	lastErr  atomic.Pointer[error]
}

var _ planner.Recorder = (*SearchLogger)(nil)

func NewSearchLogger(dataDir string) *SearchLogger {
	return &SearchLogger{
		searches: NewJSONLZstdWriter(filepath.Join(dataDir, "searches"), "searches"),
		failures: NewJSONLZstdWriter(filepath.Join(dataDir, "failures"), "failures"),
	}
}

func (l *SearchLogger) RecordSearch(r planner.SearchRecord)   { l.note(l.searches.Write(r)) }
func (l *SearchLogger) RecordFailure(r planner.FailureRecord) { l.note(l.failures.Write(r)) }

func (l *SearchLogger) note(err error) {
	if err == nil {
		return
	}
	l.errCount.Add(1)
	l.lastErr.Store(&err)
}

// Errors returns the number of failed writes and the most recent error.
func (l *SearchLogger) Errors() (uint64, error) {
	n := l.errCount.Load()
	if p := l.lastErr.Load(); p != nil {
		return n, *p
	}
	return n, nil
}

// SearchPath is the search log currently being written, or "".
func (l *SearchLogger) SearchPath() string { return l.searches.Path() }

func (l *SearchLogger) Close() error {
	return errors.Join(l.searches.Close(), l.failures.Close())
}

// ReadSearches decodes every record of a searches-*.jsonl.zst file.
func ReadSearches(path string) ([]planner.SearchRecord, error) {
	var out []planner.SearchRecord
	err := readJSONL(path, func(dec *json.Decoder) error {
		var r planner.SearchRecord
		if err := dec.Decode(&r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// ReadFailures decodes every record of a failures-*.jsonl.zst file.
func ReadFailures(path string) ([]planner.FailureRecord, error) {
	var out []planner.FailureRecord
	err := readJSONL(path, func(dec *json.Decoder) error {
		var r planner.FailureRecord
		if err := dec.Decode(&r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func readJSONL(path string, each func(*json.Decoder) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	dec := json.NewDecoder(bufio.NewReader(zr))
	for dec.More() {
		if err := each(dec); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// Truncated tail from a writer that never closed.
				return nil
			}
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}
