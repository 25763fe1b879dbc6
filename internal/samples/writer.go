// Package samples persists RTT samples as one CSV artifact per client and
// loads them back for analysis.
package samples

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"

	"github.com/torosent/rttbench/internal/stats"
)

// Header columns of an artifact.
const (
	ColumnSize      = "size"
	ColumnIteration = "iteration"
	ColumnRTT       = "rtt_us"
)

// Header is the artifact header row.
var Header = []string{ColumnSize, ColumnIteration, ColumnRTT}

// WriterOption customises a Writer.
type WriterOption func(*Writer)

// WithFsync makes every Append fsync the file after flushing.
func WithFsync(enabled bool) WriterOption {
	return func(w *Writer) { w.fsync = enabled }
}

// Writer appends samples to a client's artifact. It holds an exclusive lock on
// the file until Close so analysis can tell a finished artifact from one in
// progress.
type Writer struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	buf    *bufio.Writer
	csv    *csv.Writer
	lock   *flock.Flock
	fsync  bool
	count  int
	closed bool
}

// ArtifactName returns the file name for clientID's artifact started at now:
// rtt_<client>_<YYYYmmdd_HHMMSS>_<usec>_<ulid>.csv.
func ArtifactName(clientID string, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	return fmt.Sprintf("rtt_%s_%s_%06d_%s.csv", clientID, now.Format("20060102_150405"), now.Nanosecond()/1000, id.String())
}

// NewWriter creates dir if needed and opens a new artifact for clientID.
func NewWriter(dir, clientID string, now time.Time, opts ...WriterOption) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	path := filepath.Join(dir, ArtifactName(clientID, now))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		_ = f.Close()
		if err == nil {
			err = fmt.Errorf("artifact %s is locked by another writer", path)
		}
		return nil, fmt.Errorf("lock artifact: %w", err)
	}

	buf := bufio.NewWriter(f)
	w := &Writer{
		path: path,
		file: f,
		buf:  buf,
		csv:  csv.NewWriter(buf),
		lock: lock,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.writeRow(Header); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write artifact header: %w", err)
	}
	return w, nil
}

// Path returns the artifact path.
func (w *Writer) Path() string {
	return w.path
}

// Count returns how many samples were appended.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Append writes s and flushes it to the file before returning.
func (w *Writer) Append(s stats.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	row := []string{
		strconv.FormatUint(uint64(s.PayloadSize), 10),
		strconv.FormatUint(uint64(s.Sequence), 10),
		strconv.FormatFloat(s.RTTMicros, 'f', 3, 64),
	}
	if err := w.writeRow(row); err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	w.count++
	return nil
}

func (w *Writer) writeRow(row []string) error {
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.fsync {
		return w.file.Sync()
	}
	return nil
}

// Close flushes, closes the file and releases the lock. It is safe to call
// more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	w.csv.Flush()
	firstErr := w.csv.Error()
	if err := w.buf.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
