package samples

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/torosent/rttbench/internal/stats"
)

// ArtifactPattern matches artifact file names.
const ArtifactPattern = "rtt_*.csv"

// ErrInProgress is returned by Load for an artifact a writer still holds.
var ErrInProgress = errors.New("artifact is still being written")

// DataIntegrityError reports an artifact that cannot be parsed.
type DataIntegrityError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *DataIntegrityError) Error() string {
	msg := e.Path
	if e.Line > 0 {
		msg = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataIntegrityError) Unwrap() error {
	return e.Err
}

// Discover returns the artifacts in dir, sorted by name.
func Discover(dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, ArtifactPattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ClientName derives the display name of an artifact: its base name without
// extension.
func ClientName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Load reads every sample of an artifact. The header must contain the size,
// iteration and rtt_us columns in any order; extra columns are ignored.
func Load(path string) ([]stats.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lock := flock.New(path)
	ok, err := lock.TryRLock()
	if err != nil {
		return nil, fmt.Errorf("check artifact lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrInProgress)
	}
	defer lock.Unlock()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, &DataIntegrityError{Path: path, Reason: "empty artifact"}
	}
	if err != nil {
		return nil, &DataIntegrityError{Path: path, Line: 1, Reason: "unreadable header", Err: err}
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, &DataIntegrityError{Path: path, Line: 1, Reason: err.Error()}
	}

	var out []stats.Sample
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			line := 0
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return nil, &DataIntegrityError{Path: path, Line: line, Reason: "malformed row", Err: err}
		}
		line, _ := r.FieldPos(0)
		s, err := parseRow(record, idx)
		if err != nil {
			return nil, &DataIntegrityError{Path: path, Line: line, Reason: "unparseable row", Err: err}
		}
		out = append(out, s)
	}
	return out, nil
}

type columns struct {
	size, iteration, rtt int
}

func columnIndex(header []string) (columns, error) {
	c := columns{size: -1, iteration: -1, rtt: -1}
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case ColumnSize:
			c.size = i
		case ColumnIteration:
			c.iteration = i
		case ColumnRTT:
			c.rtt = i
		}
	}
	var missing []string
	if c.size < 0 {
		missing = append(missing, ColumnSize)
	}
	if c.iteration < 0 {
		missing = append(missing, ColumnIteration)
	}
	if c.rtt < 0 {
		missing = append(missing, ColumnRTT)
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return c, nil
}

func parseRow(record []string, c columns) (stats.Sample, error) {
	size, err := strconv.ParseUint(strings.TrimSpace(record[c.size]), 10, 32)
	if err != nil {
		return stats.Sample{}, fmt.Errorf("size: %w", err)
	}
	iter, err := strconv.ParseUint(strings.TrimSpace(record[c.iteration]), 10, 32)
	if err != nil {
		return stats.Sample{}, fmt.Errorf("iteration: %w", err)
	}
	rtt, err := strconv.ParseFloat(strings.TrimSpace(record[c.rtt]), 64)
	if err != nil {
		return stats.Sample{}, fmt.Errorf("rtt_us: %w", err)
	}
	return stats.Sample{PayloadSize: uint32(size), Sequence: uint32(iter), RTTMicros: rtt}, nil
}
