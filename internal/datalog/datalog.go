// Package datalog implements the CSV data-log sink (spec.md §4.M,
// supplementing §6's "single sink interface").
package datalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/halow-ap/dcsd/internal/dcs"
)

// Header is the CSV header every sink writes on first open, exactly
// matching the replay path's expected input (spec.md §4.J).
const Header = "time,frequency_khz,bandwidth_mhz,channel_s1g,metric,accumulated_score,rounds_as_best_for_channel,current_channel\n"

// runDirPattern names each run's log directory
// <datalog_root>/<YYYY_MM_DD_hh_mm_ss>/ (spec.md §6).
const runDirPattern = "%Y_%m_%d_%H_%M_%S"

// CSVSink is the concrete dcs.DataSink: one dcs.log file per process run
// under a timestamped directory (spec.md §4.M).
type CSVSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

var _ dcs.DataSink = (*CSVSink)(nil)

// NewCSVSink creates <rootDir>/<timestamp>/dcs.log, writing Header on
// first open. now is accepted as a parameter rather than read internally
// so callers control the run-directory timestamp (spec.md §4.M).
func NewCSVSink(rootDir string, now time.Time) (*CSVSink, error) {
	var pattern, compileErr = strftime.New(runDirPattern)
	if compileErr != nil {
		return nil, fmt.Errorf("datalog: compile run-dir pattern: %w", compileErr)
	}

	var dirName = pattern.FormatString(now)
	var dir = filepath.Join(rootDir, dirName)

	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return nil, fmt.Errorf("datalog: mkdir %s: %w", dir, mkErr)
	}

	var path = filepath.Join(dir, "dcs.log")

	var f, openErr = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if openErr != nil {
		return nil, fmt.Errorf("datalog: open %s: %w", path, openErr)
	}

	if _, writeErr := f.WriteString(Header); writeErr != nil {
		f.Close()

		return nil, fmt.Errorf("datalog: write header: %w", writeErr)
	}

	return &CSVSink{mu: sync.Mutex{}, f: f, path: path}, nil
}

// Record appends one CSV row for sample/entry (spec.md §4.J).
func (s *CSVSink) Record(sample dcs.Measurement, entry dcs.ChannelEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current = 0
	if entry.Score.IsCurrent {
		current = 1
	}

	var _, err = fmt.Fprintf(s.f, "%d,%d,%d,%d,%d,%d,%d,%d\n",
		sample.CapturedAt.Unix(),
		entry.Descriptor.CentreFreqKHz,
		entry.Descriptor.BandwidthMHz,
		entry.Descriptor.S1GChannel,
		sample.MetricRaw,
		entry.Score.AccumulatedScore,
		entry.Score.RoundsAsBest,
		current,
	)

	return err
}

// Close flushes and closes the underlying file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.f.Close()
}

// Path returns the sink's log file path.
func (s *CSVSink) Path() string { return s.path }
