// Package cache persists the latest scan snapshot as versioned JSON.
//
// The snapshot is the public read surface of the daemon: the status command,
// the dashboard, and outside scripts all read it instead of rescanning.
// Writes are atomic (temp file + rename) so a reader never observes a
// half-written file, even if the daemon dies mid-write.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"ptywatch/internal/classify"
	"ptywatch/internal/scan"
	"ptywatch/internal/util"
)

// SchemaVersion is bumped whenever the snapshot layout changes
// incompatibly. Readers reject other versions rather than guessing.
const SchemaVersion = 1

// MaxPTYsPerProcess caps the device list stored per process. The count field
// stays exact; only the listing is truncated to bound snapshot size.
const MaxPTYsPerProcess = 10

// MaxAutoKilled caps the auto-kill history carried across cycles.
const MaxAutoKilled = 200

// ErrMiss is wrapped by every read failure: missing file, corrupt JSON, or
// an incompatible schema version. Callers match it with errors.Is.
var ErrMiss = errors.New("snapshot unavailable")

// ProcessEntry is one process in the snapshot.
type ProcessEntry struct {
	PID      int      `json:"pid"`
	Command  string   `json:"command"`
	PTYCount int      `json:"pty_count"`
	PTYs     []string `json:"ptys"`
}

// LeakEntry is one suspected leak with its classification reason.
type LeakEntry struct {
	PID      int    `json:"pid"`
	Command  string `json:"command"`
	PTYCount int    `json:"pty_count"`
	Rule     string `json:"rule"`
	Reason   string `json:"reason"`
}

// KilledEntry records one automatic termination.
type KilledEntry struct {
	PID      int       `json:"pid"`
	Command  string    `json:"command"`
	PTYCount int       `json:"pty_count"`
	KilledAt time.Time `json:"killed_at"`
}

// Snapshot is the persisted result of one scan cycle.
type Snapshot struct {
	SchemaVersion  int            `json:"schema_version"`
	Timestamp      time.Time      `json:"timestamp"`
	ScanNumber     int            `json:"scan_number"`
	TotalPTYs      int            `json:"total_ptys"`
	ProcessCount   int            `json:"process_count"`
	Processes      []ProcessEntry `json:"processes"`
	HeavyUsers     []ProcessEntry `json:"heavy_users"`
	SuspectedLeaks []LeakEntry    `json:"suspected_leaks"`
	AutoKilled     []KilledEntry  `json:"auto_killed"`
}

// Build assembles a snapshot from one cycle's results. killed is the rolling
// auto-kill history, newest last; it is capped here so the snapshot cannot
// grow without bound on a long-lived daemon.
func Build(scanNumber int, res *scan.Result, cls classify.Result, killed []KilledEntry, now time.Time) *Snapshot {
	snap := &Snapshot{
		SchemaVersion: SchemaVersion,
		Timestamp:     now.UTC(),
		ScanNumber:    scanNumber,
		TotalPTYs:     res.TotalPTYs,
		ProcessCount:  len(res.Records),
	}

	for _, rec := range res.Records {
		snap.Processes = append(snap.Processes, entry(rec))
	}
	for _, rec := range cls.HeavyUsers {
		snap.HeavyUsers = append(snap.HeavyUsers, entry(rec))
	}
	for _, leak := range cls.SuspectedLeaks {
		snap.SuspectedLeaks = append(snap.SuspectedLeaks, LeakEntry{
			PID:      leak.Record.PID,
			Command:  leak.Record.Command,
			PTYCount: leak.Record.PTYCount(),
			Rule:     leak.Rule,
			Reason:   leak.Reason,
		})
	}

	if len(killed) > MaxAutoKilled {
		killed = killed[len(killed)-MaxAutoKilled:]
	}
	snap.AutoKilled = append(snap.AutoKilled, killed...)

	return snap
}

func entry(rec scan.ProcessRecord) ProcessEntry {
	ptys := rec.PTYs
	if len(ptys) > MaxPTYsPerProcess {
		ptys = ptys[:MaxPTYsPerProcess]
	}
	return ProcessEntry{
		PID:      rec.PID,
		Command:  rec.Command,
		PTYCount: rec.PTYCount(),
		PTYs:     append([]string(nil), ptys...),
	}
}

// Age returns how old the snapshot is relative to now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Stale reports whether the snapshot has outlived two scan intervals,
// meaning the daemon has missed at least one cycle.
func (s *Snapshot) Stale(interval time.Duration, now time.Time) bool {
	return s.Age(now) > 2*interval
}

// Store reads and writes snapshots at a fixed path.
type Store struct {
	Path string
}

// NewStore returns a store for the given snapshot path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Write persists the snapshot atomically.
func (s *Store) Write(snap *Snapshot) error {
	if err := util.AtomicWriteJSON(s.Path, snap); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Read loads the snapshot. Any failure to produce a usable snapshot wraps
// ErrMiss so callers can distinguish "no data" from an I/O surprise they
// should report verbatim.
func (s *Store) Read() (*Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no snapshot at %s (daemon not running?)", ErrMiss, s.Path)
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: corrupt snapshot %s: %v", ErrMiss, s.Path, err)
	}
	if snap.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: snapshot schema v%d, this build reads v%d", ErrMiss, snap.SchemaVersion, SchemaVersion)
	}
	return &snap, nil
}
