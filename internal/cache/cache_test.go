package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"ptywatch/internal/classify"
	"ptywatch/internal/scan"
)

var now = time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)

func sampleResult() *scan.Result {
	return &scan.Result{
		Records: []scan.ProcessRecord{
			{PID: 100, Command: "bash", PTYs: []string{"/dev/pts/0"}},
			{PID: 200, Command: "node agent", PTYs: []string{"/dev/pts/1", "/dev/pts/2", "/dev/pts/3", "/dev/pts/4", "/dev/pts/5", "/dev/pts/6"}},
		},
		TotalPTYs: 7,
	}
}

func sampleClassification() classify.Result {
	rec := scan.ProcessRecord{PID: 200, Command: "node agent",
		PTYs: []string{"/dev/pts/1", "/dev/pts/2", "/dev/pts/3", "/dev/pts/4", "/dev/pts/5", "/dev/pts/6"}}
	return classify.Result{
		HeavyUsers: []scan.ProcessRecord{rec},
		SuspectedLeaks: []classify.Leak{{
			Record: rec,
			Rule:   "agent",
			Reason: "agent-like process with >4 PTYs",
		}},
	}
}

func TestBuildSnapshot(t *testing.T) {
	snap := Build(3, sampleResult(), sampleClassification(), nil, now)

	if snap.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d", snap.SchemaVersion)
	}
	if snap.ScanNumber != 3 || snap.TotalPTYs != 7 || snap.ProcessCount != 2 {
		t.Errorf("header = %+v", snap)
	}
	if len(snap.Processes) != 2 || len(snap.HeavyUsers) != 1 {
		t.Errorf("processes = %d, heavy = %d", len(snap.Processes), len(snap.HeavyUsers))
	}
	if len(snap.SuspectedLeaks) != 1 {
		t.Fatalf("leaks = %+v", snap.SuspectedLeaks)
	}
	leak := snap.SuspectedLeaks[0]
	if leak.PID != 200 || leak.Rule != "agent" || leak.Reason == "" {
		t.Errorf("leak = %+v", leak)
	}
}

func TestBuildCapsPTYList(t *testing.T) {
	devs := make([]string, 25)
	for i := range devs {
		devs[i] = "/dev/pts/" + strconv.Itoa(i)
	}
	res := &scan.Result{
		Records:   []scan.ProcessRecord{{PID: 100, Command: "tmux", PTYs: devs}},
		TotalPTYs: 25,
	}

	snap := Build(1, res, classify.Result{}, nil, now)

	p := snap.Processes[0]
	if len(p.PTYs) != MaxPTYsPerProcess {
		t.Errorf("stored PTYs = %d, want %d", len(p.PTYs), MaxPTYsPerProcess)
	}
	// The count stays exact even when the listing is truncated.
	if p.PTYCount != 25 {
		t.Errorf("PTYCount = %d, want 25", p.PTYCount)
	}
}

func TestBuildCapsAutoKilledHistory(t *testing.T) {
	killed := make([]KilledEntry, MaxAutoKilled+50)
	for i := range killed {
		killed[i] = KilledEntry{PID: i + 1000, KilledAt: now}
	}

	snap := Build(1, sampleResult(), classify.Result{}, killed, now)

	if len(snap.AutoKilled) != MaxAutoKilled {
		t.Fatalf("AutoKilled = %d, want %d", len(snap.AutoKilled), MaxAutoKilled)
	}
	// The oldest entries are the ones dropped.
	if snap.AutoKilled[0].PID != 1050 {
		t.Errorf("oldest kept PID = %d, want 1050", snap.AutoKilled[0].PID)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "cache.json"))
	snap := Build(7, sampleResult(), sampleClassification(), nil, now)

	if err := store.Write(snap); err != nil {
		t.Fatal(err)
	}
	got, err := store.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got.ScanNumber != 7 || got.TotalPTYs != 7 || len(got.SuspectedLeaks) != 1 {
		t.Errorf("round trip = %+v", got)
	}
	if !got.Timestamp.Equal(snap.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, snap.Timestamp)
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "cache.json"))
	if err := store.Write(Build(1, sampleResult(), classify.Result{}, nil, now)); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "cache.json"))
	_, err := store.Read()
	if !errors.Is(err, ErrMiss) {
		t.Errorf("want ErrMiss, got %v", err)
	}
}

func TestReadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewStore(path).Read()
	if !errors.Is(err, ErrMiss) {
		t.Errorf("want ErrMiss, got %v", err)
	}
}

func TestReadRejectsWrongSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte(`{"schema_version": 99}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewStore(path).Read()
	if !errors.Is(err, ErrMiss) {
		t.Errorf("want ErrMiss, got %v", err)
	}
}

func TestStale(t *testing.T) {
	snap := &Snapshot{Timestamp: now.Add(-45 * time.Second)}

	if snap.Stale(30*time.Second, now) {
		t.Error("45s old at 30s interval is within the 2x window")
	}
	if !snap.Stale(20*time.Second, now) {
		t.Error("45s old at 20s interval should be stale")
	}
}
