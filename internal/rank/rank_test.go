package rank

import (
	"reflect"
	"testing"
	"time"

	"ptywatch/internal/classify"
	"ptywatch/internal/config"
	"ptywatch/internal/procinfo"
	"ptywatch/internal/scan"
)

var now = time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)

func leak(pid, ptys, strength int, rule string) classify.Leak {
	devs := make([]string, ptys)
	for i := range devs {
		devs[i] = "/dev/pts/x"
	}
	// Devices need not be distinct here; only the count feeds the score.
	return classify.Leak{
		Record:   scan.ProcessRecord{PID: pid, Command: "proc", PTYs: devs},
		Rule:     rule,
		Strength: strength,
	}
}

func weights() config.RankConfig {
	return config.Default().Rank
}

func TestRankOrdersByPTYCount(t *testing.T) {
	leaks := []classify.Leak{
		leak(100, 5, 1, "generic"),
		leak(200, 12, 1, "generic"),
		leak(300, 7, 1, "generic"),
	}

	out := Rank(leaks, nil, weights(), now)

	for i, want := range []int{200, 300, 100} {
		if out[i].Leak.Record.PID != want {
			t.Errorf("rank %d = PID %d, want %d", i+1, out[i].Leak.Record.PID, want)
		}
		if out[i].Rank != i+1 {
			t.Errorf("Rank field = %d, want %d", out[i].Rank, i+1)
		}
	}
}

func TestRankTieBreaksOnPID(t *testing.T) {
	leaks := []classify.Leak{
		leak(900, 6, 2, "runtime"),
		leak(100, 6, 2, "runtime"),
		leak(500, 6, 2, "runtime"),
	}

	out := Rank(leaks, nil, weights(), now)

	for i, want := range []int{100, 500, 900} {
		if out[i].Leak.Record.PID != want {
			t.Errorf("rank %d = PID %d, want %d", i+1, out[i].Leak.Record.PID, want)
		}
	}
}

func TestRankIsDeterministic(t *testing.T) {
	leaks := []classify.Leak{
		leak(100, 5, 3, "agent"),
		leak(200, 9, 2, "runtime"),
		leak(300, 11, 1, "generic"),
	}
	meta := map[int]procinfo.Meta{
		100: {PID: 100, PPID: 1, Started: now.Add(-30 * time.Minute)},
		300: {PID: 300, CPU: 80, RSSKB: 512000},
	}

	a := Rank(leaks, meta, weights(), now)
	b := Rank(leaks, meta, weights(), now)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("ranking not deterministic:\n%+v\n%+v", a, b)
	}

	reversed := []classify.Leak{leaks[2], leaks[1], leaks[0]}
	c := Rank(reversed, meta, weights(), now)
	for i := range a {
		if a[i].Leak.Record.PID != c[i].Leak.Record.PID {
			t.Errorf("ranking depends on input order at %d: %d vs %d",
				i, a[i].Leak.Record.PID, c[i].Leak.Record.PID)
		}
	}
}

func TestMissingMetadataContributesZero(t *testing.T) {
	l := leak(100, 6, 2, "runtime")
	w := weights()

	bare := Rank([]classify.Leak{l}, nil, w, now)[0]
	want := w.PTYCountWeight*6 + w.RuleWeight*2
	if bare.Score != want {
		t.Errorf("score = %v, want %v", bare.Score, want)
	}
	if bare.HasMeta {
		t.Error("HasMeta should be false with no lookup entry")
	}

	// Full metadata strictly increases the score for an idle, young orphan.
	meta := map[int]procinfo.Meta{
		100: {PID: 100, PPID: 1, CPU: 0, RSSKB: 2048, Started: now.Add(-time.Hour)},
	}
	full := Rank([]classify.Leak{l}, meta, w, now)[0]
	if full.Score <= bare.Score {
		t.Errorf("metadata should raise score: %v <= %v", full.Score, bare.Score)
	}
	if !full.HasMeta {
		t.Error("HasMeta should be true")
	}
}

func TestRecencyFavorsYoungerProcesses(t *testing.T) {
	leaks := []classify.Leak{
		leak(100, 6, 1, "generic"),
		leak(200, 6, 1, "generic"),
	}
	meta := map[int]procinfo.Meta{
		100: {PID: 100, Started: now.Add(-72 * time.Hour)},
		200: {PID: 200, Started: now.Add(-5 * time.Minute)},
	}

	out := Rank(leaks, meta, weights(), now)
	if out[0].Leak.Record.PID != 200 {
		t.Errorf("younger process should rank first, got PID %d", out[0].Leak.Record.PID)
	}
}

func TestBusyProcessScoresLowerThanIdle(t *testing.T) {
	leaks := []classify.Leak{
		leak(100, 6, 1, "generic"),
		leak(200, 6, 1, "generic"),
	}
	meta := map[int]procinfo.Meta{
		100: {PID: 100, CPU: 95},
		200: {PID: 200, CPU: 0},
	}

	out := Rank(leaks, meta, weights(), now)
	if out[0].Leak.Record.PID != 200 {
		t.Errorf("idle process should rank first, got PID %d", out[0].Leak.Record.PID)
	}
}

func TestWeightOverridesChangeOrdering(t *testing.T) {
	leaks := []classify.Leak{
		leak(100, 10, 1, "generic"), // many PTYs, modest memory
		leak(200, 6, 1, "generic"),  // fewer PTYs, huge memory
	}
	meta := map[int]procinfo.Meta{
		100: {PID: 100, RSSKB: 10 * 1024},
		200: {PID: 200, RSSKB: 4 * 1024 * 1024},
	}

	def := Rank(leaks, meta, weights(), now)
	if def[0].Leak.Record.PID != 100 {
		t.Fatalf("default weights should favor PTY count, got PID %d", def[0].Leak.Record.PID)
	}

	w := weights()
	w.MemoryWeight = 1
	heavyMem := Rank(leaks, meta, w, now)
	if heavyMem[0].Leak.Record.PID != 200 {
		t.Errorf("memory-weighted ranking should favor PID 200, got %d", heavyMem[0].Leak.Record.PID)
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	leaks := []classify.Leak{
		leak(300, 6, 1, "generic"),
		leak(100, 12, 1, "generic"),
	}
	Rank(leaks, nil, weights(), now)
	if leaks[0].Record.PID != 300 || leaks[1].Record.PID != 100 {
		t.Errorf("input reordered: %+v", leaks)
	}
}
