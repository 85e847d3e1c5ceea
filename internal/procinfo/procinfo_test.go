package procinfo

import (
	"os"
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	line := "  815  1  501  2.5  34816 ttys003 Mon Aug 24 09:15:02 2026 node /usr/local/bin/dev-server --watch"

	meta, ok := parseLine(line)
	if !ok {
		t.Fatal("parseLine rejected a valid row")
	}
	if meta.PID != 815 {
		t.Errorf("PID = %d, want 815", meta.PID)
	}
	if meta.PPID != 1 || !meta.Orphaned() {
		t.Errorf("PPID = %d, Orphaned = %v", meta.PPID, meta.Orphaned())
	}
	if meta.UID != 501 {
		t.Errorf("UID = %d, want 501", meta.UID)
	}
	if meta.CPU != 2.5 {
		t.Errorf("CPU = %v, want 2.5", meta.CPU)
	}
	if meta.RSSKB != 34816 {
		t.Errorf("RSSKB = %d, want 34816", meta.RSSKB)
	}
	if meta.Command != "node /usr/local/bin/dev-server --watch" {
		t.Errorf("Command = %q", meta.Command)
	}

	want := time.Date(2026, time.August, 24, 9, 15, 2, 0, time.Local)
	if !meta.Started.Equal(want) {
		t.Errorf("Started = %v, want %v", meta.Started, want)
	}
}

func TestParseLineRejectsShortRows(t *testing.T) {
	for _, line := range []string{
		"",
		"815",
		"815 1 501 0.0 1024 ttys000", // missing lstart and args
		"garbage here that is not a ps row at all ok",
	} {
		if _, ok := parseLine(line); ok {
			t.Errorf("parseLine accepted %q", line)
		}
	}
}

func TestAliveSelf(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive should report our own PID as alive")
	}
}

func TestAliveGone(t *testing.T) {
	// PID beyond typical pid_max; if it exists on some exotic box, skip.
	const unlikely = 1 << 22
	if Alive(unlikely) {
		t.Skip("improbable PID is alive on this host")
	}
}

func TestAncestorsIncludesParent(t *testing.T) {
	chain := Ancestors(os.Getpid())
	if len(chain) == 0 {
		t.Skip("no readable ancestors (containerized ps?)")
	}
	if chain[0] != os.Getppid() {
		t.Errorf("chain[0] = %d, want parent %d", chain[0], os.Getppid())
	}
}
