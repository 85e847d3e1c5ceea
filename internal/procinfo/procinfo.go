// Package procinfo reads per-process metadata (start time, parent, owner,
// CPU, memory) via a single batched ps call.
//
// The ranker and remediator consume this; both tolerate missing entries,
// since any process can exit between the scan and the lookup.
package procinfo

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Meta is one process's metadata at lookup time.
type Meta struct {
	PID     int
	PPID    int
	UID     int
	CPU     float64 // percent, as reported by ps
	RSSKB   int     // resident set size in kilobytes
	TTY     string
	Started time.Time // zero when unparsable
	Command string    // full command line
}

// Orphaned reports whether the process has been reparented to init.
func (m Meta) Orphaned() bool {
	return m.PPID == 1
}

// Source looks up metadata for a set of PIDs.
// PIDs that no longer exist are simply absent from the result.
type Source interface {
	Lookup(ctx context.Context, pids []int) (map[int]Meta, error)
}

// PS is the production Source, shelling out to ps once per lookup.
type PS struct {
	Timeout time.Duration
}

// NewPS returns a ps-backed Source with a 5 second timeout.
func NewPS() *PS {
	return &PS{Timeout: 5 * time.Second}
}

// lstart is always 5 space-separated fields: "Mon Jan  2 15:04:05 2006".
const lstartFields = 5

// Lookup fetches metadata for pids in one batched ps call.
func (p *PS) Lookup(ctx context.Context, pids []int) (map[int]Meta, error) {
	result := make(map[int]Meta)
	if len(pids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	pidStrs := make([]string, len(pids))
	for i, pid := range pids {
		pidStrs[i] = strconv.Itoa(pid)
	}

	out, err := exec.CommandContext(ctx, "ps",
		"-o", "pid=,ppid=,uid=,pcpu=,rss=,tty=,lstart=,args=",
		"-p", strings.Join(pidStrs, ",")).Output()
	if err != nil && len(out) == 0 {
		// ps exits 1 when every requested PID is gone. Not an error for us:
		// missing metadata degrades to neutral scoring.
		return result, nil
	}

	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		meta, ok := parseLine(line)
		if !ok {
			continue
		}
		result[meta.PID] = meta
	}
	return result, nil
}

// parseLine parses one ps output row. Field layout:
// pid ppid uid pcpu rss tty <5 lstart fields> args...
func parseLine(line string) (Meta, bool) {
	fields := strings.Fields(line)
	if len(fields) < 6+lstartFields+1 {
		return Meta{}, false
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return Meta{}, false
	}
	ppid, _ := strconv.Atoi(fields[1])
	uid, _ := strconv.Atoi(fields[2])
	cpu, _ := strconv.ParseFloat(fields[3], 64)
	rss, _ := strconv.Atoi(fields[4])

	meta := Meta{
		PID:     pid,
		PPID:    ppid,
		UID:     uid,
		CPU:     cpu,
		RSSKB:   rss,
		TTY:     fields[5],
		Command: strings.Join(fields[6+lstartFields:], " "),
	}

	lstart := strings.Join(fields[6:6+lstartFields], " ")
	if started, err := time.ParseInLocation("Mon Jan 2 15:04:05 2006", lstart, time.Local); err == nil {
		meta.Started = started
	}

	return meta, true
}

// Alive reports whether a process exists, via signal 0.
// EPERM still means the process exists (owned by another user).
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// CommandLine reads a single process's current command line.
// Returns ok=false when the process no longer exists.
func CommandLine(pid int) (string, bool) {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "args=").Output()
	if err != nil {
		return "", false
	}
	cmdline := strings.TrimSpace(string(out))
	if cmdline == "" {
		return "", false
	}
	return cmdline, true
}

// Ancestors returns the PID chain from pid up to init, excluding pid itself.
// Used by the remediator to avoid killing its own process tree.
func Ancestors(pid int) []int {
	var chain []int
	seen := map[int]bool{pid: true}

	current := pid
	for i := 0; i < 64; i++ { // defend against ppid cycles in a racing table
		out, err := exec.Command("ps", "-p", strconv.Itoa(current), "-o", "ppid=").Output()
		if err != nil {
			break
		}
		ppid, err := strconv.Atoi(strings.TrimSpace(string(out)))
		if err != nil || ppid <= 0 || seen[ppid] {
			break
		}
		chain = append(chain, ppid)
		seen[ppid] = true
		if ppid == 1 {
			break
		}
		current = ppid
	}
	return chain
}
