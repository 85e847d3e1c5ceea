// Package scan enumerates PTY ownership by invoking lsof and parsing its
// field output into per-process records.
//
// lsof is treated as an opaque external primitive: the parser only relies on
// the single-character field tags of -F mode (p = PID, c = command, n = file
// name), not on column positions, so minor output drift across OS versions
// doesn't break it.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ProcessRecord is one process holding at least one PTY.
// Records are immutable once built; a fresh set is produced per scan.
type ProcessRecord struct {
	PID     int
	Command string
	// PTYs is the deduplicated, sorted set of PTY device paths.
	PTYs []string
}

// PTYCount returns the number of distinct PTYs held.
// Always derived from the set, never cached separately.
func (r ProcessRecord) PTYCount() int {
	return len(r.PTYs)
}

// Result is the outcome of one enumeration pass.
type Result struct {
	// Records lists every process holding a PTY, ordered by PID.
	Records []ProcessRecord
	// TotalPTYs is the sum of per-process PTY counts.
	TotalPTYs int
	// Skipped counts lines the parser could not interpret.
	Skipped int
}

// EnumerationError means the external primitive is missing, hung, or
// produced no parseable records. Recoverable for the daemon (cycle skipped),
// fatal for a one-shot invocation.
type EnumerationError struct {
	Reason string
	Cause  error
}

func (e *EnumerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("enumerating PTYs: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("enumerating PTYs: %s", e.Reason)
}

func (e *EnumerationError) Unwrap() error { return e.Cause }

// IsEnumerationError reports whether err is (or wraps) an EnumerationError.
func IsEnumerationError(err error) bool {
	var ee *EnumerationError
	return errors.As(err, &ee)
}

// Runner executes the enumeration primitive and returns its raw output.
// Injected in tests; the default shells out to lsof.
type Runner func(ctx context.Context) ([]byte, error)

// Scanner invokes the enumeration primitive under a timeout.
type Scanner struct {
	// LsofPath overrides the binary path. Empty means search PATH.
	LsofPath string
	// Timeout bounds one invocation. A hung lsof must not hang the caller.
	Timeout time.Duration

	runner Runner
}

// DefaultTimeout bounds a single lsof invocation.
const DefaultTimeout = 10 * time.Second

// New returns a Scanner that shells out to lsof.
func New(lsofPath string, timeout time.Duration) *Scanner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Scanner{LsofPath: lsofPath, Timeout: timeout}
	s.runner = s.runLsof
	return s
}

// NewWithRunner returns a Scanner using a custom runner. Used by tests.
func NewWithRunner(runner Runner, timeout time.Duration) *Scanner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scanner{Timeout: timeout, runner: runner}
}

// Scan enumerates current PTY ownership. Read-only with respect to the OS.
// Returns an EnumerationError when the primitive is unavailable, times out,
// or yields zero valid records: an empty process table is never reported as
// a healthy result, because it almost always means the primitive is broken.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	out, err := s.runner(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &EnumerationError{Reason: "lsof timed out", Cause: err}
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, &EnumerationError{Reason: "lsof not found - install it via your package manager", Cause: err}
		}
		// lsof exits non-zero when some descriptors can't be read; its
		// partial output is still usable. Only fail when there is none.
		if len(out) == 0 {
			return nil, &EnumerationError{Reason: "lsof failed with no output", Cause: err}
		}
	}

	result := parse(string(out))
	if len(result.Records) == 0 {
		return nil, &EnumerationError{Reason: "no PTY records parsed (primitive broken or output format changed)"}
	}
	return result, nil
}

func (s *Scanner) runLsof(ctx context.Context) ([]byte, error) {
	bin := s.LsofPath
	if bin == "" {
		bin = "lsof"
	}
	// -F pcn: field output with PID, command, and file name per descriptor.
	cmd := exec.CommandContext(ctx, bin, "-F", "pcn")
	return cmd.Output()
}

// isPTYDevice reports whether an lsof name field refers to a pseudo-terminal.
// Linux exposes /dev/pts/N; macOS uses /dev/ttysNNN.
func isPTYDevice(name string) bool {
	return strings.HasPrefix(name, "/dev/pts/") || strings.HasPrefix(name, "/dev/ttys")
}

// parse converts lsof -F output into deduplicated per-process records.
// Unparsable lines are counted and skipped, never fatal here: the caller
// decides whether zero records constitutes a failed scan.
func parse(out string) *Result {
	type proc struct {
		command string
		ptys    map[string]struct{}
	}

	procs := make(map[int]*proc)
	skipped := 0
	var current *proc

	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		tag, value := line[0], line[1:]

		switch tag {
		case 'p':
			pid, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || pid <= 0 {
				skipped++
				current = nil
				continue
			}
			if p, ok := procs[pid]; ok {
				current = p
			} else {
				current = &proc{ptys: make(map[string]struct{})}
				procs[pid] = current
			}
		case 'c':
			if current == nil {
				skipped++
				continue
			}
			if current.command == "" {
				current.command = value
			}
		case 'n':
			if current == nil {
				skipped++
				continue
			}
			if isPTYDevice(value) {
				current.ptys[value] = struct{}{}
			}
		default:
			// Other -F tags (fd, type, device...) are valid lsof fields we
			// simply don't use.
		}
	}

	result := &Result{Skipped: skipped}
	pids := make([]int, 0, len(procs))
	for pid, p := range procs {
		if len(p.ptys) == 0 {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	for _, pid := range pids {
		p := procs[pid]
		ptys := make([]string, 0, len(p.ptys))
		for dev := range p.ptys {
			ptys = append(ptys, dev)
		}
		sort.Strings(ptys)

		result.Records = append(result.Records, ProcessRecord{
			PID:     pid,
			Command: p.command,
			PTYs:    ptys,
		})
		result.TotalPTYs += len(ptys)
	}

	return result
}
