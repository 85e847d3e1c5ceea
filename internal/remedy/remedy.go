// Package remedy terminates leaked processes under strict safety invariants.
//
// Every kill runs the same gate sequence regardless of how aggressive the
// configured thresholds are: low-PID protection, own-process-tree protection,
// owner check, and an identity re-check against the live process table to
// defend against PID reuse between scan and kill. Plan mode evaluates the
// exact same gates without issuing a single syscall that could alter state.
package remedy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"ptywatch/internal/procinfo"
	"ptywatch/internal/rank"
)

// Outcome statuses for one candidate.
const (
	StatusKilled  = "killed"  // exited after SIGTERM or SIGKILL
	StatusPlanned = "planned" // plan mode, gates passed
	StatusBlocked = "blocked" // a safety gate refused the kill
	StatusFailed  = "failed"  // kill attempted but did not succeed
	StatusGone    = "gone"    // already exited before we signaled
)

// Outcome records what happened to one candidate.
type Outcome struct {
	PID      int
	Command  string
	PTYCount int
	Status   string
	// Reason explains Blocked/Failed/Gone outcomes:
	// "low-pid", "own-process-tree", "owner-mismatch", "identity-mismatch",
	// "already-exited", "permission-denied", "still-alive".
	Reason string
	// Escalated is true when SIGKILL was needed after the grace period.
	Escalated bool
}

// Report is the result of one remediation batch.
type Report struct {
	// BatchID ties the report to its audit log lines.
	BatchID  string
	PlanOnly bool
	Started  time.Time
	Outcomes []Outcome
	Killed   int
	Failed   int
	Blocked  int
}

// Killer sends signals. Injected in tests; the default hits the real kernel.
type Killer interface {
	Signal(pid int, sig unix.Signal) error
}

// KernelKiller is the production Killer.
type KernelKiller struct{}

func (KernelKiller) Signal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// Policy holds the safety boundaries for a remediation run.
type Policy struct {
	// Plan evaluates gates and reports what would happen, touching nothing.
	Plan bool
	// LowPIDBoundary: PIDs below this are never killed.
	LowPIDBoundary int
	// SelfPID and Ancestors protect our own process tree.
	SelfPID   int
	Ancestors []int
	// OwnerUID is the UID we are allowed to kill. Candidates owned by anyone
	// else, or whose owner is unknown, are blocked.
	OwnerUID int
	// Grace is how long to wait after SIGTERM before escalating.
	Grace time.Duration
}

// Remediator executes kill batches.
type Remediator struct {
	policy Policy
	killer Killer
	// alive and identify are injectable for tests.
	alive    func(pid int) bool
	identify func(pid int) (string, bool)
	log      *ActionLog
	// poll is the Alive re-check interval during the grace window.
	poll time.Duration
}

// Option configures a Remediator.
type Option func(*Remediator)

// WithKiller replaces the signal backend.
func WithKiller(k Killer) Option {
	return func(r *Remediator) { r.killer = k }
}

// WithAliveFunc replaces the liveness probe.
func WithAliveFunc(f func(pid int) bool) Option {
	return func(r *Remediator) { r.alive = f }
}

// WithIdentifyFunc replaces the command-line re-reader.
func WithIdentifyFunc(f func(pid int) (string, bool)) Option {
	return func(r *Remediator) { r.identify = f }
}

// WithActionLog attaches an audit log; every non-plan outcome is appended.
func WithActionLog(l *ActionLog) Option {
	return func(r *Remediator) { r.log = l }
}

// WithPollInterval sets the liveness polling cadence inside the grace window.
func WithPollInterval(d time.Duration) Option {
	return func(r *Remediator) { r.poll = d }
}

// New builds a Remediator for one policy.
func New(policy Policy, opts ...Option) *Remediator {
	r := &Remediator{
		policy:   policy,
		killer:   KernelKiller{},
		alive:    procinfo.Alive,
		identify: procinfo.CommandLine,
		poll:     50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes candidates in rank order. One candidate failing never stops
// the batch; each outcome is recorded independently.
func (r *Remediator) Run(candidates []rank.Candidate) *Report {
	report := &Report{
		BatchID:  uuid.NewString(),
		PlanOnly: r.policy.Plan,
		Started:  time.Now(),
	}

	for _, cand := range candidates {
		outcome := r.one(cand)
		report.Outcomes = append(report.Outcomes, outcome)
		switch outcome.Status {
		case StatusKilled:
			report.Killed++
		case StatusFailed:
			report.Failed++
		case StatusBlocked:
			report.Blocked++
		}
		if r.log != nil && !r.policy.Plan {
			// The audit log is best-effort; a full disk must not strand
			// leaked PTYs.
			_ = r.log.Append(report.BatchID, outcome)
		}
	}
	return report
}

func (r *Remediator) one(cand rank.Candidate) Outcome {
	out := Outcome{
		PID:      cand.Leak.Record.PID,
		Command:  cand.Leak.Record.Command,
		PTYCount: cand.Leak.Record.PTYCount(),
	}

	if reason := r.gate(cand); reason != "" {
		out.Status = StatusBlocked
		out.Reason = reason
		return out
	}

	if r.policy.Plan {
		out.Status = StatusPlanned
		return out
	}

	return r.kill(out)
}

// gate runs the safety checks. Returns "" when the kill may proceed.
// Order matters: the cheapest, most absolute checks come first.
func (r *Remediator) gate(cand rank.Candidate) string {
	pid := cand.Leak.Record.PID

	if pid < r.policy.LowPIDBoundary {
		return "low-pid"
	}
	if pid == r.policy.SelfPID {
		return "own-process-tree"
	}
	for _, anc := range r.policy.Ancestors {
		if pid == anc {
			return "own-process-tree"
		}
	}
	// Unknown owner blocks: fail safe, never fail open.
	if !cand.HasMeta || cand.Meta.UID != r.policy.OwnerUID {
		return "owner-mismatch"
	}
	return ""
}

// kill is the two-phase termination: verify identity, SIGTERM, wait, then
// escalate to SIGKILL and verify the process is actually gone.
func (r *Remediator) kill(out Outcome) Outcome {
	// Re-read the command line just before signaling. If the PID now maps to
	// a different program, it was reused and must not be touched.
	current, ok := r.identify(out.PID)
	if !ok {
		out.Status = StatusGone
		out.Reason = "already-exited"
		return out
	}
	if !sameCommand(current, out.Command) {
		out.Status = StatusBlocked
		out.Reason = "identity-mismatch"
		return out
	}

	if err := r.killer.Signal(out.PID, unix.SIGTERM); err != nil {
		switch err {
		case unix.ESRCH:
			out.Status = StatusGone
			out.Reason = "already-exited"
		case unix.EPERM:
			out.Status = StatusFailed
			out.Reason = "permission-denied"
		default:
			out.Status = StatusFailed
			out.Reason = err.Error()
		}
		return out
	}

	if r.waitGone(out.PID, r.policy.Grace) {
		out.Status = StatusKilled
		return out
	}

	out.Escalated = true
	if err := r.killer.Signal(out.PID, unix.SIGKILL); err != nil && err != unix.ESRCH {
		out.Status = StatusFailed
		out.Reason = fmt.Sprintf("sigkill: %v", err)
		return out
	}
	if r.waitGone(out.PID, r.policy.Grace) {
		out.Status = StatusKilled
		return out
	}

	// SIGKILL delivered but the process persists (unkillable D-state).
	out.Status = StatusFailed
	out.Reason = "still-alive"
	return out
}

func (r *Remediator) waitGone(pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		if !r.alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(r.poll)
	}
}

// sameCommand compares the scanned command against the live one. lsof reports
// the short command name while ps reports full args, so prefix matching in
// either direction counts as the same process.
func sameCommand(live, scanned string) bool {
	if live == scanned {
		return true
	}
	if scanned == "" || live == "" {
		return false
	}
	return hasTokenPrefix(live, scanned) || hasTokenPrefix(scanned, live)
}

func hasTokenPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	if s[:len(prefix)] != prefix {
		return false
	}
	return len(s) == len(prefix) || s[len(prefix)] == ' '
}
