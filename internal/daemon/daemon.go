// Package daemon runs the background scan loop and owns the runtime
// directory: PID file, flock singleton, state file, snapshot cache, and log.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"ptywatch/internal/cache"
	"ptywatch/internal/classify"
	"ptywatch/internal/config"
	"ptywatch/internal/procinfo"
	"ptywatch/internal/rank"
	"ptywatch/internal/remedy"
	"ptywatch/internal/scan"
)

// Daemon is the background watcher. One cycle = scan, classify, rank,
// optionally auto-kill, persist snapshot.
type Daemon struct {
	cfg    *config.Config
	paths  config.Paths
	logger *log.Logger

	scanner    *scan.Scanner
	classifier *classify.Classifier
	meta       procinfo.Source
	store      *cache.Store
	actions    *remedy.ActionLog

	ctx    context.Context
	cancel context.CancelFunc

	// scanNumber restarts at 0 with every daemon start; consumers detect a
	// daemon restart by seeing it go backwards.
	scanNumber int
	// killed is the rolling auto-kill history carried into each snapshot.
	killed []cache.KilledEntry
}

// Option overrides a daemon collaborator. Used by tests to inject a fake
// scanner or metadata source.
type Option func(*Daemon)

// WithScanner replaces the lsof-backed scanner.
func WithScanner(s *scan.Scanner) Option {
	return func(d *Daemon) { d.scanner = s }
}

// WithMetaSource replaces the ps-backed metadata source.
func WithMetaSource(src procinfo.Source) Option {
	return func(d *Daemon) { d.meta = src }
}

// New creates a daemon instance. The runtime directory is created here; the
// singleton lock is not taken until Run.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	paths := cfg.Paths()
	if err := os.MkdirAll(filepath.Dir(paths.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("creating runtime directory: %w", err)
	}

	logFile, err := os.OpenFile(paths.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := log.New(logFile, "", log.LstdFlags)

	classifier, err := classify.New(classify.Thresholds{
		Heavy:   cfg.Classify.HeavyThreshold,
		Runtime: cfg.Classify.RuntimeThreshold,
		Generic: cfg.Classify.GenericThreshold,
	}, cfg.Classify.AgentPattern, cfg.Classify.RuntimePattern)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cfg:        cfg,
		paths:      paths,
		logger:     logger,
		scanner:    scan.New(cfg.Scan.LsofPath, cfg.ScanTimeout()),
		classifier: classifier,
		meta:       procinfo.NewPS(),
		store:      cache.NewStore(paths.CacheFile),
		actions:    remedy.NewActionLog(paths.ActionsLog),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run starts the daemon main loop. Blocks until a termination signal or Stop.
func (d *Daemon) Run() error {
	d.logger.Printf("daemon starting (PID %d)", os.Getpid())

	// Exclusive lock closes the TOCTOU race where two concurrent starts both
	// pass an IsRunning check before either writes the PID file.
	fileLock := flock.New(d.paths.LockFile)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held by another process)")
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := os.WriteFile(d.paths.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(d.paths.PIDFile) }()

	state := &State{
		Running:   true,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	}
	if err := SaveState(d.paths.StateFile, state); err != nil {
		d.logger.Printf("warning: failed to save state: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	interval := d.cfg.ScanInterval()
	timer := time.NewTimer(0) // first cycle immediately
	defer timer.Stop()

	d.logger.Printf("daemon running, scan interval %v", interval)

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Println("context canceled, shutting down")
			return d.shutdown(state)

		case sig := <-sigChan:
			d.logger.Printf("received signal %v, shutting down", sig)
			return d.shutdown(state)

		case <-timer.C:
			d.cycle(state)
			timer.Reset(interval)
		}
	}
}

// Stop signals the daemon loop to exit.
func (d *Daemon) Stop() {
	d.cancel()
}

// cycle runs one scan pass. A failed enumeration is logged and skipped; the
// daemon stays up and the previous snapshot stays in place.
func (d *Daemon) cycle(state *State) {
	now := time.Now()

	res, err := d.scanner.Scan(d.ctx)
	if err != nil {
		d.logger.Printf("scan #%d failed: %v", d.scanNumber, err)
		return
	}

	cls := d.classifier.Classify(res.Records)
	candidates := d.rankLeaks(cls)

	if d.cfg.Kill.AutoThreshold > 0 {
		d.autoKill(candidates, now)
	}

	snap := cache.Build(d.scanNumber, res, cls, d.killed, now)
	if err := d.store.Write(snap); err != nil {
		d.logger.Printf("scan #%d: %v", d.scanNumber, err)
	}

	d.logger.Printf("scan #%d: %d PTYs across %d processes, %d heavy, %d suspected leaks",
		d.scanNumber, res.TotalPTYs, len(res.Records), len(cls.HeavyUsers), len(cls.SuspectedLeaks))
	d.scanNumber++

	state.LastCycle = now
	state.CycleCount++
	if err := SaveState(d.paths.StateFile, state); err != nil {
		d.logger.Printf("warning: failed to save state: %v", err)
	}
}

func (d *Daemon) rankLeaks(cls classify.Result) []rank.Candidate {
	if len(cls.SuspectedLeaks) == 0 {
		return nil
	}
	pids := make([]int, len(cls.SuspectedLeaks))
	for i, leak := range cls.SuspectedLeaks {
		pids[i] = leak.Record.PID
	}
	meta, err := d.meta.Lookup(d.ctx, pids)
	if err != nil {
		d.logger.Printf("metadata lookup failed: %v", err)
		meta = nil
	}
	return rank.Rank(cls.SuspectedLeaks, meta, d.cfg.Rank, time.Now())
}

// autoKill terminates ranked candidates holding more PTYs than the
// auto-kill threshold. The full safety gate sequence still applies.
func (d *Daemon) autoKill(candidates []rank.Candidate, now time.Time) {
	var targets []rank.Candidate
	for _, cand := range candidates {
		if cand.Leak.Record.PTYCount() > d.cfg.Kill.AutoThreshold {
			targets = append(targets, cand)
		}
	}
	if len(targets) == 0 {
		return
	}

	r := remedy.New(remedy.Policy{
		LowPIDBoundary: d.cfg.Kill.LowPIDBoundary,
		SelfPID:        os.Getpid(),
		Ancestors:      procinfo.Ancestors(os.Getpid()),
		OwnerUID:       os.Getuid(),
		Grace:          d.cfg.KillGrace(),
	}, remedy.WithActionLog(d.actions))

	report := r.Run(targets)
	for _, out := range report.Outcomes {
		switch out.Status {
		case remedy.StatusKilled:
			d.logger.Printf("auto-killed PID %d (%s, %d PTYs)", out.PID, out.Command, out.PTYCount)
			d.killed = append(d.killed, cache.KilledEntry{
				PID:      out.PID,
				Command:  out.Command,
				PTYCount: out.PTYCount,
				KilledAt: now.UTC(),
			})
		case remedy.StatusBlocked:
			d.logger.Printf("auto-kill blocked for PID %d: %s", out.PID, out.Reason)
		case remedy.StatusFailed:
			d.logger.Printf("auto-kill failed for PID %d: %s", out.PID, out.Reason)
		}
	}
	if len(d.killed) > cache.MaxAutoKilled {
		d.killed = d.killed[len(d.killed)-cache.MaxAutoKilled:]
	}
}

// shutdown writes the final state and lets the deferred cleanup in Run
// remove the PID file and release the lock.
func (d *Daemon) shutdown(state *State) error {
	state.Running = false
	if err := SaveState(d.paths.StateFile, state); err != nil {
		d.logger.Printf("warning: failed to save final state: %v", err)
	}
	d.logger.Println("daemon stopped")
	return nil
}

// IsRunning checks the PID file and verifies the process is alive and is
// actually a ptywatch daemon. Stale PID files (dead process, or PID reused
// by an unrelated program) are removed.
// The flock in Run is the authoritative duplicate-prevention mechanism;
// this is for status checks and cleanup.
func IsRunning(paths config.Paths) (bool, int, error) {
	data, err := os.ReadFile(paths.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, 0, fmt.Errorf("invalid PID in file %q: %w", pidStr, err)
	}

	if !procinfo.Alive(pid) {
		_ = os.Remove(paths.PIDFile)
		return false, 0, nil
	}

	if !isPtywatchDaemon(pid) {
		// PID reused by a different program since the daemon died.
		_ = os.Remove(paths.PIDFile)
		return false, 0, nil
	}

	return true, pid, nil
}

// isPtywatchDaemon verifies a PID's command line looks like "ptywatch daemon
// run", guarding against PID reuse.
func isPtywatchDaemon(pid int) bool {
	cmdline, ok := procinfo.CommandLine(pid)
	if !ok {
		return false
	}
	return strings.Contains(cmdline, "ptywatch") &&
		strings.Contains(cmdline, "daemon") &&
		strings.Contains(cmdline, "run")
}

// stopWait bounds how long StopDaemon waits for a graceful exit before
// escalating to SIGKILL.
const stopWait = 5 * time.Second

// StopDaemon terminates the running daemon: SIGTERM, wait, then SIGKILL.
// Returns an error when no daemon is running.
func StopDaemon(paths config.Paths) error {
	running, pid, err := IsRunning(paths)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if !procinfo.Alive(pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if procinfo.Alive(pid) {
		_ = process.Signal(syscall.SIGKILL)
	}

	_ = os.Remove(paths.PIDFile)
	return nil
}
