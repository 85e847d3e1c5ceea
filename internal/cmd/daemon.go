package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"ptywatch/internal/cache"
	"ptywatch/internal/config"
	"ptywatch/internal/daemon"
	"ptywatch/internal/exitcode"
	"ptywatch/internal/style"
	"ptywatch/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupServices,
	Short:   "Manage the background watcher",
	RunE:    requireSubcommand,
	Long: `Manage the ptywatch background daemon.

The daemon scans PTY usage on a fixed interval, persists a snapshot for
'ptywatch daemon status' and the dashboard, and optionally auto-kills
leakers when kill.auto_threshold is configured.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	RunE:  runDaemonRestart,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run daemon in foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var (
	daemonLogLines  int
	daemonLogFollow bool
)

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "follow log output")

	rootCmd.AddCommand(daemonCmd)
}

// startupWait is how long start waits before verifying the daemon came up.
const startupWait = 300 * time.Millisecond

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return startDaemonProcess(cfg, 0)
}

// startDaemonProcess spawns "ptywatch daemon run" detached and verifies it
// acquired the PID file. prevPID > 0 means this is a restart.
func startDaemonProcess(cfg *config.Config, prevPID int) error {
	paths := cfg.Paths()

	running, pid, err := daemon.IsRunning(paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		return exitcode.AlreadyRunning(pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	runArgs := []string{"daemon", "run"}
	if flagConfig != "" {
		runArgs = append(runArgs, "--config", flagConfig)
	}
	if flagDir != "" {
		runArgs = append(runArgs, "--dir", flagDir)
	}

	proc := exec.Command(exe, runArgs...)
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil
	if err := proc.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	time.Sleep(startupWait)

	running, pid, err = daemon.IsRunning(paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return fmt.Errorf("daemon failed to start (check 'ptywatch daemon logs')")
	}

	// If another concurrent start won the lock race, our spawned process has
	// already exited; report whichever daemon is actually running.
	if pid != proc.Process.Pid {
		fmt.Printf("%s daemon already running (PID %d)\n", style.Warn.Render("!"), pid)
		return nil
	}

	if prevPID > 0 {
		fmt.Printf("%s daemon restarted (PID %d → %d)\n", style.Pass.Render("✓"), prevPID, pid)
	} else {
		fmt.Printf("%s daemon started (PID %d, scanning every %v)\n",
			style.Pass.Render("✓"), pid, cfg.ScanInterval())
	}
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := cfg.Paths()

	running, pid, err := daemon.IsRunning(paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return exitcode.NotRunning()
	}

	if err := daemon.StopDaemon(paths); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("%s daemon stopped (was PID %d)\n", style.Pass.Render("✓"), pid)
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := cfg.Paths()

	running, pid, err := daemon.IsRunning(paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if running {
		if err := daemon.StopDaemon(paths); err != nil {
			return fmt.Errorf("stopping daemon: %w", err)
		}
		time.Sleep(200 * time.Millisecond)
	}

	return startDaemonProcess(cfg, pid)
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths := cfg.Paths()

	running, pid, err := daemon.IsRunning(paths)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}

	if !running {
		fmt.Printf("%s daemon not running\n\n", style.Muted.Render("○"))
		fmt.Printf("  Runtime dir:  %s\n", ui.ShortenPath(cfg.RuntimeDir))
		fmt.Printf("  Start with:   %s\n", style.Muted.Render("ptywatch daemon start"))
		return nil
	}

	fmt.Printf("%s daemon running (PID %d)\n\n", style.Pass.Render("●"), pid)
	fmt.Printf("  Runtime dir:  %s\n", ui.ShortenPath(cfg.RuntimeDir))
	fmt.Printf("  Interval:     %v\n", cfg.ScanInterval())

	state, err := daemon.LoadState(paths.StateFile)
	if err == nil && state != nil && !state.StartedAt.IsZero() {
		fmt.Printf("  Started:      %s (%s)\n",
			state.StartedAt.Format("2006-01-02 15:04:05"), ui.RelativeTime(state.StartedAt))
		if !state.LastCycle.IsZero() {
			fmt.Printf("  Cycles:       #%d (%s)\n",
				state.CycleCount, ui.RelativeTime(state.LastCycle))
		}
	}
	fmt.Printf("  Log:          %s\n", ui.ShortenPath(paths.LogFile))

	// Snapshot freshness: a live daemon with a stale snapshot means scans
	// are failing; surface that instead of a green light.
	snap, err := cache.NewStore(paths.CacheFile).Read()
	switch {
	case err != nil:
		fmt.Printf("\n  %s no snapshot yet: %v\n", style.Warn.Render("!"), err)
	case snap.Stale(cfg.ScanInterval(), time.Now()):
		fmt.Printf("\n  %s snapshot is stale (%s old) - scans may be failing, check logs\n",
			style.Warn.Render("!"), ui.RelativeTime(snap.Timestamp))
	default:
		fmt.Printf("\n  Snapshot:     scan #%d, %d PTYs, %d leaks (%s)\n",
			snap.ScanNumber, snap.TotalPTYs, len(snap.SuspectedLeaks),
			ui.RelativeTime(snap.Timestamp))
	}
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logFile := cfg.Paths().LogFile

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	tailArgs := []string{"-n", fmt.Sprintf("%d", daemonLogLines)}
	if daemonLogFollow {
		tailArgs = []string{"-f"}
	}
	tailCmd := exec.Command("tail", append(tailArgs, logFile)...)
	tailCmd.Stdout = os.Stdout
	tailCmd.Stderr = os.Stderr
	return tailCmd.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	return d.Run()
}
