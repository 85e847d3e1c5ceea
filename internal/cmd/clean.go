package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ptywatch/internal/config"
	"ptywatch/internal/exitcode"
	"ptywatch/internal/output"
	"ptywatch/internal/procinfo"
	"ptywatch/internal/rank"
	"ptywatch/internal/remedy"
	"ptywatch/internal/scan"
	"ptywatch/internal/style"
)

var (
	cleanPlan      bool
	cleanYes       bool
	cleanThreshold int
	cleanJSON      bool
)

var cleanCmd = &cobra.Command{
	Use:     "clean",
	GroupID: GroupScan,
	Short:   "Terminate suspected PTY leakers",
	Long: `Scan, rank the suspected leaks, and terminate them in priority order.

Each kill is SIGTERM first, escalating to SIGKILL after the grace period.
Safety invariants always apply: system PIDs, other users' processes, and
ptywatch's own process tree are never touched.

Use --plan to see what would be killed without signaling anything.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanPlan, "plan", false, "show what would be killed without killing")
	cleanCmd.Flags().BoolVarP(&cleanYes, "yes", "y", false, "skip the confirmation prompt")
	cleanCmd.Flags().IntVar(&cleanThreshold, "threshold", 0, "only target leaks holding more than this many PTYs")
	cleanCmd.Flags().BoolVar(&cleanJSON, "json", false, "machine-readable output")
	rootCmd.AddCommand(cleanCmd)
}

// cleanReport is the --json payload for the clean command.
type cleanReport struct {
	BatchID   string         `json:"batch_id"`
	Plan      bool           `json:"plan"`
	Outcomes  []cleanOutcome `json:"outcomes"`
	Killed    int            `json:"killed"`
	Failed    int            `json:"failed"`
	Blocked   int            `json:"blocked"`
	FreedPTYs int            `json:"freed_ptys"`
}

type cleanOutcome struct {
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	PTYCount  int    `json:"pty_count"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Escalated bool   `json:"escalated,omitempty"`
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	outcome, err := runPipeline(cmd.Context(), cfg)
	if err != nil {
		if cleanJSON {
			_ = output.Error(os.Stdout, err)
		}
		return err
	}

	targets := outcome.candidates
	if cleanThreshold > 0 {
		var filtered []rank.Candidate
		for _, cand := range targets {
			if cand.Leak.Record.PTYCount() > cleanThreshold {
				filtered = append(filtered, cand)
			}
		}
		targets = filtered
	}

	if len(targets) == 0 {
		if cleanJSON {
			return output.OK(os.Stdout, cleanReport{Plan: cleanPlan})
		}
		fmt.Printf("%s no suspected leaks found\n", style.Pass.Render("✓"))
		return nil
	}

	if !cleanPlan && !cleanYes && !cleanJSON {
		if !confirmKill(targets) {
			fmt.Println("aborted")
			return nil
		}
	}

	self := os.Getpid()
	r := remedy.New(remedy.Policy{
		Plan:           cleanPlan,
		LowPIDBoundary: cfg.Kill.LowPIDBoundary,
		SelfPID:        self,
		Ancestors:      procinfo.Ancestors(self),
		OwnerUID:       os.Getuid(),
		Grace:          cfg.KillGrace(),
	}, remedy.WithActionLog(remedy.NewActionLog(cfg.Paths().ActionsLog)))

	report := r.Run(targets)

	freed := 0
	if !cleanPlan && report.Killed > 0 {
		freed = freedPTYs(cmd.Context(), cfg, outcome.res.TotalPTYs)
	}

	if cleanJSON {
		if err := output.OK(os.Stdout, buildCleanReport(report, freed)); err != nil {
			return err
		}
	} else {
		printCleanReport(report, freed)
	}

	if report.Failed > 0 {
		return exitcode.PartialFailure(report.Failed)
	}
	return nil
}

func confirmKill(targets []rank.Candidate) bool {
	fmt.Printf("About to terminate %d process(es):\n", len(targets))
	for _, cand := range targets {
		fmt.Printf("  %d. PID %d (%s): %s\n",
			cand.Rank, cand.Leak.Record.PID, cand.Leak.Record.Command, cand.Leak.Reason)
	}
	fmt.Print("Proceed? [y/N] ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// freedPTYs rescans after a kill batch and reports how many PTYs were
// actually released. Best-effort: a failed rescan reports zero rather than
// failing a clean that already succeeded.
func freedPTYs(ctx context.Context, cfg *config.Config, before int) int {
	res, err := scan.New(cfg.Scan.LsofPath, cfg.ScanTimeout()).Scan(ctx)
	if err != nil || res.TotalPTYs >= before {
		return 0
	}
	return before - res.TotalPTYs
}

func buildCleanReport(report *remedy.Report, freed int) cleanReport {
	out := cleanReport{
		BatchID:   report.BatchID,
		Plan:      report.PlanOnly,
		Killed:    report.Killed,
		Failed:    report.Failed,
		Blocked:   report.Blocked,
		FreedPTYs: freed,
	}
	for _, o := range report.Outcomes {
		out.Outcomes = append(out.Outcomes, cleanOutcome{
			PID:       o.PID,
			Command:   o.Command,
			PTYCount:  o.PTYCount,
			Status:    o.Status,
			Reason:    o.Reason,
			Escalated: o.Escalated,
		})
	}
	return out
}

func printCleanReport(report *remedy.Report, freed int) {
	for _, o := range report.Outcomes {
		switch o.Status {
		case remedy.StatusPlanned:
			fmt.Printf("  %s would kill PID %d (%s, %d PTYs)\n",
				style.Warn.Render("plan:"), o.PID, o.Command, o.PTYCount)
		case remedy.StatusKilled:
			how := "SIGTERM"
			if o.Escalated {
				how = "SIGKILL"
			}
			fmt.Printf("  %s killed PID %d (%s) via %s\n",
				style.Pass.Render("✓"), o.PID, o.Command, how)
		case remedy.StatusGone:
			fmt.Printf("  %s PID %d (%s) already exited\n",
				style.Muted.Render("-"), o.PID, o.Command)
		case remedy.StatusBlocked:
			fmt.Printf("  %s PID %d (%s) blocked: %s\n",
				style.Warn.Render("!"), o.PID, o.Command, o.Reason)
		case remedy.StatusFailed:
			fmt.Printf("  %s PID %d (%s) failed: %s\n",
				style.Fail.Render("✗"), o.PID, o.Command, o.Reason)
		}
	}

	if report.PlanOnly {
		fmt.Printf("\nPlan only: nothing was signaled. Re-run without --plan to execute.\n")
		return
	}
	fmt.Printf("\n%d killed, %d failed, %d blocked", report.Killed, report.Failed, report.Blocked)
	if freed > 0 {
		fmt.Printf(", %d PTYs freed", freed)
	}
	fmt.Println()
}
