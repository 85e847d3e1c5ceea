package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"ptywatch/internal/output"
	"ptywatch/internal/scan"
	"ptywatch/internal/style"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:     "show",
	GroupID: GroupScan,
	Short:   "Scan now and show PTY usage",
	Long: `Run a fresh scan and report every process holding a PTY, with heavy
users and suspected leaks called out. Read-only: nothing is killed.`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "machine-readable output")
	rootCmd.AddCommand(showCmd)
}

// showReport is the --json payload for the show command.
type showReport struct {
	TotalPTYs      int           `json:"total_ptys"`
	ProcessCount   int           `json:"process_count"`
	Processes      []showProcess `json:"processes"`
	HeavyUsers     []int         `json:"heavy_users"`
	SuspectedLeaks []showLeak    `json:"suspected_leaks"`
}

type showProcess struct {
	PID      int      `json:"pid"`
	Command  string   `json:"command"`
	PTYCount int      `json:"pty_count"`
	PTYs     []string `json:"ptys"`
}

type showLeak struct {
	Rank     int     `json:"rank"`
	PID      int     `json:"pid"`
	Command  string  `json:"command"`
	PTYCount int     `json:"pty_count"`
	Rule     string  `json:"rule"`
	Reason   string  `json:"reason"`
	Score    float64 `json:"score"`
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	outcome, err := runPipeline(cmd.Context(), cfg)
	if err != nil {
		if showJSON {
			_ = output.Error(os.Stdout, err)
		}
		return err
	}

	if showJSON {
		return output.OK(os.Stdout, buildShowReport(outcome))
	}

	printShowReport(outcome, cfg.Classify.HeavyThreshold)
	return nil
}

func buildShowReport(o *scanOutcome) showReport {
	report := showReport{
		TotalPTYs:    o.res.TotalPTYs,
		ProcessCount: len(o.res.Records),
	}
	for _, rec := range o.res.Records {
		report.Processes = append(report.Processes, showProcess{
			PID:      rec.PID,
			Command:  rec.Command,
			PTYCount: rec.PTYCount(),
			PTYs:     rec.PTYs,
		})
	}
	for _, rec := range o.cls.HeavyUsers {
		report.HeavyUsers = append(report.HeavyUsers, rec.PID)
	}
	for _, cand := range o.candidates {
		report.SuspectedLeaks = append(report.SuspectedLeaks, showLeak{
			Rank:     cand.Rank,
			PID:      cand.Leak.Record.PID,
			Command:  cand.Leak.Record.Command,
			PTYCount: cand.Leak.Record.PTYCount(),
			Rule:     cand.Leak.Rule,
			Reason:   cand.Leak.Reason,
			Score:    cand.Score,
		})
	}
	return report
}

func printShowReport(o *scanOutcome, heavy int) {
	fmt.Printf("%s  %d PTYs across %d processes\n\n",
		style.Bold.Render("PTY usage:"), o.res.TotalPTYs, len(o.res.Records))

	leaks := make(map[int]bool)
	for _, cand := range o.candidates {
		leaks[cand.Leak.Record.PID] = true
	}
	heavySet := make(map[int]bool)
	for _, rec := range o.cls.HeavyUsers {
		heavySet[rec.PID] = true
	}

	// Busiest processes first; the interesting rows belong at the top.
	records := append([]scan.ProcessRecord(nil), o.res.Records...)
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].PTYCount() != records[j].PTYCount() {
			return records[i].PTYCount() > records[j].PTYCount()
		}
		return records[i].PID < records[j].PID
	})

	tbl := style.NewTable(
		style.Column{Name: "", Width: 1},
		style.Column{Name: "PID", Width: 8, Align: style.AlignRight},
		style.Column{Name: "PTYS", Width: 5, Align: style.AlignRight},
		style.Column{Name: "COMMAND", Width: 50},
	)
	for _, rec := range records {
		state := "ok"
		switch {
		case leaks[rec.PID]:
			state = "leak"
		case heavySet[rec.PID]:
			state = "heavy"
		}
		tbl.AddRow(
			style.StatusIcon(state),
			strconv.Itoa(rec.PID),
			style.CountBadge(rec.PTYCount(), heavy),
			rec.Command,
		)
	}
	fmt.Print(tbl.Render())

	if len(o.candidates) > 0 {
		fmt.Printf("\n%s\n", style.Bold.Render("Suspected leaks (kill priority):"))
		for _, cand := range o.candidates {
			fmt.Printf("  %d. PID %d (%s): %s\n",
				cand.Rank, cand.Leak.Record.PID,
				cand.Leak.Record.Command, style.Fail.Render(cand.Leak.Reason))
		}
		fmt.Printf("\nRun %s to terminate them.\n", style.Bold.Render("ptywatch clean"))
	}
}
