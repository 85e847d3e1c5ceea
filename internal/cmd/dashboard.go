package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"ptywatch/internal/cache"
	"ptywatch/internal/exitcode"
	"ptywatch/internal/tui"
	"ptywatch/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	Aliases: []string{"dash"},
	GroupID: GroupDiag,
	Short:   "Live PTY usage dashboard",
	Long: `Open a full-screen dashboard over the daemon's snapshot file.

The dashboard is read-only and needs a running daemon to stay fresh; it
refreshes itself as new snapshots land.`,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !ui.IsTerminal() {
		return exitcode.New(exitcode.ErrUsage, "dashboard requires a terminal")
	}

	store := cache.NewStore(cfg.Paths().CacheFile)
	if _, err := store.Read(); err != nil && errors.Is(err, cache.ErrMiss) {
		return exitcode.CacheMiss(err)
	}

	return tui.Run(store, cfg.ScanInterval(), cfg.Classify.HeavyThreshold)
}
