// Package cmd provides the CLI commands for the ptywatch tool.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ptywatch/internal/config"
	"ptywatch/internal/exitcode"
	"ptywatch/internal/style"
	"ptywatch/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:     "ptywatch",
	Short:   "PTY leak watchdog",
	Version: Version,
	Long: `ptywatch monitors pseudo-terminal usage and hunts down processes that
leak PTYs - typically agent tooling and dev servers that allocate
terminals and never release them.

One-shot commands scan on demand; the daemon scans continuously and
persists snapshots for the status command and the dashboard.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupColor,
}

// Command group IDs, used by subcommands to organize help output.
const (
	GroupScan     = "scan"
	GroupServices = "services"
	GroupDiag     = "diag"
)

var (
	flagConfig string
	flagDir    string
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupScan, Title: "Scanning & Cleanup:"},
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupDiag)

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.config/ptywatch/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "runtime directory (default $TMPDIR/ptywatch)")
}

func setupColor(cmd *cobra.Command, args []string) error {
	if !ui.ShouldUseColor() {
		style.DisableColor()
	}
	return nil
}

// loadConfig resolves the effective configuration: defaults, then the config
// file, then command-line overrides.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, err
	}
	if flagDir != "" {
		cfg.RuntimeDir = flagDir
	}
	return cfg, nil
}

// Execute runs the root command and returns an exit code for main.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return exitcode.Code(err)
	}
	return exitcode.Success
}

// buildCommandPath walks the command hierarchy to build the full command
// path, e.g. "ptywatch daemon start".
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand is the RunE for parent commands that need a subcommand.
// Without it, cobra silently shows help and exits 0 for unknown subcommands,
// masking errors.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
