package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docdex/docdex/internal/logging"
	"github.com/docdex/docdex/internal/output"
	"github.com/docdex/docdex/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and diagnose issues",
		Long: `Run environment diagnostics:

  - configuration validity
  - source directory and document count
  - data directory writability
  - local embedding backend health
  - remote API credential presence
  - index database readability

Checks that the configured mode does not depend on are reported but do
not fail the run.`,
		Example: `  docdex doctor
  docdex doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, root, err := loadConfig()
			if err != nil {
				return err
			}

			checker := preflight.New()
			results := checker.RunAll(ctx, cfg, root)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				out := output.New(cmd.OutOrStdout())
				renderDoctorResults(out, results, verbose)
				if verbose {
					renderLogFile(out)
				}
			}

			if checker.HasCriticalFailures(results) {
				return fmt.Errorf("doctor found critical issues")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for passing checks too")

	return cmd
}

// renderLogFile names the active log file so users know where to look when
// a check needs digging into.
func renderLogFile(out *output.Writer) {
	path, err := logging.FindLogFile("")
	if err != nil {
		out.Statusf("", "%-18s %s", "log file", "none yet (run any command with --debug)")
		return
	}
	out.Statusf("", "%-18s %s", "log file", path)
}

func renderDoctorResults(out *output.Writer, results []preflight.CheckResult, verbose bool) {
	for _, r := range results {
		icon := "✅"
		switch r.Status {
		case preflight.StatusWarn:
			icon = "⚠️ "
		case preflight.StatusFail:
			icon = "❌"
		}
		out.Statusf(icon, "%-18s %s", r.Name, r.Message)
		if r.Details != "" && (verbose || r.Status != preflight.StatusPass) {
			out.Statusf("", "%-18s %s", "", r.Details)
		}
	}
}
