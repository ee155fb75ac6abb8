package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/kvsync/internal/config"
	"github.com/systmms/kvsync/internal/reconcile"
)

func NewSyncCommand(cfg *config.Config) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the vault's secrets with the configured desired state",
		Long: `Sync brings the vault's secret set into the state declared in kvsync.yaml:
legacy names are retired, soft-deleted remnants blocking desired names are
purged, stale values are replaced, and missing secrets are created. The run
finishes with a verification listing and a summary table.

Per-name failures never abort the run; re-running sync retries only the
residual failures. Use --dry-run to see planned actions without touching
the vault.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerOrDefault(cfg)
			if err := cfg.Load(); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			ctx := cmd.Context()
			client, err := newVaultClient(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create vault client: %w", err)
			}

			r := reconcile.New(client, logger,
				reconcile.WithSettleTimeout(cfg.Definition.Settle.Timeout()),
				reconcile.WithPollInterval(cfg.Definition.Settle.PollInterval()),
			)
			desired := cfg.DesiredSecrets()

			if dryRun {
				actions, err := r.Plan(ctx, desired, cfg.Definition.Legacy)
				if err != nil {
					return fmt.Errorf("failed to plan: %w", err)
				}
				outputPlanTable(actions)
				return nil
			}

			report, err := r.Run(ctx, desired, cfg.Definition.Legacy)
			if err != nil {
				return err
			}
			outputReportTable(report)

			if len(report.Failed) > 0 || len(report.MissingAfterVerify) > 0 {
				return fmt.Errorf("%d secret(s) failed to reconcile; re-run sync to retry",
					len(report.Failed)+len(report.MissingAfterVerify))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show planned actions without mutating the vault")

	return cmd
}

func outputPlanTable(actions []reconcile.PlannedAction) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "SECRET\tACTION\n")
	_, _ = fmt.Fprintf(w, "------\t------\n")
	for _, action := range actions {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", action.Name, action.Action)
	}
	_ = w.Flush()

	fmt.Printf("\nPlanned actions: %d (dry run, nothing changed)\n", len(actions))
}

func outputReportTable(report *reconcile.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "OUTCOME\tCOUNT\n")
	_, _ = fmt.Fprintf(w, "-------\t-----\n")
	_, _ = fmt.Fprintf(w, "legacy retired\t%d\n", report.LegacyRemoved)
	_, _ = fmt.Fprintf(w, "remnants purged\t%d\n", report.Purged)
	_, _ = fmt.Fprintf(w, "updated\t%d\n", report.Updated)
	_, _ = fmt.Fprintf(w, "created\t%d\n", report.Created)
	_, _ = fmt.Fprintf(w, "verified\t%d\n", report.Verified)
	_, _ = fmt.Fprintf(w, "failed\t%d\n", len(report.Failed))
	_ = w.Flush()

	if len(report.Failed) > 0 {
		fmt.Printf("\nFailures:\n")
		for _, failure := range report.Failed {
			fmt.Printf("  ✗ %s: %s\n", failure.Name, failure.Reason)
		}
	}
	if len(report.MissingAfterVerify) > 0 {
		fmt.Printf("\nMissing after verification:\n")
		for _, name := range report.MissingAfterVerify {
			fmt.Printf("  ✗ %s\n", name)
		}
	}
}
