package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/kvsync/internal/config"
	"github.com/systmms/kvsync/internal/vault"
)

// checkResult is one row of the doctor health table.
type checkResult struct {
	Check   string
	Status  string
	Message string
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and vault connectivity",
		Long: `Verify that kvsync is ready to run against the configured vault.

This command checks:
- Configuration file validity
- Vault backend type support
- Vault authentication and connectivity (one listing call)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerOrDefault(cfg)
			logger.Info("Checking kvsync configuration...")

			var results []checkResult
			failed := false

			if err := cfg.Load(); err != nil {
				results = append(results, checkResult{"configuration", "✗ error", err.Error()})
				outputDoctorTable(results)
				return fmt.Errorf("configuration is not usable")
			}
			results = append(results, checkResult{
				"configuration", "✓ ok",
				fmt.Sprintf("%d desired secret(s), %d legacy name(s)",
					len(cfg.Definition.Secrets), len(cfg.Definition.Legacy)),
			})

			vaultType := cfg.Definition.Vault.Type
			if !vault.IsSupported(vaultType) {
				results = append(results, checkResult{
					"vault type", "✗ error",
					fmt.Sprintf("'%s' is not supported; use one of: %s",
						vaultType, strings.Join(vault.SupportedTypes(), ", ")),
				})
				outputDoctorTable(results)
				return fmt.Errorf("vault type '%s' is not supported", vaultType)
			}
			results = append(results, checkResult{"vault type", "✓ ok", vaultType})

			ctx := cmd.Context()
			client, err := newVaultClient(ctx, cfg)
			if err != nil {
				results = append(results, checkResult{"vault client", "✗ error", err.Error()})
				failed = true
			} else {
				names, err := client.ListSecretNames(ctx)
				switch {
				case vault.IsAuth(err):
					results = append(results, checkResult{
						"vault connectivity", "✗ error",
						"authorization failed: " + err.Error(),
					})
					failed = true
				case err != nil:
					results = append(results, checkResult{"vault connectivity", "✗ error", err.Error()})
					failed = true
				default:
					results = append(results, checkResult{
						"vault connectivity", "✓ ok",
						fmt.Sprintf("%d active secret(s) visible", len(names)),
					})
				}
			}

			outputDoctorTable(results)
			if failed {
				return fmt.Errorf("doctor found problems; fix them before running sync")
			}
			logger.Info("All checks passed")
			return nil
		},
	}

	return cmd
}

func outputDoctorTable(results []checkResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t-------\n")
	for _, result := range results {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", result.Check, result.Status, result.Message)
	}
	_ = w.Flush()
}
