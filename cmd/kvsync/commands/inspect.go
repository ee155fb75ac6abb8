package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/kvsync/internal/config"
	"github.com/systmms/kvsync/internal/inspect"
)

func NewInspectCommand(cfg *config.Config) *cobra.Command {
	var (
		sampleValues bool
		outputJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report on secrets stored in the vault (no values shown)",
		Long: `Inspect lists the vault's active secrets, classifies them by naming
heuristics (connection strings, keys/tokens, endpoints), and prints a
report table. With --sample, each value's shape (detected type, length,
and a few edge characters) is included; the raw value is never printed.`,
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

			entries, err := inspect.New(client, logger).Inspect(ctx, sampleValues)
			if err != nil {
				return fmt.Errorf("failed to inspect: %w", err)
			}

			if outputJSON {
				return outputInspectJSON(entries)
			}
			outputInspectTable(entries, sampleValues)
			return nil
		},
	}

	cmd.Flags().BoolVar(&sampleValues, "sample", false, "Sample value shapes (length and detected type, never raw values)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")

	return cmd
}

func outputInspectJSON(entries []inspect.Entry) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}

func outputInspectTable(entries []inspect.Entry, sampled bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if sampled {
		_, _ = fmt.Fprintf(w, "SECRET\tBUCKETS\tENABLED\tTYPE\tLENGTH\tSAMPLE\n")
		_, _ = fmt.Fprintf(w, "------\t-------\t-------\t----\t------\t------\n")
	} else {
		_, _ = fmt.Fprintf(w, "SECRET\tBUCKETS\tENABLED\tUPDATED\n")
		_, _ = fmt.Fprintf(w, "------\t-------\t-------\t-------\n")
	}

	for _, entry := range entries {
		buckets := make([]string, 0, len(entry.Buckets))
		for _, bucket := range entry.Buckets {
			buckets = append(buckets, string(bucket))
		}

		if sampled && entry.Shape != nil {
			sample := entry.Shape.EdgeSample
			if sample == "" {
				sample = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\t%s\n",
				entry.Name,
				strings.Join(buckets, ","),
				entry.Metadata.Enabled,
				entry.Shape.DetectedType,
				entry.Shape.Length,
				sample,
			)
			continue
		}

		updated := "-"
		if !entry.Metadata.Updated.IsZero() {
			updated = entry.Metadata.Updated.Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n",
			entry.Name,
			strings.Join(buckets, ","),
			entry.Metadata.Enabled,
			updated,
		)
	}
	_ = w.Flush()

	fmt.Printf("\nTotal secrets: %d\n", len(entries))
}
