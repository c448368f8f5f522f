package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sealproof/sealproof/internal/audit"
	"github.com/sealproof/sealproof/internal/safefile"
)

func newExportCmd() *cobra.Command {
	var fromID, toID int64
	var chunkSize int
	var output, format string
	var includeContext, includeChanges bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit records as JSON Lines",
		Long:  "Streams a range of audit records to a JSON Lines file for SIEM shipping. Sensitive keys in context and change payloads are redacted in the exported copy; stored records are never modified.",
		Example: `  sealproof export --output audit.jsonl
  sealproof export --output audit.jsonl --format ecs
  sealproof export --output audit.jsonl --from-id 1000 --to-id 2000 --include-context`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck // best-effort cleanup

			out, err := safefile.Create(output)
			if err != nil {
				return fmt.Errorf("opening output path: %w", err)
			}
			defer out.Close() //nolint:errcheck // close error surfaced below

			if chunkSize == 0 {
				chunkSize = cfg.Audit.ExportChunk
			}

			exporter := audit.NewExporter(store, cfg.Audit.SensitiveKeys)
			count, err := exporter.Export(cmd.Context(), out, audit.ExportOptions{
				FromID:         fromID,
				ToID:           toID,
				ChunkSize:      chunkSize,
				Format:         format,
				IncludeContext: includeContext,
				IncludeChanges: includeChanges,
			})
			if err != nil {
				return fmt.Errorf("export aborted after %d records: %w", count, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("flushing output: %w", err)
			}

			fmt.Printf("Exported %d records to %s (%s)\n", count, output, format)
			return nil
		},
	}

	cmd.Flags().Int64Var(&fromID, "from-id", 0, "first record id to export (0 = start)")
	cmd.Flags().Int64Var(&toID, "to-id", 0, "last record id to export (0 = end)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "records per chunk (default from config)")
	cmd.Flags().StringVar(&output, "output", "", "output file path (required)")
	cmd.Flags().StringVar(&format, "format", audit.FormatDefault, "output shape: default or ecs")
	cmd.Flags().BoolVar(&includeContext, "include-context", false, "include the (redacted) context document")
	cmd.Flags().BoolVar(&includeChanges, "include-changes", false, "include the (redacted) old/new value documents")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
