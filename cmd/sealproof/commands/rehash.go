package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sealproof/sealproof/internal/audit"
)

func newRehashCmd() *cobra.Command {
	var fromID int64
	var chunkSize int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "rehash",
		Short: "Recompute and repair audit chain hashes",
		Long:  "Walks the audit records in id order, recomputing hash, previous_hash and signature, and rewrites only the rows that drifted. Use --dry-run to preview the blast radius before committing.",
		Example: `  sealproof rehash --dry-run
  sealproof rehash
  sealproof rehash --from-id 1000`,
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

			signer, err := buildSigner(cfg)
			if err != nil {
				return err
			}

			if chunkSize == 0 {
				chunkSize = cfg.Audit.RehashChunk
			}

			if dryRun {
				color.Yellow("Dry run: no records will be modified")
			}

			rehasher := audit.NewRehasher(store, signer, chunkSize, cliLogger())
			verb := "updated"
			if dryRun {
				verb = "would update"
			}
			rehasher.OnUpdate = func(id int64) {
				fmt.Printf("record %d: %s chain fields\n", id, verb)
			}

			result, err := rehasher.Rehash(cmd.Context(), fromID, dryRun)
			if err != nil {
				return fmt.Errorf("rehash aborted: %w", err)
			}

			fmt.Printf("Processed %d records, %s %d\n", result.Total, verb, result.Updated)
			return nil
		},
	}

	cmd.Flags().Int64Var(&fromID, "from-id", 0, "first record id to rehash (0 = whole chain)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "records per chunk (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and count but write nothing")
	return cmd
}
