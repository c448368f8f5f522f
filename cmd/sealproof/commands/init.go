package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sealproof/sealproof/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  "Writes a config file with documented defaults to the --config path so operators can start from a complete template instead of an empty file.",
		Example: `  sealproof init
  sealproof init --config /etc/sealproof/sealproof.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfgFile); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
			}
			if err := config.Defaults().Save(cfgFile); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Printf("Wrote %s\n", cfgFile)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
