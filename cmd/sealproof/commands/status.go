package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show chain head and store summary",
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

			count, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			head, err := store.Head(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Database: %s\n", cfg.DBPath)
			fmt.Printf("Records:  %d\n", count)
			if head != nil {
				fmt.Printf("Head:     id=%d hash=%s\n", head.ID, short(head.Hash))
			} else {
				fmt.Println("Head:     <empty chain>")
			}
			signing := "disabled"
			if cfg.Signature.Enabled {
				signing = fmt.Sprintf("enabled (%s)", cfg.Signature.Algo)
			}
			fmt.Printf("Signing:  %s\n", signing)
			return nil
		},
	}
}
