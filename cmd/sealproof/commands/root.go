package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sealproof/sealproof/internal/audit"
	"github.com/sealproof/sealproof/internal/config"
)

var cfgFile string

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "sealproof",
		Short: "Tamper-evident audit chain tooling",
		Long:  "Sealproof provides hash-chain verification, repair and export for the admin panel audit log, plus request threat scoring. Single binary.",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "sealproof.yaml", "config file path")

	root.AddCommand(
		newInitCmd(),
		newVerifyCmd(),
		newRehashCmd(),
		newExportCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist so the chain tools work out of the box.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) && cfgFile == "sealproof.yaml" {
		return config.Defaults(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(cfg *config.Config) (*audit.Store, error) {
	store, err := audit.NewStore(cfg.DBPath, cliLogger())
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	return store, nil
}

// buildSigner returns nil when signing is disabled.
func buildSigner(cfg *config.Config) (*audit.Signer, error) {
	if !cfg.Signature.Enabled {
		return nil, nil
	}
	signer, err := audit.NewSigner(cfg.Signature.Secret, cfg.Signature.Algo)
	if err != nil {
		return nil, fmt.Errorf("configuring signer: %w", err)
	}
	return signer, nil
}
