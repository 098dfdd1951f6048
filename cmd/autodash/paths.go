package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/orangebricks/autodash/internal/config"
)

// resolvedConfigPath returns --config or the default location.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(resolvedConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func metadataPath() string {
	return filepath.Join(config.Dir(), "secret-metadata.json")
}

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show where autodash keeps its files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("home:      %s\n", config.Dir())
		fmt.Printf("config:    %s\n", resolvedConfigPath())
		fmt.Printf("audit log: %s\n", cfg.AuditLog)
		fmt.Printf("metadata:  %s\n", metadataPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pathsCmd)
}
