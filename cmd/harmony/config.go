package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runPrintConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runPrintConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	fmt.Print(string(out))

	return nil
}
