package main

import (
	"fmt"
	"os"

	"github.com/olcf/harmony/pkg/config"
	"github.com/olcf/harmony/pkg/harness"
	"github.com/spf13/cobra"
)

var parseStatusDir string

var parseCmd = &cobra.Command{
	Use:   "parse <declaration-file>",
	Short: "Parse a declaration file and list its tests",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().StringVar(&parseStatusDir, "status-dir", config.DefaultStatusDir,
		"Per-test status directory name")
}

func runParse(_ *cobra.Command, args []string) error {
	decl, err := harness.ParseInputFile(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("path_to_tests: %s\n", decl.PathToTests)
	fmt.Printf("tests:         %d\n", len(decl.Tests))

	for _, ref := range decl.Tests {
		dir := decl.StatusDir(ref, parseStatusDir)

		state := "ok"
		if _, err := os.Stat(dir); err != nil {
			state = "missing"
		}

		fmt.Printf("  %-24s %-24s %-8s %s\n", ref.Application, ref.Name, state, dir)
	}

	return nil
}
