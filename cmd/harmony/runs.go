package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/olcf/harmony/pkg/store"
	"github.com/spf13/cobra"
)

var (
	runsApplication string
	runsTest        string
	runsSystem      string
	runsOpen        bool
	runsLimit       int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List reconciled runs",
	RunE:  runListRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringVar(&runsApplication, "application", "", "Only runs of this application")
	runsCmd.Flags().StringVar(&runsTest, "test", "", "Only runs of this test")
	runsCmd.Flags().StringVar(&runsSystem, "system", "", "Only runs on this system")
	runsCmd.Flags().BoolVar(&runsOpen, "open", false, "Only runs that are not done")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 100, "Maximum runs to print (0 for all)")
}

func runListRuns(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopStore(st)

	filter := store.RunFilter{
		Application: runsApplication,
		Test:        runsTest,
		System:      runsSystem,
		Limit:       runsLimit,
	}

	if runsOpen {
		open := false
		filter.Done = &open
	}

	runs, total, err := st.ListRuns(ctx, filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "APPLICATION\tTEST\tHARNESS UID\tJOB\tBUILD\tSUBMIT\tCHECK\tSTATE")

	for i := range runs {
		run := &runs[i]

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.Application, run.Testname, run.HarnessUID,
			strOrDash(run.JobID),
			intOrDash(run.BuildStatus),
			intOrDash(run.SubmitStatus),
			intOrDash(run.CheckStatus),
			runState(run))
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if int64(len(runs)) < total {
		fmt.Printf("\n%d of %d runs shown\n", len(runs), total)
	}

	return nil
}

// runState colors a run by outcome: passed, failed or still open.
func runState(run *store.Run) string {
	switch {
	case !run.Done:
		return color.YellowString("open")
	case run.CheckStatus != nil && *run.CheckStatus == 0:
		return color.GreenString("passed")
	default:
		return color.RedString("failed")
	}
}

func strOrDash(s *string) string {
	if s == nil {
		return "-"
	}

	return *s
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}

	return strconv.Itoa(*v)
}
