package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/olcf/harmony/pkg/lsf"
	"github.com/spf13/cobra"
)

var (
	jobUser   string
	jobName   string
	jobQueue  string
	jobStates []string
)

var jobCmd = &cobra.Command{
	Use:   "job [job-id]",
	Short: "Query LSF for job state",
	Long: `Query LSF through the configured gateway. With a job id, print that
job's classified status, exit status and queue membership. Without one,
list every job matching the filters.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJob,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.Flags().StringVar(&jobUser, "user", "", "Only jobs of this user")
	jobCmd.Flags().StringVar(&jobName, "name", "", "Only jobs with this name")
	jobCmd.Flags().StringVar(&jobQueue, "queue", "", "Only jobs in this queue")
	jobCmd.Flags().StringSliceVar(&jobStates, "state", nil,
		fmt.Sprintf("Only jobs in these states %v", lsf.StateNames()))
}

func runJob(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	gw := newGateway(cfg)

	if len(args) == 1 {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid job id %q", args[0])
		}

		return printJob(ctx, gw, id)
	}

	jobs, err := gw.GetJobs(ctx, lsf.Filter{
		Name:   jobName,
		User:   jobUser,
		Queue:  jobQueue,
		States: jobStates,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOBID\tSTATUS\tEXIT\tUSER\tQUEUE\tNAME")

	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			j.ID, j.Status, j.ExitCode, j.User, j.Queue, j.Name)
	}

	return tw.Flush()
}

func printJob(ctx context.Context, gw lsf.Gateway, id int) error {
	status, err := gw.GetJobStatus(ctx, id)
	if err != nil {
		return err
	}

	exit, err := gw.GetJobExitStatus(ctx, id)
	if err != nil {
		return err
	}

	inQueue, err := gw.InQueue(ctx, id)
	if err != nil {
		return err
	}

	exitText := "-"
	if exit != nil {
		exitText = strconv.Itoa(*exit)
	}

	fmt.Printf("job:      %d\n", id)
	fmt.Printf("status:   %s\n", status)
	fmt.Printf("exit:     %s\n", exitText)
	fmt.Printf("in queue: %t\n", inQueue)

	return nil
}
