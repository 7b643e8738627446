package lsf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// bjobsFields is the -o column list requested from bjobs.
const bjobsFields = "jobid stat exit_code pendstate job_name user queue"

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError is returned by ExecRunner when the command exits non-zero.
type CommandError struct {
	Err    error
	Stderr string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}

	return fmt.Sprintf("%v (stderr: %s)", e.Err, strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return out, &CommandError{Err: err, Stderr: stderr.String()}
	}

	return out, nil
}

// BjobsOptions configures a bjobs backed gateway.
type BjobsOptions struct {
	// Path is the bjobs executable.
	Path string
	// Timeout bounds each query. Zero disables it.
	Timeout time.Duration
	// Runner executes bjobs. Defaults to ExecRunner.
	Runner Runner
}

// NewBjobsGateway returns a Gateway that shells out to bjobs -json.
func NewBjobsGateway(log logrus.FieldLogger, opts BjobsOptions) Gateway {
	if opts.Path == "" {
		opts.Path = "bjobs"
	}

	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}

	return &bjobsGateway{
		log:  log.WithField("component", "lsf"),
		opts: opts,
	}
}

type bjobsGateway struct {
	log  logrus.FieldLogger
	opts BjobsOptions
}

var _ Gateway = (*bjobsGateway)(nil)

type bjobsOutput struct {
	Command string        `json:"COMMAND"`
	Jobs    int           `json:"JOBS"`
	Records []bjobsRecord `json:"RECORDS"`
}

type bjobsRecord struct {
	JobID     string `json:"JOBID"`
	Stat      string `json:"STAT"`
	ExitCode  string `json:"EXIT_CODE"`
	PendState string `json:"PENDSTATE"`
	JobName   string `json:"JOB_NAME"`
	User      string `json:"USER"`
	Queue     string `json:"QUEUE"`
	Error     string `json:"ERROR"`
}

// GetJobs implements Gateway.
func (g *bjobsGateway) GetJobs(ctx context.Context, f Filter) ([]Job, error) {
	match, err := f.matcher()
	if err != nil {
		return nil, err
	}

	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	args := buildArgs(f)

	g.log.WithField("args", strings.Join(args, " ")).Debug("Querying bjobs")

	// bjobs exits non-zero for unknown ids but still prints JSON, so a
	// decodable document wins over the exit status.
	out, runErr := g.opts.Runner.Run(ctx, g.opts.Path, args...)

	records, parseErr := parseBjobs(out)
	if parseErr != nil {
		if runErr != nil {
			if isNotFound(runErr) {
				return nil, nil
			}

			return nil, fmt.Errorf("running bjobs: %w", runErr)
		}

		return nil, parseErr
	}

	jobs := make([]Job, 0, len(records))

	for _, rec := range records {
		if rec.Error != "" {
			if !strings.Contains(rec.Error, "not found") {
				g.log.WithField("error", rec.Error).Warn("bjobs reported an error record")
			}

			continue
		}

		raw, err := rec.toRaw()
		if err != nil {
			g.log.WithError(err).Warn("Skipping unparseable bjobs record")

			continue
		}

		if !match(raw) {
			continue
		}

		jobs = append(jobs, Job{RawJob: raw, Status: Classify(raw)})
	}

	return jobs, nil
}

// GetJobStatus implements Gateway.
func (g *bjobsGateway) GetJobStatus(ctx context.Context, jobID int) (Status, error) {
	jobs, err := g.GetJobs(ctx, Filter{JobID: jobID})
	if err != nil {
		return "", err
	}

	return statusFromJobs(jobID, jobs)
}

// GetJobExitStatus implements Gateway.
func (g *bjobsGateway) GetJobExitStatus(ctx context.Context, jobID int) (*int, error) {
	job, err := lookup(ctx, g, jobID)
	if err != nil || job == nil {
		return nil, err
	}

	return exitStatusOf(*job), nil
}

// InQueue implements Gateway.
func (g *bjobsGateway) InQueue(ctx context.Context, jobID int) (bool, error) {
	job, err := lookup(ctx, g, jobID)
	if err != nil || job == nil {
		return false, err
	}

	return inQueue(job.Status), nil
}

func buildArgs(f Filter) []string {
	args := []string{"-json", "-o", bjobsFields, "-a"}

	if f.User != "" {
		args = append(args, "-u", f.User)
	} else {
		args = append(args, "-u", "all")
	}

	if f.Name != "" {
		args = append(args, "-J", f.Name)
	}

	if f.Queue != "" {
		args = append(args, "-q", f.Queue)
	}

	if f.JobID > 0 {
		args = append(args, strconv.Itoa(f.JobID))
	}

	return args
}

func parseBjobs(out []byte) ([]bjobsRecord, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, errors.New("bjobs produced no output")
	}

	var parsed bjobsOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("decoding bjobs output: %w", err)
	}

	return parsed.Records, nil
}

func isNotFound(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}

	msg := strings.ToLower(ce.Stderr)

	return strings.Contains(msg, "not found") || strings.Contains(msg, "no job found") ||
		strings.Contains(msg, "no unfinished job found")
}

func (r bjobsRecord) toRaw() (RawJob, error) {
	// Array jobs print as "123[4]".
	idText, _, _ := strings.Cut(r.JobID, "[")

	id, err := strconv.Atoi(idText)
	if err != nil {
		return RawJob{}, fmt.Errorf("invalid JOBID %q: %w", r.JobID, err)
	}

	// LSF reports IPEND for pending jobs that cannot be dispatched yet.
	raw := RawJob{
		ID:           id,
		Name:         r.JobName,
		User:         r.User,
		Queue:        r.Queue,
		Stat:         ParseStat(r.Stat),
		PendEligible: r.PendState != "IPEND",
	}

	if code := strings.TrimSpace(r.ExitCode); code != "" && code != "-" {
		raw.ExitCode, err = strconv.Atoi(code)
		if err != nil {
			return RawJob{}, fmt.Errorf("invalid EXIT_CODE %q for job %d: %w", r.ExitCode, id, err)
		}
	}

	return raw, nil
}
