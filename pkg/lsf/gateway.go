// Package lsf queries the LSF batch scheduler and classifies job state.
package lsf

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrJobNotFound is returned by GetJobStatus when no record matches.
	ErrJobNotFound = errors.New("job not found")

	// ErrAmbiguousJob is returned when a unique job id matches several records.
	ErrAmbiguousJob = errors.New("more than one job matches id")

	// ErrInvalidState is returned for a Filter state name that is not known.
	ErrInvalidState = errors.New("invalid job state")

	// ErrNoScheduler is returned by the gateway used when no scheduler is
	// configured.
	ErrNoScheduler = errors.New("no scheduler configured")
)

// Job is a classified scheduler record.
type Job struct {
	RawJob
	Status Status
}

// Gateway is the scheduler access used by the reconciler and the CLI.
type Gateway interface {
	// GetJobs returns every record matching f. An unknown job id yields an
	// empty slice, not an error.
	GetJobs(ctx context.Context, f Filter) ([]Job, error)

	// GetJobStatus returns the classified state of exactly one job.
	GetJobStatus(ctx context.Context, jobID int) (Status, error)

	// GetJobExitStatus returns the exit code of a finished job, or nil when
	// the job is still active or no longer known.
	GetJobExitStatus(ctx context.Context, jobID int) (*int, error)

	// InQueue reports whether the job is still listed in a non-terminal
	// state. A job that is no longer listed has left the queue.
	InQueue(ctx context.Context, jobID int) (bool, error)
}

// Filter narrows a GetJobs query. Zero values match everything.
type Filter struct {
	JobID  int
	Name   string
	User   string
	Queue  string
	States []string
}

// statePredicates backs the state names accepted in Filter.States.
var statePredicates = map[string]func(RawJob) bool{
	"all":       func(RawJob) bool { return true },
	"done":      func(j RawJob) bool { return j.Stat&(StatDone|StatExit) != 0 },
	"pending":   func(j RawJob) bool { return j.Stat&StatPend != 0 },
	"suspended": func(j RawJob) bool { return j.Stat&(StatPSusp|StatSSusp|StatUSusp) != 0 },
	"running":   func(j RawJob) bool { return j.Stat&StatRun != 0 },
	"current": func(j RawJob) bool {
		return j.Stat&(StatPend|StatPSusp|StatRun|StatSSusp|StatUSusp) != 0
	},
	"eligible": func(j RawJob) bool { return j.Stat&StatPend != 0 && j.PendEligible },
	"exited":   func(j RawJob) bool { return j.Stat&StatExit != 0 },
}

// StateNames returns the accepted Filter state names, sorted.
func StateNames() []string {
	names := make([]string, 0, len(statePredicates))
	for name := range statePredicates {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// matcher compiles the state names into one predicate. A job matches when
// any listed state matches.
func (f Filter) matcher() (func(RawJob) bool, error) {
	if len(f.States) == 0 {
		return statePredicates["all"], nil
	}

	preds := make([]func(RawJob) bool, 0, len(f.States))

	for _, s := range f.States {
		p, ok := statePredicates[strings.ToLower(s)]
		if !ok {
			return nil, fmt.Errorf(
				"%w %q, options are %s", ErrInvalidState, s, strings.Join(StateNames(), " "),
			)
		}

		preds = append(preds, p)
	}

	return func(j RawJob) bool {
		for _, p := range preds {
			if p(j) {
				return true
			}
		}

		return false
	}, nil
}

// statusFromJobs applies the uniqueness rule for single-id lookups.
func statusFromJobs(jobID int, jobs []Job) (Status, error) {
	switch len(jobs) {
	case 0:
		return "", fmt.Errorf("job %d: %w", jobID, ErrJobNotFound)
	case 1:
		return jobs[0].Status, nil
	default:
		return "", fmt.Errorf("job %d: %w (%d records)", jobID, ErrAmbiguousJob, len(jobs))
	}
}

// exitStatusOf returns the exit code for a terminal status.
func exitStatusOf(j Job) *int {
	switch j.Status {
	case StatusComplete:
		code := 0

		return &code
	case StatusWalltimed, StatusKilled:
		code := j.ExitCode

		return &code
	default:
		return nil
	}
}

// inQueue reports whether a listed job may still change. Unknown jobs are
// still listed by LSF and must be polled again.
func inQueue(s Status) bool {
	return !s.IsTerminal()
}

// lookup fetches the single record for jobID, treating no records as nil.
func lookup(ctx context.Context, g Gateway, jobID int) (*Job, error) {
	jobs, err := g.GetJobs(ctx, Filter{JobID: jobID})
	if err != nil {
		return nil, err
	}

	switch len(jobs) {
	case 0:
		return nil, nil
	case 1:
		return &jobs[0], nil
	default:
		return nil, fmt.Errorf("job %d: %w (%d records)", jobID, ErrAmbiguousJob, len(jobs))
	}
}

// noneGateway is used when no scheduler is configured. Every query fails
// with ErrNoScheduler so callers never infer completion from it.
type noneGateway struct{}

// NewNoneGateway returns a Gateway that always reports ErrNoScheduler.
func NewNoneGateway() Gateway {
	return noneGateway{}
}

var _ Gateway = noneGateway{}

func (noneGateway) GetJobs(context.Context, Filter) ([]Job, error) {
	return nil, ErrNoScheduler
}

func (noneGateway) GetJobStatus(context.Context, int) (Status, error) {
	return "", ErrNoScheduler
}

func (noneGateway) GetJobExitStatus(context.Context, int) (*int, error) {
	return nil, ErrNoScheduler
}

func (noneGateway) InQueue(context.Context, int) (bool, error) {
	return false, ErrNoScheduler
}
