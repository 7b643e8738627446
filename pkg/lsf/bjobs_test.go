package lsf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner returns canned bjobs output and records the last invocation.
type fakeRunner struct {
	out      string
	err      error
	lastName string
	lastArgs []string
	deadline bool
	calls    int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls++
	f.lastName = name
	f.lastArgs = args
	_, f.deadline = ctx.Deadline()

	return []byte(f.out), f.err
}

func newTestGateway(r Runner) Gateway {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return NewBjobsGateway(log, BjobsOptions{Path: "/opt/lsf/bin/bjobs", Runner: r})
}

const bjobsMixed = `{
  "COMMAND":"bjobs",
  "JOBS":5,
  "RECORDS":[
    {"JOBID":"100","STAT":"RUN","EXIT_CODE":"","PENDSTATE":"","JOB_NAME":"hello","USER":"rgt","QUEUE":"batch"},
    {"JOBID":"101","STAT":"EXIT","EXIT_CODE":"396","PENDSTATE":"","JOB_NAME":"slow","USER":"rgt","QUEUE":"batch"},
    {"JOBID":"102","STAT":"PEND","EXIT_CODE":"-","PENDSTATE":"EPEND","JOB_NAME":"queued","USER":"rgt","QUEUE":"batch"},
    {"JOBID":"103","STAT":"PEND","EXIT_CODE":"","PENDSTATE":"IPEND","JOB_NAME":"held","USER":"ops","QUEUE":"debug"},
    {"JOBID":"104[2]","STAT":"DONE","EXIT_CODE":"","PENDSTATE":"","JOB_NAME":"arr","USER":"rgt","QUEUE":"batch"}
  ]
}`

func singleJob(stat, exitCode string) string {
	return `{"COMMAND":"bjobs","JOBS":1,"RECORDS":[{"JOBID":"42","STAT":"` + stat +
		`","EXIT_CODE":"` + exitCode + `","PENDSTATE":"","JOB_NAME":"j","USER":"u","QUEUE":"q"}]}`
}

const bjobsNotFound = `{"COMMAND":"bjobs","JOBS":1,"RECORDS":[{"ERROR":"Job <42> is not found"}]}`

func TestBjobsGateway_GetJobs(t *testing.T) {
	runner := &fakeRunner{out: bjobsMixed}
	g := newTestGateway(runner)

	jobs, err := g.GetJobs(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, jobs, 5)

	assert.Equal(t, "/opt/lsf/bin/bjobs", runner.lastName)
	assert.Equal(t, []string{"-json", "-o", bjobsFields, "-a", "-u", "all"}, runner.lastArgs)
	assert.False(t, runner.deadline)

	want := map[int]Status{
		100: StatusRunning,
		101: StatusWalltimed,
		102: StatusEligible,
		103: StatusBlocked,
		104: StatusComplete,
	}

	for _, j := range jobs {
		assert.Equal(t, want[j.ID], j.Status, "job %d", j.ID)
	}

	assert.Equal(t, 396, jobs[1].ExitCode)
	assert.Equal(t, "debug", jobs[3].Queue)
}

func TestBjobsGateway_GetJobs_States(t *testing.T) {
	tests := []struct {
		name    string
		states  []string
		wantIDs []int
		wantErr error
	}{
		{name: "all", states: []string{"all"}, wantIDs: []int{100, 101, 102, 103, 104}},
		{name: "running", states: []string{"running"}, wantIDs: []int{100}},
		{name: "pending", states: []string{"pending"}, wantIDs: []int{102, 103}},
		{name: "eligible", states: []string{"eligible"}, wantIDs: []int{102}},
		{name: "exited", states: []string{"exited"}, wantIDs: []int{101}},
		{name: "done", states: []string{"done"}, wantIDs: []int{101, 104}},
		{name: "current", states: []string{"current"}, wantIDs: []int{100, 102, 103}},
		{name: "suspended", states: []string{"suspended"}, wantIDs: []int{}},
		{name: "union", states: []string{"running", "exited"}, wantIDs: []int{100, 101}},
		{name: "case insensitive", states: []string{"RUNNING"}, wantIDs: []int{100}},
		{name: "invalid", states: []string{"finished"}, wantErr: ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{out: bjobsMixed}
			g := newTestGateway(runner)

			jobs, err := g.GetJobs(context.Background(), Filter{States: tt.states})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, runner.calls, "invalid filters must not reach bjobs")

				return
			}

			require.NoError(t, err)

			ids := make([]int, 0, len(jobs))
			for _, j := range jobs {
				ids = append(ids, j.ID)
			}

			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestBjobsGateway_FilterArgs(t *testing.T) {
	runner := &fakeRunner{out: `{"COMMAND":"bjobs","JOBS":0,"RECORDS":[]}`}
	g := newTestGateway(runner)

	_, err := g.GetJobs(context.Background(), Filter{JobID: 7, Name: "hello", User: "rgt", Queue: "batch"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-json", "-o", bjobsFields, "-a", "-u", "rgt", "-J", "hello", "-q", "batch", "7",
	}, runner.lastArgs)
}

func TestBjobsGateway_NotFound(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{
			name:   "error record with non-zero exit",
			runner: &fakeRunner{out: bjobsNotFound, err: &CommandError{Err: errors.New("exit status 255")}},
		},
		{
			name: "message on stderr only",
			runner: &fakeRunner{err: &CommandError{
				Err:    errors.New("exit status 255"),
				Stderr: "Job <42> is not found\n",
			}},
		},
		{
			name:   "empty records",
			runner: &fakeRunner{out: `{"COMMAND":"bjobs","JOBS":0,"RECORDS":[]}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(tt.runner)
			ctx := context.Background()

			jobs, err := g.GetJobs(ctx, Filter{JobID: 42})
			require.NoError(t, err)
			assert.Empty(t, jobs)

			inQueue, err := g.InQueue(ctx, 42)
			require.NoError(t, err)
			assert.False(t, inQueue)

			exit, err := g.GetJobExitStatus(ctx, 42)
			require.NoError(t, err)
			assert.Nil(t, exit)

			_, err = g.GetJobStatus(ctx, 42)
			require.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestBjobsGateway_SingleJob(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name        string
		out         string
		wantStatus  Status
		wantInQueue bool
		wantExit    *int
	}{
		{name: "running", out: singleJob("RUN", ""), wantStatus: StatusRunning, wantInQueue: true},
		{name: "pending", out: singleJob("PEND", ""), wantStatus: StatusEligible, wantInQueue: true},
		{name: "suspended", out: singleJob("USUSP", ""), wantStatus: StatusSuspPersonDispatched, wantInQueue: true},
		{name: "complete", out: singleJob("DONE", ""), wantStatus: StatusComplete, wantExit: intPtr(0)},
		{name: "walltimed", out: singleJob("EXIT", "396"), wantStatus: StatusWalltimed, wantExit: intPtr(396)},
		{name: "killed", out: singleJob("EXIT", "9"), wantStatus: StatusKilled, wantExit: intPtr(9)},
		{name: "unknown", out: singleJob("UNKWN", ""), wantStatus: StatusUnknown, wantInQueue: true},
		{name: "zombie", out: singleJob("ZOMBI", ""), wantStatus: StatusUnknown, wantInQueue: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(&fakeRunner{out: tt.out})
			ctx := context.Background()

			status, err := g.GetJobStatus(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status)

			inQueue, err := g.InQueue(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, tt.wantInQueue, inQueue)

			exit, err := g.GetJobExitStatus(ctx, 42)
			require.NoError(t, err)
			assert.Equal(t, tt.wantExit, exit)
		})
	}
}

func TestBjobsGateway_Ambiguous(t *testing.T) {
	out := `{"COMMAND":"bjobs","JOBS":2,"RECORDS":[
		{"JOBID":"42","STAT":"RUN"},{"JOBID":"42","STAT":"DONE"}]}`
	g := newTestGateway(&fakeRunner{out: out})
	ctx := context.Background()

	_, err := g.GetJobStatus(ctx, 42)
	require.ErrorIs(t, err, ErrAmbiguousJob)

	_, err = g.InQueue(ctx, 42)
	require.ErrorIs(t, err, ErrAmbiguousJob)

	_, err = g.GetJobExitStatus(ctx, 42)
	require.ErrorIs(t, err, ErrAmbiguousJob)
}

func TestBjobsGateway_Failures(t *testing.T) {
	t.Run("command failure", func(t *testing.T) {
		g := newTestGateway(&fakeRunner{err: &CommandError{
			Err:    errors.New("exit status 255"),
			Stderr: "LSF is down. Please wait...",
		}})

		_, err := g.InQueue(context.Background(), 42)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LSF is down")
	})

	t.Run("garbage output", func(t *testing.T) {
		g := newTestGateway(&fakeRunner{out: "JOBID USER STAT\n"})

		_, err := g.GetJobs(context.Background(), Filter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding bjobs output")
	})

	t.Run("bad record is skipped", func(t *testing.T) {
		out := `{"COMMAND":"bjobs","JOBS":2,"RECORDS":[
			{"JOBID":"abc","STAT":"RUN"},{"JOBID":"43","STAT":"RUN"}]}`
		g := newTestGateway(&fakeRunner{out: out})

		jobs, err := g.GetJobs(context.Background(), Filter{})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, 43, jobs[0].ID)
	})
}

func TestBjobsGateway_Timeout(t *testing.T) {
	runner := &fakeRunner{out: singleJob("RUN", "")}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	g := NewBjobsGateway(log, BjobsOptions{Runner: runner, Timeout: time.Minute})

	_, err := g.GetJobs(context.Background(), Filter{})
	require.NoError(t, err)

	assert.True(t, runner.deadline)
	assert.Equal(t, "bjobs", runner.lastName)
}

func TestNoneGateway(t *testing.T) {
	g := NewNoneGateway()
	ctx := context.Background()

	_, err := g.GetJobs(ctx, Filter{})
	require.ErrorIs(t, err, ErrNoScheduler)

	_, err = g.InQueue(ctx, 1)
	require.ErrorIs(t, err, ErrNoScheduler)

	_, err = g.GetJobExitStatus(ctx, 1)
	require.ErrorIs(t, err, ErrNoScheduler)

	_, err = g.GetJobStatus(ctx, 1)
	require.ErrorIs(t, err, ErrNoScheduler)
}
