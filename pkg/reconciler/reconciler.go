// Package reconciler turns harness status files, event files and scheduler
// state into run records.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/olcf/harmony/pkg/config"
	"github.com/olcf/harmony/pkg/harness"
	"github.com/olcf/harmony/pkg/lsf"
	"github.com/olcf/harmony/pkg/store"
	"github.com/sirupsen/logrus"
)

// jobIDFileName is written by the harness into each run directory once the
// job has been submitted.
const jobIDFileName = "job_id.txt"

// Reconciler periodically syncs declared tests into the store.
type Reconciler interface {
	Start(ctx context.Context) error
	Stop() error

	// RunPass reconciles every configured declaration file once.
	RunPass(ctx context.Context) *PassStats

	// ReconcileFile reconciles the tests declared in one file. A
	// *harness.SyntaxError rejects the whole file.
	ReconcileFile(ctx context.Context, path string) (*PassStats, error)
}

// Compile-time interface check.
var _ Reconciler = (*reconciler)(nil)

type reconciler struct {
	log   logrus.FieldLogger
	cfg   *config.ReconcilerConfig
	store store.Store
	sched lsf.Gateway

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Reconciler.
func New(
	log logrus.FieldLogger,
	cfg *config.ReconcilerConfig,
	st store.Store,
	sched lsf.Gateway,
) Reconciler {
	return &reconciler{
		log:   log.WithField("component", "reconciler"),
		cfg:   cfg,
		store: st,
		sched: sched,
		done:  make(chan struct{}),
	}
}

// PassStats counts what one pass did. Writes is zero when a pass found
// nothing new.
type PassStats struct {
	Files         int
	Tests         int
	SkippedTests  int
	Lines         int
	RejectedLines int
	RunsCreated   int
	RunsUpdated   int
	RunsFinished  int
	RunsSkipped   int
	EventsCreated int
	Errors        int
}

// Writes returns the number of rows inserted or updated.
func (p *PassStats) Writes() int {
	return p.RunsCreated + p.RunsUpdated + p.EventsCreated
}

// Add accumulates o into p.
func (p *PassStats) Add(o *PassStats) {
	if o == nil {
		return
	}

	p.Files += o.Files
	p.Tests += o.Tests
	p.SkippedTests += o.SkippedTests
	p.Lines += o.Lines
	p.RejectedLines += o.RejectedLines
	p.RunsCreated += o.RunsCreated
	p.RunsUpdated += o.RunsUpdated
	p.RunsFinished += o.RunsFinished
	p.RunsSkipped += o.RunsSkipped
	p.EventsCreated += o.EventsCreated
	p.Errors += o.Errors
}

// Fields renders the stats for structured logging.
func (p *PassStats) Fields() logrus.Fields {
	return logrus.Fields{
		"files":          p.Files,
		"tests":          p.Tests,
		"skipped_tests":  p.SkippedTests,
		"lines":          p.Lines,
		"rejected_lines": p.RejectedLines,
		"runs_created":   p.RunsCreated,
		"runs_updated":   p.RunsUpdated,
		"runs_finished":  p.RunsFinished,
		"runs_skipped":   p.RunsSkipped,
		"events_created": p.EventsCreated,
		"errors":         p.Errors,
	}
}

// testScope is the per-test state shared by every run of the test.
type testScope struct {
	decl      *harness.Declaration
	ref       harness.TestRef
	statusDir string
	types     map[int]uint
	log       logrus.FieldLogger
}

// ReconcileFile implements Reconciler.
func (r *reconciler) ReconcileFile(ctx context.Context, path string) (*PassStats, error) {
	decl, err := harness.ParseInputFile(path)
	if err != nil {
		return nil, err
	}

	types, err := r.eventTypeIndex(ctx)
	if err != nil {
		return nil, err
	}

	stats := &PassStats{Files: 1}

	for _, ref := range decl.Tests {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		scope := &testScope{
			decl:      decl,
			ref:       ref,
			statusDir: decl.StatusDir(ref, r.cfg.StatusDir),
			types:     types,
			log: r.log.WithFields(logrus.Fields{
				"application": ref.Application,
				"test":        ref.Name,
			}),
		}

		r.reconcileTest(ctx, scope, stats)
	}

	return stats, nil
}

func (r *reconciler) eventTypeIndex(ctx context.Context) (map[int]uint, error) {
	types, err := r.store.ListEventTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading event types: %w", err)
	}

	idx := make(map[int]uint, len(types))
	for _, t := range types {
		idx[t.Code] = t.ID
	}

	return idx, nil
}

func (r *reconciler) reconcileTest(ctx context.Context, scope *testScope, stats *PassStats) {
	stats.Tests++

	if _, err := os.Stat(scope.statusDir); err != nil {
		scope.log.WithError(err).
			WithField("path", scope.statusDir).
			Warn("Test status directory not found, skipping test")

		stats.SkippedTests++

		return
	}

	statusPath := filepath.Join(scope.statusDir, r.cfg.StatusFile)

	sf, err := harness.ParseStatusFile(statusPath)
	if err != nil {
		scope.log.WithError(err).
			WithField("path", statusPath).
			Warn("Status file not readable, skipping test")

		stats.SkippedTests++

		return
	}

	for _, rej := range sf.Rejected {
		scope.log.WithFields(logrus.Fields{
			"path":   statusPath,
			"line":   rej.Line,
			"text":   rej.Text,
			"reason": rej.Msg,
		}).Warn("Ignoring malformed status line")
	}

	stats.RejectedLines += len(sf.Rejected)

	for _, line := range sf.Lines {
		if ctx.Err() != nil {
			return
		}

		stats.Lines++

		if err := r.reconcileRun(ctx, scope, line, stats); err != nil {
			scope.log.WithError(err).
				WithField("harness_uid", line.HarnessUID).
				Error("Failed to reconcile run")

			stats.Errors++
		}
	}
}

func (r *reconciler) reconcileRun(
	ctx context.Context, scope *testScope, line harness.StatusLine, stats *PassStats,
) error {
	log := scope.log.WithField("harness_uid", line.HarnessUID)
	runDir := filepath.Join(scope.statusDir, line.HarnessUID)

	run, err := r.store.GetRunByHarnessUID(ctx, line.HarnessUID)
	if err != nil && !errors.Is(err, store.ErrRunNotFound) {
		return err
	}

	if run != nil && run.Done {
		stats.RunsSkipped++

		return nil
	}

	events := r.collectEvents(runDir, scope.types, log)

	if run == nil {
		if len(events) == 0 {
			log.WithField("path", runDir).
				Warn("Insufficient information to add run, no recognized event files")

			stats.RunsSkipped++

			return nil
		}

		run, err = r.createRun(ctx, scope, line, events[0], log)
		if err != nil {
			return err
		}

		stats.RunsCreated++
	}

	if err := r.syncEvents(ctx, run, events, scope.types, log, stats); err != nil {
		return err
	}

	var earliest *harness.Event
	if len(events) > 0 {
		earliest = events[0]
	}

	update := r.computeUpdate(ctx, run, line, runDir, earliest, log)
	if len(update.fields) == 0 {
		return nil
	}

	updated, err := r.store.UpdateOpenRun(ctx, run.ID, update.fields)
	if err != nil {
		return err
	}

	if updated {
		stats.RunsUpdated++

		if update.done {
			stats.RunsFinished++

			log.WithField("job_id", update.jobID).Info("Run finished")
		}
	}

	return nil
}

// collectEvents parses the recognized event files of one run, ordered by
// code and then file name. A missing directory yields no events.
func (r *reconciler) collectEvents(
	runDir string, types map[int]uint, log logrus.FieldLogger,
) []*harness.Event {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("path", runDir).Warn("Run directory not readable")
		}

		return nil
	}

	events := make([]*harness.Event, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !harness.IsEventFile(entry.Name()) {
			continue
		}

		path := filepath.Join(runDir, entry.Name())

		ev, err := harness.ParseEventFile(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("Event file not readable")

			continue
		}

		if !ev.HasCode {
			log.WithField("path", path).Warn("Event file has no event code")

			continue
		}

		if _, ok := types[ev.Code]; !ok {
			log.WithFields(logrus.Fields{
				"path":       path,
				"event_code": ev.Code,
			}).Warn("Unknown event code, skipping event file")

			continue
		}

		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Code != events[j].Code {
			return events[i].Code < events[j].Code
		}

		return events[i].FileName < events[j].FileName
	})

	return events
}

func (r *reconciler) createRun(
	ctx context.Context,
	scope *testScope,
	line harness.StatusLine,
	first *harness.Event,
	log logrus.FieldLogger,
) (*store.Run, error) {
	if id := first.TestID(); id != "" && id != line.HarnessUID {
		log.WithFields(logrus.Fields{
			"path":    first.Path,
			"test_id": id,
		}).Warn("Event test_id does not match status line harness UID")
	}

	run := &store.Run{
		HarnessUID:  line.HarnessUID,
		HarnessTLD:  scope.decl.PathToTests,
		Application: valueOr(first.Application(), scope.ref.Application),
		Testname:    valueOr(first.Test(), scope.ref.Name),
		System:      first.System(),
	}

	if start, err := harness.ParseTimestamp(line.Start); err == nil {
		run.HarnessStart = &start
	} else {
		log.WithField("start", line.Start).Debug("Unparseable harness start time")
	}

	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	log.WithField("run_id", run.ID).Info("Added new run")

	return run, nil
}

// syncEvents inserts every event the run does not have yet.
func (r *reconciler) syncEvents(
	ctx context.Context,
	run *store.Run,
	events []*harness.Event,
	types map[int]uint,
	log logrus.FieldLogger,
	stats *PassStats,
) error {
	for _, ev := range events {
		typeID := types[ev.Code]

		exists, err := r.store.RunEventExists(ctx, run.ID, typeID)
		if err != nil {
			return err
		}

		if exists {
			continue
		}

		at, err := ev.Time()
		if err != nil {
			log.WithError(err).
				WithFields(logrus.Fields{"path": ev.Path, "event_code": ev.Code}).
				Warn("Skipping event with unusable time")

			continue
		}

		if err := r.store.CreateRunEvent(ctx, &store.RunEvent{
			RunID:       run.ID,
			EventTypeID: typeID,
			EventTime:   at,
		}); err != nil {
			return err
		}

		stats.EventsCreated++
	}

	return nil
}

// runUpdate is the outcome of computeUpdate.
type runUpdate struct {
	fields map[string]any
	done   bool
	jobID  string
}

// computeUpdate derives the changed columns for an open run. Only values
// that differ from the stored row are returned.
func (r *reconciler) computeUpdate(
	ctx context.Context,
	run *store.Run,
	line harness.StatusLine,
	runDir string,
	earliest *harness.Event,
	log logrus.FieldLogger,
) runUpdate {
	fields := make(map[string]any)
	captured := make(map[string]bool, 3)

	jobID := ""
	if run.JobID != nil {
		jobID = *run.JobID
	}

	if _, ok := line.JobIDValue(); ok {
		switch {
		case jobID == "":
			jobID = line.JobID
			fields["job_id"] = line.JobID
		case jobID != line.JobID:
			log.WithFields(logrus.Fields{
				"job_id":     jobID,
				"new_job_id": line.JobID,
			}).Warn("Ignoring changed job id for run")
		}
	} else if jobID == "" {
		if id, ok := r.jobIDFromFile(runDir, log); ok {
			jobID = strconv.Itoa(id)
			fields["job_id"] = jobID
		}
	}

	build, buildOK := line.BuildStatusValue()
	if buildOK {
		captured[outputBuild] = true
		setIntField(fields, "build_status", run.BuildStatus, build)
	}

	submit, submitOK := line.SubmitStatusValue()
	if submitOK {
		captured[outputSubmit] = true
		setIntField(fields, "submit_status", run.SubmitStatus, submit)
	}

	if check, ok := line.CheckStatusValue(); ok {
		legal, err := r.store.CheckCodeExists(ctx, check)

		switch {
		case err != nil:
			log.WithError(err).Warn("Could not validate check status")
		case !legal:
			log.WithField("check_status", check).
				Warn("Skipping check status not in the check code table")
		default:
			captured[outputCheck] = true
			setIntField(fields, "check_status", run.CheckStatus, check)
		}
	}

	done := r.decideDone(ctx, run, fields, jobID, buildOK && build != 0, submitOK && submit != 0, log)

	if earliest != nil {
		for _, kind := range outputKinds {
			text, err := r.readOutput(earliest, kind)
			if err != nil {
				log.WithError(err).
					WithField("output", kind).
					Warn("Output file not available")

				if captured[kind] {
					done = false
				}

				continue
			}

			col := "output_" + kind
			if current := outputColumn(run, kind); current == nil || *current != *text {
				fields[col] = *text
			}
		}
	}

	if done {
		fields["done"] = true
	}

	return runUpdate{fields: fields, done: done, jobID: jobID}
}

// decideDone applies the completion rules in order: an exit status from
// the scheduler, a failed build, a failed submit, then the job having left
// the queue. When the scheduler fails only a failed build or submit can
// finish the run.
func (r *reconciler) decideDone(
	ctx context.Context,
	run *store.Run,
	fields map[string]any,
	jobID string,
	buildFailed, submitFailed bool,
	log logrus.FieldLogger,
) bool {
	id, hasJob := 0, false
	if jobID != "" {
		if v, err := strconv.Atoi(jobID); err == nil {
			id, hasJob = v, true
		}
	}

	if hasJob {
		exit, err := r.sched.GetJobExitStatus(ctx, id)
		if err != nil {
			r.logSchedulerError(log, err, id)

			return buildFailed || submitFailed
		}

		if exit != nil {
			if run.LSFExitStatus == nil || *run.LSFExitStatus != *exit {
				fields["lsf_exit_status"] = *exit
			}

			return true
		}
	}

	switch {
	case buildFailed, submitFailed:
		return true
	case hasJob:
		inQueue, err := r.sched.InQueue(ctx, id)
		if err != nil {
			r.logSchedulerError(log, err, id)

			return false
		}

		return !inQueue
	default:
		return false
	}
}

// jobIDFromFile reads the job id the harness leaves next to the event
// files. A missing file is not an error.
func (r *reconciler) jobIDFromFile(runDir string, log logrus.FieldLogger) (int, bool) {
	path := filepath.Join(runDir, jobIDFileName)

	id, err := harness.ParseJobIDFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("path", path).Warn("Ignoring unusable job id file")
		}

		return 0, false
	}

	return id, true
}

func (r *reconciler) logSchedulerError(log logrus.FieldLogger, err error, jobID int) {
	entry := log.WithError(err).WithField("job_id", jobID)

	if errors.Is(err, lsf.ErrNoScheduler) {
		entry.Debug("No scheduler configured, run stays open")

		return
	}

	entry.Warn("Scheduler query failed, run stays open")
}

func setIntField(fields map[string]any, col string, current *int, v int) {
	if current == nil || *current != v {
		fields[col] = v
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}

	return v
}
