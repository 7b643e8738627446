package reconciler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/olcf/harmony/pkg/harness"
	"github.com/olcf/harmony/pkg/store"
	"github.com/sirupsen/logrus"
)

// Output kinds captured from a run. Build output lives in the build
// directory; the rest live in the run archive.
const (
	outputBuild  = "build"
	outputSubmit = "submit"
	outputCheck  = "check"
	outputReport = "report"
)

var outputKinds = []string{outputBuild, outputSubmit, outputCheck, outputReport}

// outputFileName returns the harness file name for an output kind.
func outputFileName(kind string) string {
	return "output_" + kind + ".txt"
}

// outputDir picks the directory an output kind is written to, as recorded
// in the run's earliest event.
func outputDir(ev *harness.Event, kind string) string {
	if kind == outputBuild {
		return ev.BuildDirectory()
	}

	return ev.RunArchive()
}

// outputDirKey names the event field outputDir reads for kind.
func outputDirKey(kind string) string {
	if kind == outputBuild {
		return harness.KeyBuildDirectory
	}

	return harness.KeyRunArchive
}

// readOutput returns the captured text of one output file, capped at the
// configured size. An event that does not say where the output lives is an
// error, so the output counts as not captured.
func (r *reconciler) readOutput(ev *harness.Event, kind string) (*string, error) {
	dir := outputDir(ev, kind)
	if dir == "" {
		return nil, fmt.Errorf("event %s records no %s directory", ev.FileName, outputDirKey(kind))
	}

	path := filepath.Join(dir, outputFileName(kind))

	f, err := os.Open(path) //nolint:gosec // path comes from the harness event
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	limit := int64(r.cfg.MaxOutputSize)

	var reader io.Reader = f
	if limit > 0 {
		reader = io.LimitReader(f, limit+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if limit > 0 && int64(len(data)) > limit {
		data = data[:limit]

		r.log.WithFields(logrus.Fields{
			"path":  path,
			"limit": units.BytesSize(float64(limit)),
		}).Debug("Output truncated to configured maximum")
	}

	text := strings.ToValidUTF8(string(data), "\uFFFD")

	return &text, nil
}

// outputColumn returns the stored value for an output kind.
func outputColumn(run *store.Run, kind string) *string {
	switch kind {
	case outputBuild:
		return run.OutputBuild
	case outputSubmit:
		return run.OutputSubmit
	case outputCheck:
		return run.OutputCheck
	case outputReport:
		return run.OutputReport
	default:
		return nil
	}
}
