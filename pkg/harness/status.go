package harness

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// statusHeaderLines is the size of the banner the harness writes at the top
// of every status file.
const statusHeaderLines = 3

// statusFieldCount is the number of space separated fields per record.
const statusFieldCount = 6

// StatusLine is one run attempt recorded in a status file. All fields keep
// their raw text; the typed accessors report whether a value is a usable
// base-10 integer rather than a placeholder such as "***".
type StatusLine struct {
	Start        string
	HarnessUID   string
	JobID        string
	BuildStatus  string
	SubmitStatus string
	CheckStatus  string
}

// JobIDValue returns the scheduler job id if it has been assigned.
func (l StatusLine) JobIDValue() (int, bool) { return parseCode(l.JobID) }

// BuildStatusValue returns the build status code if it is known.
func (l StatusLine) BuildStatusValue() (int, bool) { return parseCode(l.BuildStatus) }

// SubmitStatusValue returns the submit status code if it is known.
func (l StatusLine) SubmitStatusValue() (int, bool) { return parseCode(l.SubmitStatus) }

// CheckStatusValue returns the check status code if it is known.
func (l StatusLine) CheckStatusValue() (int, bool) { return parseCode(l.CheckStatus) }

// StatusFile is the result of parsing a status file. Rejected holds lines
// that did not have the expected shape; they are excluded from Lines.
type StatusFile struct {
	Lines    []StatusLine
	Rejected []*LineError
}

// ParseStatusFile parses the status log at path. A missing file yields an
// error wrapping fs.ErrNotExist.
func ParseStatusFile(path string) (*StatusFile, error) {
	f, err := os.Open(path) //nolint:gosec // trusted paths from declaration
	if err != nil {
		return nil, fmt.Errorf("opening status file: %w", err)
	}
	defer f.Close()

	return ParseStatus(f)
}

// ParseStatus parses status records after the banner header. Malformed
// records are rejected individually and never abort the file.
func ParseStatus(r io.Reader) (*StatusFile, error) {
	var (
		out     StatusFile
		lineNum int
	)

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		lineNum++

		if lineNum <= statusHeaderLines {
			continue
		}

		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Fields(trimmed)
		if len(fields) != statusFieldCount {
			out.Rejected = append(out.Rejected, &LineError{
				Line: lineNum,
				Text: raw,
				Msg: fmt.Sprintf(
					"expected %d fields, got %d", statusFieldCount, len(fields),
				),
			})

			continue
		}

		out.Lines = append(out.Lines, StatusLine{
			Start:        fields[0],
			HarnessUID:   fields[1],
			JobID:        fields[2],
			BuildStatus:  fields[3],
			SubmitStatus: fields[4],
			CheckStatus:  fields[5],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading status file: %w", err)
	}

	return &out, nil
}

// parseCode accepts only plain non-negative base-10 integers.
func parseCode(s string) (int, bool) {
	if s == "" {
		return 0, false
	}

	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}

	return n, true
}
