package harness

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Well-known event keys written by the harness.
const (
	KeyApplication    = "app"
	KeyTest           = "test"
	KeySystem         = "rgt_system_log_tag"
	KeyTestID         = "test_id"
	KeyEventTime      = "event_time"
	KeyEventFilename  = "event_filename"
	KeyRunArchive     = "run_archive"
	KeyBuildDirectory = "build_directory"
)

// EventFilePrefix marks milestone files inside a run's event directory.
const EventFilePrefix = "Event_"

var eventCodeRe = regexp.MustCompile(`Event_(\d+)`)

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

// Event is one parsed milestone file.
type Event struct {
	Path     string
	FileName string
	Code     int
	HasCode  bool
	Fields   map[string]string
}

func (e *Event) get(key string) string {
	if e.Fields == nil {
		return ""
	}

	return e.Fields[key]
}

// Application returns the application name the event belongs to.
func (e *Event) Application() string { return e.get(KeyApplication) }

// Test returns the test name the event belongs to.
func (e *Event) Test() string { return e.get(KeyTest) }

// System returns the system log tag.
func (e *Event) System() string { return e.get(KeySystem) }

// TestID returns the harness UID recorded in the event.
func (e *Event) TestID() string { return e.get(KeyTestID) }

// RunArchive returns the directory holding submit, check and report output.
func (e *Event) RunArchive() string { return e.get(KeyRunArchive) }

// BuildDirectory returns the directory holding build output.
func (e *Event) BuildDirectory() string { return e.get(KeyBuildDirectory) }

// RawTime returns the unparsed event_time value.
func (e *Event) RawTime() string { return e.get(KeyEventTime) }

// Time parses event_time with ParseTimestamp.
func (e *Event) Time() (time.Time, error) {
	raw := e.RawTime()
	if raw == "" {
		return time.Time{}, fmt.Errorf("event %s has no %s", e.FileName, KeyEventTime)
	}

	t, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("event %s: %w", e.FileName, err)
	}

	return t, nil
}

// ParseTimestamp parses the timestamps the harness writes. Values without a
// zone are interpreted as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// EventCodeFromName extracts the numeric code from a name such as
// "Event_150_submit_end.txt".
func EventCodeFromName(name string) (int, bool) {
	m := eventCodeRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}

	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}

	return code, true
}

// IsEventFile reports whether name looks like a milestone file.
func IsEventFile(name string) bool {
	return strings.Contains(name, EventFilePrefix)
}

// ParseEventFile parses the milestone file at path. A missing file yields an
// error wrapping fs.ErrNotExist.
func ParseEventFile(path string) (*Event, error) {
	f, err := os.Open(path) //nolint:gosec // paths come from directory listings
	if err != nil {
		return nil, fmt.Errorf("opening event file: %w", err)
	}
	defer f.Close()

	ev, err := ParseEvent(filepath.Base(path), f)
	if err != nil {
		return nil, err
	}

	ev.Path = path

	return ev, nil
}

// ParseEvent parses whitespace separated key=value pairs. Tokens without
// '=' are ignored. The code comes from name, falling back to the
// event_filename field.
func ParseEvent(name string, r io.Reader) (*Event, error) {
	ev := &Event{
		FileName: name,
		Fields:   make(map[string]string),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(bufio.ScanWords)

	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key == "" {
			continue
		}

		ev.Fields[key] = val
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event %s: %w", name, err)
	}

	ev.Code, ev.HasCode = EventCodeFromName(name)
	if !ev.HasCode {
		ev.Code, ev.HasCode = EventCodeFromName(ev.get(KeyEventFilename))
	}

	return ev, nil
}
