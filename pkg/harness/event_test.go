package harness

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCodeFromName(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		want     int
		wantOK   bool
	}{
		{name: "plain", fileName: "Event_150_submit_end.txt", want: 150, wantOK: true},
		{name: "code only", fileName: "Event_110.txt", want: 110, wantOK: true},
		{name: "prefixed", fileName: "rgt_Event_200_check_end.txt", want: 200, wantOK: true},
		{name: "no digits", fileName: "Event_logging.txt", wantOK: false},
		{name: "not an event", fileName: "job_id.txt", wantOK: false},
		{name: "empty", fileName: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EventCodeFromName(tt.fileName)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEvent(t *testing.T) {
	body := `app=hello_world test=small
rgt_system_log_tag=summit test_id=1714557600.123
event_time=2024-05-01T10:00:05.250000 junk
run_archive=/archive/hello/small/1714557600.123 build_directory=/scratch/build
empty=
`

	ev, err := ParseEvent("Event_120_build_start.txt", strings.NewReader(body))
	require.NoError(t, err)

	assert.True(t, ev.HasCode)
	assert.Equal(t, 120, ev.Code)
	assert.Equal(t, "hello_world", ev.Application())
	assert.Equal(t, "small", ev.Test())
	assert.Equal(t, "summit", ev.System())
	assert.Equal(t, "1714557600.123", ev.TestID())
	assert.Equal(t, "/archive/hello/small/1714557600.123", ev.RunArchive())
	assert.Equal(t, "/scratch/build", ev.BuildDirectory())
	assert.NotContains(t, ev.Fields, "junk")
	assert.Contains(t, ev.Fields, "empty")

	ts, err := ev.Time()
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 5, 1, 10, 0, 5, 250_000_000, time.UTC).Equal(ts))
}

func TestParseEvent_CodeFromField(t *testing.T) {
	ev, err := ParseEvent("milestone.txt", strings.NewReader("event_filename=Event_180_binary_execute_end.txt"))
	require.NoError(t, err)

	assert.True(t, ev.HasCode)
	assert.Equal(t, 180, ev.Code)
}

func TestParseEvent_NameWinsOverField(t *testing.T) {
	ev, err := ParseEvent("Event_130_build_end.txt", strings.NewReader("event_filename=Event_140.txt"))
	require.NoError(t, err)

	assert.Equal(t, 130, ev.Code)
}

func TestEvent_Time(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    time.Time
		wantErr bool
	}{
		{name: "iso", raw: "2024-05-01T10:00:05", want: time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)},
		{name: "space separator", raw: "2024-05-01 10:00:05.5", want: time.Date(2024, 5, 1, 10, 0, 5, 500_000_000, time.UTC)},
		{
			name: "rfc3339",
			raw:  "2024-05-01T10:00:05+02:00",
			want: time.Date(2024, 5, 1, 8, 0, 5, 0, time.UTC),
		},
		{name: "garbage", raw: "yesterday", wantErr: true},
		{name: "missing", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &Event{FileName: "Event_110.txt", Fields: map[string]string{}}
			if tt.raw != "" {
				ev.Fields[KeyEventTime] = tt.raw
			}

			got, err := ev.Time()
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestParseEventFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "Event_110_logging_start.txt")
	require.NoError(t, os.WriteFile(path, []byte("app=a test=b\n"), 0o644))

	ev, err := ParseEventFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, ev.Path)
	assert.Equal(t, "Event_110_logging_start.txt", ev.FileName)
	assert.Equal(t, 110, ev.Code)

	_, err = ParseEventFile(filepath.Join(dir, "Event_999.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
