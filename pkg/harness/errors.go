package harness

import (
	"errors"
	"fmt"
)

var (
	// ErrNoJobID is returned when a job id file has no integer line.
	ErrNoJobID = errors.New("no job id found")

	// ErrNegativeJobID is returned when the only integer line is negative.
	ErrNegativeJobID = errors.New("negative job id found")
)

// SyntaxError describes a malformed line in a declaration file. Line is
// 1-based; it is zero for problems that concern the file as a whole, such
// as a missing path_to_tests.
type SyntaxError struct {
	Path string
	Line int
	Text string
	Msg  string
}

func (e *SyntaxError) Error() string {
	prefix := e.Path
	if prefix == "" {
		prefix = "input"
	}

	if e.Line <= 0 {
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}

	return fmt.Sprintf("%s:%d: %s\n\tline %d: %s", prefix, e.Line, e.Msg, e.Line, e.Text)
}

// LineError records a status file line that was rejected.
type LineError struct {
	Line int
	Text string
	Msg  string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}
