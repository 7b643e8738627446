package harness

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseJobIDFile reads the scheduler job id the harness stored at path.
func ParseJobIDFile(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // paths come from the run directory
	if err != nil {
		return 0, fmt.Errorf("opening job id file: %w", err)
	}
	defer f.Close()

	id, err := ParseJobID(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	return id, nil
}

// ParseJobID returns the first line that parses as an integer once
// stripped. Other lines are ignored.
func ParseJobID(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		id, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil {
			continue
		}

		if id < 0 {
			return 0, ErrNegativeJobID
		}

		return id, nil
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading job id: %w", err)
	}

	return 0, ErrNoJobID
}
