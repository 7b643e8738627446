package harness

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	keyPathToTests = "path_to_tests"
	keyTest        = "test"
)

// TestRef names one tracked (application, test) pair.
type TestRef struct {
	Application string
	Name        string
}

func (t TestRef) String() string {
	return t.Application + "/" + t.Name
}

// Declaration is the parsed master input file.
type Declaration struct {
	PathToTests string
	Tests       []TestRef
}

// StatusDir returns the directory holding one test's status log and per-run
// event directories, e.g. <path_to_tests>/<app>/<test>/Status.
func (d *Declaration) StatusDir(ref TestRef, statusDir string) string {
	return filepath.Join(d.PathToTests, ref.Application, ref.Name, statusDir)
}

// ParseInputFile parses a declaration file. Any syntax problem fails the
// whole file with a *SyntaxError.
func ParseInputFile(path string) (*Declaration, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("opening input file: %w", err)
	}
	defer f.Close()

	decl, err := ParseInput(f)
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			se.Path = path
		}

		return nil, err
	}

	return decl, nil
}

// ParseInput parses declaration lines of the form "key = value [value2]".
func ParseInput(r io.Reader) (*Declaration, error) {
	var (
		decl     Declaration
		seenRoot bool
		lineNum  int
	)

	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		lineNum++

		raw := scanner.Text()

		line := raw
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		syntaxErr := func(msg string) error {
			return &SyntaxError{Line: lineNum, Text: raw, Msg: msg}
		}

		parts := strings.Split(line, "=")

		switch {
		case len(parts) < 2:
			return nil, syntaxErr("not enough '='")
		case len(parts) > 2:
			return nil, syntaxErr("too many '='")
		}

		keys := strings.Fields(parts[0])
		vals := strings.Fields(parts[1])

		switch {
		case len(keys) == 0:
			return nil, syntaxErr("nothing before '='")
		case len(keys) > 1:
			return nil, syntaxErr("too many space separated items before '='")
		case len(vals) == 0:
			return nil, syntaxErr("nothing after '='")
		case len(vals) > 2:
			return nil, syntaxErr("too many space separated items after '='")
		}

		switch strings.ToLower(keys[0]) {
		case keyPathToTests:
			if len(vals) > 1 || seenRoot {
				return nil, syntaxErr("too many paths to tests")
			}

			decl.PathToTests = vals[0]
			seenRoot = true
		case keyTest:
			if len(vals) != 2 {
				return nil, syntaxErr("need both application name and test name")
			}

			decl.Tests = append(decl.Tests, TestRef{
				Application: vals[0],
				Name:        vals[1],
			})
		default:
			return nil, syntaxErr(fmt.Sprintf(
				"unknown key %q, expected %q or %q", keys[0], keyPathToTests, keyTest,
			))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}

	if !seenRoot {
		return nil, &SyntaxError{Msg: "no path to tests found"}
	}

	return &decl, nil
}
