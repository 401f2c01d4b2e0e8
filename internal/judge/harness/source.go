package harness

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"codejudger/internal/judge/model"
	"codejudger/pkg/errors"
)

// Case is a test case ready to run.
type Case struct {
	Name     string
	Expected string

	// InputFile is relative to the fixture directory when FromData is set,
	// otherwise it must be written into the instance from Input first.
	InputFile string
	FromData  bool
	Input     string
}

// Source provides the test cases of one submission.
type Source interface {
	Cases(ctx context.Context) ([]Case, error)
	// DataDir is the fixture directory to mount read-only, or "".
	DataDir() string
}

// FileSource reads <root>/<problem id>/<name>.in|.out fixtures.
type FileSource struct {
	Root      string
	ProblemID int64
}

func (s FileSource) DataDir() string {
	return filepath.Join(s.Root, strconv.FormatInt(s.ProblemID, 10))
}

// Cases lists every .in file with a matching .out, sorted by name. AppleDouble
// "._" files and unmatched inputs are skipped.
func (s FileSource) Cases(ctx context.Context) ([]Case, error) {
	dir := s.DataDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.FixtureNotFound, "fixtures for problem %d not found", s.ProblemID)
		}
		return nil, errors.Wrapf(err, errors.FixtureInvalid, "read fixture dir %s", dir)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "._") || filepath.Ext(name) != ".in" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	cases := make([]Case, 0, len(names))
	for _, in := range names {
		base := strings.TrimSuffix(in, ".in")
		expected, err := os.ReadFile(filepath.Join(dir, base+".out"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, errors.FixtureInvalid, "read expected output %s", base)
		}
		cases = append(cases, Case{Name: base, Expected: string(expected), InputFile: in, FromData: true})
	}
	return cases, nil
}

// MemorySource serves inline test cases.
type MemorySource struct {
	TestCases []model.TestCase
}

func (s MemorySource) DataDir() string { return "" }

func (s MemorySource) Cases(ctx context.Context) ([]Case, error) {
	cases := make([]Case, 0, len(s.TestCases))
	for i, tc := range s.TestCases {
		cases = append(cases, Case{
			Name:      model.CaseName(tc, i),
			Expected:  tc.Output,
			InputFile: "case" + strconv.Itoa(i+1) + ".in",
			Input:     tc.Input,
		})
	}
	return cases, nil
}

// SourceFor picks the source matching the job's mode.
func SourceFor(job *model.Job, dataRoot string) Source {
	if job.MemoryMode() {
		return MemorySource{TestCases: job.TestCases}
	}
	return FileSource{Root: dataRoot, ProblemID: job.ProblemID}
}
