package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is where golden traces live, relative to the test's package.
const GoldenDir = "testdata/golden"

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's trace against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, result.Text(scenarioName))
}

// CompareGolden checks a result against the golden file in dir outside of
// go test. A missing file is reported as a mismatch. With update set, the
// file is rewritten instead and the comparison always succeeds.
func CompareGolden(dir, scenarioName string, result *Result, update bool) (bool, error) {
	path := filepath.Join(dir, scenarioName+".golden")
	got := result.Text(scenarioName)

	if update {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create golden dir: %w", err)
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			return false, fmt.Errorf("write golden file: %w", err)
		}
		return true, nil
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read golden file: %w", err)
	}
	return bytes.Equal(want, got), nil
}
