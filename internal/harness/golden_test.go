package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_ScorecardArchive(t *testing.T) {
	s := loadTestScenario(t, "scorecard_archive")

	// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestResultText(t *testing.T) {
	r := assertionResult()
	r.AddTrace(1, KindAppend, "player/added", "height 1")
	r.AddTrace(2, KindArchive, "", "nothing to archive")

	want := "scenario: demo\n" +
		"1 append player/added -> height 1\n" +
		"2 archive -> nothing to archive\n" +
		"final: height=4 phase=setup games=2\n" +
		"players: p1=Alice\n" +
		"scores: p1=12\n"
	assert.Equal(t, want, string(r.Text("demo")))
}

func TestCompareGolden(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "golden")
	s := loadTestScenario(t, "scorecard_archive")
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	ok, err := CompareGolden(dir, s.Name, result, false)
	require.NoError(t, err)
	assert.False(t, ok, "missing golden file must not match")

	ok, err = CompareGolden(dir, s.Name, result, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CompareGolden(dir, s.Name, result, false)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, s.Name+".golden"), []byte("stale\n"), 0o644))
	ok, err = CompareGolden(dir, s.Name, result, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompareGolden_MatchesCommittedFile(t *testing.T) {
	s := loadTestScenario(t, "scorecard_archive")
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	ok, err := CompareGolden(GoldenDir, s.Name, result, false)
	require.NoError(t, err)
	assert.True(t, ok)
}
