package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardlog/internal/event"
)

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "scorecard_archive.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "scorecard_archive", s.Name)
	assert.Equal(t, "default", s.Session)
	require.Len(t, s.Steps, 6)
	assert.Equal(t, KindAppend, s.Steps[0].Kind())
	assert.Equal(t, KindBatch, s.Steps[1].Kind())
	assert.Equal(t, "MALFORMED_BATCH", s.Steps[2].ExpectError)
	assert.Equal(t, KindArchive, s.Steps[3].Kind())
	assert.Equal(t, KindRestore, s.Steps[4].Kind())
	assert.Equal(t, "game-0001", s.Steps[4].Restore)
	assert.Len(t, s.Assertions, 7)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "assertion instead of assertions"
steps:
  - append: {type: player/added, payload: {id: p1, name: A}}
assertion:
  - {type: height, equals: 1}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps:\n  - restore: x\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps:\n  - restore: x\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "two actions in one step",
			yaml: "name: n\ndescription: d\nsteps:\n  - restore: x\n    archive: {}\n",
			want: "exactly one action",
		},
		{
			name: "append without type",
			yaml: "name: n\ndescription: d\nsteps:\n  - append: {payload: {id: p1}}\n",
			want: "type is required",
		},
		{
			name: "start without players",
			yaml: "name: n\ndescription: d\nsteps:\n  - start: {seed: s, rounds: 1}\n",
			want: "players list is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps:\n  - restore: x\nassertions:\n  - {type: vibes, equals: good}\n",
			want: "unknown assertion type",
		},
		{
			name: "score without id",
			yaml: "name: n\ndescription: d\nsteps:\n  - restore: x\nassertions:\n  - {type: score, equals: 1}\n",
			want: "id is required",
		},
		{
			name: "assertion without value",
			yaml: "name: n\ndescription: d\nsteps:\n  - restore: x\nassertions:\n  - {type: height}\n",
			want: "equals is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEventSpec_Payload(t *testing.T) {
	p, err := EventSpec{
		Type:    "score/added",
		Payload: map[string]any{"playerId": "p1", "delta": 7},
	}.Decode()
	require.NoError(t, err)
	assert.Equal(t, event.ScoreAdded{PlayerID: "p1", Delta: 7}, p)

	p, err = EventSpec{Type: "sp/reset"}.Decode()
	require.NoError(t, err)
	assert.Equal(t, event.SPReset{}, p)

	_, err = EventSpec{Type: "player/teleported"}.Decode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestScenarioFiles_AllParse(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		_, err = ParseScenario(data)
		assert.NoError(t, err, path)
	}
}
