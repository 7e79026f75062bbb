package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against dir and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", "", "--data-dir", dir, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	require.NoError(t, err, "cardlog %v: %s", args, out)
	return out
}

// jsonData runs a --format json command and returns its data field.
func jsonData(t *testing.T, dir string, args ...string) any {
	t.Helper()
	out := mustRun(t, dir, append([]string{"--format", "json"}, args...)...)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestScorecardSession(t *testing.T) {
	dir := t.TempDir()

	out := mustRun(t, dir, "append", "player/added", `{"id":"p1","name":"Alice"}`)
	assert.Contains(t, out, "player/added -> height 1")
	mustRun(t, dir, "append", "player/added", `{"id":"p2","name":"Bob"}`)

	data := jsonData(t, dir, "append", "score/added", `{"playerId":"p1","delta":10}`).(map[string]any)
	assert.Equal(t, float64(3), data["height"])

	out, err := run(t, dir, "append", "score/added", `{"playerId":"ghost","delta":1}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "MALFORMED_BATCH")

	view := jsonData(t, dir, "state").(map[string]any)
	assert.Equal(t, float64(3), view["height"])
	assert.Equal(t, "scorecard", view["mode"])
	st := view["state"].(map[string]any)
	assert.Equal(t, "Alice", st["players"].(map[string]any)["p1"])
	assert.Equal(t, float64(10), st["scores"].(map[string]any)["p1"])

	out = mustRun(t, dir, "state", "--at", "1")
	assert.Contains(t, out, "at height 1")
	assert.NotContains(t, out, "Bob")

	out = mustRun(t, dir, "log")
	assert.Contains(t, out, "player/added")
	assert.Contains(t, out, `{"delta":10,"playerId":"p1"}`)

	entries := jsonData(t, dir, "log", "--from", "2").([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, float64(2), entries[0].(map[string]any)["height"])
}

func TestAppendRejectsUnknownType(t *testing.T) {
	out, err := run(t, t.TempDir(), "append", "player/teleported", `{}`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "unknown event type")

	_, err = run(t, t.TempDir(), "append", "player/added", `{not json`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestArchiveAndRestore(t *testing.T) {
	dir := t.TempDir()
	assert.Contains(t, mustRun(t, dir, "archive"), "nothing to archive")

	mustRun(t, dir, "append", "player/added", `{"id":"p1","name":"Alice"}`)
	mustRun(t, dir, "append", "score/added", `{"playerId":"p1","delta":4}`)

	rec := jsonData(t, dir, "archive", "--title", "Friday").(map[string]any)
	id := rec["id"].(string)
	assert.Equal(t, "Friday", rec["title"])
	assert.Equal(t, false, rec["completed"])

	view := jsonData(t, dir, "state").(map[string]any)
	assert.Equal(t, float64(0), view["height"])

	games := jsonData(t, dir, "games", "list").([]any)
	require.Len(t, games, 1)
	assert.Equal(t, id, games[0].(map[string]any)["id"])

	out := mustRun(t, dir, "restore", id)
	assert.Contains(t, out, "restored "+id)
	view = jsonData(t, dir, "state").(map[string]any)
	assert.Equal(t, float64(2), view["height"])

	out = mustRun(t, dir, "restore", "no-such-game")
	assert.Contains(t, out, "nothing restored")

	mustRun(t, dir, "games", "hide", id)
	assert.Empty(t, jsonData(t, dir, "games", "list").([]any))
	assert.Len(t, jsonData(t, dir, "games", "list", "--all").([]any), 1)
	mustRun(t, dir, "games", "unhide", id)

	updated := jsonData(t, dir, "games", "enrich").(map[string]any)
	assert.Equal(t, float64(0), updated["updated"])

	mustRun(t, dir, "games", "delete", id)
	_, err := run(t, dir, "games", "delete", id)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSinglePlayerGame(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{`{"id":"p1","name":"Ada"}`, `{"id":"p2","name":"Bea"}`, `{"id":"p3","name":"Cy"}`} {
		mustRun(t, dir, "append", "player/added", p)
	}

	out := mustRun(t, dir, "start", "--seed", "cli", "--rounds", "2")
	assert.Contains(t, out, "dealt round 1 of 2 (seed cli)")

	data := jsonData(t, dir, "autoplay", "--human", "p1").(map[string]any)
	assert.Equal(t, "bidding", data["phase"])

	mustRun(t, dir, "bid", "p1", "1")
	data = jsonData(t, dir, "autoplay").(map[string]any)
	assert.Equal(t, "game-summary", data["phase"])

	view := jsonData(t, dir, "state").(map[string]any)
	assert.Equal(t, true, view["completed"])
	assert.Equal(t, "single-player", view["mode"])

	rec := jsonData(t, dir, "archive").(map[string]any)
	out, err := run(t, dir, "restore", rec["id"].(string))
	require.Error(t, err)
	assert.Equal(t, ExitRefused, GetExitCode(err))
	assert.Contains(t, out, "RESTORE_REFUSED")
}

func TestBidRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "bid", "p1", "many")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, dir, "play", "p1", "QH")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := run(t, dir, "bid", "p1", "2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "MALFORMED_BATCH")
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	out := mustRun(t, dir, "replay")
	assert.Contains(t, out, "All sessions verified")

	mustRun(t, dir, "append", "player/added", `{"id":"p1","name":"Alice"}`)
	mustRun(t, dir, "--session", "other", "append", "player/added", `{"id":"p9","name":"Zed"}`)

	data := jsonData(t, dir, "replay", "--all").(map[string]any)
	assert.Equal(t, true, data["all_ok"])
	assert.Len(t, data["sessions"], 2)
}

func TestTestCommand(t *testing.T) {
	scenarios := filepath.Join("..", "harness", "testdata", "scenarios")
	golden := filepath.Join("..", "harness", "testdata", "golden")

	out := mustRun(t, t.TempDir(), "test", scenarios, "--golden-dir", golden)
	assert.Contains(t, out, "✓ scorecard_archive")
	assert.Contains(t, out, "All scenarios passed")

	fresh := t.TempDir()
	out = mustRun(t, t.TempDir(), "test", scenarios, "--golden-dir", fresh, "--filter", "human_*", "--update")
	assert.Contains(t, out, "(golden updated)")
	assert.FileExists(t, filepath.Join(fresh, "human_turn.golden"))

	data := jsonData(t, t.TempDir(), "test", scenarios, "--golden-dir", fresh, "--filter", "human_*").(map[string]any)
	assert.Equal(t, float64(1), data["passed"])
	assert.Equal(t, "match", data["scenarios"].([]any)[0].(map[string]any)["golden"])
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := run(t, t.TempDir(), "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
