package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "cardlog", cmd.Use)
	assert.Contains(t, cmd.Long, "session log")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"append"}, {"state"}, {"log"}, {"start"}, {"bid"}, {"play"}, {"autoplay"},
		{"archive"}, {"restore"}, {"replay"}, {"test"},
		{"games", "list"}, {"games", "delete"}, {"games", "hide"}, {"games", "unhide"}, {"games", "enrich"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	sessionFlag := cmd.PersistentFlags().Lookup("session")
	require.NotNil(t, sessionFlag)
	assert.Equal(t, "s", sessionFlag.Shorthand)

	for _, name := range []string{"data-dir", "archive", "log-level", "env-file"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestStateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	stateCmd, _, err := cmd.Find([]string{"state"})
	require.NoError(t, err)

	atFlag := stateCmd.Flags().Lookup("at")
	require.NotNil(t, atFlag)
	assert.Equal(t, "-1", atFlag.DefValue)
}

func TestAutoplayCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	autoCmd, _, err := cmd.Find([]string{"autoplay"})
	require.NoError(t, err)

	assert.NotNil(t, autoCmd.Flags().Lookup("human"))
	assert.NotNil(t, autoCmd.Flags().Lookup("reveal"))
	maxFlag := autoCmd.Flags().Lookup("max-steps")
	require.NotNil(t, maxFlag)
	assert.Equal(t, "1000", maxFlag.DefValue)
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	assert.NotNil(t, testCmd.Flags().Lookup("filter"))
	assert.NotNil(t, testCmd.Flags().Lookup("golden-dir"))
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "state"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidConfigIsCommandError(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--env-file", "", "--data-dir", t.TempDir(), "--archive", "../escape", "state"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "archive name")
}
