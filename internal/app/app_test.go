package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardlog/internal/archive"
	"github.com/roach88/cardlog/internal/config"
	"github.com/roach88/cardlog/internal/event"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		DataDir:          filepath.Join(t.TempDir(), "data"),
		Session:          "default",
		Archive:          "default",
		SnapshotInterval: 20,
		PollInterval:     5 * time.Millisecond,
		EnrichLimit:      2,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

func TestOpen_CreatesDataDir(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = os.Stat(cfg.LogPath())
	assert.NoError(t, err)
	assert.Equal(t, cfg, a.Config())
}

// Two apps on one data directory behave like two tabs: an archive in one
// resets the instance open in the other.
func TestTwoApps_ResetPropagates(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := Open(cfg, nil)
	require.NoError(t, err)
	defer first.Close()
	second, err := Open(cfg, nil)
	require.NoError(t, err)
	defer second.Close()

	in, err := first.OpenSession(ctx, cfg.Session)
	require.NoError(t, err)
	defer in.Close()
	_, err = in.AppendPayloads(ctx,
		event.PlayerAdded{ID: "p1", Name: "Alice"},
		event.ScoreAdded{PlayerID: "p1", Delta: 10},
	)
	require.NoError(t, err)

	arch, err := second.Archiver(cfg.Archive)
	require.NoError(t, err)
	rec, err := arch.ArchiveCurrentGameAndReset(ctx, cfg.Session, archive.Meta{})
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.Eventually(t, func() bool { return in.Height() == 0 }, 2*time.Second, 5*time.Millisecond)

	_, err = os.Stat(cfg.ArchivePath(cfg.Archive))
	assert.NoError(t, err)
	games, err := arch.ListGames(ctx)
	require.NoError(t, err)
	assert.Len(t, games, 1)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
}
