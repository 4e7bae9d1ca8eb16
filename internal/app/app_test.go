package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/python-module-explorer/internal/config"
	"github.com/canonical/python-module-explorer/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestOpenWiresEverything(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.NotNil(t, a.Index)
	assert.NotNil(t, a.Searcher)
	assert.FileExists(t, cfg.DatabasePath())
	assert.FileExists(t, cfg.IndexPath())

	envs, err := a.Explorer.ListEnvironments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, envs)

	docs, err := a.Explorer.SearchDocs(context.Background(), "", "anything", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, docs.Results)

	r := a.Indexer()
	assert.Equal(t, cfg.IndexConcurrency, r.Concurrency)
	assert.Equal(t, cfg.FailuresPath(), r.FailuresPath)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOpenWithoutSearchIndex(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(cfg.DataDir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.IndexDir = filepath.Join(blocker, "search.db")

	a, err := Open(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.Nil(t, a.Index)
	assert.Nil(t, a.Searcher)
	docs, err := a.Explorer.SearchDocs(context.Background(), "", "anything", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, docs.Results)
}

func TestOpenFailsOnBadDatabasePath(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(cfg.DataDir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.DBPath = filepath.Join(blocker, "explorer.db")

	_, err := Open(cfg, logging.Discard())
	assert.Error(t, err)
}
