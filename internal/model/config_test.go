package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	d := DefaultConfig()
	assert.Equal(t, d.WorkItemTypes, cfg.WorkItemTypes)
	assert.Equal(t, 30.0, cfg.BuildNotOlderThanDays)
	assert.Equal(t, 100, cfg.MaxBuildsPerDefinition)
	assert.True(t, cfg.UseCaching)
	assert.Equal(t, CacheBackendJSON, cfg.Cache.Backend)
	assert.Equal(t, DefaultCacheDir, cfg.Cache.Dir)
	assert.Equal(t, 1, cfg.Concurrency)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`organization: contoso
work_item_types: "Bug;User Story, Task"
max_commits_per_repo: 5
use_caching: false
cache:
  backend: sqlite
concurrency: 0
`), 0o644))

	t.Setenv("AZURE_TRACKER_PAT", "from-env")
	t.Setenv("AZURE_TRACKER_CACHE_DIR", "/tmp/elsewhere")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "contoso", cfg.Organization)
	assert.Equal(t, "from-env", cfg.PAT)
	assert.Equal(t, []string{"Bug", "User Story", "Task"}, cfg.WorkItemTypes)
	assert.Equal(t, 5, cfg.MaxCommitsPerRepo)
	assert.False(t, cfg.UseCaching)
	assert.Equal(t, CacheBackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, "/tmp/elsewhere", cfg.Cache.Dir)
	assert.Equal(t, 1, cfg.Concurrency)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("organization: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.Organization = "contoso"
	assert.NoError(t, cfg.Validate())

	cfg.Cache.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg.Cache.Backend = CacheBackendSQLite
	cfg.MaxCommitsPerRepo = -1
	assert.Error(t, cfg.Validate())
}

func TestSplitWorkItemTypes(t *testing.T) {
	assert.Equal(t, []string{"Bug", "Task"}, SplitWorkItemTypes("Bug; ;Task;"))
	assert.Equal(t, []string{"A", "B", "C"}, SplitWorkItemTypes("A,B", " C "))
	assert.Nil(t, SplitWorkItemTypes("", " ; "))
}

func TestSaveConfig_OmitsToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Organization = "contoso"
	cfg.PAT = "super-secret"
	cfg.WorkItemTypes = []string{"Bug"}
	cfg.PollIntervalSec = 60

	require.NoError(t, SaveConfig(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "contoso", loaded.Organization)
	assert.Empty(t, loaded.PAT)
	assert.Equal(t, []string{"Bug"}, loaded.WorkItemTypes)
	assert.Equal(t, 60, loaded.PollIntervalSec)
}
