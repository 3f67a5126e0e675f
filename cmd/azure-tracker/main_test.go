package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nhle/azure-tracker/internal/credential"
	"github.com/nhle/azure-tracker/internal/model"
	"github.com/nhle/azure-tracker/tests/testutil"
)

func writeConfig(t *testing.T, f *testutil.FakeAzure) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`organization: %s
pat: %s
base_url: %s
work_item_types: "Bug; Task"
cache:
  dir: %s
log_dir: %s
`, testutil.Organization, testutil.Token, f.BaseURL(),
		filepath.Join(dir, "cache"), filepath.Join(dir, "logs"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runWithInput(t, "", args...)
}

func runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newFake(t *testing.T) *testutil.FakeAzure {
	f := testutil.NewFakeAzure(t)
	f.AddProject("Alpha", "web")
	f.AddWorkItem("Alpha", 10, "Bug", "Active")
	f.AddWorkItem("Alpha", 11, "Task", "Closed")
	f.AddWorkItem("Alpha", 12, "Epic", "Active")
	f.AddPullRequest("Alpha", "web", 5, "active")
	f.AddBuild("Alpha", "web", 700, time.Now().Add(-time.Hour))
	return f
}

func TestSyncThenList(t *testing.T) {
	f := newFake(t)
	path, _ := writeConfig(t, f)

	out, err := run(t, "--config", path, "sync", "workitem")
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "Ready")

	out, err = run(t, "--config", path, "list", "wi", "--format", "json")
	require.NoError(t, err)

	var docs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 2)
	assert.EqualValues(t, 10, docs[0]["id"])
	assert.EqualValues(t, 11, docs[1]["id"])
	assert.Equal(t, "Alpha", docs[0]["projectName"])

	out, err = run(t, "--config", path, "list", "workitem", "--status", "closed", "-o", "yaml")
	require.NoError(t, err)
	var ydocs []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &ydocs))
	require.Len(t, ydocs, 1)
	assert.Equal(t, 11, ydocs[0]["id"])

	out, err = run(t, "--config", path, "list", "workitem")
	require.NoError(t, err)
	assert.Contains(t, out, "PROJECT")
	assert.Equal(t, 3, strings.Count(out, "\n"))
}

func TestList_RejectsAll(t *testing.T) {
	f := newFake(t)
	path, _ := writeConfig(t, f)

	_, err := run(t, "--config", path, "list", "all")
	assert.Error(t, err)

	_, err = run(t, "--config", path, "list", "bogus")
	assert.Error(t, err)
}

func TestSync_InitFailure(t *testing.T) {
	f := newFake(t)
	path, _ := writeConfig(t, f)
	f.Fail("/_apis/projects", 500, "down", 1)

	_, err := run(t, "--config", path, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config init")
}

func TestRefresh(t *testing.T) {
	f := newFake(t)
	path, _ := writeConfig(t, f)

	_, err := run(t, "--config", path, "sync", "wi")
	require.NoError(t, err)

	f.SetWorkItemState(10, "Resolved")
	out, err := run(t, "--config", path, "refresh", "wi", "10", "11", "999")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 2 workitem records changed")

	out, err = run(t, "--config", path, "list", "wi", "--status", "resolved", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": 10`)

	_, err = run(t, "--config", path, "refresh", "wi", "ten")
	assert.Error(t, err)
}

func TestSaveLogAndLogCommand(t *testing.T) {
	f := newFake(t)
	path, _ := writeConfig(t, f)

	out, err := run(t, "--config", path, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved logs")

	out, err = run(t, "--config", path, "--save-log", "sync", "pr")
	require.NoError(t, err)
	assert.Contains(t, out, "Log saved to")

	out, err = run(t, "--config", path, "log")
	require.NoError(t, err)
	assert.Contains(t, out, " : Info : ")
	assert.Contains(t, out, "Sync of pullrequest finished")

	out, err = run(t, "--config", path, "log", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 logs")
}

func TestConfigShowMasksToken(t *testing.T) {
	f := newFake(t)
	path, _ := writeConfig(t, f)

	out, err := run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, testutil.Token)
	assert.Contains(t, out, "********")
	assert.Contains(t, out, "- Bug")
	assert.Contains(t, out, "- Task")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	_, err := run(t, "--config", path, "config", "init")
	require.Error(t, err, "organization is required")

	out, err := run(t, "--config", path, "config", "init",
		"--organization", "fabrikam", "--work-item-types", "Bug,Issue", "--cache-backend", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "azure-tracker login")

	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "fabrikam", cfg.Organization)
	assert.Equal(t, []string{"Bug", "Issue"}, cfg.WorkItemTypes)
	assert.Equal(t, model.CacheBackendSQLite, cfg.Cache.Backend)

	_, err = run(t, "--config", path, "config", "init", "--organization", "other")
	assert.Error(t, err)

	_, err = run(t, "--config", path, "config", "init", "--organization", "other", "--force")
	require.NoError(t, err)
}

func TestRenderRecords(t *testing.T) {
	recs := []model.Record{
		&model.WorkItem{Base: model.Base{ID: 1, ProjectName: "Alpha", Title: strings.Repeat("x", 80), Status: "New"}},
	}

	var buf bytes.Buffer
	require.NoError(t, renderRecords(&buf, recs, formatTable))
	assert.Contains(t, buf.String(), strings.Repeat("x", 57)+"...")

	assert.Error(t, renderRecords(&buf, recs, "xml"))
	assert.Equal(t, "short", truncate("short", 10))
}

func useMemoryRing(t *testing.T) keyring.Keyring {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := credential.Opener
	credential.Opener = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { credential.Opener = prev })
	return ring
}

func TestLogin_ReadsPipedTokenAndLogsOut(t *testing.T) {
	ring := useMemoryRing(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	out, err := runWithInput(t, "  piped-secret \n", "--config", cfgPath, "login", "--organization", "Contoso")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored token for Contoso")

	item, err := ring.Get(credential.PATKey("contoso"))
	require.NoError(t, err)
	assert.Equal(t, "piped-secret", string(item.Data))

	out, err = run(t, "--config", cfgPath, "login", "--organization", "Contoso", "--logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed token for Contoso")

	out, err = run(t, "--config", cfgPath, "login", "--organization", "Contoso", "--logout")
	require.NoError(t, err)
	assert.Contains(t, out, "No token stored for Contoso")
}

func TestLogin_EmptyInputFails(t *testing.T) {
	useMemoryRing(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	_, err := runWithInput(t, "\n", "--config", cfgPath, "login", "--organization", "Contoso")
	assert.Error(t, err)

	_, err = run(t, "--config", cfgPath, "login")
	assert.Error(t, err)
}

func TestList_SQLiteShowsLastSave(t *testing.T) {
	f := newFake(t)
	path, _ := writeConfig(t, f)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = bytes.Replace(data, []byte("cache:\n"), []byte("cache:\n  backend: sqlite\n"), 1)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = run(t, "--config", path, "sync", "workitem")
	require.NoError(t, err)

	out, err := run(t, "--config", path, "list", "workitem")
	require.NoError(t, err)
	assert.Contains(t, out, "Last saved ")
	assert.Contains(t, out, "(2 records)")

	out, err = run(t, "--config", path, "list", "workitem", "-o", "json")
	require.NoError(t, err)
	assert.NotContains(t, out, "Last saved")
}

func TestSync_ReportsLoggedWarnings(t *testing.T) {
	f := newFake(t)
	path, dir := writeConfig(t, f)
	cacheDir := filepath.Join(dir, "cache")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "Builds.json"), []byte("{not json"), 0o644))

	out, err := run(t, "--config", path, "sync", "workitem")
	require.NoError(t, err)
	assert.Contains(t, out, "warnings or errors logged")
}
