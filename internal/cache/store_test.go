package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/azure-tracker/internal/model"
)

func sampleCollections() map[model.Kind]model.Collection {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	pr := &model.PullRequest{
		RepoName:     "api",
		SourceBranch: "refs/heads/feature",
		TargetBranch: "refs/heads/main",
		Reviewers:    "Ann; Bob",
		IsDraft:      true,
	}
	pr.Base = model.Base{ID: 5, ProjectName: "Alpha", Title: "Add endpoint", Status: "active",
		CreatedBy: "Ann", CreatedDate: created, DetailURI: "https://dev.azure.com/org/Alpha/_git/api/pullrequest/5"}

	wi := &model.WorkItem{
		Type:         "Bug",
		AssignedTo:   "Bob",
		Priority:     "2",
		AreaPath:     "Alpha\\Web",
		Tags:         "ui; regression",
		ResolvedDate: created.Add(48 * time.Hour),
	}
	wi.Base = model.Base{ID: 10, ProjectName: "Alpha", Title: "Crash on save", Status: "Active",
		CreatedBy: "Ann", CreatedDate: created, DetailURI: "https://dev.azure.com/org/Alpha/_workitems/edit/10"}

	b := &model.Build{
		RepoName:   "api",
		Branch:     "refs/heads/main",
		Result:     "succeeded",
		Definition: "api-ci",
		QueueTime:  created,
		StartTime:  created.Add(time.Minute),
		FinishTime: created.Add(10 * time.Minute),
		PoolName:   "Azure Pipelines",
	}
	b.Base = model.Base{ID: 700, ProjectName: "Alpha", Title: "20240301.1", Status: "completed",
		CreatedBy: "Ann", CreatedDate: created, DetailURI: "https://dev.azure.com/org/Alpha/_build/results?buildId=700&view=results"}

	cm := &model.Commit{RepoName: "api", CommitID: "0123456789abcdef0123456789abcdef00000010", Timestamp: created}
	cm.Base = model.Base{ID: 17, ProjectName: "Alpha", Title: "Fix build", CreatedBy: "Ann",
		CreatedDate: created, DetailURI: "https://dev.azure.com/org/Alpha/_git/api/commit/0123"}

	return map[model.Kind]model.Collection{
		model.KindPullRequest: {pr.ID: pr},
		model.KindWorkItem:    {wi.ID: wi},
		model.KindBuild:       {b.ID: b},
		model.KindCommit:      {cm.ID: cm},
	}
}

func quietLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

func TestJSONStore_RoundTrip(t *testing.T) {
	log, _ := quietLogger()
	dir := filepath.Join(t.TempDir(), model.DefaultCacheDir)
	s := NewJSONStore(dir, log)

	want := sampleCollections()
	for kind, c := range want {
		require.NoError(t, s.Save(kind, c))
	}

	for _, name := range []string{"PRs.json", "WorkItems.json", "Builds.json", "Commits.json"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	reopened := NewJSONStore(dir, log)
	for kind, c := range want {
		got, err := reopened.Load(kind)
		require.NoError(t, err)
		assert.True(t, c.Equal(got), "kind %s did not round-trip", kind)
	}
}

func TestJSONStore_MissingDirectoryIsEmpty(t *testing.T) {
	log, hook := quietLogger()
	s := NewJSONStore(filepath.Join(t.TempDir(), "nope"), log)

	for _, kind := range model.Kinds() {
		got, err := s.Load(kind)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.Empty(t, hook.AllEntries())
}

func TestJSONStore_MalformedFileIsEmpty(t *testing.T) {
	log, hook := quietLogger()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "WorkItems.json"), []byte(`{"10": {"id": 10,`), 0o644))

	s := NewJSONStore(dir, log)
	got, err := s.Load(model.KindWorkItem)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestJSONStore_BadEntriesAreSkipped(t *testing.T) {
	log, hook := quietLogger()
	dir := t.TempDir()
	content := `{
		"10": {"id": 10, "projectName": "Alpha", "title": "ok", "detailUri": "u"},
		"x1": {"id": 11},
		"12": {"id": "twelve", "title": 4}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "WorkItems.json"), []byte(content), 0o644))

	got, err := NewJSONStore(dir, log).Load(model.KindWorkItem)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[10].Common().Title)
	assert.Len(t, hook.AllEntries(), 2)
}

func TestJSONStore_NullEntriesAreSkipped(t *testing.T) {
	log, hook := quietLogger()
	dir := t.TempDir()
	content := `{"10": null, "11": {"id": 11, "projectName": "Alpha", "status": "Active", "detailUri": "u"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "WorkItems.json"), []byte(content), 0o644))

	got, err := NewJSONStore(dir, log).Load(model.KindWorkItem)
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, got.IDs())
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestJSONStore_KeyWinsOverStoredID(t *testing.T) {
	log, _ := quietLogger()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Commits.json"),
		[]byte(`{"43": {"id": 42, "commitId": "abc0002a"}}`), 0o644))

	got, err := NewJSONStore(dir, log).Load(model.KindCommit)
	require.NoError(t, err)
	require.Contains(t, got, int64(43))
	assert.Equal(t, int64(43), got[43].Key())
	assert.Equal(t, "abc0002a", got[43].(*model.Commit).CommitID)
}

func TestJSONStore_SaveEmptyKeepsExistingFile(t *testing.T) {
	log, _ := quietLogger()
	dir := t.TempDir()
	s := NewJSONStore(dir, log)

	builds := sampleCollections()[model.KindBuild]
	require.NoError(t, s.Save(model.KindBuild, builds))
	require.NoError(t, s.Save(model.KindBuild, model.Collection{}))

	got, err := s.Load(model.KindBuild)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, s.Save(model.KindPullRequest, nil))
	_, err = os.Stat(filepath.Join(dir, "PRs.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestJSONStore_SaveReplacesWholeFile(t *testing.T) {
	log, _ := quietLogger()
	dir := t.TempDir()
	s := NewJSONStore(dir, log)

	first := sampleCollections()[model.KindWorkItem]
	require.NoError(t, s.Save(model.KindWorkItem, first))

	wi := &model.WorkItem{Type: "Task"}
	wi.Base = model.Base{ID: 99, ProjectName: "Beta", Title: "new", DetailURI: "u"}
	require.NoError(t, s.Save(model.KindWorkItem, model.Collection{99: wi}))

	got, err := s.Load(model.KindWorkItem)
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, got.IDs())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	log, _ := quietLogger()
	dir := t.TempDir()

	s, err := NewSQLiteStore(dir, log)
	require.NoError(t, err)

	want := sampleCollections()
	for kind, c := range want {
		require.NoError(t, s.Save(kind, c))
	}
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, DatabaseFile))

	reopened, err := NewSQLiteStore(dir, log)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	for kind, c := range want {
		got, err := reopened.Load(kind)
		require.NoError(t, err)
		assert.True(t, c.Equal(got), "kind %s did not round-trip", kind)
	}
}

func TestSQLiteStore_SaveReplacesKindAndRecordsSave(t *testing.T) {
	log, _ := quietLogger()
	s, err := NewSQLiteStore(MemoryDSN, log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	info, err := s.LastSave(model.KindWorkItem)
	require.NoError(t, err)
	assert.Nil(t, info)

	all := sampleCollections()
	require.NoError(t, s.Save(model.KindWorkItem, all[model.KindWorkItem]))
	require.NoError(t, s.Save(model.KindBuild, all[model.KindBuild]))

	wi := &model.WorkItem{Type: "Task"}
	wi.Base = model.Base{ID: 99, ProjectName: "Beta", Title: "new", DetailURI: "u"}
	require.NoError(t, s.Save(model.KindWorkItem, model.Collection{99: wi}))

	got, err := s.Load(model.KindWorkItem)
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, got.IDs())

	builds, err := s.Load(model.KindBuild)
	require.NoError(t, err)
	assert.Len(t, builds, 1)

	info, err = s.LastSave(model.KindWorkItem)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.Count)
	assert.NotEmpty(t, info.ID)
}

func TestOpen_SelectsBackend(t *testing.T) {
	log, _ := quietLogger()

	s, err := Open(model.CacheConfig{Backend: model.CacheBackendJSON, Dir: t.TempDir()}, log)
	require.NoError(t, err)
	assert.IsType(t, &JSONStore{}, s)

	s, err = Open(model.CacheConfig{Backend: model.CacheBackendSQLite, Dir: t.TempDir()}, log)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(model.CacheConfig{Backend: "bolt"}, log)
	assert.Error(t, err)
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode(model.KindAll, []byte(`{}`))
	assert.Error(t, err)
}
