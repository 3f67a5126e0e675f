package azure

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/azure-tracker/internal/source"
	"github.com/nhle/azure-tracker/tests/testutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL + "/org"), WithLogger(testutil.NewLogger())}, opts...)
	return NewClient("org", "secret", opts...)
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	c := NewClient("my org", "pat")
	assert.Equal(t, "https://dev.azure.com/my%20org", c.WebURL())
}

func TestClient_GetSendsAuthAndVersion(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("x-ms-continuationtoken", "next-page")
		w.Write([]byte(`{"count":0,"value":[]}`))
	})

	resp, err := c.Get(context.Background(), "GetThings", "/Alpha/_apis/things", map[string][]string{"$top": {"5"}})
	require.NoError(t, err)
	require.NotNil(t, got)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(":secret"))
	assert.Equal(t, want, got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Equal(t, "/org/Alpha/_apis/things", got.URL.Path)
	assert.Equal(t, APIVersion, got.URL.Query().Get("api-version"))
	assert.Contains(t, got.URL.RawQuery, "$top=5")
	assert.Equal(t, "next-page", resp.ContinuationToken())
}

func TestClient_PostSendsJSONBody(t *testing.T) {
	var body string
	var contentType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		contentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"workItems":[{"id":3},{"id":"4"},{"id":null}]}`))
	})

	ids, err := c.QueryWorkItemIDs(context.Background(), "Alpha", "SELECT [System.Id] FROM WorkItems", 19999)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, ids)
	assert.JSONEq(t, `{"query":"SELECT [System.Id] FROM WorkItems"}`, body)
	assert.Equal(t, "application/json", contentType)
}

func TestClient_UnauthorizedIsAuthError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.ListProjects(context.Background())
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))
}

func TestClient_ErrorStatusIsRequestError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"TF401232: Work item 7 does not exist."}`))
	})

	_, err := c.GetWorkItems(context.Background(), []int64{6, 7})
	require.Error(t, err)

	reqErr, ok := source.AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, "GetWorkItemsByIDs", reqErr.Op)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
	assert.True(t, source.IsMissingWorkItem(err))
	assert.True(t, strings.HasPrefix(err.Error(), "GetWorkItemsByIDs => 404: "))
}

func TestClient_DoesNotRetry(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.ListRepositories(context.Background(), "Alpha")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClient_ObserverSeesEveryRequest(t *testing.T) {
	type call struct {
		op     string
		status int
	}
	var calls []call
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "builds") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"value":[{"name":"web"}]}`))
	}, WithRequestObserver(func(op string, status int) {
		calls = append(calls, call{op, status})
	}))

	_, err := c.ListRepositories(context.Background(), "Alpha")
	require.NoError(t, err)
	_, _, err = c.ListBuilds(context.Background(), "Alpha", 10, time.Time{}, "")
	require.Error(t, err)

	assert.Equal(t, []call{
		{"GetProjectRepos", http.StatusOK},
		{"GetBuildsByProject", http.StatusInternalServerError},
	}, calls)
}

func TestClient_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[]}`))
	}, WithRateLimit(1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListProjects(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_ListProjectsFollowsContinuation(t *testing.T) {
	f := testutil.NewFakeAzure(t)
	f.ProjectPageSize = 2
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		f.AddProject(name)
	}
	c := NewClient(testutil.Organization, testutil.Token, WithBaseURL(f.BaseURL()), WithLogger(testutil.NewLogger()))

	names, err := c.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, names)
	assert.Equal(t, 3, f.CountCalls("/_apis/projects"))
}

func TestClient_ListBuildsPages(t *testing.T) {
	f := testutil.NewFakeAzure(t)
	f.BuildPageSize = 2
	f.AddProject("Alpha", "web")
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for id := int64(1); id <= 3; id++ {
		f.AddBuild("Alpha", "web", id, base.Add(time.Duration(id)*time.Hour))
	}
	c := NewClient(testutil.Organization, testutil.Token, WithBaseURL(f.BaseURL()), WithLogger(testutil.NewLogger()))

	page, next, err := c.ListBuilds(context.Background(), "Alpha", 0, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)
	require.NotEmpty(t, next)

	page, next, err = c.ListBuilds(context.Background(), "Alpha", 0, time.Time{}, next)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Empty(t, next)
}
