package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/nhle/azure-tracker/internal/model"
)

// projectsPageSize is the $top used when listing projects.
const projectsPageSize = 100

// ListProjects returns the names of all projects in the organization,
// following continuation tokens until the listing is exhausted.
func (c *Client) ListProjects(ctx context.Context) ([]string, error) {
	var names []string
	token := ""
	for {
		q := url.Values{}
		q.Set("$top", strconv.Itoa(projectsPageSize))
		if token != "" {
			q.Set("continuationToken", token)
		}

		resp, err := c.Get(ctx, "GetProjectList", "/_apis/projects", q)
		if err != nil {
			return nil, err
		}

		var page struct {
			Value []namedRef `json:"value"`
		}
		if err := decodeLenient(resp.Body, &page); err != nil {
			return nil, fmt.Errorf("GetProjectList: decoding response: %w", err)
		}
		for _, p := range page.Value {
			if name := p.Name.String(); name != "" {
				names = append(names, name)
			}
		}

		next := resp.ContinuationToken()
		if next == "" || next == token || len(page.Value) == 0 {
			return names, nil
		}
		token = next
	}
}

// ListRepositories returns the names of the git repositories of a project.
func (c *Client) ListRepositories(ctx context.Context, project string) ([]string, error) {
	resp, err := c.Get(ctx, "GetProjectRepos", projectPath(project)+"/_apis/git/repositories", nil)
	if err != nil {
		return nil, err
	}

	var page struct {
		Value []namedRef `json:"value"`
	}
	if err := decodeLenient(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("GetProjectRepos: decoding response: %w", err)
	}

	repos := make([]string, 0, len(page.Value))
	for _, r := range page.Value {
		if name := r.Name.String(); name != "" {
			repos = append(repos, name)
		}
	}
	return repos, nil
}

// ListPullRequests returns one page of a project's pull requests filtered
// by status ("all", "active", "completed", "abandoned").
func (c *Client) ListPullRequests(
	ctx context.Context,
	project string,
	status string,
	skip int,
	top int,
) ([]*model.PullRequest, error) {
	q := url.Values{}
	q.Set("searchCriteria.status", status)
	q.Set("$skip", strconv.Itoa(skip))
	q.Set("$top", strconv.Itoa(top))

	resp, err := c.Get(ctx, "GetPRsByProject", projectPath(project)+"/_apis/git/pullrequests", q)
	if err != nil {
		return nil, err
	}

	items, err := listValues("GetPRsByProject", resp.Body)
	if err != nil {
		return nil, err
	}

	prs := make([]*model.PullRequest, 0, len(items))
	for _, item := range items {
		pr, err := ParsePullRequest(c.WebURL(), item)
		if err != nil {
			return nil, fmt.Errorf("GetPRsByProject: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, nil
}

// GetPullRequest fetches a single pull request by id.
func (c *Client) GetPullRequest(ctx context.Context, project string, id int64) (*model.PullRequest, error) {
	path := fmt.Sprintf("%s/_apis/git/pullrequests/%d", projectPath(project), id)
	resp, err := c.Get(ctx, "GetPullRequest", path, nil)
	if err != nil {
		return nil, err
	}
	return ParsePullRequest(c.WebURL(), resp.Body)
}

// QueryWorkItemIDs runs a flat WIQL query in a project and returns the ids
// of the matching work items in the order the server returned them.
func (c *Client) QueryWorkItemIDs(ctx context.Context, project, wiql string, top int) ([]int64, error) {
	q := url.Values{}
	q.Set("$top", strconv.Itoa(top))

	resp, err := c.Post(ctx, "GetWorkItemsByProject", projectPath(project)+"/_apis/wit/wiql", q, wiqlQuery{Query: wiql})
	if err != nil {
		return nil, err
	}

	var result wiqlResult
	if err := decodeLenient(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("GetWorkItemsByProject: decoding response: %w", err)
	}

	ids := make([]int64, 0, len(result.WorkItems))
	for _, wi := range result.WorkItems {
		if wi.ID > 0 {
			ids = append(ids, int64(wi.ID))
		}
	}
	return ids, nil
}

// GetWorkItems fetches a batch of work items by id. The service rejects
// batches of more than 200 ids.
func (c *Client) GetWorkItems(ctx context.Context, ids []int64) ([]*model.WorkItem, error) {
	q := url.Values{}
	q.Set("ids", formatIDs(ids))

	resp, err := c.Get(ctx, "GetWorkItemsByIDs", "/_apis/wit/workitems", q)
	if err != nil {
		return nil, err
	}

	items, err := listValues("GetWorkItemsByIDs", resp.Body)
	if err != nil {
		return nil, err
	}

	wis := make([]*model.WorkItem, 0, len(items))
	for _, item := range items {
		wi, err := ParseWorkItem(c.WebURL(), item)
		if err != nil {
			return nil, fmt.Errorf("GetWorkItemsByIDs: %w", err)
		}
		wis = append(wis, wi)
	}
	return wis, nil
}

// GetWorkItem fetches a single work item by id.
func (c *Client) GetWorkItem(ctx context.Context, project string, id int64) (*model.WorkItem, error) {
	path := fmt.Sprintf("%s/_apis/wit/workitems/%d", projectPath(project), id)
	resp, err := c.Get(ctx, "GetWorkItem", path, nil)
	if err != nil {
		return nil, err
	}
	return ParseWorkItem(c.WebURL(), resp.Body)
}

// ListBuilds returns one page of a project's builds, newest queue time
// first, queued after minTime. continuation is the token returned by the
// previous page ("" for the first); the returned token is "" on the last page.
func (c *Client) ListBuilds(
	ctx context.Context,
	project string,
	maxPerDefinition int,
	minTime time.Time,
	continuation string,
) ([]*model.Build, string, error) {
	q := url.Values{}
	q.Set("queryOrder", "queueTimeDescending")
	if maxPerDefinition > 0 {
		q.Set("maxBuildsPerDefinition", strconv.Itoa(maxPerDefinition))
	}
	if !minTime.IsZero() {
		q.Set("minTime", minTime.UTC().Format(time.RFC3339))
	}
	if continuation != "" {
		q.Set("continuationToken", continuation)
	}

	resp, err := c.Get(ctx, "GetBuildsByProject", projectPath(project)+"/_apis/build/builds", q)
	if err != nil {
		return nil, "", err
	}

	items, err := listValues("GetBuildsByProject", resp.Body)
	if err != nil {
		return nil, "", err
	}

	builds := make([]*model.Build, 0, len(items))
	for _, item := range items {
		b, err := ParseBuild(c.WebURL(), item)
		if err != nil {
			return nil, "", fmt.Errorf("GetBuildsByProject: %w", err)
		}
		builds = append(builds, b)
	}

	next := resp.ContinuationToken()
	if next == continuation || len(items) == 0 {
		next = ""
	}
	return builds, next, nil
}

// GetBuild fetches a single build by id.
func (c *Client) GetBuild(ctx context.Context, project string, id int64) (*model.Build, error) {
	path := fmt.Sprintf("%s/_apis/build/builds/%d", projectPath(project), id)
	resp, err := c.Get(ctx, "GetBuild", path, nil)
	if err != nil {
		return nil, err
	}
	return ParseBuild(c.WebURL(), resp.Body)
}

// ListCommits returns up to top of the newest commits of a repository.
func (c *Client) ListCommits(ctx context.Context, project, repo string, top int) ([]*model.Commit, error) {
	q := url.Values{}
	if top > 0 {
		q.Set("searchCriteria.$top", strconv.Itoa(top))
	}

	path := fmt.Sprintf("%s/_apis/git/repositories/%s/commits", projectPath(project), url.PathEscape(repo))
	resp, err := c.Get(ctx, "GetCommitsByRepo", path, q)
	if err != nil {
		return nil, err
	}

	items, err := listValues("GetCommitsByRepo", resp.Body)
	if err != nil {
		return nil, err
	}

	commits := make([]*model.Commit, 0, len(items))
	for _, item := range items {
		cm, err := ParseCommit(c.WebURL(), project, repo, item)
		if err != nil {
			return nil, fmt.Errorf("GetCommitsByRepo: %w", err)
		}
		commits = append(commits, cm)
	}
	return commits, nil
}

// GetCommit fetches a single commit by hash.
func (c *Client) GetCommit(ctx context.Context, project, repo, commitID string) (*model.Commit, error) {
	path := fmt.Sprintf("%s/_apis/git/repositories/%s/commits/%s",
		projectPath(project), url.PathEscape(repo), url.PathEscape(commitID))
	resp, err := c.Get(ctx, "GetCommit", path, nil)
	if err != nil {
		return nil, err
	}
	return ParseCommit(c.WebURL(), project, repo, resp.Body)
}

func projectPath(project string) string {
	return "/" + url.PathEscape(project)
}

func listValues(op string, body []byte) ([]json.RawMessage, error) {
	var list listResponse
	if err := decodeLenient(body, &list); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return list.Value, nil
}
