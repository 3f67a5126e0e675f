package azure

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/azure-tracker/internal/model"
)

// decodeLenient unmarshals data into v, tolerating values whose JSON type
// does not match the target field. Those fields keep their zero value.
// Only malformed JSON is reported.
func decodeLenient(data []byte, v interface{}) error {
	err := json.Unmarshal(data, v)
	var typeErr *json.UnmarshalTypeError
	if err != nil && !errors.As(err, &typeErr) {
		return err
	}
	return nil
}

// ParsePullRequest converts a GitPullRequest document into a record.
// web is the organization root used for the detail link.
func ParsePullRequest(web string, data []byte) (*model.PullRequest, error) {
	var raw gitPullRequest
	if err := decodeLenient(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing pull request: %w", err)
	}

	pr := &model.PullRequest{
		RepoName:     raw.Repository.Name.String(),
		SourceBranch: raw.SourceRefName.String(),
		TargetBranch: raw.TargetRefName.String(),
		IsDraft:      bool(raw.IsDraft),
	}
	pr.ID = int64(raw.PullRequestID)
	pr.ProjectName = raw.Repository.Project.Name.String()
	pr.Title = raw.Title.String()
	pr.Status = raw.Status.String()
	pr.CreatedBy = raw.CreatedBy.DisplayName.String()
	pr.CreatedDate = raw.CreationDate.Time()

	names := make([]string, 0, len(raw.Reviewers))
	for _, r := range raw.Reviewers {
		if name := r.DisplayName.String(); name != "" {
			names = append(names, name)
		}
	}
	pr.Reviewers = strings.Join(names, "; ")
	pr.DetailURI = PullRequestURI(web, pr.ProjectName, pr.RepoName, pr.ID)
	return pr, nil
}

// ParseWorkItem converts a WorkItem document into a record.
func ParseWorkItem(web string, data []byte) (*model.WorkItem, error) {
	var raw workItem
	if err := decodeLenient(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing work item: %w", err)
	}

	f := fieldBag(raw.Fields)
	wi := &model.WorkItem{
		Type:          f.str("System.WorkItemType"),
		AssignedTo:    f.identity("System.AssignedTo"),
		ChangedBy:     f.identity("System.ChangedBy"),
		ChangedDate:   f.time("System.ChangedDate"),
		Priority:      f.str("Microsoft.VSTS.Common.Priority"),
		IterationPath: f.str("System.IterationPath"),
		AreaPath:      f.str("System.AreaPath"),
		Tags:          f.str("System.Tags"),
		ResolvedDate:  f.time("Microsoft.VSTS.Common.ResolvedDate"),
		ResolvedBy:    f.identity("Microsoft.VSTS.Common.ResolvedBy"),
	}
	wi.ID = int64(raw.ID)
	wi.ProjectName = f.str("System.TeamProject")
	wi.Title = f.str("System.Title")
	wi.Status = f.str("System.State")
	wi.CreatedBy = f.identity("System.CreatedBy")
	wi.CreatedDate = f.time("System.CreatedDate")
	wi.DetailURI = WorkItemURI(web, wi.ProjectName, wi.ID)
	return wi, nil
}

// ParseBuild converts a Build document into a record.
func ParseBuild(web string, data []byte) (*model.Build, error) {
	var raw build
	if err := decodeLenient(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing build: %w", err)
	}

	b := &model.Build{
		RepoName:   raw.Repository.Name.String(),
		Branch:     raw.SourceBranch.String(),
		Result:     raw.Result.String(),
		Definition: raw.Definition.Name.String(),
		QueueTime:  raw.QueueTime.Time(),
		StartTime:  raw.StartTime.Time(),
		FinishTime: raw.FinishTime.Time(),
		PoolName:   raw.Queue.Pool.Name.String(),
	}
	b.ID = int64(raw.ID)
	b.ProjectName = raw.Project.Name.String()
	b.Title = raw.BuildNumber.String()
	b.Status = raw.Status.String()
	b.CreatedBy = raw.RequestedBy.DisplayName.String()
	if b.CreatedBy == "" {
		b.CreatedBy = raw.RequestedFor.DisplayName.String()
	}
	b.CreatedDate = b.QueueTime
	b.DetailURI = BuildURI(web, b.ProjectName, b.ID)
	return b, nil
}

// ParseCommit converts a GitCommitRef document into a record. Commit
// documents do not name their project or repository, so both are passed
// in. The record's ID is derived from the hash; collisions are resolved
// by the caller.
func ParseCommit(web, project, repo string, data []byte) (*model.Commit, error) {
	var raw gitCommit
	if err := decodeLenient(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing commit: %w", err)
	}

	c := &model.Commit{
		RepoName:  repo,
		CommitID:  raw.CommitID.String(),
		Timestamp: raw.Committer.Date.Time(),
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = raw.Author.Date.Time()
	}
	c.ID = model.CommitKey(c.CommitID)
	c.ProjectName = project
	c.Title = firstLine(raw.Comment.String())
	c.CreatedBy = raw.Author.Name.String()
	c.CreatedDate = raw.Author.Date.Time()
	c.DetailURI = CommitURI(web, project, repo, c.CommitID)
	return c, nil
}

// PullRequestURI is the web page of a pull request.
func PullRequestURI(web, project, repo string, id int64) string {
	return fmt.Sprintf("%s/%s/_git/%s/pullrequest/%d",
		web, url.PathEscape(project), url.PathEscape(repo), id)
}

// WorkItemURI is the web page of a work item.
func WorkItemURI(web, project string, id int64) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%d", web, url.PathEscape(project), id)
}

// BuildURI is the results page of a build.
func BuildURI(web, project string, id int64) string {
	return fmt.Sprintf("%s/%s/_build/results?buildId=%d&view=results",
		web, url.PathEscape(project), id)
}

// CommitURI is the web page of a commit.
func CommitURI(web, project, repo, hash string) string {
	return fmt.Sprintf("%s/%s/_git/%s/commit/%s",
		web, url.PathEscape(project), url.PathEscape(repo), url.PathEscape(hash))
}

// fieldBag reads values out of a work item's field map.
type fieldBag map[string]json.RawMessage

func (f fieldBag) str(name string) string {
	raw, ok := f[name]
	if !ok {
		return ""
	}
	var s flexString
	_ = s.UnmarshalJSON(raw)
	return s.String()
}

// identity reads an identity field, which is an IdentityRef object in
// current API versions and a "Name <domain\user>" string in older ones.
func (f fieldBag) identity(name string) string {
	raw, ok := f[name]
	if !ok {
		return ""
	}
	var ref identityRef
	if err := json.Unmarshal(raw, &ref); err == nil {
		return ref.DisplayName.String()
	}
	s := f.str(name)
	if i := strings.Index(s, " <"); i > 0 {
		return s[:i]
	}
	return s
}

func (f fieldBag) time(name string) time.Time {
	raw, ok := f[name]
	if !ok {
		return time.Time{}
	}
	var t flexTime
	_ = t.UnmarshalJSON(raw)
	return t.Time()
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
