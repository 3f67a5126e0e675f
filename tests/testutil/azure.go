package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Organization is the organization name served by FakeAzure.
const Organization = "contoso"

// Token is the personal access token FakeAzure accepts.
const Token = "test-pat"

// FakeAzure is an in-memory Azure DevOps REST API. It serves the subset
// of endpoints the tracker uses and lets tests change remote state
// between syncs.
type FakeAzure struct {
	Server *httptest.Server

	// ProjectPageSize is the number of projects per listing page.
	ProjectPageSize int

	// BuildPageSize is the number of builds per listing page.
	BuildPageSize int

	mu       sync.Mutex
	projects []fakeProject
	prs      map[int64]*fakePR
	wis      map[int64]*fakeWorkItem
	builds   map[int64]*fakeBuild
	commits  []*fakeCommit
	calls    []string
	failures []failure
	before   func(r *http.Request)
}

type fakeProject struct {
	name  string
	repos []string
}

type fakePR struct {
	project string
	repo    string
	id      int64
	title   string
	status  string
	created time.Time
}

type fakeWorkItem struct {
	project string
	id      int64
	typ     string
	state   string
	title   string
}

type fakeBuild struct {
	project    string
	repo       string
	id         int64
	definition string
	queueTime  time.Time
	status     string
	result     string
}

type fakeCommit struct {
	project string
	repo    string
	hash    string
	comment string
	date    time.Time
}

type failure struct {
	pathContains string
	status       int
	body         string
	remaining    int
}

// NewFakeAzure starts a fake server that is closed when the test ends.
func NewFakeAzure(t *testing.T) *FakeAzure {
	t.Helper()

	f := &FakeAzure{
		ProjectPageSize: 100,
		BuildPageSize:   1000,
		prs:             make(map[int64]*fakePR),
		wis:             make(map[int64]*fakeWorkItem),
		builds:          make(map[int64]*fakeBuild),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// BaseURL is the organization root to pass to the client.
func (f *FakeAzure) BaseURL() string {
	return f.Server.URL + "/" + Organization
}

// AddProject registers a project with its repositories.
func (f *FakeAzure) AddProject(name string, repos ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, fakeProject{name: name, repos: repos})
}

// AddPullRequest adds or replaces a pull request.
func (f *FakeAzure) AddPullRequest(project, repo string, id int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prs[id] = &fakePR{
		project: project, repo: repo, id: id, status: status,
		title:   fmt.Sprintf("PR %d", id),
		created: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour),
	}
}

// SetPullRequestStatus changes the status of an existing pull request.
func (f *FakeAzure) SetPullRequestStatus(id int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pr, ok := f.prs[id]; ok {
		pr.status = status
	}
}

// AddWorkItem adds or replaces a work item.
func (f *FakeAzure) AddWorkItem(project string, id int64, typ, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wis[id] = &fakeWorkItem{project: project, id: id, typ: typ, state: state, title: fmt.Sprintf("Item %d", id)}
}

// SetWorkItemState changes the state of an existing work item.
func (f *FakeAzure) SetWorkItemState(id int64, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if wi, ok := f.wis[id]; ok {
		wi.state = state
	}
}

// SetWorkItemTitle changes the title of an existing work item.
func (f *FakeAzure) SetWorkItemTitle(id int64, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if wi, ok := f.wis[id]; ok {
		wi.title = title
	}
}

// DeleteWorkItem removes a work item; batch requests that name it fail
// with TF401232.
func (f *FakeAzure) DeleteWorkItem(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.wis, id)
}

// AddBuild adds or replaces a completed build.
func (f *FakeAzure) AddBuild(project, repo string, id int64, queueTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds[id] = &fakeBuild{
		project: project, repo: repo, id: id, queueTime: queueTime,
		definition: repo + "-ci", status: "completed", result: "succeeded",
	}
}

// SetBuildResult changes the result of an existing build.
func (f *FakeAzure) SetBuildResult(id int64, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.builds[id]; ok {
		b.result = result
	}
}

// AddCommit appends a commit; listings return the newest added first.
func (f *FakeAzure) AddCommit(project, repo, hash, comment string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, &fakeCommit{
		project: project, repo: repo, hash: hash, comment: comment,
		date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(f.commits)) * time.Minute),
	})
}

// Fail makes the next n requests whose path contains pathContains answer
// with status and body.
func (f *FakeAzure) Fail(pathContains string, status int, body string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{pathContains: pathContains, status: status, body: body, remaining: n})
}

// BeforeRequest installs a hook run at the start of every request.
func (f *FakeAzure) BeforeRequest(fn func(r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = fn
}

// Calls returns "METHOD path" of every request served so far.
func (f *FakeAzure) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CountCalls returns how many requests had a path containing s.
func (f *FakeAzure) CountCalls(s string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c, s) {
			n++
		}
	}
	return n
}

func (f *FakeAzure) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	before := f.before
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if before != nil {
		before(r)
	}

	if !authorized(r) {
		http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if r.URL.Query().Get("api-version") == "" {
		writeError(w, http.StatusBadRequest, "missing api-version")
		return
	}
	if status, body, ok := f.takeFailure(r.URL.Path); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/"+Organization)
	parts := strings.Split(strings.Trim(path, "/"), "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case match(parts, "_apis", "projects"):
		f.listProjects(w, r)
	case match(parts, "_apis", "wit", "workitems"):
		f.batchWorkItems(w, r)
	case match(parts, "*", "_apis", "git", "repositories"):
		f.listRepos(w, parts[0])
	case match(parts, "*", "_apis", "git", "pullrequests"):
		f.listPRs(w, r, parts[0])
	case match(parts, "*", "_apis", "git", "pullrequests", "*"):
		f.getPR(w, parts[4])
	case match(parts, "*", "_apis", "wit", "wiql") && r.Method == http.MethodPost:
		f.wiql(w, r, parts[0])
	case match(parts, "*", "_apis", "wit", "workitems", "*"):
		f.getWorkItem(w, parts[4])
	case match(parts, "*", "_apis", "build", "builds"):
		f.listBuilds(w, r, parts[0])
	case match(parts, "*", "_apis", "build", "builds", "*"):
		f.getBuild(w, parts[4])
	case match(parts, "*", "_apis", "git", "repositories", "*", "commits"):
		f.listCommits(w, r, parts[0], parts[4])
	case match(parts, "*", "_apis", "git", "repositories", "*", "commits", "*"):
		f.getCommit(w, parts[0], parts[4], parts[6])
	default:
		writeError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	}
}

func (f *FakeAzure) takeFailure(path string) (int, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.failures {
		fl := &f.failures[i]
		if fl.remaining > 0 && strings.Contains(path, fl.pathContains) {
			fl.remaining--
			return fl.status, fl.body, true
		}
	}
	return 0, "", false
}

func authorized(r *http.Request) bool {
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+Token))
	return r.Header.Get("Authorization") == want
}

func match(parts []string, pattern ...string) bool {
	if len(parts) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != parts[i] {
			return false
		}
	}
	return true
}

func (f *FakeAzure) listProjects(w http.ResponseWriter, r *http.Request) {
	start, _ := strconv.Atoi(r.URL.Query().Get("continuationToken"))
	size := f.ProjectPageSize
	if top, err := strconv.Atoi(r.URL.Query().Get("$top")); err == nil && top < size {
		size = top
	}
	end := min(start+size, len(f.projects))
	if start > end {
		start = end
	}

	var value []any
	for _, p := range f.projects[start:end] {
		value = append(value, map[string]any{"id": "id-" + p.name, "name": p.name})
	}
	if end < len(f.projects) {
		w.Header().Set("x-ms-continuationtoken", strconv.Itoa(end))
	}
	writeList(w, value)
}

func (f *FakeAzure) project(name string) (fakeProject, bool) {
	for _, p := range f.projects {
		if p.name == name {
			return p, true
		}
	}
	return fakeProject{}, false
}

func (f *FakeAzure) listRepos(w http.ResponseWriter, project string) {
	p, ok := f.project(project)
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	var value []any
	for _, r := range p.repos {
		value = append(value, map[string]any{"id": "repo-" + r, "name": r, "project": map[string]any{"name": project}})
	}
	writeList(w, value)
}

func (f *FakeAzure) listPRs(w http.ResponseWriter, r *http.Request, project string) {
	q := r.URL.Query()
	status := strings.ToLower(q.Get("searchCriteria.status"))
	skip, _ := strconv.Atoi(q.Get("$skip"))
	top, err := strconv.Atoi(q.Get("$top"))
	if err != nil || top <= 0 {
		top = 101
	}

	var matched []*fakePR
	for _, pr := range f.prs {
		if pr.project != project {
			continue
		}
		if status != "" && status != "all" && pr.status != status {
			continue
		}
		matched = append(matched, pr)
	}
	// Newest first, as the service lists them.
	sort.Slice(matched, func(i, j int) bool { return matched[i].id > matched[j].id })

	var value []any
	for i := skip; i < len(matched) && i < skip+top; i++ {
		value = append(value, f.prDoc(matched[i]))
	}
	writeList(w, value)
}

func (f *FakeAzure) prDoc(pr *fakePR) map[string]any {
	return map[string]any{
		"pullRequestId": pr.id,
		"repository": map[string]any{
			"name":    pr.repo,
			"project": map[string]any{"name": pr.project},
		},
		"title":         pr.title,
		"status":        pr.status,
		"createdBy":     map[string]any{"displayName": "Ann Author", "uniqueName": "ann@contoso.com"},
		"creationDate":  pr.created.Format(time.RFC3339),
		"sourceRefName": "refs/heads/feature/" + strconv.FormatInt(pr.id, 10),
		"targetRefName": "refs/heads/main",
		"isDraft":       false,
		"reviewers":     []any{map[string]any{"displayName": "Bob Reviewer"}},
	}
}

func (f *FakeAzure) getPR(w http.ResponseWriter, idText string) {
	id, _ := strconv.ParseInt(idText, 10, 64)
	pr, ok := f.prs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "TF401180: The requested pull request was not found.")
		return
	}
	writeJSON(w, f.prDoc(pr))
}

var (
	wiqlAfter = regexp.MustCompile(`\[System\.Id\]\s*>\s*(\d+)`)
	wiqlType  = regexp.MustCompile(`\[System\.WorkItemType\]\s*=\s*'((?:[^']|'')*)'`)
)

func (f *FakeAzure) wiql(w http.ResponseWriter, r *http.Request, project string) {
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		writeError(w, http.StatusBadRequest, "VS402337: invalid query")
		return
	}

	var after int64
	if m := wiqlAfter.FindStringSubmatch(body.Query); m != nil {
		after, _ = strconv.ParseInt(m[1], 10, 64)
	}
	types := map[string]bool{}
	for _, m := range wiqlType.FindAllStringSubmatch(body.Query, -1) {
		types[strings.ReplaceAll(m[1], "''", "'")] = true
	}
	top, err := strconv.Atoi(r.URL.Query().Get("$top"))
	if err != nil || top <= 0 {
		top = 20000
	}

	var ids []int64
	for id, wi := range f.wis {
		if wi.project != project || id <= after {
			continue
		}
		if len(types) > 0 && !types[wi.typ] {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > top {
		ids = ids[:top]
	}

	refs := make([]any, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, map[string]any{"id": id, "url": "https://example/" + strconv.FormatInt(id, 10)})
	}
	writeJSON(w, map[string]any{"queryType": "flat", "workItems": refs})
}

func (f *FakeAzure) batchWorkItems(w http.ResponseWriter, r *http.Request) {
	var value []any
	parts := strings.Split(r.URL.Query().Get("ids"), ",")
	if len(parts) > 200 {
		writeError(w, http.StatusBadRequest, "VS402337: too many ids")
		return
	}
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad id "+p)
			return
		}
		wi, ok := f.wis[id]
		if !ok {
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("TF401232: Work item %d does not exist, or you do not have permissions to read it.", id))
			return
		}
		value = append(value, wiDoc(wi))
	}
	writeList(w, value)
}

func (f *FakeAzure) getWorkItem(w http.ResponseWriter, idText string) {
	id, _ := strconv.ParseInt(idText, 10, 64)
	wi, ok := f.wis[id]
	if !ok {
		writeError(w, http.StatusNotFound,
			fmt.Sprintf("TF401232: Work item %d does not exist, or you do not have permissions to read it.", id))
		return
	}
	writeJSON(w, wiDoc(wi))
}

func wiDoc(wi *fakeWorkItem) map[string]any {
	return map[string]any{
		"id":  wi.id,
		"rev": 1,
		"fields": map[string]any{
			"System.TeamProject":             wi.project,
			"System.Title":                   wi.title,
			"System.State":                   wi.state,
			"System.WorkItemType":            wi.typ,
			"System.CreatedBy":               map[string]any{"displayName": "Ann Author"},
			"System.CreatedDate":             "2024-01-02T03:04:05.123Z",
			"System.AssignedTo":              map[string]any{"displayName": "Bob Dev"},
			"System.AreaPath":                wi.project,
			"System.IterationPath":           wi.project + "\\Sprint 1",
			"Microsoft.VSTS.Common.Priority": 2,
		},
	}
}

func (f *FakeAzure) listBuilds(w http.ResponseWriter, r *http.Request, project string) {
	q := r.URL.Query()
	var minTime time.Time
	if s := q.Get("minTime"); s != "" {
		minTime, _ = time.Parse(time.RFC3339, s)
	}
	maxPerDef, _ := strconv.Atoi(q.Get("maxBuildsPerDefinition"))

	var matched []*fakeBuild
	for _, b := range f.builds {
		if b.project != project {
			continue
		}
		if !minTime.IsZero() && b.queueTime.Before(minTime) {
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].queueTime.After(matched[j].queueTime) })

	if maxPerDef > 0 {
		perDef := map[string]int{}
		kept := matched[:0]
		for _, b := range matched {
			if perDef[b.definition] < maxPerDef {
				perDef[b.definition]++
				kept = append(kept, b)
			}
		}
		matched = kept
	}

	start, _ := strconv.Atoi(q.Get("continuationToken"))
	end := min(start+f.BuildPageSize, len(matched))
	if start > end {
		start = end
	}
	var value []any
	for _, b := range matched[start:end] {
		value = append(value, buildDoc(b))
	}
	if end < len(matched) {
		w.Header().Set("x-ms-continuationtoken", strconv.Itoa(end))
	}
	writeList(w, value)
}

func (f *FakeAzure) getBuild(w http.ResponseWriter, idText string) {
	id, _ := strconv.ParseInt(idText, 10, 64)
	b, ok := f.builds[id]
	if !ok {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	writeJSON(w, buildDoc(b))
}

func buildDoc(b *fakeBuild) map[string]any {
	return map[string]any{
		"id":           b.id,
		"buildNumber":  b.queueTime.Format("20060102") + "." + strconv.FormatInt(b.id, 10),
		"status":       b.status,
		"result":       b.result,
		"queueTime":    b.queueTime.Format(time.RFC3339),
		"startTime":    b.queueTime.Add(time.Minute).Format(time.RFC3339),
		"finishTime":   b.queueTime.Add(5 * time.Minute).Format(time.RFC3339),
		"sourceBranch": "refs/heads/main",
		"definition":   map[string]any{"id": 1, "name": b.definition},
		"project":      map[string]any{"name": b.project},
		"repository":   map[string]any{"id": "repo-" + b.repo, "name": b.repo},
		"requestedFor": map[string]any{"displayName": "Ann Author"},
		"queue":        map[string]any{"name": "Default", "pool": map[string]any{"name": "Azure Pipelines"}},
	}
}

func (f *FakeAzure) listCommits(w http.ResponseWriter, r *http.Request, project, repo string) {
	top, err := strconv.Atoi(r.URL.Query().Get("searchCriteria.$top"))
	if err != nil || top <= 0 {
		top = 100
	}
	var value []any
	for i := len(f.commits) - 1; i >= 0 && len(value) < top; i-- {
		c := f.commits[i]
		if c.project == project && c.repo == repo {
			value = append(value, commitDoc(c))
		}
	}
	writeList(w, value)
}

func (f *FakeAzure) getCommit(w http.ResponseWriter, project, repo, hash string) {
	for _, c := range f.commits {
		if c.project == project && c.repo == repo && c.hash == hash {
			writeJSON(w, commitDoc(c))
			return
		}
	}
	writeError(w, http.StatusNotFound, "commit not found")
}

func commitDoc(c *fakeCommit) map[string]any {
	user := map[string]any{"name": "Ann Author", "email": "ann@contoso.com", "date": c.date.Format(time.RFC3339)}
	return map[string]any{
		"commitId":  c.hash,
		"author":    user,
		"committer": user,
		"comment":   c.comment,
	}
}

func writeList(w http.ResponseWriter, value []any) {
	if value == nil {
		value = []any{}
	}
	writeJSON(w, map[string]any{"count": len(value), "value": value})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"$id":      "1",
		"message":  message,
		"typeKey":  "WorkItemUnauthorizedAccessException",
		"typeName": "Microsoft.TeamFoundation.WorkItemTracking.Server.WorkItemUnauthorizedAccessException",
	})
}
