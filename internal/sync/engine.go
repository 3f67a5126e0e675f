// Package sync keeps local record collections consistent with an Azure
// DevOps organization.
//
// An Engine owns four collections, one per record kind. Sync fetches
// remote changes into them page by page. Cancelling the context passed to
// Sync aborts it at the next project, page or batch boundary; an aborted
// Sync returns nil and keeps everything merged so far.
package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/azure-tracker/internal/cache"
	"github.com/nhle/azure-tracker/internal/model"
)

// Paging constants of the remote API.
const (
	// wiqlPageSize caps the ids returned by one WIQL query.
	wiqlPageSize = 19999

	// workItemBatchSize stays below the 200-id limit of the batch endpoint.
	workItemBatchSize = 199

	// prPageSize is the page size of pull request listings.
	prPageSize = 101
)

// ErrNotInitialized is returned by operations that need the project list
// before Init has succeeded.
var ErrNotInitialized = errors.New("sync engine is not initialized")

// API is the subset of the Azure DevOps client the engine uses.
type API interface {
	ListProjects(ctx context.Context) ([]string, error)
	ListRepositories(ctx context.Context, project string) ([]string, error)

	ListPullRequests(ctx context.Context, project, status string, skip, top int) ([]*model.PullRequest, error)
	GetPullRequest(ctx context.Context, project string, id int64) (*model.PullRequest, error)

	QueryWorkItemIDs(ctx context.Context, project, wiql string, top int) ([]int64, error)
	GetWorkItems(ctx context.Context, ids []int64) ([]*model.WorkItem, error)
	GetWorkItem(ctx context.Context, project string, id int64) (*model.WorkItem, error)

	ListBuilds(ctx context.Context, project string, maxPerDefinition int, minTime time.Time, continuation string) ([]*model.Build, string, error)
	GetBuild(ctx context.Context, project string, id int64) (*model.Build, error)

	ListCommits(ctx context.Context, project, repo string, top int) ([]*model.Commit, error)
	GetCommit(ctx context.Context, project, repo, commitID string) (*model.Commit, error)
}

// Progress reports that one project of a kind started or finished syncing.
type Progress struct {
	Kind    model.Kind
	Project string
	Message string
}

// Options configures an Engine.
type Options struct {
	// Store persists collections between sessions. It is used only when
	// the configuration enables caching.
	Store cache.Store

	Log logrus.FieldLogger

	// OnProgress is called when a project starts and finishes syncing.
	// Build and commit syncs with Concurrency > 1 call it from several
	// goroutines.
	OnProgress func(Progress)

	// Concurrency bounds parallel project/repo fetches of build and commit
	// syncs. Values below 1 mean sequential.
	Concurrency int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Engine synchronizes the four record collections.
type Engine struct {
	api  API
	opts Options
	log  logrus.FieldLogger

	mu          gosync.RWMutex
	cfg         model.Config
	typeClause  string
	projects    []model.Project
	collections map[model.Kind]model.Collection
	ready       bool
}

// New creates an engine that talks to api.
func New(api API, opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		api:         api,
		opts:        opts,
		log:         opts.Log,
		collections: emptyCollections(),
	}
}

func emptyCollections() map[model.Kind]model.Collection {
	c := make(map[model.Kind]model.Collection, 4)
	for _, k := range model.Kinds() {
		c[k] = model.Collection{}
	}
	return c
}

// Init reloads cached collections, prepares the work item type filter and
// discovers projects and their repositories. A discovery failure is
// returned; cache failures are only logged.
func (e *Engine) Init(ctx context.Context, cfg model.Config) error {
	collections := emptyCollections()
	if cfg.UseCaching && e.opts.Store != nil {
		for _, kind := range model.Kinds() {
			c, err := e.opts.Store.Load(kind)
			if err != nil {
				e.log.WithField("kind", kind.String()).Warnf("loading cache: %v", err)
				continue
			}
			collections[kind] = c
		}
	}

	projects, err := e.discoverProjects(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.typeClause = WorkItemTypeClause(cfg.WorkItemTypes)
	e.projects = projects
	e.collections = collections
	e.ready = true
	return nil
}

func (e *Engine) discoverProjects(ctx context.Context) ([]model.Project, error) {
	names, err := e.api.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering projects: %w", err)
	}

	projects := make([]model.Project, 0, len(names))
	for _, name := range names {
		repos, err := e.api.ListRepositories(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("discovering repositories of %s: %w", name, err)
		}
		projects = append(projects, model.Project{Name: name, Repos: repos})
	}

	e.log.Infof("discovered %d projects", len(projects))
	return projects, nil
}

// Projects returns the projects discovered by Init.
func (e *Engine) Projects() []model.Project {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]model.Project, len(e.projects))
	for i, p := range e.projects {
		out[i] = model.Project{Name: p.Name, Repos: slices.Clone(p.Repos)}
	}
	return out
}

// Sync fetches remote changes for kind. KindAll syncs every kind in turn.
// It returns nil when ctx is cancelled; records merged before that stay.
func (e *Engine) Sync(ctx context.Context, kind model.Kind) error {
	if !e.initialized() {
		return ErrNotInitialized
	}

	switch kind {
	case model.KindAll:
		for _, k := range model.Kinds() {
			if ctx.Err() != nil {
				return nil
			}
			if err := e.Sync(ctx, k); err != nil {
				return err
			}
		}
		return nil
	case model.KindPullRequest:
		return e.syncPullRequests(ctx)
	case model.KindWorkItem:
		return e.syncWorkItems(ctx)
	case model.KindBuild:
		return e.syncBuilds(ctx)
	case model.KindCommit:
		return e.syncCommits(ctx)
	default:
		return fmt.Errorf("sync: unsupported kind %s", kind)
	}
}

// SyncOne refetches a single record and replaces the stored copy when any
// field changed. It reports whether the record changed.
func (e *Engine) SyncOne(ctx context.Context, rec model.Record) (bool, error) {
	var (
		fresh model.Record
		err   error
	)
	switch r := rec.(type) {
	case *model.PullRequest:
		fresh, err = e.api.GetPullRequest(ctx, r.ProjectName, r.ID)
	case *model.WorkItem:
		fresh, err = e.api.GetWorkItem(ctx, r.ProjectName, r.ID)
	case *model.Build:
		fresh, err = e.api.GetBuild(ctx, r.ProjectName, r.ID)
	case *model.Commit:
		var cm *model.Commit
		cm, err = e.api.GetCommit(ctx, r.ProjectName, r.RepoName, r.CommitID)
		if err == nil {
			// The stored key may have been shifted on collision.
			cm.SetKey(r.ID)
			fresh = cm
		}
	default:
		return false, fmt.Errorf("sync one: unsupported record %T", rec)
	}
	if err != nil {
		return false, err
	}

	kind := rec.Kind()
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.collections[kind]
	old, ok := c[rec.Key()]
	if !ok {
		old = rec
	}
	if old.Equal(fresh) {
		return false, nil
	}
	c[fresh.Key()] = fresh
	return true, nil
}

// Get returns a sorted snapshot of kind's records.
func (e *Engine) Get(kind model.Kind) []model.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collections[kind].Clone().Values()
}

// Collection returns a copy of kind's collection.
func (e *Engine) Collection(kind model.Kind) model.Collection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collections[kind].Clone()
}

// Counts returns the number of records per kind.
func (e *Engine) Counts() map[model.Kind]int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	counts := make(map[model.Kind]int, len(e.collections))
	for k, c := range e.collections {
		counts[k] = len(c)
	}
	return counts
}

// Save persists every non-empty collection when caching is enabled.
func (e *Engine) Save() error {
	e.mu.RLock()
	useCaching := e.cfg.UseCaching
	snapshot := make(map[model.Kind]model.Collection, len(e.collections))
	for k, c := range e.collections {
		snapshot[k] = c.Clone()
	}
	e.mu.RUnlock()

	if !useCaching || e.opts.Store == nil {
		return nil
	}

	var errs error
	for _, kind := range model.Kinds() {
		if err := e.opts.Store.Save(kind, snapshot[kind]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("saving %s cache: %w", kind, err))
		}
	}
	return errs
}

func (e *Engine) initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

func (e *Engine) config() (model.Config, []model.Project) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.projects
}

// update runs fn on kind's live collection under the write lock.
func (e *Engine) update(kind model.Kind, fn func(c model.Collection)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.collections[kind])
}

// replace swaps kind's collection wholesale.
func (e *Engine) replace(kind model.Kind, c model.Collection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collections[kind] = c
}

// view runs fn on kind's live collection under the read lock.
func (e *Engine) view(kind model.Kind, fn func(c model.Collection)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.collections[kind])
}

// track wraps one project's sync with progress events and timing.
func (e *Engine) track(kind model.Kind, project, detail string, fn func() error) error {
	e.log.WithFields(logrus.Fields{"kind": kind.String(), "project": project}).
		Infof("Fetching %s from %s %s...", kind, project, detail)
	e.progress(kind, project, "in progress")

	start := e.opts.Now()
	err := fn()
	e.progress(kind, project, fmt.Sprintf("took %.1f seconds", e.opts.Now().Sub(start).Seconds()))
	return err
}

func (e *Engine) progress(kind model.Kind, project, msg string) {
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(Progress{Kind: kind, Project: project, Message: msg})
	}
}

// forEach runs fn for 0..n-1 with at most Concurrency calls in flight.
// The first error cancels the remaining calls.
func (e *Engine) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error { return fn(gctx, i) })
	}
	return g.Wait()
}

// abortable maps a failure caused by cancelling ctx to nil.
func abortable(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func sortedIDs(set map[int64]bool) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
