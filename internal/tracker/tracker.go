// Package tracker is the entry point consumers use to drive synchronization:
// it wires the Azure DevOps client, the cache and the sync engine together,
// serializes sync runs, and keeps the user-visible status and log.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nhle/azure-tracker/internal/cache"
	"github.com/nhle/azure-tracker/internal/credential"
	"github.com/nhle/azure-tracker/internal/logbuf"
	"github.com/nhle/azure-tracker/internal/metrics"
	"github.com/nhle/azure-tracker/internal/model"
	"github.com/nhle/azure-tracker/internal/source"
	"github.com/nhle/azure-tracker/internal/source/azure"
	"github.com/nhle/azure-tracker/internal/sync"
)

// Status lines.
const (
	StatusNotInitialized = "Not initialized"
	StatusSyncing        = "Synchronizing. Please wait..."
	StatusAborting       = "Aborting..."
	StatusReady          = "Ready"

	// StatusAuthExpired replaces the error status when Azure DevOps
	// rejects the token.
	StatusAuthExpired = "Error: authentication expired. Store a new personal access token"
)

var (
	// ErrSyncInProgress is returned by Sync while another sync runs.
	ErrSyncInProgress = errors.New("a sync is already in progress")

	// ErrNotInitialized is returned before Init has succeeded.
	ErrNotInitialized = errors.New("tracker is not initialized")
)

// Options configures a Tracker. All fields are optional.
type Options struct {
	// Log receives every message; the tracker's log buffer is attached to
	// it as a hook.
	Log *logrus.Logger

	Metrics *metrics.Metrics

	HTTPClient *http.Client

	// LookupPAT resolves the token when the configuration has none.
	// Defaults to the system keyring.
	LookupPAT func(organization string) (string, error)

	OnProgress func(sync.Progress)

	Now func() time.Time
}

// Tracker owns one sync engine and serializes work on it.
type Tracker struct {
	opts Options
	log  *logrus.Logger
	buf  *logbuf.Buffer

	mu     gosync.Mutex
	cfg    model.Config
	engine *sync.Engine
	store  cache.Store
	busy   bool
	cancel context.CancelFunc
	status string

	poller *poller
}

// New creates a tracker. It must be initialized before syncing.
func New(opts Options) *Tracker {
	if opts.Log == nil {
		opts.Log = logrus.New()
	}
	if opts.LookupPAT == nil {
		opts.LookupPAT = keyringPAT
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	buf := logbuf.New()
	opts.Log.AddHook(buf)

	return &Tracker{
		opts:   opts,
		log:    opts.Log,
		buf:    buf,
		status: StatusNotInitialized,
	}
}

func keyringPAT(organization string) (string, error) {
	return credential.Get(credential.PATKey(organization))
}

// Init builds the client, cache and engine for cfg and discovers projects.
// It returns false when the settings are unusable or discovery fails; the
// caller is expected to ask for new settings.
func (t *Tracker) Init(ctx context.Context, cfg model.Config) bool {
	t.mu.Lock()
	if t.busy {
		t.mu.Unlock()
		t.log.Warn("Cannot reinitialize while a sync is running")
		return false
	}
	t.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		t.fail(fmt.Errorf("invalid settings: %w", err))
		return false
	}

	token := cfg.PAT
	if token == "" {
		var err error
		token, err = t.opts.LookupPAT(cfg.Organization)
		if err != nil {
			t.fail(fmt.Errorf("no personal access token for %s: %w", cfg.Organization, err))
			return false
		}
	}

	client := azure.NewClient(cfg.Organization, token, t.clientOptions(cfg)...)

	var store cache.Store
	if cfg.UseCaching {
		s, err := cache.Open(cfg.Cache, t.log)
		if err != nil {
			t.log.Warnf("Caching disabled: %v", err)
		} else {
			store = s
		}
	}

	engine := sync.New(client, sync.Options{
		Store:       store,
		Log:         t.log,
		OnProgress:  t.opts.OnProgress,
		Concurrency: cfg.Concurrency,
		Now:         t.opts.Now,
	})
	if err := engine.Init(ctx, cfg); err != nil {
		if store != nil {
			_ = store.Close()
		}
		t.fail(err)
		return false
	}

	t.mu.Lock()
	prev := t.store
	t.cfg = cfg
	t.engine = engine
	t.store = store
	t.status = StatusReady
	t.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			t.log.Warnf("Closing previous cache: %v", err)
		}
	}

	t.log.Infof("Connected to %s with %d projects", cfg.Organization, len(engine.Projects()))
	return true
}

func (t *Tracker) clientOptions(cfg model.Config) []azure.Option {
	opts := []azure.Option{azure.WithLogger(t.log)}
	if cfg.BaseURL != "" {
		opts = append(opts, azure.WithBaseURL(cfg.BaseURL))
	}
	if t.opts.HTTPClient != nil {
		opts = append(opts, azure.WithHTTPClient(t.opts.HTTPClient))
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, azure.WithRateLimit(cfg.RequestsPerSecond, 1))
	}
	if t.opts.Metrics != nil {
		opts = append(opts, azure.WithRequestObserver(t.opts.Metrics.ObserveRequest))
	}
	return opts
}

func (t *Tracker) fail(err error) {
	t.log.Error(err.Error())
	t.mu.Lock()
	t.status = errorStatus(err)
	t.mu.Unlock()
}

func errorStatus(err error) string {
	if source.IsAuthError(err) {
		return StatusAuthExpired
	}
	return "Error: " + err.Error()
}

// Sync runs a blocking sync of kind. Only one sync runs at a time; a
// second caller gets ErrSyncInProgress. Abort, or cancelling ctx, stops
// the run early and Sync returns nil.
func (t *Tracker) Sync(ctx context.Context, kind model.Kind) error {
	t.mu.Lock()
	if t.engine == nil {
		t.mu.Unlock()
		return ErrNotInitialized
	}
	if t.busy {
		t.mu.Unlock()
		return ErrSyncInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.busy = true
	t.cancel = cancel
	t.status = StatusSyncing
	engine := t.engine
	t.mu.Unlock()

	log := t.log.WithFields(logrus.Fields{"kind": kind.String(), "run": uuid.NewString()})
	log.Infof("Synchronizing %s...", kind)

	start := t.opts.Now()
	err := engine.Sync(ctx, kind)
	took := t.opts.Now().Sub(start)
	aborted := ctx.Err() != nil

	t.mu.Lock()
	t.busy = false
	t.cancel = nil
	if err != nil {
		t.status = errorStatus(err)
	} else {
		t.status = StatusReady
	}
	t.mu.Unlock()

	switch {
	case err != nil:
		log.Errorf("Sync of %s failed: %v", kind, err)
		return err
	case aborted:
		log.Warnf("Sync of %s aborted after %.1f seconds", kind, took.Seconds())
	default:
		log.Infof("Sync of %s finished in %.1f seconds", kind, took.Seconds())
		if t.opts.Metrics != nil {
			t.opts.Metrics.ObserveSync(kind, took, engine.Counts())
		}
	}
	return nil
}

// Abort cancels the running sync, if any.
func (t *Tracker) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.status = StatusAborting
	t.log.Info("Aborting sync...")
}

// Busy reports whether a sync is running.
func (t *Tracker) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}

// Status returns the current status line.
func (t *Tracker) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Log returns the session log buffer.
func (t *Tracker) Log() *logbuf.Buffer {
	return t.buf
}

// Config returns the configuration of the last successful Init.
func (t *Tracker) Config() model.Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

func (t *Tracker) current() *sync.Engine {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.engine
}

// Get returns a sorted snapshot of kind's records.
func (t *Tracker) Get(kind model.Kind) []model.Record {
	engine := t.current()
	if engine == nil {
		return nil
	}
	return engine.Get(kind)
}

// Counts returns the number of records per kind.
func (t *Tracker) Counts() map[model.Kind]int {
	engine := t.current()
	if engine == nil {
		return map[model.Kind]int{}
	}
	return engine.Counts()
}

// Projects returns the discovered projects.
func (t *Tracker) Projects() []model.Project {
	engine := t.current()
	if engine == nil {
		return nil
	}
	return engine.Projects()
}

// SyncOne refetches rec and reports whether the stored copy changed.
func (t *Tracker) SyncOne(ctx context.Context, rec model.Record) (bool, error) {
	engine := t.current()
	if engine == nil {
		return false, ErrNotInitialized
	}

	changed, err := engine.SyncOne(ctx, rec)
	if err != nil {
		t.log.Errorf("Refreshing %s %d: %v", rec.Kind(), rec.Key(), err)
		return false, err
	}
	if changed {
		t.log.Infof("Updating %s ID = %d", rec.Kind(), rec.Key())
	}
	return changed, nil
}

// SyncMany refreshes each record in turn and returns how many changed.
// Failures are logged and skipped.
func (t *Tracker) SyncMany(ctx context.Context, recs []model.Record) int {
	changed := 0
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		ok, err := t.SyncOne(ctx, rec)
		if err == nil && ok {
			changed++
		}
	}
	return changed
}

// Save persists the collections. Failures are logged as warnings and
// returned.
func (t *Tracker) Save() error {
	engine := t.current()
	if engine == nil {
		return nil
	}
	if err := engine.Save(); err != nil {
		t.log.Warnf("Saving cache: %v", err)
		return err
	}
	return nil
}

// SaveLog writes the log buffer to a timestamped file in the configured
// log directory.
func (t *Tracker) SaveLog() (string, error) {
	dir := t.Config().LogDir
	if dir == "" {
		dir = model.DefaultConfig().LogDir
	}
	return t.buf.SaveTimestamped(dir, t.opts.Now())
}

// Close stops the background loop and releases the cache.
func (t *Tracker) Close() error {
	t.Stop()

	t.mu.Lock()
	store := t.store
	t.store = nil
	t.mu.Unlock()

	if store != nil {
		return store.Close()
	}
	return nil
}
