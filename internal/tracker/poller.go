package tracker

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/azure-tracker/internal/model"
	"github.com/nhle/azure-tracker/internal/source"
)

// Result is published on Results when a background sync completes.
type Result struct {
	ID       string
	Kind     model.Kind
	Err      error
	// Auth is set when Err is an authentication failure.
	Auth     bool
	Counts   map[model.Kind]int
	Duration time.Duration
}

// poller runs syncs in the background: once at start, then on every tick
// and on every Trigger.
type poller struct {
	triggerCh chan model.Kind
	resultCh  chan Result
	cancel    context.CancelFunc
	wg        gosync.WaitGroup
}

// Start launches the background loop. The first run syncs everything;
// later runs happen every PollIntervalSec seconds (if set) and on Trigger.
// It is a no-op when the loop already runs.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.poller != nil {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &poller{
		triggerCh: make(chan model.Kind, 16),
		resultCh:  make(chan Result, 16),
		cancel:    cancel,
	}
	t.poller = p
	interval := time.Duration(t.cfg.PollIntervalSec) * time.Second
	t.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t.loop(ctx, p, interval)
	}()
}

func (t *Tracker) loop(ctx context.Context, p *poller, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	t.runOnce(ctx, p, model.KindAll)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			t.runOnce(ctx, p, model.KindAll)
		case kind := <-p.triggerCh:
			t.runOnce(ctx, p, kind)
		}
	}
}

func (t *Tracker) runOnce(ctx context.Context, p *poller, kind model.Kind) {
	start := t.opts.Now()
	err := t.Sync(ctx, kind)
	if errors.Is(err, ErrSyncInProgress) {
		t.log.Debugf("Skipping background sync of %s: %v", kind, err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	res := Result{
		ID:       uuid.NewString(),
		Kind:     kind,
		Err:      err,
		Auth:     source.IsAuthError(err),
		Counts:   t.Counts(),
		Duration: t.opts.Now().Sub(start),
	}
	select {
	case p.resultCh <- res:
	default:
		// Drop if nobody is reading.
	}
}

// Trigger asks the background loop to sync kind. Requests are dropped when
// the loop is not running or its queue is full.
func (t *Tracker) Trigger(kind model.Kind) {
	t.mu.Lock()
	p := t.poller
	t.mu.Unlock()
	if p == nil {
		return
	}

	select {
	case p.triggerCh <- kind:
	default:
	}
}

// Results returns the channel background sync results are published on.
// It is nil before Start.
func (t *Tracker) Results() <-chan Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.poller == nil {
		return nil
	}
	return t.poller.resultCh
}

// Stop aborts the running background sync and waits for the loop to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	p := t.poller
	t.poller = nil
	t.mu.Unlock()
	if p == nil {
		return
	}

	p.cancel()
	p.wg.Wait()
}
