package sync

import (
	"context"

	"github.com/nhle/azure-tracker/internal/model"
)

// Pull request status filters.
const (
	prStatusAll    = "all"
	prStatusActive = "active"
)

// syncPullRequests does a full listing when nothing is known yet, otherwise
// it only lists active pull requests and re-fetches the ones that stopped
// being active.
func (e *Engine) syncPullRequests(ctx context.Context) error {
	var full bool
	e.view(model.KindPullRequest, func(c model.Collection) { full = len(c) == 0 })

	status := prStatusActive
	if full {
		status = prStatusAll
	}

	_, projects := e.config()
	for _, p := range projects {
		if ctx.Err() != nil {
			return nil
		}
		project := p.Name
		err := e.track(model.KindPullRequest, project, status, func() error {
			return e.syncProjectPullRequests(ctx, project, status, !full)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) syncProjectPullRequests(ctx context.Context, project, status string, reconcile bool) error {
	// Locally active pull requests not seen in the remote active listing
	// have been completed or abandoned since the last sync.
	stale := make(map[int64]bool)
	if reconcile {
		e.view(model.KindPullRequest, func(c model.Collection) {
			for id, rec := range c {
				if pr, ok := rec.(*model.PullRequest); ok && pr.ProjectName == project && pr.IsActive() {
					stale[id] = true
				}
			}
		})
	}

	for skip := 0; ; skip += prPageSize {
		if ctx.Err() != nil {
			return nil
		}

		prs, err := e.api.ListPullRequests(ctx, project, status, skip, prPageSize)
		if err != nil {
			return abortable(ctx, err)
		}
		if len(prs) == 0 {
			break
		}

		e.update(model.KindPullRequest, func(c model.Collection) {
			for _, pr := range prs {
				c[pr.ID] = pr
				delete(stale, pr.ID)
			}
		})
	}

	for _, id := range sortedIDs(stale) {
		if ctx.Err() != nil {
			return nil
		}

		pr, err := e.api.GetPullRequest(ctx, project, id)
		if err != nil {
			return abortable(ctx, err)
		}
		e.update(model.KindPullRequest, func(c model.Collection) {
			c[pr.ID] = pr
		})
	}
	return nil
}
