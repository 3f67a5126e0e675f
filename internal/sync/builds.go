package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/azure-tracker/internal/model"
)

// syncBuilds refetches every project's recent builds and replaces the
// collection. An aborted or failed refetch keeps the previous collection.
func (e *Engine) syncBuilds(ctx context.Context) error {
	cfg, projects := e.config()

	var cutoff time.Time
	if cfg.BuildNotOlderThanDays > 0 {
		age := time.Duration(cfg.BuildNotOlderThanDays * float64(24*time.Hour))
		cutoff = e.opts.Now().Add(-age)
	}

	perProject := make([][]*model.Build, len(projects))
	err := e.forEach(ctx, len(projects), func(ctx context.Context, i int) error {
		if ctx.Err() != nil {
			return nil
		}
		project := projects[i].Name
		detail := fmt.Sprintf("(max %d per definition)", cfg.MaxBuildsPerDefinition)
		return e.track(model.KindBuild, project, detail, func() error {
			builds, err := e.fetchProjectBuilds(ctx, project, cfg.MaxBuildsPerDefinition, cutoff)
			perProject[i] = builds
			return err
		})
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return err
	}

	builds := make(model.Collection)
	for _, list := range perProject {
		for _, b := range list {
			builds[b.ID] = b
		}
	}
	e.replace(model.KindBuild, builds)
	return nil
}

func (e *Engine) fetchProjectBuilds(ctx context.Context, project string, maxPerDefinition int, cutoff time.Time) ([]*model.Build, error) {
	var (
		out   []*model.Build
		token string
	)
	for {
		if ctx.Err() != nil {
			return out, nil
		}

		page, next, err := e.api.ListBuilds(ctx, project, maxPerDefinition, cutoff, token)
		if err != nil {
			return out, err
		}
		for _, b := range page {
			if !cutoff.IsZero() && b.QueueTime.Before(cutoff) {
				continue
			}
			out = append(out, b)
		}

		if next == "" {
			return out, nil
		}
		token = next
	}
}
