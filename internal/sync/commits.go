package sync

import (
	"context"
	"fmt"

	"github.com/nhle/azure-tracker/internal/model"
)

type repoRef struct {
	project string
	repo    string
}

// syncCommits refetches the newest commits of every repository and
// replaces the collection. Ids come from the commit hash; a colliding id
// is moved to the next free one, in project and repository order.
func (e *Engine) syncCommits(ctx context.Context) error {
	cfg, projects := e.config()

	var repos []repoRef
	for _, p := range projects {
		for _, r := range p.Repos {
			repos = append(repos, repoRef{project: p.Name, repo: r})
		}
	}

	perRepo := make([][]*model.Commit, len(repos))
	err := e.forEach(ctx, len(repos), func(ctx context.Context, i int) error {
		if ctx.Err() != nil {
			return nil
		}
		ref := repos[i]
		detail := fmt.Sprintf("%s (max %d)", ref.repo, cfg.MaxCommitsPerRepo)
		return e.track(model.KindCommit, ref.project, detail, func() error {
			commits, err := e.api.ListCommits(ctx, ref.project, ref.repo, cfg.MaxCommitsPerRepo)
			perRepo[i] = commits
			return err
		})
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return err
	}

	commits := make(model.Collection)
	for _, list := range perRepo {
		for _, cm := range list {
			id := commits.FreeKey(model.CommitKey(cm.CommitID))
			cm.SetKey(id)
			commits[id] = cm
		}
	}
	e.replace(model.KindCommit, commits)
	return nil
}
