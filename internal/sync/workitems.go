package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nhle/azure-tracker/internal/model"
	"github.com/nhle/azure-tracker/internal/source"
)

// WorkItemTypeClause builds the WIQL condition restricting a query to the
// given work item types, or "" when every type is wanted.
func WorkItemTypeClause(types []string) string {
	conds := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			conds = append(conds, fmt.Sprintf("[System.WorkItemType] = '%s'", wiqlQuote(t)))
		}
	}
	if len(conds) == 0 {
		return ""
	}
	return " AND (" + strings.Join(conds, " OR ") + ")"
}

// WorkItemQuery selects the ids of a project's work items above after, in
// ascending order.
func WorkItemQuery(project, typeClause string, after int64) string {
	return fmt.Sprintf(
		"SELECT [System.Id] FROM WorkItems WHERE (([System.TeamProject] = '%s')%s AND ([System.Id] > %d)) ORDER BY [System.Id] ASC",
		wiqlQuote(project), typeClause, after,
	)
}

func wiqlQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func (e *Engine) syncWorkItems(ctx context.Context) error {
	_, projects := e.config()
	for _, p := range projects {
		if ctx.Err() != nil {
			return nil
		}
		project := p.Name
		err := e.track(model.KindWorkItem, project, "", func() error {
			return e.syncProjectWorkItems(ctx, project)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// syncProjectWorkItems first refreshes the status of locally active items,
// then pages through the ids above the project's highest known id.
func (e *Engine) syncProjectWorkItems(ctx context.Context, project string) error {
	var (
		skip   int64
		active []int64
	)
	e.view(model.KindWorkItem, func(c model.Collection) {
		skip = c.MaxIDForProject(project)
		for _, id := range c.ProjectIDs(project) {
			if model.IsActiveWorkItem(c[id].Common().Status) {
				active = append(active, id)
			}
		}
	})

	if skip > 0 {
		for start := 0; start < len(active); start += workItemBatchSize {
			if ctx.Err() != nil {
				return nil
			}
			end := min(start+workItemBatchSize, len(active))
			if err := e.fetchWorkItems(ctx, active[start:end], true); err != nil {
				return abortable(ctx, err)
			}
		}
	}

	e.mu.RLock()
	typeClause := e.typeClause
	e.mu.RUnlock()

	for {
		if ctx.Err() != nil {
			return nil
		}

		ids, err := e.api.QueryWorkItemIDs(ctx, project, WorkItemQuery(project, typeClause, skip), wiqlPageSize)
		if err != nil {
			return abortable(ctx, err)
		}

		advanced := false
		for _, id := range ids {
			if id > skip {
				skip = id
				advanced = true
			}
		}
		if !advanced {
			return nil
		}

		for start := 0; start < len(ids); start += workItemBatchSize {
			if ctx.Err() != nil {
				return nil
			}
			end := min(start+workItemBatchSize, len(ids))
			if err := e.fetchWorkItems(ctx, ids[start:end], false); err != nil {
				return abortable(ctx, err)
			}
		}
	}
}

// fetchWorkItems loads one batch. With refresh set only the status of
// already known items is updated; otherwise the items are inserted.
//
// When the server rejects the batch because one of the items is gone or
// unreadable, that id is dropped from the batch and from the collection
// and the rest of the batch is requested again.
func (e *Engine) fetchWorkItems(ctx context.Context, ids []int64, refresh bool) error {
	ids = append([]int64(nil), ids...)
	for len(ids) > 0 {
		items, err := e.api.GetWorkItems(ctx, ids)
		if err == nil {
			e.mergeWorkItems(items, refresh)
			return nil
		}
		if ctx.Err() != nil || !source.IsMissingWorkItem(err) {
			return err
		}

		missing, ok := source.MissingWorkItemID(err, ids)
		if !ok {
			return err
		}
		e.log.WithFields(logrus.Fields{"kind": model.KindWorkItem.String(), "id": missing}).
			Warn("work item does not exist or is not readable; dropping it")

		ids = without(ids, missing)
		e.update(model.KindWorkItem, func(c model.Collection) {
			delete(c, missing)
		})
	}
	return nil
}

func (e *Engine) mergeWorkItems(items []*model.WorkItem, refresh bool) {
	e.update(model.KindWorkItem, func(c model.Collection) {
		for _, wi := range items {
			if !refresh {
				c[wi.ID] = wi
				continue
			}
			if known, ok := c[wi.ID]; ok {
				if base := known.Common(); base.Status != wi.Status {
					base.Status = wi.Status
				}
			}
		}
	})
}

func without(ids []int64, drop int64) []int64 {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
