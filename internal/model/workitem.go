package model

import "time"

// Work item states that end a work item's life cycle.
const (
	WorkItemStateVerified = "Verified"
	WorkItemStateClosed   = "Closed"
	WorkItemStateRemoved  = "Removed"
)

// WorkItem is a tracked Azure Boards work item (bug, task, story, ...).
type WorkItem struct {
	Base

	Type          string    `json:"type"`
	AssignedTo    string    `json:"assignedTo"`
	ChangedBy     string    `json:"changedBy"`
	ChangedDate   time.Time `json:"changedDate"`
	Priority      string    `json:"priority"`
	IterationPath string    `json:"iterationPath"`
	AreaPath      string    `json:"areaPath"`
	Tags          string    `json:"tags"`
	ResolvedDate  time.Time `json:"resolvedDate"`
	ResolvedBy    string    `json:"resolvedBy"`
}

func (w *WorkItem) Kind() Kind { return KindWorkItem }

func (w *WorkItem) Clone() Record {
	c := *w
	return &c
}

func (w *WorkItem) Equal(other Record) bool {
	o, ok := other.(*WorkItem)
	if !ok || o == nil {
		return false
	}
	return w.Base.equal(&o.Base) &&
		w.Type == o.Type &&
		w.AssignedTo == o.AssignedTo &&
		w.ChangedBy == o.ChangedBy &&
		w.ChangedDate.Equal(o.ChangedDate) &&
		w.Priority == o.Priority &&
		w.IterationPath == o.IterationPath &&
		w.AreaPath == o.AreaPath &&
		w.Tags == o.Tags &&
		w.ResolvedDate.Equal(o.ResolvedDate) &&
		w.ResolvedBy == o.ResolvedBy
}

// IsActiveWorkItem reports whether a work item status still needs to be
// re-checked against the server.
func IsActiveWorkItem(status string) bool {
	switch status {
	case WorkItemStateVerified, WorkItemStateClosed, WorkItemStateRemoved:
		return false
	default:
		return true
	}
}
