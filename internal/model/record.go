package model

import (
	"sort"
	"time"
)

// Base holds the fields every tracked record shares.
type Base struct {
	// ID is the record's key within its kind's collection.
	ID int64 `json:"id"`

	// ProjectName is the Azure DevOps project the record belongs to.
	ProjectName string `json:"projectName"`

	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedBy string `json:"createdBy"`

	// CreatedDate is when the item was created on the remote service.
	CreatedDate time.Time `json:"createdDate"`

	// DetailURI links to the item's web page. It is always derived from
	// project/repo/id by the parser.
	DetailURI string `json:"detailUri"`
}

// Common returns the shared fields of a record.
func (b *Base) Common() *Base { return b }

// Key returns the collection key of the record.
func (b *Base) Key() int64 { return b.ID }

// SetKey changes the collection key of the record.
func (b *Base) SetKey(id int64) { b.ID = id }

func (b *Base) equal(o *Base) bool {
	return b.ID == o.ID &&
		b.ProjectName == o.ProjectName &&
		b.Title == o.Title &&
		b.Status == o.Status &&
		b.CreatedBy == o.CreatedBy &&
		b.CreatedDate.Equal(o.CreatedDate) &&
		b.DetailURI == o.DetailURI
}

// Record is implemented by PullRequest, WorkItem, Build and Commit.
type Record interface {
	Kind() Kind
	Key() int64
	SetKey(id int64)
	Common() *Base

	// Equal reports whether every field of the record matches other.
	// Records of different kinds are never equal.
	Equal(other Record) bool

	// Clone returns an independent copy of the record.
	Clone() Record
}

// Collection is one kind's set of records keyed by id.
type Collection map[int64]Record

// Values returns the records sorted by ascending id.
func (c Collection) Values() []Record {
	out := make([]Record, 0, len(c))
	for _, id := range c.IDs() {
		out = append(out, c[id])
	}
	return out
}

// IDs returns the collection's keys in ascending order.
func (c Collection) IDs() []int64 {
	ids := make([]int64, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for id, r := range c {
		out[id] = r.Clone()
	}
	return out
}

// ProjectIDs returns the ids of the records belonging to project, ascending.
func (c Collection) ProjectIDs(project string) []int64 {
	var ids []int64
	for _, id := range c.IDs() {
		if c[id].Common().ProjectName == project {
			ids = append(ids, id)
		}
	}
	return ids
}

// MaxIDForProject returns the highest id recorded for project, or 0 when the
// project has no records.
func (c Collection) MaxIDForProject(project string) int64 {
	var max int64
	for id, r := range c {
		if r.Common().ProjectName == project && id > max {
			max = id
		}
	}
	return max
}

// FreeKey returns id when it is unused, otherwise the first larger id that
// is not yet taken.
func (c Collection) FreeKey(id int64) int64 {
	for {
		if _, taken := c[id]; !taken {
			return id
		}
		id++
	}
}

// Equal reports whether both collections hold the same ids with equal records.
func (c Collection) Equal(o Collection) bool {
	if len(c) != len(o) {
		return false
	}
	for id, r := range c {
		other, ok := o[id]
		if !ok || !r.Equal(other) {
			return false
		}
	}
	return true
}
