package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"", KindAll},
		{"All", KindAll},
		{"pr", KindPullRequest},
		{"PullRequest", KindPullRequest},
		{"wi", KindWorkItem},
		{" workitems ", KindWorkItem},
		{"build", KindBuild},
		{"Commits", KindCommit},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseKind("release")
	assert.Error(t, err)
}

func TestKindStringRoundTrip(t *testing.T) {
	for _, k := range append(Kinds(), KindAll) {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	assert.Nil(t, New(KindAll))
	for _, k := range Kinds() {
		require.NotNil(t, New(k))
		assert.Equal(t, k, New(k).Kind())
	}
}

func TestCommitKey(t *testing.T) {
	assert.Equal(t, int64(16), CommitKey("0123456789abcdef0123456789abcdef00000010"))
	assert.Equal(t, int64(0xffffffff), CommitKey("aaaaffffffff"))
	assert.Equal(t, int64(255), CommitKey("ff"))
	assert.Equal(t, int64(0), CommitKey("not-hex!"))
}

func TestCollection_FreeKey(t *testing.T) {
	c := Collection{
		16: &Commit{Base: Base{ID: 16}},
		17: &Commit{Base: Base{ID: 17}},
	}
	assert.Equal(t, int64(18), c.FreeKey(16))
	assert.Equal(t, int64(5), c.FreeKey(5))
}

func TestCollection_Helpers(t *testing.T) {
	c := Collection{
		12: &WorkItem{Base: Base{ID: 12, ProjectName: "Beta"}},
		3:  &WorkItem{Base: Base{ID: 3, ProjectName: "Alpha"}},
		7:  &WorkItem{Base: Base{ID: 7, ProjectName: "Alpha"}},
	}

	assert.Equal(t, []int64{3, 7, 12}, c.IDs())
	assert.Equal(t, []int64{3, 7}, c.ProjectIDs("Alpha"))
	assert.Equal(t, int64(7), c.MaxIDForProject("Alpha"))
	assert.Equal(t, int64(0), c.MaxIDForProject("Gamma"))

	values := c.Values()
	require.Len(t, values, 3)
	assert.Equal(t, int64(12), values[2].Key())

	cp := c.Clone()
	assert.True(t, cp.Equal(c))
	cp[3].Common().Title = "changed"
	assert.Empty(t, c[3].Common().Title)
	assert.False(t, cp.Equal(c))
}

func TestRecordEquality(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	wi := &WorkItem{
		Base:       Base{ID: 10, ProjectName: "Alpha", Title: "Crash", Status: "Active", CreatedDate: created},
		Type:       "Bug",
		AssignedTo: "Ann",
	}

	same := wi.Clone().(*WorkItem)
	same.CreatedDate = created.In(time.FixedZone("CET", 3600))
	assert.True(t, wi.Equal(same))

	changed := wi.Clone().(*WorkItem)
	changed.AssignedTo = "Bob"
	assert.False(t, wi.Equal(changed))

	other := &PullRequest{Base: wi.Base}
	assert.False(t, wi.Equal(other))
	assert.False(t, other.Equal(wi))

	var nilBuild *Build
	assert.False(t, (&Build{}).Equal(nilBuild))

	c1 := &Commit{Base: Base{ID: 16}, CommitID: "abc", Timestamp: created}
	c2 := c1.Clone().(*Commit)
	assert.True(t, c1.Equal(c2))
	c2.CommitID = "abd"
	assert.False(t, c1.Equal(c2))
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, IsActiveWorkItem("Active"))
	assert.True(t, IsActiveWorkItem("New"))
	assert.False(t, IsActiveWorkItem(WorkItemStateClosed))
	assert.False(t, IsActiveWorkItem(WorkItemStateVerified))
	assert.False(t, IsActiveWorkItem(WorkItemStateRemoved))

	assert.True(t, (&PullRequest{Base: Base{Status: PRStatusActive}}).IsActive())
	assert.False(t, (&PullRequest{Base: Base{Status: "completed"}}).IsActive())
}
