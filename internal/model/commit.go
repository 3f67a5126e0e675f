package model

import (
	"strconv"
	"time"
)

// Commit is a git commit in one of the organization's repositories.
type Commit struct {
	Base

	RepoName string `json:"repoName"`

	// CommitID is the full hex hash reported by the server. The record's
	// ID is only derived from it and may have been shifted on collision.
	CommitID  string    `json:"commitId"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Commit) Kind() Kind { return KindCommit }

func (c *Commit) Clone() Record {
	cp := *c
	return &cp
}

func (c *Commit) Equal(other Record) bool {
	o, ok := other.(*Commit)
	if !ok || o == nil {
		return false
	}
	return c.Base.equal(&o.Base) &&
		c.RepoName == o.RepoName &&
		c.CommitID == o.CommitID &&
		c.Timestamp.Equal(o.Timestamp)
}

// CommitKey derives a numeric id from the low 8 hex digits of a commit hash.
// Hashes shorter than 8 digits use all of their digits; anything that does
// not parse as hex yields 0.
func CommitKey(hash string) int64 {
	if len(hash) > 8 {
		hash = hash[len(hash)-8:]
	}
	v, err := strconv.ParseUint(hash, 16, 32)
	if err != nil {
		return 0
	}
	return int64(v)
}
