package model

import "time"

// Build is a pipeline run.
type Build struct {
	Base

	RepoName   string    `json:"repoName"`
	Branch     string    `json:"branch"`
	Result     string    `json:"result"`
	Definition string    `json:"definition"`
	QueueTime  time.Time `json:"queueTime"`
	StartTime  time.Time `json:"startTime"`
	FinishTime time.Time `json:"finishTime"`
	PoolName   string    `json:"poolName"`
}

func (b *Build) Kind() Kind { return KindBuild }

func (b *Build) Clone() Record {
	c := *b
	return &c
}

func (b *Build) Equal(other Record) bool {
	o, ok := other.(*Build)
	if !ok || o == nil {
		return false
	}
	return b.Base.equal(&o.Base) &&
		b.RepoName == o.RepoName &&
		b.Branch == o.Branch &&
		b.Result == o.Result &&
		b.Definition == o.Definition &&
		b.QueueTime.Equal(o.QueueTime) &&
		b.StartTime.Equal(o.StartTime) &&
		b.FinishTime.Equal(o.FinishTime) &&
		b.PoolName == o.PoolName
}
