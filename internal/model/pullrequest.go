package model

// PRStatusActive is the status Azure DevOps reports for open pull requests.
const PRStatusActive = "active"

// PullRequest is a git pull request in one of the organization's repositories.
type PullRequest struct {
	Base

	RepoName     string `json:"repoName"`
	SourceBranch string `json:"sourceBranch"`
	TargetBranch string `json:"targetBranch"`

	// Reviewers holds reviewer display names joined by "; ".
	Reviewers string `json:"reviewers"`
	IsDraft   bool   `json:"isDraft"`
}

func (p *PullRequest) Kind() Kind { return KindPullRequest }

func (p *PullRequest) Clone() Record {
	c := *p
	return &c
}

func (p *PullRequest) Equal(other Record) bool {
	o, ok := other.(*PullRequest)
	if !ok || o == nil {
		return false
	}
	return p.Base.equal(&o.Base) &&
		p.RepoName == o.RepoName &&
		p.SourceBranch == o.SourceBranch &&
		p.TargetBranch == o.TargetBranch &&
		p.Reviewers == o.Reviewers &&
		p.IsDraft == o.IsDraft
}

// IsActive reports whether the pull request is still open.
func (p *PullRequest) IsActive() bool {
	return p.Status == PRStatusActive
}
