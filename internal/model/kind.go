package model

import (
	"fmt"
	"strings"
)

// Kind identifies which of the four tracked record variants an operation
// concerns. KindAll addresses every kind at once.
type Kind int

const (
	KindAll Kind = iota
	KindPullRequest
	KindWorkItem
	KindBuild
	KindCommit
)

// Kinds returns the concrete record kinds in the order a full sync visits them.
func Kinds() []Kind {
	return []Kind{KindPullRequest, KindWorkItem, KindBuild, KindCommit}
}

func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindPullRequest:
		return "pullrequest"
	case KindWorkItem:
		return "workitem"
	case KindBuild:
		return "build"
	case KindCommit:
		return "commit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a user-supplied kind name into a Kind. Matching is
// case-insensitive and accepts a few common abbreviations.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "none":
		return KindAll, nil
	case "pr", "prs", "pullrequest", "pullrequests", "pull-request":
		return KindPullRequest, nil
	case "wi", "wit", "workitem", "workitems", "work-item":
		return KindWorkItem, nil
	case "build", "builds":
		return KindBuild, nil
	case "commit", "commits":
		return KindCommit, nil
	default:
		return KindAll, fmt.Errorf("unknown record kind %q", s)
	}
}

// New returns an empty record of the given kind, or nil for KindAll and
// unknown kinds.
func New(k Kind) Record {
	switch k {
	case KindPullRequest:
		return &PullRequest{}
	case KindWorkItem:
		return &WorkItem{}
	case KindBuild:
		return &Build{}
	case KindCommit:
		return &Commit{}
	default:
		return nil
	}
}
