package azure

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// listResponse is the envelope of every Azure DevOps collection response.
// Items are kept raw so each can be handed to its parser.
type listResponse struct {
	Count int               `json:"count"`
	Value []json.RawMessage `json:"value"`
}

// namedRef is any reference object of which only the name matters
// (project, repository, definition, pool).
type namedRef struct {
	ID   flexString `json:"id"`
	Name flexString `json:"name"`
}

// identityRef is a user reference.
type identityRef struct {
	DisplayName flexString `json:"displayName"`
	UniqueName  flexString `json:"uniqueName"`
}

// gitRepository is a repository reference as embedded in pull requests.
type gitRepository struct {
	ID      flexString `json:"id"`
	Name    flexString `json:"name"`
	Project namedRef   `json:"project"`
}

// gitPullRequest is the subset of GitPullRequest this module reads.
type gitPullRequest struct {
	PullRequestID flexInt64     `json:"pullRequestId"`
	Repository    gitRepository `json:"repository"`
	Title         flexString    `json:"title"`
	Status        flexString    `json:"status"`
	CreatedBy     identityRef   `json:"createdBy"`
	CreationDate  flexTime      `json:"creationDate"`
	SourceRefName flexString    `json:"sourceRefName"`
	TargetRefName flexString    `json:"targetRefName"`
	IsDraft       flexBool      `json:"isDraft"`
	Reviewers     []identityRef `json:"reviewers"`
}

// workItem is a work item with its field bag left raw; field values vary
// in type between process templates.
type workItem struct {
	ID     flexInt64                  `json:"id"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// wiqlResult is the response of a flat WIQL query.
type wiqlResult struct {
	WorkItems []struct {
		ID flexInt64 `json:"id"`
	} `json:"workItems"`
}

// wiqlQuery is the request body of a WIQL query.
type wiqlQuery struct {
	Query string `json:"query"`
}

type agentQueue struct {
	Name flexString `json:"name"`
	Pool namedRef   `json:"pool"`
}

// build is the subset of Build this module reads.
type build struct {
	ID           flexInt64   `json:"id"`
	BuildNumber  flexString  `json:"buildNumber"`
	Status       flexString  `json:"status"`
	Result       flexString  `json:"result"`
	QueueTime    flexTime    `json:"queueTime"`
	StartTime    flexTime    `json:"startTime"`
	FinishTime   flexTime    `json:"finishTime"`
	SourceBranch flexString  `json:"sourceBranch"`
	Definition   namedRef    `json:"definition"`
	Project      namedRef    `json:"project"`
	Repository   namedRef    `json:"repository"`
	RequestedBy  identityRef `json:"requestedBy"`
	RequestedFor identityRef `json:"requestedFor"`
	Queue        agentQueue  `json:"queue"`
}

type gitUserDate struct {
	Name  flexString `json:"name"`
	Email flexString `json:"email"`
	Date  flexTime   `json:"date"`
}

// gitCommit is the subset of GitCommitRef this module reads.
type gitCommit struct {
	CommitID  flexString  `json:"commitId"`
	Author    gitUserDate `json:"author"`
	Committer gitUserDate `json:"committer"`
	Comment   flexString  `json:"comment"`
}

// flexString accepts any JSON scalar. Numbers and booleans keep their
// literal text; null becomes "".
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			*s = ""
			return nil
		}
		*s = flexString(v)
	case data[0] == '{' || data[0] == '[':
		*s = ""
	default:
		*s = flexString(data)
	}
	return nil
}

func (s flexString) String() string { return string(s) }

// flexInt64 accepts a JSON number or a numeric string. Anything else is 0.
type flexInt64 int64

func (n *flexInt64) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil {
			*n = 0
			return nil
		}
		v = int64(f)
	}
	*n = flexInt64(v)
	return nil
}

// flexBool accepts true/false as JSON booleans or strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	v, err := strconv.ParseBool(text)
	*b = flexBool(err == nil && v)
	return nil
}

// flexTime accepts RFC 3339 timestamps; anything else is the zero time.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		*t = flexTime{}
		return nil
	}
	*t = flexTime(parseTime(s))
	return nil
}

func (t flexTime) Time() time.Time { return time.Time(t) }

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if v, err := time.Parse(layout, s); err == nil {
			return v.UTC()
		}
	}
	return time.Time{}
}
