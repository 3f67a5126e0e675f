// Package source holds the error taxonomy shared by remote service clients.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MissingWorkItemCode is the Azure DevOps error code returned when a work
// item does not exist or the caller may not read it.
const MissingWorkItemCode = "TF401232"

// AuthError indicates that authentication has failed or expired.
// It is returned by clients when a 401 response is received.
type AuthError struct {
	Organization string
	Message      string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Organization, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RequestError is a non-2xx response. Op names the operation that issued
// the request and Body holds the raw response body.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s => %d: %s", e.Op, e.StatusCode, e.Body)
}

// AsRequestError returns the RequestError in err's chain, if any.
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// serviceError is the JSON error payload Azure DevOps returns.
type serviceError struct {
	Message  string `json:"message"`
	TypeKey  string `json:"typeKey"`
	TypeName string `json:"typeName"`
}

// Message returns the human-readable message of the error payload, or the
// raw body when it is not a JSON error document.
func (e *RequestError) Message() string {
	var se serviceError
	if err := json.Unmarshal([]byte(e.Body), &se); err == nil && se.Message != "" {
		return se.Message
	}
	return e.Body
}

// IsMissingWorkItem reports whether err is the "work item does not exist, or
// you do not have permissions to read it" error.
func IsMissingWorkItem(err error) bool {
	reqErr, ok := AsRequestError(err)
	return ok && strings.Contains(reqErr.Body, MissingWorkItemCode)
}

// MissingWorkItemID extracts the id of the offending work item from a
// missing-item error. The server does not report the id in a structured
// field, so the message is scanned for the first numeric token that is one
// of the requested ids.
func MissingWorkItemID(err error, requested []int64) (int64, bool) {
	reqErr, ok := AsRequestError(err)
	if !ok {
		return 0, false
	}
	wanted := make(map[int64]bool, len(requested))
	for _, id := range requested {
		wanted[id] = true
	}
	fields := strings.FieldsFunc(reqErr.Message(), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == ':' || r == '"' || r == '\''
	})
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		if wanted[id] {
			return id, true
		}
	}
	return 0, false
}
