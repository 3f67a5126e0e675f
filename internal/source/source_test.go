package source

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAuthError(t *testing.T) {
	err := fmt.Errorf("listing: %w", &AuthError{Organization: "contoso", Message: "expired"})
	assert.True(t, IsAuthError(err))
	assert.False(t, IsAuthError(errors.New("plain")))
	assert.Equal(t, "auth error (contoso): expired", (&AuthError{Organization: "contoso", Message: "expired"}).Error())
}

func TestRequestError(t *testing.T) {
	err := &RequestError{Op: "GetPRsByProject", StatusCode: 500, Body: `{"message":"boom"}`}
	assert.Equal(t, `GetPRsByProject => 500: {"message":"boom"}`, err.Error())
	assert.Equal(t, "boom", err.Message())

	plain := &RequestError{Op: "x", StatusCode: 502, Body: "Bad Gateway"}
	assert.Equal(t, "Bad Gateway", plain.Message())

	wrapped := fmt.Errorf("syncing: %w", err)
	got, ok := AsRequestError(wrapped)
	assert.True(t, ok)
	assert.Same(t, err, got)
}

func TestMissingWorkItemID(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		requested []int64
		wantID    int64
		wantOK    bool
	}{
		{
			name:      "json message",
			body:      `{"message":"TF401232: Work item 11 does not exist, or you do not have permissions to read it.","typeKey":"WorkItemUnauthorizedAccessException"}`,
			requested: []int64{10, 11, 12},
			wantID:    11,
			wantOK:    true,
		},
		{
			name:      "raw text",
			body:      "TF401232: Work item 12 does not exist.",
			requested: []int64{12},
			wantID:    12,
			wantOK:    true,
		},
		{
			name:      "numbers outside the batch are ignored",
			body:      `{"message":"TF401232: Work item 99 does not exist in 2024, see 12."}`,
			requested: []int64{12},
			wantID:    12,
			wantOK:    true,
		},
		{
			name:      "no id in message",
			body:      `{"message":"TF401232: access denied"}`,
			requested: []int64{1},
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("batch: %w", &RequestError{Op: "GetWorkItemsByIDs", StatusCode: 404, Body: tt.body})
			assert.True(t, IsMissingWorkItem(err))

			id, ok := MissingWorkItemID(err, tt.requested)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestIsMissingWorkItem_OtherErrors(t *testing.T) {
	assert.False(t, IsMissingWorkItem(errors.New("TF401232")))
	assert.False(t, IsMissingWorkItem(&RequestError{Op: "x", StatusCode: 400, Body: "VS402337"}))

	_, ok := MissingWorkItemID(errors.New("nope"), []int64{1})
	assert.False(t, ok)
}
