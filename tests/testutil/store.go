package testutil

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/nhle/azure-tracker/internal/cache"
	"github.com/nhle/azure-tracker/internal/model"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *cache.SQLiteStore {
	t.Helper()

	s, err := cache.NewSQLiteStore(cache.MemoryDSN, NewLogger())
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewLogger returns a logger that discards its output.
func NewLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

// Config returns a configuration pointing at the fake server with caching
// in dir.
func Config(f *FakeAzure, dir string) model.Config {
	cfg := *model.DefaultConfig()
	cfg.Organization = Organization
	cfg.PAT = Token
	cfg.BaseURL = f.BaseURL()
	cfg.Cache.Dir = dir
	return cfg
}
