// Package cache persists the per-kind record collections between sessions.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nhle/azure-tracker/internal/model"
)

// Store loads and saves one collection per record kind.
//
// Load never reports malformed content as an error: unreadable entries are
// logged and skipped, and a corrupt file yields an empty collection.
// A missing cache yields an empty collection as well.
type Store interface {
	Load(kind model.Kind) (model.Collection, error)

	// Save replaces the stored collection of kind. Saving an empty
	// collection leaves the stored one untouched.
	Save(kind model.Kind, c model.Collection) error

	Close() error
}

// Open returns the store selected by cfg.Backend.
func Open(cfg model.CacheConfig, log logrus.FieldLogger) (Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	switch cfg.Backend {
	case "", model.CacheBackendJSON:
		return NewJSONStore(cfg.Dir, log), nil
	case model.CacheBackendSQLite:
		return NewSQLiteStore(cfg.Dir, log)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Encode serializes a record field by field using its JSON tags.
func Encode(rec model.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("encoding record: nil record")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding %s %d: %w", rec.Kind(), rec.Key(), err)
	}
	return data, nil
}

// Decode rebuilds a record of the given kind from its serialized form.
func Decode(kind model.Kind, data []byte) (model.Record, error) {
	rec := model.New(kind)
	if rec == nil {
		return nil, fmt.Errorf("decoding record: unsupported kind %s", kind)
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", kind, err)
	}
	return rec, nil
}
