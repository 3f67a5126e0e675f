package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	gosync "sync"

	"github.com/sirupsen/logrus"

	"github.com/nhle/azure-tracker/internal/model"
)

// fileNames maps each kind to its cache file.
var fileNames = map[model.Kind]string{
	model.KindPullRequest: "PRs.json",
	model.KindWorkItem:    "WorkItems.json",
	model.KindBuild:       "Builds.json",
	model.KindCommit:      "Commits.json",
}

// FileName returns the cache file name of kind, or "" for KindAll.
func FileName(kind model.Kind) string {
	return fileNames[kind]
}

// JSONStore keeps one JSON file per kind in a directory. Each file is an
// object keyed by decimal record id.
type JSONStore struct {
	dir string
	log logrus.FieldLogger
	mu  gosync.Mutex
}

// NewJSONStore returns a store rooted at dir. The directory is created on
// the first Save.
func NewJSONStore(dir string, log logrus.FieldLogger) *JSONStore {
	if dir == "" {
		dir = model.DefaultCacheDir
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &JSONStore{dir: dir, log: log}
}

// Dir returns the cache directory.
func (s *JSONStore) Dir() string { return s.dir }

// Path returns the file holding kind's collection.
func (s *JSONStore) Path(kind model.Kind) string {
	return filepath.Join(s.dir, FileName(kind))
}

func (s *JSONStore) Load(kind model.Kind) (model.Collection, error) {
	if FileName(kind) == "" {
		return nil, fmt.Errorf("loading cache: unsupported kind %s", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(kind)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Collection{}, nil
		}
		return model.Collection{}, fmt.Errorf("reading cache file %s: %w", path, err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.WithFields(logrus.Fields{"kind": kind.String(), "path": path}).
			Warnf("ignoring malformed cache file: %v", err)
		return model.Collection{}, nil
	}

	return decodeEntries(kind, entries, s.log), nil
}

func (s *JSONStore) Save(kind model.Kind, c model.Collection) error {
	if FileName(kind) == "" {
		return fmt.Errorf("saving cache: unsupported kind %s", kind)
	}
	if len(c) == 0 {
		return nil
	}

	entries := make(map[string]json.RawMessage, len(c))
	for id, rec := range c {
		data, err := Encode(rec)
		if err != nil {
			return err
		}
		entries[strconv.FormatInt(id, 10)] = data
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s cache: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory %s: %w", s.dir, err)
	}
	return writeFileReplace(s.Path(kind), data)
}

func (s *JSONStore) Close() error { return nil }

// writeFileReplace writes data next to path and renames it into place so a
// reader never observes a half-written file.
func writeFileReplace(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// decodeEntries converts keyed raw records into a collection. The map key
// wins over any id stored inside the record.
func decodeEntries(kind model.Kind, entries map[string]json.RawMessage, log logrus.FieldLogger) model.Collection {
	c := make(model.Collection, len(entries))
	for key, raw := range entries {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			log.WithField("kind", kind.String()).Warnf("skipping cache entry with key %q: not an id", key)
			continue
		}
		if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			log.WithField("kind", kind.String()).Warnf("skipping cache entry %d: no record", id)
			continue
		}
		rec, err := Decode(kind, raw)
		if err != nil {
			log.WithField("kind", kind.String()).Warnf("skipping cache entry %d: %v", id, err)
			continue
		}
		rec.SetKey(id)
		c[id] = rec
	}
	return c
}
