package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nhle/azure-tracker/internal/model"
)

// DatabaseFile is the SQLite file created inside the cache directory.
const DatabaseFile = "cache.db"

// MemoryDSN opens a private in-memory database instead of a file.
const MemoryDSN = ":memory:"

// SQLiteStore implements Store on a local SQLite database. Records are
// kept as the same JSON documents the file store writes, one row each.
type SQLiteStore struct {
	db  *sqlx.DB
	log logrus.FieldLogger
}

// SaveInfo describes the most recent save of one kind.
type SaveInfo struct {
	ID      string    `db:"id"`
	Kind    string    `db:"kind"`
	Count   int       `db:"count"`
	SavedAt time.Time `db:"saved_at"`
}

type recordRow struct {
	ID   int64  `db:"id"`
	Data string `db:"data"`
}

// NewSQLiteStore opens (or creates) dir/cache.db, enables WAL mode, and
// runs any pending schema migrations. dir may be MemoryDSN.
func NewSQLiteStore(dir string, log logrus.FieldLogger) (*SQLiteStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	dsn := dir
	if dir != MemoryDSN {
		if dir == "" {
			dir = model.DefaultCacheDir
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
		}
		dsn = filepath.Join(dir, DatabaseFile)
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

func (s *SQLiteStore) Load(kind model.Kind) (model.Collection, error) {
	if FileName(kind) == "" {
		return nil, fmt.Errorf("loading cache: unsupported kind %s", kind)
	}

	var rows []recordRow
	err := s.db.Select(&rows, "SELECT id, data FROM records WHERE kind = ? ORDER BY id", kind.String())
	if err != nil {
		return model.Collection{}, fmt.Errorf("querying %s records: %w", kind, err)
	}

	c := make(model.Collection, len(rows))
	for _, row := range rows {
		rec, err := Decode(kind, []byte(row.Data))
		if err != nil {
			s.log.WithField("kind", kind.String()).Warnf("skipping cache row %d: %v", row.ID, err)
			continue
		}
		rec.SetKey(row.ID)
		c[row.ID] = rec
	}
	return c, nil
}

// Save replaces every row of kind in one transaction and records the save.
func (s *SQLiteStore) Save(kind model.Kind, c model.Collection) error {
	if FileName(kind) == "" {
		return fmt.Errorf("saving cache: unsupported kind %s", kind)
	}
	if len(c) == 0 {
		return nil
	}

	ctx := context.Background()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE kind = ?", kind.String()); err != nil {
		return fmt.Errorf("clearing %s records: %w", kind, err)
	}

	stmt, err := tx.PreparexContext(ctx,
		"INSERT INTO records (kind, id, project, data, saved_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, id := range c.IDs() {
		rec := c[id]
		data, err := Encode(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, kind.String(), id, rec.Common().ProjectName, string(data), now); err != nil {
			return fmt.Errorf("inserting %s %d: %w", kind, id, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO saves (id, kind, count, saved_at) VALUES (?, ?, ?, ?)",
		uuid.NewString(), kind.String(), len(c), now)
	if err != nil {
		return fmt.Errorf("recording %s save: %w", kind, err)
	}

	return tx.Commit()
}

// LastSave returns the most recent save of kind, or nil when it was never saved.
func (s *SQLiteStore) LastSave(kind model.Kind) (*SaveInfo, error) {
	var infos []SaveInfo
	err := s.db.Select(&infos,
		"SELECT id, kind, count, saved_at FROM saves WHERE kind = ? ORDER BY saved_at DESC, rowid DESC LIMIT 1",
		kind.String())
	if err != nil {
		return nil, fmt.Errorf("querying %s saves: %w", kind, err)
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return &infos[0], nil
}
