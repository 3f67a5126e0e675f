package cache

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	kind       TEXT NOT NULL,
	id         INTEGER NOT NULL,
	project    TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	saved_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (kind, id)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS saves (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	count      INTEGER NOT NULL,
	saved_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_project ON records(kind, project);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
