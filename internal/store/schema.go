package store

// Schema v1 - Initial database schema
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Items (tracks) known to any source
CREATE TABLE IF NOT EXISTS items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  catalog_id TEXT UNIQUE,
  desktop_id TEXT UNIQUE,
  title TEXT NOT NULL DEFAULT '',
  artist TEXT NOT NULL DEFAULT '',
  album TEXT,
  year INTEGER DEFAULT 0,
  isrc TEXT,
  duration_ms INTEGER DEFAULT 0,
  match_key TEXT NOT NULL DEFAULT '',
  fetch_status TEXT NOT NULL DEFAULT 'not_fetched',
  fetch_error TEXT,
  fetched_at DATETIME,
  unavailable INTEGER NOT NULL DEFAULT 0,
  sha1 TEXT,
  size_bytes INTEGER DEFAULT 0,
  format TEXT NOT NULL DEFAULT '',
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_items_match_key ON items(match_key);
CREATE INDEX IF NOT EXISTS idx_items_fetch_status ON items(fetch_status);

-- Known on-disk locations per item, relative to the library root.
-- An item may live at several paths (one copy per collection directory).
-- Size and mtime let the scanner skip files it has already read.
CREATE TABLE IF NOT EXISTS item_paths (
  item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
  rel_path TEXT NOT NULL,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  mtime_unix INTEGER NOT NULL DEFAULT 0,
  added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (item_id, rel_path)
);

CREATE INDEX IF NOT EXISTS idx_item_paths_rel_path ON item_paths(rel_path);

-- Collections (playlists)
CREATE TABLE IF NOT EXISTS collections (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  catalog_id TEXT UNIQUE,
  desktop_id TEXT UNIQUE,
  name TEXT NOT NULL,
  description TEXT,
  folder TEXT NOT NULL DEFAULT '',
  catalog_count INTEGER DEFAULT 0,
  local_count INTEGER DEFAULT 0,
  desktop_count INTEGER DEFAULT 0,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_collections_name ON collections(name);

-- Collection/item edges with one presence flag per source.
-- A row with all three flags false is dead and is removed by the purge pass.
CREATE TABLE IF NOT EXISTS memberships (
  collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
  item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
  position INTEGER,
  in_catalog INTEGER NOT NULL DEFAULT 0,
  in_local INTEGER NOT NULL DEFAULT 0,
  in_desktop INTEGER NOT NULL DEFAULT 0,
  catalog_first_seen DATETIME,
  catalog_removed_at DATETIME,
  local_first_seen DATETIME,
  local_removed_at DATETIME,
  desktop_first_seen DATETIME,
  desktop_removed_at DATETIME,
  PRIMARY KEY (collection_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_memberships_item ON memberships(item_id);
CREATE INDEX IF NOT EXISTS idx_memberships_flags ON memberships(in_catalog, in_local, in_desktop);

-- One row per reconciliation run
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  finished_at DATETIME,
  dry_run INTEGER NOT NULL DEFAULT 0,
  changes_detected INTEGER NOT NULL DEFAULT 0,
  decisions_made INTEGER NOT NULL DEFAULT 0,
  decisions_executed INTEGER NOT NULL DEFAULT 0,
  decisions_failed INTEGER NOT NULL DEFAULT 0,
  error TEXT
);
`
