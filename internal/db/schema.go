package db

// Schema creates every table on a fresh database. Timestamps are unix
// milliseconds. AUTOINCREMENT keeps ids from being reused after deletes, so an
// item recreated by undo never takes over the identity of the one it replaces.
//
// history.list_id is deliberately not a foreign key: entries outlive the list
// they describe and can be restored under a new list id.
const Schema = `
CREATE TABLE IF NOT EXISTS lists (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    icon TEXT NOT NULL DEFAULT 'list',
    item_sort TEXT NOT NULL DEFAULT 'alphabetical',
    sort_order INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    list_id INTEGER NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    position INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_items_list_id ON items(list_id, completed);

CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    list_id INTEGER NOT NULL,
    item_id INTEGER,
    action TEXT NOT NULL,
    item_text TEXT NOT NULL DEFAULT '',
    provenance TEXT NOT NULL DEFAULT 'user',
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_list_ts ON history(list_id, timestamp);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
INSERT OR IGNORE INTO settings (key, value) VALUES ('list_sort', 'alphabetical');
`

// Migrations brings databases created by older builds up to date. Each
// statement is applied on its own; "duplicate column name" means it already ran.
const Migrations = `
ALTER TABLE lists ADD COLUMN item_sort TEXT NOT NULL DEFAULT 'alphabetical';
ALTER TABLE items ADD COLUMN position INTEGER NOT NULL DEFAULT 0;
ALTER TABLE history ADD COLUMN provenance TEXT NOT NULL DEFAULT 'user'
`
