package store

// Schema contains SQL schema definitions for the board snapshot
const Schema = `
-- One row per card; position keeps the merge order of the snapshot
CREATE TABLE IF NOT EXISTS messages (
    position INTEGER PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    uid INTEGER NOT NULL,
    subject TEXT NOT NULL,
    sender TEXT NOT NULL,
    recipient TEXT NOT NULL DEFAULT '',
    date TEXT NOT NULL,
    date_estimated INTEGER NOT NULL DEFAULT 0,
    body_text TEXT NOT NULL DEFAULT '',
    body_html TEXT NOT NULL DEFAULT '',
    preview TEXT NOT NULL DEFAULT '',
    board_column TEXT NOT NULL,
    folder TEXT NOT NULL,
    fetched_at TEXT NOT NULL DEFAULT '',
    last_modified TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_messages_column ON messages(board_column);
CREATE INDEX IF NOT EXISTS idx_messages_folder_uid ON messages(folder, uid);
`
