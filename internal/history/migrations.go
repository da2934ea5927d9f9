package history

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create messages",
		SQL: `
			CREATE TABLE messages (
				seq             INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id TEXT NOT NULL,
				id              TEXT NOT NULL,
				client_id       TEXT NOT NULL DEFAULT '',
				content         TEXT NOT NULL,
				content_type    TEXT NOT NULL DEFAULT 'text',
				sender_id       TEXT NOT NULL DEFAULT '',
				sender_name     TEXT NOT NULL DEFAULT '',
				is_own          INTEGER NOT NULL DEFAULT 0,
				pending         INTEGER NOT NULL DEFAULT 0,
				timestamp       TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_messages_id ON messages (conversation_id, id);
			CREATE INDEX idx_messages_conversation ON messages (conversation_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "full-text search over message content",
		SQL: `
			CREATE VIRTUAL TABLE messages_fts USING fts5(
				content,
				content='messages',
				content_rowid='seq'
			);

			CREATE TRIGGER messages_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
			END;

			CREATE TRIGGER messages_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content)
				VALUES ('delete', old.seq, old.content);
			END;

			CREATE TRIGGER messages_au AFTER UPDATE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content)
				VALUES ('delete', old.seq, old.content);
				INSERT INTO messages_fts(rowid, content) VALUES (new.seq, new.content);
			END;

			INSERT INTO messages_fts(rowid, content) SELECT seq, content FROM messages;
		`,
	},
}
