package commitstore

// Timestamps are unix nanoseconds so ordering is identical on SQLite and PostgreSQL.
const schema = `
CREATE TABLE IF NOT EXISTS commits (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL DEFAULT '',
    repository TEXT NOT NULL,
    repository_url TEXT NOT NULL,
    file_path TEXT NOT NULL,
    commit_message TEXT NOT NULL,
    scheduled_at BIGINT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT NOT NULL DEFAULT '',
    failure_kind TEXT NOT NULL DEFAULT '',
    hash_id TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    processed_at BIGINT
);

CREATE INDEX IF NOT EXISTS idx_commits_status_scheduled ON commits(status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_commits_created ON commits(created_at);
CREATE INDEX IF NOT EXISTS idx_commits_batch ON commits(batch_id);
`
