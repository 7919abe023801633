package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260730-090000",
		Description: "Initial schema",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				seed_url TEXT NOT NULL,
				config_json TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				status_message TEXT,
				final_markdown TEXT,
				state_version INTEGER NOT NULL DEFAULT 1,
				progress_summary_json TEXT NOT NULL DEFAULT '{}',
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				completed_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_user_id ON jobs(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs(status) WHERE status = 'pending'`,

			`CREATE TABLE IF NOT EXISTS pages (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				url TEXT NOT NULL,
				url_hash TEXT NOT NULL,
				title TEXT,
				status TEXT NOT NULL DEFAULT 'pending',
				http_status INTEGER,
				error_message TEXT,
				depth INTEGER NOT NULL DEFAULT 0,
				discovered_from TEXT,
				quality_score INTEGER NOT NULL DEFAULT 0,
				word_count INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				crawled_at TEXT
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_pages_job_urlhash ON pages(job_id, url_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_pages_job_id ON pages(job_id)`,
			`CREATE INDEX IF NOT EXISTS idx_pages_url_hash ON pages(url_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_pages_status ON pages(status)`,

			`CREATE TABLE IF NOT EXISTS content_chunks (
				id TEXT PRIMARY KEY,
				page_id TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
				content TEXT NOT NULL,
				content_type TEXT NOT NULL DEFAULT 'markdown',
				chunk_index INTEGER NOT NULL DEFAULT 0,
				start_position INTEGER NOT NULL DEFAULT 0,
				end_position INTEGER NOT NULL DEFAULT 0,
				metadata_json TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_page_index ON content_chunks(page_id, chunk_index)`,

			// Relational event-log table. No code in this module reads or writes
			// it; the Badger-backed stream (internal/store) is the event log used
			// for SSE delivery.
			`CREATE TABLE IF NOT EXISTS sse_events (
				job_id TEXT NOT NULL,
				event_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				event_data_json TEXT NOT NULL,
				user_id TEXT NOT NULL,
				created_at TEXT NOT NULL,
				PRIMARY KEY (job_id, event_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sse_events_job ON sse_events(job_id, event_id)`,
		},
	})
}
