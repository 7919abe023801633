// Package models defines the domain entities for the crawl engine:
// Job, Page, ContentChunk and Event, per the job-lifecycle state machine.
package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle status of a crawl job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPartial   JobStatus = "partial"
)

// Terminal reports whether the status is one workers/SSE must treat as final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusPartial:
		return true
	default:
		return false
	}
}

// CrawlConfig holds the per-job crawl parameters, defaulted from config.Config.
type CrawlConfig struct {
	MaxDepth            int           `json:"max_depth"`
	MaxPages            int           `json:"max_pages"`
	QualityThreshold    int           `json:"quality_threshold"`
	Concurrency         int           `json:"concurrency"`
	PerPageTimeout      time.Duration `json:"per_page_timeout"`
	RespectRobotsTxt    bool          `json:"respect_robots_txt"`
	Delay               time.Duration `json:"delay"`
	FollowExternalLinks bool          `json:"follow_external_links"`
}

// ProgressSummary is the atomic progress hash for a job (spec §4.6),
// snapshotted into the job row for cheap status reads.
type ProgressSummary struct {
	Discovered int `json:"discovered"`
	Queued     int `json:"queued"`
	Processed  int `json:"processed"`
	Filtered   int `json:"filtered"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Job represents a single crawl job, owned by exactly one user.
type Job struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	SeedURL         string          `json:"seed_url"`
	Config          CrawlConfig     `json:"config"`
	Status          JobStatus       `json:"status"`
	StatusMessage   string          `json:"status_message,omitempty"`
	FinalMarkdown   string          `json:"final_markdown,omitempty"`
	StateVersion    int             `json:"state_version"`
	ProgressSummary ProgressSummary `json:"progress_summary"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// PageStatus represents the crawl state of a single discovered URL.
type PageStatus string

const (
	PageStatusPending PageStatus = "pending"
	PageStatusCrawled PageStatus = "crawled"
	PageStatusError   PageStatus = "error"
	PageStatusSkipped PageStatus = "skipped"
)

// Page represents a single discovered URL within a job.
// (job_id, url_hash) is the durable dedup ledger (spec §4.4, §6.2).
type Page struct {
	ID             string     `json:"id"`
	JobID          string     `json:"job_id"`
	URL            string     `json:"url"`
	URLHash        string     `json:"url_hash"`
	Title          string     `json:"title,omitempty"`
	Status         PageStatus `json:"status"`
	HTTPStatus     *int       `json:"http_status,omitempty"`
	Error          string     `json:"error,omitempty"`
	Depth          int        `json:"depth"`
	DiscoveredFrom string     `json:"discovered_from,omitempty"`
	QualityScore   int        `json:"quality_score"`
	WordCount      int        `json:"word_count"`
	CreatedAt      time.Time  `json:"created_at"`
	CrawledAt      *time.Time `json:"crawled_at,omitempty"`
}

// ContentChunkType distinguishes the processing stage of a chunk's content.
type ContentChunkType string

const (
	ContentChunkRaw       ContentChunkType = "raw"
	ContentChunkMarkdown  ContentChunkType = "markdown"
	ContentChunkProcessed ContentChunkType = "processed"
)

// ContentChunk is an ordered slice of a Page's extracted content.
// Chunks of a page, concatenated in ChunkIndex order, reconstruct its Markdown.
type ContentChunk struct {
	ID           string           `json:"id"`
	PageID       string           `json:"page_id"`
	Content      string           `json:"content"`
	ContentType  ContentChunkType `json:"content_type"`
	ChunkIndex   int              `json:"chunk_index"`
	StartPos     int              `json:"start_position,omitempty"`
	EndPos       int              `json:"end_position,omitempty"`
	Metadata     json.RawMessage  `json:"metadata,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// EventType enumerates the complete set of event payload shapes a client must
// handle (spec §4.7).
type EventType string

const (
	EventStreamConnected EventType = "stream_connected"
	EventURLStarted      EventType = "url_started"
	EventURLCrawled      EventType = "url_crawled"
	EventURLsDiscovered  EventType = "urls_discovered"
	EventBatchStarted    EventType = "batch_started"
	EventBatchCompleted  EventType = "batch_completed"
	EventBatchError      EventType = "batch_error"
	EventSentToProcessing EventType = "sent_to_processing"
	EventContentProcessed EventType = "content_processed"
	EventProgress        EventType = "progress"
	EventWorkerError     EventType = "worker_error"
	EventJobCompleted    EventType = "job_completed"
	EventJobFailed       EventType = "job_failed"
	EventReconnect       EventType = "reconnect"
	EventHeartbeat       EventType = "heartbeat"
	EventProcessingError EventType = "processing_error"
)

// Event describes a single append-only entry in a job's event log. The
// Badger-backed log in internal/store keeps its own store.Event, whose
// integer ID is monotonic per job; no code in this module fills this type.
type Event struct {
	EventID   string          `json:"event_id"`
	JobID     string          `json:"job_id"`
	UserID    string          `json:"user_id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
