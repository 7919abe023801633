package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"

	"github.com/docspasta/engine/internal/apierr"
	"github.com/docspasta/engine/internal/http/mw"
	"github.com/docspasta/engine/internal/models"
	"github.com/docspasta/engine/internal/orchestrator"
	"github.com/docspasta/engine/internal/store"
)

// StreamConfig bounds a single SSE connection (spec §4.11).
type StreamConfig struct {
	WallClock         time.Duration
	HeartbeatInterval time.Duration
	BlockReadTimeout  time.Duration
	BatchSize         int
}

// StreamHandler serves GET /jobs/{id}/stream as a raw chi handler: huma's
// request/response cycle doesn't fit a connection that writes many events
// over one long-lived response, so this bypasses it exactly as the teacher's
// own StreamResults does, and registers a placeholder with huma/v2/sse only
// for OpenAPI documentation.
type StreamHandler struct {
	orch  *orchestrator.Orchestrator
	store *store.Store
	cfg   StreamConfig
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(orch *orchestrator.Orchestrator, s *store.Store, cfg StreamConfig) *StreamHandler {
	return &StreamHandler{orch: orch, store: s, cfg: cfg}
}

// ServeHTTP implements the §4.11 per-connection protocol.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := mw.GetUserID(r.Context())
	if userID == "" {
		writeRawEnvelope(w, http.StatusUnauthorized, apierr.Envelope{Success: false, Error: "unauthorized"})
		return
	}
	jobID := chi.URLParam(r, "id")

	job, err := h.orch.GetJob(r.Context(), userID, jobID)
	if err != nil {
		status, env := apierr.ToEnvelope(err)
		writeRawEnvelope(w, status, env)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRawEnvelope(w, http.StatusInternalServerError, apierr.Envelope{Success: false, Error: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Best effort: long-lived SSE connections outlive any fixed write deadline.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sendSSEEvent(w, flusher, string(models.EventStreamConnected), map[string]any{"job_id": jobID})

	if job.Status.Terminal() {
		sendTerminalEvent(w, flusher, job)
		return
	}

	cursor := resumeCursor(r)
	deadline := time.Now().Add(h.cfg.WallClock)
	lastActivity := time.Now()

	ctx := r.Context()
	for {
		if ctx.Err() != nil {
			return
		}
		if time.Now().After(deadline) {
			sendSSEEvent(w, flusher, string(models.EventReconnect), map[string]any{"reason": "function_timeout"})
			return
		}

		blockCtx, cancel := context.WithTimeout(ctx, h.cfg.BlockReadTimeout)
		events, err := h.store.AwaitEvents(blockCtx, userID, jobID, cursor, h.cfg.BlockReadTimeout)
		cancel()
		if err != nil && ctx.Err() != nil {
			return
		}

		if len(events) == 0 {
			job, err = h.orch.GetJob(ctx, userID, jobID)
			if err == nil && job.Status.Terminal() {
				more, _ := h.store.EventsSince(ctx, userID, jobID, cursor)
				if len(more) == 0 {
					sendTerminalEvent(w, flusher, job)
					return
				}
				continue
			}
			if time.Since(lastActivity) >= h.cfg.HeartbeatInterval {
				sendSSEHeartbeat(w, flusher)
				lastActivity = time.Now()
			}
			continue
		}

		if len(events) > h.cfg.BatchSize {
			events = events[:h.cfg.BatchSize]
		}
		for _, ev := range events {
			emitStoreEvent(w, flusher, ev)
			cursor = ev.ID
		}
		lastActivity = time.Now()
	}
}

// resumeCursor resolves the resume cursor per spec §4.11: Last-Event-ID
// header, else ?resumeAt=, else 0.
func resumeCursor(r *http.Request) uint64 {
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	if v := r.URL.Query().Get("resumeAt"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// emitStoreEvent writes one event-log entry as an SSE frame, or a
// synthesized processing_error for a poison-pill entry whose data cannot be
// decoded, so a single bad entry never stalls the connection.
func emitStoreEvent(w http.ResponseWriter, flusher http.Flusher, ev store.Event) {
	var payload any
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			sendSSEEventWithID(w, flusher, string(models.EventProcessingError), map[string]any{
				"original_kind": ev.Kind, "error": "undecodable event payload",
			}, ev.ID)
			return
		}
	}
	sendSSEEventWithID(w, flusher, ev.Kind, payload, ev.ID)
}

func sendTerminalEvent(w http.ResponseWriter, flusher http.Flusher, job *models.Job) {
	kind := models.EventJobCompleted
	if job.Status == models.JobStatusFailed {
		kind = models.EventJobFailed
	}
	sendSSEEvent(w, flusher, string(kind), map[string]any{
		"job_id": job.ID, "status": string(job.Status), "status_message": job.StatusMessage,
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	flusher.Flush()
}

func sendSSEEventWithID(w http.ResponseWriter, flusher http.Flusher, event string, data any, id uint64) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\nid: %d\n\n", event, jsonData, id)
	flusher.Flush()
}

func sendSSEHeartbeat(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = fmt.Fprint(w, ": heartbeat\n\n")
	flusher.Flush()
}

func writeRawEnvelope(w http.ResponseWriter, status int, env apierr.Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// sseStreamInput documents the path/header/query shape of the stream
// endpoint for OpenAPI purposes; the real request is handled by StreamHandler.
type sseStreamInput struct {
	ID          string `path:"id"`
	LastEventID string `header:"Last-Event-ID"`
	ResumeAt    uint64 `query:"resumeAt"`
}

// RegisterDocs registers the SSE endpoint with huma for OpenAPI documentation
// only, mirroring the teacher's sse.Register placeholder pattern: the actual
// SSE traffic is served by StreamHandler wired directly into the chi router.
func RegisterDocs(api huma.API) {
	sse.Register(api, huma.Operation{
		OperationID: "streamJobEvents",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/stream",
		Summary:     "Stream a job's event log over SSE",
		Tags:        []string{"Jobs"},
	}, map[string]any{
		string(models.EventStreamConnected): map[string]any{"job_id": ""},
		string(models.EventJobCompleted):    map[string]any{"job_id": "", "status": ""},
		string(models.EventJobFailed):       map[string]any{"job_id": "", "status": ""},
		string(models.EventReconnect):       map[string]any{"reason": ""},
	}, func(ctx context.Context, input *sseStreamInput, send sse.Sender) {
		<-ctx.Done()
	})
}
