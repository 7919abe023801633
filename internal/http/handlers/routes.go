package handlers

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/docspasta/engine/internal/orchestrator"
	"github.com/docspasta/engine/internal/store"
)

// Mount wires every §6.1 endpoint onto router: huma-registered JSON
// endpoints via api, plus the raw SSE/download handlers chi dispatches
// directly (huma documents only the SSE endpoint, per RegisterDocs).
func Mount(router chi.Router, api huma.API, orch *orchestrator.Orchestrator, s *store.Store, streamCfg StreamConfig) {
	NewJobHandler(orch).Register(api)
	RegisterDocs(api)

	router.Get("/jobs/{id}/stream", NewStreamHandler(orch, s, streamCfg).ServeHTTP)
	router.Get("/jobs/{id}/download", NewDownloadHandler(orch).ServeHTTP)
}
