package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docspasta/engine/internal/apierr"
	"github.com/docspasta/engine/internal/http/mw"
	"github.com/docspasta/engine/internal/models"
	"github.com/docspasta/engine/internal/orchestrator"
)

// DownloadHandler serves GET /jobs/{id}/download: a raw handler so the
// response can carry a non-JSON content type and a Content-Disposition
// header, exactly as the teacher's own raw-format result endpoints do.
type DownloadHandler struct {
	orch *orchestrator.Orchestrator
}

// NewDownloadHandler creates a DownloadHandler.
func NewDownloadHandler(orch *orchestrator.Orchestrator) *DownloadHandler {
	return &DownloadHandler{orch: orch}
}

func (h *DownloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	if job.Status != models.JobStatusCompleted && job.Status != models.JobStatusPartial {
		writeRawEnvelope(w, http.StatusBadRequest, apierr.Envelope{
			Success: false, Error: "job results not available", Details: "status: " + string(job.Status),
		})
		return
	}
	if job.FinalMarkdown == "" {
		writeRawEnvelope(w, http.StatusNotFound, apierr.Envelope{Success: false, Error: "no artifact for this job"})
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="crawl-%s.md"`, jobID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(job.FinalMarkdown))
}
