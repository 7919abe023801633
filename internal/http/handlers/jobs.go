// Package handlers implements the public HTTP surface (spec §6.1): job
// creation/lookup/cancellation over huma, and the SSE/download endpoints as
// raw chi handlers; the SSE endpoint is also registered with huma, for
// OpenAPI documentation only.
package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/docspasta/engine/internal/apierr"
	"github.com/docspasta/engine/internal/http/mw"
	"github.com/docspasta/engine/internal/models"
	"github.com/docspasta/engine/internal/orchestrator"
)

// JobHandler wires the orchestrator into huma-registered endpoints.
type JobHandler struct {
	orch *orchestrator.Orchestrator
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(orch *orchestrator.Orchestrator) *JobHandler {
	return &JobHandler{orch: orch}
}

// toHumaError wraps the given handler error into a huma.StatusError. apierr.Error
// already implements GetStatus, so huma can return it directly; this only
// exists to give unmapped errors a safe 500 default.
func toHumaError(err error) error {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return huma.Error500InternalServerError("internal error", err)
}

// CreateCrawlJobInput is the body of POST /crawl.
type CreateCrawlJobInput struct {
	Body struct {
		URL    string `json:"url" minLength:"1" format:"uri" example:"https://docs.example.com/" doc:"Seed URL to start crawling from"`
		Config struct {
			MaxDepth            int           `json:"max_depth,omitempty" maximum:"10" doc:"Maximum link-following depth from the seed URL"`
			MaxPages            int           `json:"max_pages,omitempty" maximum:"5000" doc:"Soft cap on total pages admitted into the job"`
			QualityThreshold    int           `json:"quality_threshold,omitempty" doc:"Minimum quality score for a page to be included in the final artifact"`
			Concurrency         int           `json:"concurrency,omitempty" maximum:"20" doc:"Simultaneous fetches per worker"`
			PerPageTimeout      time.Duration `json:"per_page_timeout,omitempty" doc:"Per-fetch timeout"`
			RespectRobotsTxt    bool          `json:"respect_robots_txt,omitempty" doc:"Stored with the job's config; the crawler does not fetch or consult robots.txt"`
			Delay               time.Duration `json:"delay,omitempty" doc:"Delay between a worker's successive batches"`
			FollowExternalLinks bool          `json:"follow_external_links,omitempty" doc:"Cross the seed's origin when following discovered links"`
		} `json:"config,omitempty" doc:"Optional per-job overrides of the crawl defaults"`
	}
}

// CreateCrawlJobOutput is the 202 response body for POST /crawl.
type CreateCrawlJobOutput struct {
	Status int `header:"Status-Code"`
	Body   struct {
		JobID      string `json:"jobId" doc:"Unique job identifier"`
		Status     string `json:"status" example:"running" doc:"Job status after creation"`
		StatusURL  string `json:"statusUrl" doc:"URL to poll for job status"`
		DetailsURL string `json:"detailsUrl" doc:"URL for full job detail"`
	}
}

// CreateCrawlJob handles POST /crawl (spec §6.1 create_job).
func (h *JobHandler) CreateCrawlJob(ctx context.Context, input *CreateCrawlJobInput) (*CreateCrawlJobOutput, error) {
	userID := mw.GetUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	cfg := models.CrawlConfig{
		MaxDepth:            input.Body.Config.MaxDepth,
		MaxPages:            input.Body.Config.MaxPages,
		QualityThreshold:    input.Body.Config.QualityThreshold,
		Concurrency:         input.Body.Config.Concurrency,
		PerPageTimeout:      input.Body.Config.PerPageTimeout,
		RespectRobotsTxt:    input.Body.Config.RespectRobotsTxt,
		Delay:               input.Body.Config.Delay,
		FollowExternalLinks: input.Body.Config.FollowExternalLinks,
	}

	job, err := h.orch.CreateJob(ctx, userID, input.Body.URL, cfg)
	if err != nil {
		return nil, toHumaError(err)
	}

	out := &CreateCrawlJobOutput{Status: 202}
	out.Body.JobID = job.ID
	out.Body.Status = string(job.Status)
	out.Body.StatusURL = "/jobs/" + job.ID + "/status"
	out.Body.DetailsURL = "/jobs/" + job.ID
	return out, nil
}

// GetJobStatusInput is the path input for GET /jobs/{id}/status.
type GetJobStatusInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// GetJobStatusOutput is the body of GET /jobs/{id}/status.
type GetJobStatusOutput struct {
	Body struct {
		Status          string                 `json:"status"`
		TotalProcessed  int                    `json:"totalProcessed"`
		TotalDiscovered int                    `json:"totalDiscovered"`
		TotalWords      int                    `json:"totalWords"`
		StateVersion    int                    `json:"stateVersion"`
		ProgressSummary models.ProgressSummary `json:"progressSummary"`
		CreatedAt       time.Time              `json:"createdAt"`
		UpdatedAt       time.Time              `json:"updatedAt"`
		CompletedAt     *time.Time             `json:"completedAt,omitempty"`
		Error           string                 `json:"error,omitempty"`
	}
}

// GetJobStatus handles GET /jobs/{id}/status.
func (h *JobHandler) GetJobStatus(ctx context.Context, input *GetJobStatusInput) (*GetJobStatusOutput, error) {
	userID := mw.GetUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}
	job, err := h.orch.GetJob(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}

	out := &GetJobStatusOutput{}
	out.Body.Status = string(job.Status)
	out.Body.TotalProcessed = job.ProgressSummary.Processed
	out.Body.TotalDiscovered = job.ProgressSummary.Discovered
	out.Body.StateVersion = job.StateVersion
	out.Body.ProgressSummary = job.ProgressSummary
	out.Body.CreatedAt = job.CreatedAt
	out.Body.UpdatedAt = job.UpdatedAt
	out.Body.CompletedAt = job.CompletedAt
	out.Body.Error = job.StatusMessage
	return out, nil
}

// GetJobInput is the path input for GET /jobs/{id}.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// GetJobOutput is the full job detail body of GET /jobs/{id}.
type GetJobOutput struct {
	Body *models.Job
}

// GetJob handles GET /jobs/{id}.
func (h *JobHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	userID := mw.GetUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}
	job, err := h.orch.GetJob(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &GetJobOutput{Body: job}, nil
}

// ListRecentJobsInput is the query input for GET /jobs.
type ListRecentJobsInput struct {
	Since time.Time `query:"since" doc:"Only return jobs created at or after this time"`
	Limit int       `query:"limit" default:"50" maximum:"200" doc:"Maximum number of jobs to return"`
}

// ListRecentJobsOutput is the body of GET /jobs.
type ListRecentJobsOutput struct {
	Body struct {
		Jobs []*models.Job `json:"jobs"`
	}
}

// ListRecentJobs handles GET /jobs (spec §4.9 list_recent_jobs).
func (h *JobHandler) ListRecentJobs(ctx context.Context, input *ListRecentJobsInput) (*ListRecentJobsOutput, error) {
	userID := mw.GetUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}
	jobs, err := h.orch.ListRecentJobs(ctx, userID, input.Since, input.Limit)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &ListRecentJobsOutput{}
	out.Body.Jobs = jobs
	return out, nil
}

// CancelJobInput is the path input for DELETE /jobs/{id}.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// CancelJobOutput is the {success:true} response for a successful cancellation.
type CancelJobOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// CancelJob handles DELETE /jobs/{id}.
func (h *JobHandler) CancelJob(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	userID := mw.GetUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}
	if err := h.orch.CancelJob(ctx, userID, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	out := &CancelJobOutput{}
	out.Body.Success = true
	return out, nil
}

// BatchJobStatesInput is the body of POST /jobs/batch-state.
type BatchJobStatesInput struct {
	Body struct {
		JobIDs []string `json:"jobIds" maxItems:"20" doc:"Job ids to summarize, at most 20"`
	}
}

// JobStateEntry is one job's entry in the batch_job_states response.
type JobStateEntry struct {
	Status          string   `json:"status"`
	TotalProcessed  int      `json:"totalProcessed"`
	TotalDiscovered int      `json:"totalDiscovered"`
	RecentActivity  []string `json:"recentActivity"`
	LastEventID     uint64   `json:"lastEventId"`
	Error           string   `json:"error,omitempty"`
}

// BatchJobStatesOutput is the body of POST /jobs/batch-state.
type BatchJobStatesOutput struct {
	Body struct {
		States    map[string]JobStateEntry `json:"states"`
		NotFound  []string                 `json:"notFound"`
	}
}

// BatchJobStates handles POST /jobs/batch-state (spec §4.9 batch_job_states).
func (h *JobHandler) BatchJobStates(ctx context.Context, input *BatchJobStatesInput) (*BatchJobStatesOutput, error) {
	userID := mw.GetUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	summaries, notFound, err := h.orch.BatchJobStates(ctx, userID, input.Body.JobIDs)
	if err != nil {
		return nil, toHumaError(err)
	}

	out := &BatchJobStatesOutput{}
	out.Body.States = make(map[string]JobStateEntry, len(summaries))
	out.Body.NotFound = notFound
	if out.Body.NotFound == nil {
		out.Body.NotFound = []string{}
	}
	for _, s := range summaries {
		activity := make([]string, 0, len(s.RecentEvents))
		var lastEventID uint64
		for _, ev := range s.RecentEvents {
			activity = append(activity, ev.Kind)
			lastEventID = ev.ID
		}
		out.Body.States[s.Job.ID] = JobStateEntry{
			Status:          string(s.Job.Status),
			TotalProcessed:  s.Job.ProgressSummary.Processed,
			TotalDiscovered: s.Job.ProgressSummary.Discovered,
			RecentActivity:  activity,
			LastEventID:     lastEventID,
			Error:           s.Job.StatusMessage,
		}
	}
	return out, nil
}

// Register wires every huma-registered endpoint onto api.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "createCrawlJob", Method: "POST", Path: "/crawl",
		Summary: "Start a crawl job", Tags: []string{"Jobs"},
	}, h.CreateCrawlJob)

	huma.Register(api, huma.Operation{
		OperationID: "getJobStatus", Method: "GET", Path: "/jobs/{id}/status",
		Summary: "Get a job's status summary", Tags: []string{"Jobs"},
	}, h.GetJobStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getJob", Method: "GET", Path: "/jobs/{id}",
		Summary: "Get full job detail", Tags: []string{"Jobs"},
	}, h.GetJob)

	huma.Register(api, huma.Operation{
		OperationID: "listRecentJobs", Method: "GET", Path: "/jobs",
		Summary: "List recent jobs", Tags: []string{"Jobs"},
	}, h.ListRecentJobs)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob", Method: "DELETE", Path: "/jobs/{id}",
		Summary: "Cancel a running job", Tags: []string{"Jobs"},
	}, h.CancelJob)

	huma.Register(api, huma.Operation{
		OperationID: "batchJobStates", Method: "POST", Path: "/jobs/batch-state",
		Summary: "Summarize several jobs in one round trip", Tags: []string{"Jobs"},
	}, h.BatchJobStates)
}
