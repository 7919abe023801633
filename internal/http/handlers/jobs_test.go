package handlers

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"

	"github.com/docspasta/engine/internal/models"
)

func TestCreateCrawlJob_RequiresUser(t *testing.T) {
	h := NewJobHandler(newTestHarness(t).orch)
	_, err := h.CreateCrawlJob(context.Background(), &CreateCrawlJobInput{})
	if !isStatus(err, 401) {
		t.Fatalf("expected 401 without an authenticated user, got %v", err)
	}
}

func TestCreateCrawlJob_ReturnsPendingLocationsOn202(t *testing.T) {
	h := NewJobHandler(newTestHarness(t).orch)
	input := &CreateCrawlJobInput{}
	input.Body.URL = "https://example.com/docs/"

	out, err := h.CreateCrawlJob(authedContext("user-1"), input)
	if err != nil {
		t.Fatalf("CreateCrawlJob: %v", err)
	}
	if out.Status != 202 {
		t.Fatalf("expected 202, got %d", out.Status)
	}
	if out.Body.StatusURL != "/jobs/"+out.Body.JobID+"/status" {
		t.Fatalf("unexpected statusUrl: %s", out.Body.StatusURL)
	}
	if out.Body.DetailsURL != "/jobs/"+out.Body.JobID {
		t.Fatalf("unexpected detailsUrl: %s", out.Body.DetailsURL)
	}
}

func TestCreateCrawlJob_RejectsPrivateHostWithBadInput(t *testing.T) {
	h := NewJobHandler(newTestHarness(t).orch)
	input := &CreateCrawlJobInput{}
	input.Body.URL = "http://10.0.0.5/"

	_, err := h.CreateCrawlJob(authedContext("user-1"), input)
	if !isStatus(err, 400) {
		t.Fatalf("expected 400 for a private seed host, got %v", err)
	}
}

func TestGetJob_NotFoundCrossUser(t *testing.T) {
	h := NewJobHandler(newTestHarness(t).orch)
	createInput := &CreateCrawlJobInput{}
	createInput.Body.URL = "https://example.com/docs/"
	created, err := h.CreateCrawlJob(authedContext("user-1"), createInput)
	if err != nil {
		t.Fatalf("CreateCrawlJob: %v", err)
	}

	_, err = h.GetJob(authedContext("user-2"), &GetJobInput{ID: created.Body.JobID})
	if !isStatus(err, 404) {
		t.Fatalf("expected 404 for a job owned by a different user, got %v", err)
	}
}

func TestCancelJob_ThenBatchJobStatesReportsFailed(t *testing.T) {
	h := NewJobHandler(newTestHarness(t).orch)
	createInput := &CreateCrawlJobInput{}
	createInput.Body.URL = "https://example.com/docs/"
	created, err := h.CreateCrawlJob(authedContext("user-1"), createInput)
	if err != nil {
		t.Fatalf("CreateCrawlJob: %v", err)
	}

	if _, err := h.CancelJob(authedContext("user-1"), &CancelJobInput{ID: created.Body.JobID}); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	batchInput := &BatchJobStatesInput{}
	batchInput.Body.JobIDs = []string{created.Body.JobID, "missing"}
	out, err := h.BatchJobStates(authedContext("user-1"), batchInput)
	if err != nil {
		t.Fatalf("BatchJobStates: %v", err)
	}
	entry, ok := out.Body.States[created.Body.JobID]
	if !ok {
		t.Fatalf("expected an entry for the cancelled job")
	}
	if entry.Status != string(models.JobStatusFailed) {
		t.Fatalf("expected status failed after cancel, got %q", entry.Status)
	}
	if len(out.Body.NotFound) != 1 || out.Body.NotFound[0] != "missing" {
		t.Fatalf("expected missing reported not found, got %+v", out.Body.NotFound)
	}
}

func TestListRecentJobs_RequiresUser(t *testing.T) {
	h := NewJobHandler(newTestHarness(t).orch)
	_, err := h.ListRecentJobs(context.Background(), &ListRecentJobsInput{Limit: 10})
	if !isStatus(err, 401) {
		t.Fatalf("expected 401 without an authenticated user, got %v", err)
	}
}

// isStatus reports whether err is a huma.StatusError of the given status.
// toHumaError always returns one: either the *apierr.Error itself (which
// implements huma.StatusError) or a huma.Error500InternalServerError wrapper.
func isStatus(err error, status int) bool {
	se, ok := err.(huma.StatusError)
	return ok && se.GetStatus() == status
}
