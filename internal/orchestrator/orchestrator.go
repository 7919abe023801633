// Package orchestrator implements the Job Manager (spec §4.9): job creation,
// lookup and cancellation, and the fixed-size initial worker pool spawn.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/docspasta/engine/internal/apierr"
	"github.com/docspasta/engine/internal/config"
	"github.com/docspasta/engine/internal/crawl/extractor"
	"github.com/docspasta/engine/internal/crawl/sitemap"
	"github.com/docspasta/engine/internal/crawl/urlnorm"
	"github.com/docspasta/engine/internal/finalizer"
	"github.com/docspasta/engine/internal/models"
	"github.com/docspasta/engine/internal/repository"
	"github.com/docspasta/engine/internal/store"
	"github.com/docspasta/engine/internal/worker"
)

// maxBatchStateIDs bounds a single batch_job_states call (spec §6.1).
const maxBatchStateIDs = 20

// recentEventsPerJob bounds the inline event tail batch_job_states attaches
// to each job summary (spec §4.9).
const recentEventsPerJob = 10

// Orchestrator owns job lifecycle operations and spawns the initial worker
// pool for a newly created job.
type Orchestrator struct {
	store     *store.Store
	jobRepo   *repository.JobRepository
	pageRepo  *repository.PageRepository
	chunkRepo *repository.ChunkRepository
	extractor *extractor.Extractor
	finalizer *finalizer.Finalizer
	sitemap   *sitemap.Discoverer
	cfg       *config.Config
	logger    *slog.Logger

	liveWorkers int64
}

// New creates an Orchestrator.
func New(
	s *store.Store,
	jobRepo *repository.JobRepository,
	pageRepo *repository.PageRepository,
	chunkRepo *repository.ChunkRepository,
	ext *extractor.Extractor,
	fin *finalizer.Finalizer,
	cfg *config.Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store: s, jobRepo: jobRepo, pageRepo: pageRepo, chunkRepo: chunkRepo,
		extractor: ext, finalizer: fin, sitemap: sitemap.New(cfg.SitemapTimeout),
		cfg: cfg, logger: logger.With("component", "orchestrator"),
	}
}

// CreateJob validates seedURL, writes the job and its seed Page row, enqueues
// the seed task at depth 0, transitions the job to running, and spawns
// cfg.InitialWorkers workers against it (spec §4.9 create_job).
func (o *Orchestrator) CreateJob(ctx context.Context, userID, seedURL string, overrides models.CrawlConfig) (*models.Job, error) {
	canonical, err := validateSeedURL(seedURL)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:        ulid.Make().String(),
		UserID:    userID,
		SeedURL:   canonical,
		Config:    o.resolveConfig(overrides),
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := o.jobRepo.Create(ctx, job); err != nil {
		return nil, apierr.Internal(fmt.Errorf("create job: %w", err))
	}

	seedHash := urlnorm.Hash(canonical)
	seedPage := &models.Page{
		ID: ulid.Make().String(), JobID: job.ID, URL: canonical, URLHash: seedHash,
		Depth: 0, CreatedAt: time.Now(),
	}
	if _, _, err := o.pageRepo.UpsertPending(ctx, seedPage); err != nil {
		return nil, apierr.Internal(fmt.Errorf("upsert seed page: %w", err))
	}
	if _, err := o.store.AddIfAbsent(ctx, userID, job.ID, seedHash); err != nil {
		return nil, apierr.Internal(fmt.Errorf("seed dedup admission: %w", err))
	}
	if err := o.store.EnqueueMany(ctx, userID, job.ID, []store.QueueItem{{URL: canonical, URLHash: seedHash, Depth: 0}}); err != nil {
		return nil, apierr.Internal(fmt.Errorf("enqueue seed: %w", err))
	}
	if err := o.store.IncrementProgress(ctx, userID, job.ID, store.ProgressDelta{Discovered: 1, Queued: 1}); err != nil {
		o.logger.Warn("failed to record seed in progress hash", "job_id", job.ID, "error", err)
	}

	o.seedFromSitemap(ctx, userID, job)

	if err := o.jobRepo.UpdateStatus(ctx, userID, job.ID, models.JobStatusRunning, ""); err != nil {
		return nil, apierr.Internal(fmt.Errorf("transition job to running: %w", err))
	}
	job.Status = models.JobStatusRunning

	o.spawnInitialWorkers(userID, job.ID)
	return job, nil
}

// seedFromSitemap implements the spec's sitemap-first discovery: it fetches
// sitemap.xml for the job's seed host and admits every URL it finds through
// the same scope/dedup pipeline as link discovery, before any worker starts
// crawling. A missing or unparseable sitemap is not an error for job
// creation; it just means no supplemental seeds beyond the seed URL itself.
func (o *Orchestrator) seedFromSitemap(ctx context.Context, userID string, job *models.Job) {
	scope, err := urlnorm.NewScope(job.SeedURL, job.Config.FollowExternalLinks)
	if err != nil {
		o.logger.Warn("failed to derive scope for sitemap discovery", "job_id", job.ID, "error", err)
		return
	}

	urls, err := o.sitemap.Discover(ctx, job.SeedURL)
	if err != nil {
		o.logger.Info("sitemap discovery unavailable, continuing from seed only", "job_id", job.ID, "error", err)
		return
	}
	if len(urls) == 0 {
		return
	}

	admitted := make([]store.QueueItem, 0, len(urls))
	for _, u := range urls {
		canonical, err := urlnorm.Normalize(u, nil)
		if err != nil {
			continue
		}
		if ok, _ := urlnorm.Admit(canonical, scope); !ok {
			continue
		}
		hash := urlnorm.Hash(canonical)
		won, err := o.store.AddIfAbsent(ctx, userID, job.ID, hash)
		if err != nil {
			o.logger.Error("sitemap dedup admission failed", "job_id", job.ID, "url", canonical, "error", err)
			continue
		}
		if !won {
			continue
		}
		admitted = append(admitted, store.QueueItem{URL: canonical, URLHash: hash, Depth: 1, DiscoveredFrom: job.SeedURL})
	}
	if len(admitted) == 0 {
		return
	}

	if err := o.store.EnqueueMany(ctx, userID, job.ID, admitted); err != nil {
		o.logger.Error("enqueue sitemap urls failed", "job_id", job.ID, "error", err)
		return
	}
	if err := o.store.IncrementProgress(ctx, userID, job.ID, store.ProgressDelta{
		Discovered: int64(len(admitted)), Queued: int64(len(admitted)),
	}); err != nil {
		o.logger.Warn("failed to record sitemap urls in progress hash", "job_id", job.ID, "error", err)
	}

	discoveredURLs := make([]string, len(admitted))
	for i, a := range admitted {
		discoveredURLs[i] = a.URL
	}
	total, err := o.store.GetProgress(ctx, userID, job.ID)
	if err != nil {
		o.logger.Error("read progress for sitemap urls_discovered event failed", "job_id", job.ID, "error", err)
	}
	payload, err := json.Marshal(map[string]any{
		"source_url": "sitemap", "discovered_urls": discoveredURLs, "count": len(admitted), "total_discovered": total.Discovered,
	})
	if err != nil {
		o.logger.Error("failed to marshal sitemap urls_discovered event", "job_id", job.ID, "error", err)
		return
	}
	if _, err := o.store.AppendEvent(ctx, userID, job.ID, string(models.EventURLsDiscovered), payload); err != nil {
		o.logger.Error("failed to append sitemap urls_discovered event", "job_id", job.ID, "error", err)
	}
}

// spawnInitialWorkers fires cfg.InitialWorkers fire-and-forget Worker.Run
// goroutines against jobID, exactly as spec §4.9 describes. Each worker
// independently registers in the live worker counter, so there is no
// coordination needed between them beyond the shared store.
func (o *Orchestrator) spawnInitialWorkers(userID, jobID string) {
	w := worker.New(o.store, o.jobRepo, o.pageRepo, o.chunkRepo, o.extractor, o.finalizer, worker.Config{
		BatchSize:               o.cfg.WorkerBatchSize,
		MaxBatchesPerInvocation: o.cfg.WorkerMaxBatchesPerInvocation,
		InvocationWallClock:     o.cfg.WorkerInvocationWallClock,
		InterBatchDelay:         o.cfg.WorkerInterBatchDelay,
		MaxWorkersPerJob:        o.cfg.MaxWorkersPerJob,
	}, o.logger)

	n := o.cfg.InitialWorkers
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go func() {
			atomic.AddInt64(&o.liveWorkers, 1)
			defer atomic.AddInt64(&o.liveWorkers, -1)
			if err := w.Run(context.Background(), userID, jobID); err != nil {
				o.logger.Error("initial worker exited with error", "job_id", jobID, "error", err)
			}
		}()
	}
}

// HasLiveWorkers reports whether any of the initial workers started by
// spawnInitialWorkers is still running; it is wired into
// shutdown.IdleMonitor's BackgroundWorkChecker. Workers that a Worker
// respawns on exit are not counted, so a crawl carried on only by respawned
// workers does not hold off idle shutdown.
func (o *Orchestrator) HasLiveWorkers() bool {
	return atomic.LoadInt64(&o.liveWorkers) > 0
}

// resolveConfig merges per-request overrides onto the configured defaults;
// a zero value in overrides means "use the default".
func (o *Orchestrator) resolveConfig(overrides models.CrawlConfig) models.CrawlConfig {
	resolved := models.CrawlConfig{
		MaxDepth:            o.cfg.DefaultMaxDepth,
		MaxPages:            o.cfg.DefaultMaxPages,
		QualityThreshold:    o.cfg.DefaultQualityThreshold,
		Concurrency:         o.cfg.DefaultConcurrency,
		PerPageTimeout:      o.cfg.DefaultPerPageTimeout,
		RespectRobotsTxt:    o.cfg.DefaultRespectRobotsTxt,
		Delay:               o.cfg.DefaultDelay,
		FollowExternalLinks: o.cfg.DefaultFollowExternalLinks,
	}
	if overrides.MaxDepth > 0 {
		resolved.MaxDepth = overrides.MaxDepth
	}
	if overrides.MaxPages > 0 {
		resolved.MaxPages = overrides.MaxPages
	}
	if overrides.QualityThreshold > 0 {
		resolved.QualityThreshold = overrides.QualityThreshold
	}
	if overrides.Concurrency > 0 {
		resolved.Concurrency = overrides.Concurrency
	}
	if overrides.PerPageTimeout > 0 {
		resolved.PerPageTimeout = overrides.PerPageTimeout
	}
	if overrides.Delay > 0 {
		resolved.Delay = overrides.Delay
	}
	resolved.RespectRobotsTxt = overrides.RespectRobotsTxt || resolved.RespectRobotsTxt
	resolved.FollowExternalLinks = overrides.FollowExternalLinks || resolved.FollowExternalLinks
	return resolved
}

// GetJob returns a user-scoped job, translating a missing row into ErrNotFound.
func (o *Orchestrator) GetJob(ctx context.Context, userID, jobID string) (*models.Job, error) {
	job, err := o.jobRepo.GetByID(ctx, userID, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("job")
	}
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("get job: %w", err))
	}
	return job, nil
}

// ListRecentJobs returns a user's jobs created since the given time.
func (o *Orchestrator) ListRecentJobs(ctx context.Context, userID string, since time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	jobs, err := o.jobRepo.ListRecent(ctx, userID, since, limit)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("list recent jobs: %w", err))
	}
	return jobs, nil
}

// CancelJob transitions a running or pending job to failed with a cancelled
// status message. It first wins (or loses) the shared completion gate so a
// worker mid-flight can never race a cancellation into overwriting it back
// to completed.
func (o *Orchestrator) CancelJob(ctx context.Context, userID, jobID string) error {
	job, err := o.GetJob(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apierr.BadInput("job %s is already in a terminal state (%s)", jobID, job.Status)
	}

	won, winningStatus, err := o.store.Complete(ctx, userID, jobID, string(models.JobStatusFailed), nil)
	if err != nil {
		return apierr.Internal(fmt.Errorf("cancel completion gate: %w", err))
	}
	if !won {
		return apierr.BadInput("job %s already finalized as %s", jobID, winningStatus)
	}

	if err := o.jobRepo.UpdateStatus(ctx, userID, jobID, models.JobStatusFailed, "cancelled by user"); err != nil {
		return apierr.Internal(fmt.Errorf("update job status: %w", err))
	}
	return nil
}

// JobStateSummary is one job's entry in a batch_job_states response.
type JobStateSummary struct {
	Job           *models.Job    `json:"job"`
	RecentEvents  []store.Event  `json:"recent_events"`
}

// BatchJobStates returns state summaries for up to maxBatchStateIDs jobs,
// plus the subset of requested ids that were not found or not owned by
// userID (spec §4.9 batch_job_states).
func (o *Orchestrator) BatchJobStates(ctx context.Context, userID string, ids []string) ([]JobStateSummary, []string, error) {
	if len(ids) > maxBatchStateIDs {
		return nil, nil, apierr.BadInput("batch_job_states accepts at most %d ids, got %d", maxBatchStateIDs, len(ids))
	}

	jobs, err := o.jobRepo.GetMany(ctx, userID, ids)
	if err != nil {
		return nil, nil, apierr.Internal(fmt.Errorf("get many jobs: %w", err))
	}

	found := make(map[string]*models.Job, len(jobs))
	for _, j := range jobs {
		found[j.ID] = j
	}

	summaries := make([]JobStateSummary, 0, len(jobs))
	var notFound []string
	for _, id := range ids {
		job, ok := found[id]
		if !ok {
			notFound = append(notFound, id)
			continue
		}
		events, err := o.store.EventsSince(ctx, userID, id, 0)
		if err != nil {
			o.logger.Warn("failed to read events for batch state", "job_id", id, "error", err)
		}
		if len(events) > recentEventsPerJob {
			events = events[len(events)-recentEventsPerJob:]
		}
		summaries = append(summaries, JobStateSummary{Job: job, RecentEvents: events})
	}
	return summaries, notFound, nil
}

// validateSeedURL rejects non-http(s) schemes and private/loopback/link-local
// hosts (spec §4.9/§7 bad_input), and returns the normalized canonical form.
func validateSeedURL(raw string) (string, error) {
	canonical, err := urlnorm.Normalize(raw, nil)
	if err != nil {
		return "", apierr.BadInput("invalid url: %v", err)
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return "", apierr.BadInput("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apierr.BadInput("url scheme must be http or https")
	}
	if u.Hostname() == "" {
		return "", apierr.BadInput("url must have a host")
	}

	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if isDisallowedIP(ip) {
			return "", apierr.BadInput("url host %s is a private, loopback or link-local address", host)
		}
		return canonical, nil
	}
	ips, err := net.LookupIP(host)
	if err == nil {
		for _, ip := range ips {
			if isDisallowedIP(ip) {
				return "", apierr.BadInput("url host %s resolves to a private, loopback or link-local address", host)
			}
		}
	}
	return canonical, nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
