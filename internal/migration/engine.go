// Package migration implements the Migration Engine (C6): job
// creation, the priority-ordered ready queue, a bounded worker pool,
// per-file execution with retries and a circuit breaker per route, and
// the durability contract that resumes PENDING/RUNNING jobs on restart.
package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudflux/orchestrator/internal/catalog"
	"github.com/cloudflux/orchestrator/internal/circuit"
	"github.com/cloudflux/orchestrator/internal/eventbus"
	"github.com/cloudflux/orchestrator/internal/metrics"
	"github.com/cloudflux/orchestrator/internal/provider"
	"github.com/cloudflux/orchestrator/pkg/errors"
	"github.com/cloudflux/orchestrator/pkg/health"
	"github.com/cloudflux/orchestrator/pkg/retry"
	"github.com/cloudflux/orchestrator/pkg/types"
)

// Config carries the engine tunables of §4.6 and §6.
type Config struct {
	MaxWorkers            int
	MaxAttempts           int
	PerRouteConcurrency   int
	ReadyQueueCapacity    int
	FileDeadline          time.Duration
	PerJobParallelism     int
	MaxActiveJobsPerOwner int
	DedupWindow           time.Duration
}

// CreateRequest is the input to Engine.CreateJob.
type CreateRequest struct {
	Owner           string
	SourceProvider  types.Provider
	DestProvider    types.Provider
	SourceContainer string
	DestContainer   string
	FileList        []string
	Priority        types.Priority
	// DeleteSource requests a move instead of a copy. Defaults to
	// false: the source object and its catalog entry survive the
	// migration unless the caller opts into deletion.
	DeleteSource bool
}

// jobRuntime tracks the cooperative-cancellation and per-job locking
// state that lives alongside a job but is never persisted.
type jobRuntime struct {
	mu        sync.Mutex // guards cancelled
	cancelled bool
}

// Engine is the Migration Engine component (C6).
type Engine struct {
	logger *slog.Logger
	cfg    Config

	adapters map[types.Provider]provider.Adapter
	catalog  *catalog.Catalog
	bus      *eventbus.Bus
	store    Store

	queue *readyQueue

	setMu    sync.Mutex // guards jobRuntimes and per-owner active counts
	runtimes map[string]*jobRuntime
	active   map[string]int // owner -> active (non-terminal) job count

	globalSem chan struct{}

	breakers *circuit.Manager

	retryer *retry.Retryer

	metrics *metrics.Collector
	health  *health.Tracker

	workersOnce sync.Once
	stop        chan struct{}
}

// SetMetrics attaches a metrics collector that per-file copy attempts
// report to. Optional; a nil collector (the default) leaves recording
// as a no-op.
func (e *Engine) SetMetrics(m *metrics.Collector) {
	e.metrics = m
}

// SetHealth attaches the health tracker that per-file adapter outcomes
// report to, keyed by destination provider. Optional; a nil tracker
// (the default) leaves recording as a no-op.
func (e *Engine) SetHealth(h *health.Tracker) {
	e.health = h
}

// RouteStats returns the current breaker state and concurrency ceiling
// for every (source, dest) route the engine has run a transfer on, for
// the Control API's /health surface.
func (e *Engine) RouteStats() map[string]circuit.RouteStats {
	return e.breakers.Snapshot()
}

// New constructs an Engine. adapters must contain every provider the
// engine is expected to route between; catalog and bus may be nil in
// tests that don't need cataloging or events wired.
func New(logger *slog.Logger, cfg Config, adapters map[types.Provider]provider.Adapter, cat *catalog.Catalog, bus *eventbus.Bus, store Store) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PerRouteConcurrency <= 0 {
		cfg.PerRouteConcurrency = 4
	}
	if cfg.PerJobParallelism <= 0 {
		cfg.PerJobParallelism = 8
	}
	if cfg.FileDeadline <= 0 {
		cfg.FileDeadline = 60 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Minute
	}
	if cfg.MaxActiveJobsPerOwner <= 0 {
		cfg.MaxActiveJobsPerOwner = 20
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.MaxAttempts

	e := &Engine{
		logger:    logger.With("component", "migration"),
		cfg:       cfg,
		adapters:  adapters,
		catalog:   cat,
		bus:       bus,
		store:     store,
		queue:     newReadyQueue(cfg.ReadyQueueCapacity),
		runtimes:  make(map[string]*jobRuntime),
		active:    make(map[string]int),
		globalSem: make(chan struct{}, cfg.MaxWorkers),
		breakers:  circuit.NewManager(circuit.Config{}, cfg.PerRouteConcurrency),
		retryer:   retry.New(retryCfg),
		stop:      make(chan struct{}),
	}
	return e
}

// Start launches the worker pool and reloads any PENDING/RUNNING jobs
// left over from a previous process, resetting IN_FLIGHT files to
// QUEUED before any worker can claim them.
func (e *Engine) Start() {
	for _, job := range ReloadPending(e.store) {
		e.store.Save(job)
		e.runtimeFor(job.JobID)
		if err := e.queue.push(job.JobID, job.Priority); err != nil {
			e.logger.Error("failed to re-enqueue reloaded job", "job_id", job.JobID, "error", err)
		}
	}

	e.workersOnce.Do(func() {
		for i := 0; i < e.cfg.MaxWorkers; i++ {
			go e.workerLoop()
		}
	})
}

// Stop signals all workers to exit after their current job.
func (e *Engine) Stop() { close(e.stop) }

func (e *Engine) runtimeFor(jobID string) *jobRuntime {
	e.setMu.Lock()
	defer e.setMu.Unlock()
	rt, ok := e.runtimes[jobID]
	if !ok {
		rt = &jobRuntime{}
		e.runtimes[jobID] = rt
	}
	return rt
}

func fileListHash(files []string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

func routeKey(src, dest types.Provider) string { return string(src) + "->" + string(dest) }

// CreateJob validates a creation request and, on success, persists a
// PENDING job with N QUEUED file transfers and enqueues it.
func (e *Engine) CreateJob(ctx context.Context, req CreateRequest) (*types.MigrationJob, error) {
	if len(req.FileList) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, "file_list must not be empty").
			WithComponent("migration").WithOperation("CreateJob")
	}
	if req.Priority == "" {
		req.Priority = types.PriorityNormal
	}

	srcAdapter, ok := e.adapters[req.SourceProvider]
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument, "source provider not configured").
			WithComponent("migration").WithOperation("CreateJob").WithDetail("provider", req.SourceProvider)
	}
	if _, ok := e.adapters[req.DestProvider]; !ok {
		return nil, errors.New(errors.CodeInvalidArgument, "destination provider not configured").
			WithComponent("migration").WithOperation("CreateJob").WithDetail("provider", req.DestProvider)
	}

	// One stat on a representative file confirms the source container
	// is reachable before a job is admitted.
	if _, err := srcAdapter.Stat(ctx, req.SourceContainer, req.FileList[0]); err != nil {
		return nil, err
	}

	hash := fileListHash(req.FileList)
	if existing, ok := e.store.FindByDedupKey(req.Owner, string(req.SourceProvider)+req.SourceContainer,
		string(req.DestProvider)+req.DestContainer, hash); ok && time.Since(existing.CreatedAt) < e.cfg.DedupWindow {
		return existing, nil
	}

	e.setMu.Lock()
	if e.active[req.Owner] >= e.cfg.MaxActiveJobsPerOwner {
		e.setMu.Unlock()
		return nil, errors.New(errors.CodeConflict, "owner has reached the active job cap").
			WithComponent("migration").WithOperation("CreateJob")
	}
	e.active[req.Owner]++
	e.setMu.Unlock()

	files := make([]types.FileTransfer, len(req.FileList))
	for i, key := range req.FileList {
		files[i] = types.FileTransfer{SourceKey: key, DestKey: key, State: types.TransferQueued}
	}

	job := &types.MigrationJob{
		JobID:           uuid.NewString(),
		Owner:           req.Owner,
		SourceProvider:  req.SourceProvider,
		DestProvider:    req.DestProvider,
		SourceContainer: req.SourceContainer,
		DestContainer:   req.DestContainer,
		Priority:        req.Priority,
		DeleteSource:    req.DeleteSource,
		Status:          types.JobPending,
		Files:           files,
		FileListHash:    hash,
		CreatedAt:       time.Now(),
	}

	if err := e.store.Save(job); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to persist job").
			WithComponent("migration").WithOperation("CreateJob")
	}
	e.runtimeFor(job.JobID)

	if err := e.queue.push(job.JobID, job.Priority); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns the current state of one job.
func (e *Engine) GetJob(jobID string) (*types.MigrationJob, bool) {
	return e.store.Get(jobID)
}

// ListJobs returns every job visible to owner; admin sees all jobs when
// owner is empty.
func (e *Engine) ListJobs(owner string) []*types.MigrationJob {
	all := e.store.List()
	if owner == "" {
		return all
	}
	out := make([]*types.MigrationJob, 0, len(all))
	for _, j := range all {
		if j.Owner == owner {
			out = append(out, j)
		}
	}
	return out
}

// Cancel flips a job's cooperative cancellation flag. Terminal jobs
// cannot be cancelled.
func (e *Engine) Cancel(jobID string) error {
	job, ok := e.store.Get(jobID)
	if !ok {
		return errors.New(errors.CodeNotFound, "job not found").
			WithComponent("migration").WithOperation("Cancel")
	}
	if job.Status.Terminal() {
		return errors.New(errors.CodeConflict, "cannot cancel a terminal job").
			WithComponent("migration").WithOperation("Cancel")
	}

	rt := e.runtimeFor(jobID)
	rt.mu.Lock()
	rt.cancelled = true
	rt.mu.Unlock()
	return nil
}

func (e *Engine) publish(job *types.MigrationJob, eventType types.EventType, extra map[string]interface{}) {
	if e.bus == nil {
		return
	}
	payload := map[string]interface{}{"job_id": job.JobID, "status": job.Status}
	for k, v := range extra {
		payload[k] = v
	}
	e.bus.Publish(types.Event{
		Type:          eventType,
		CorrelationID: job.JobID,
		UserID:        job.Owner,
		Payload:       payload,
	})
}

func (e *Engine) decrementActive(owner string) {
	e.setMu.Lock()
	defer e.setMu.Unlock()
	if e.active[owner] > 0 {
		e.active[owner]--
	}
}
