package migration

import (
	"context"
	"time"

	"github.com/cloudflux/orchestrator/pkg/errors"
	"github.com/cloudflux/orchestrator/pkg/types"
)

// workerLoop pops job IDs off the ready queue and drives each job to
// completion before pulling the next. There are Config.MaxWorkers of
// these running concurrently.
func (e *Engine) workerLoop() {
	for {
		jobID, ok := e.queue.pop()
		if !ok {
			e.queue.wait(e.stop)
			select {
			case <-e.stop:
				return
			default:
			}
			continue
		}

		select {
		case <-e.stop:
			return
		default:
		}

		e.runJob(jobID)
	}
}

// runJob transitions a job to RUNNING, fans its files out across up to
// PerJobParallelism sub-goroutines, and settles the job's terminal
// status once every file has reached a terminal transfer state.
func (e *Engine) runJob(jobID string) {
	job, ok := e.store.Get(jobID)
	if !ok {
		return
	}

	now := time.Now()
	job.Status = types.JobRunning
	job.StartedAt = &now
	e.store.Save(job)
	e.publish(job, types.EventMigrationStarted, nil)
	if e.metrics != nil {
		e.metrics.IncActiveJobs()
	}

	rt := e.runtimeFor(jobID)

	parallelism := e.cfg.PerJobParallelism
	if len(job.Files) < parallelism {
		parallelism = len(job.Files)
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	work := make(chan int, len(job.Files))
	for i := range job.Files {
		work <- i
	}
	close(work)

	done := make(chan struct{})
	for w := 0; w < parallelism; w++ {
		go func() {
			for idx := range work {
				e.globalSem <- struct{}{}
				e.runFile(jobID, idx, rt)
				<-e.globalSem
			}
			done <- struct{}{}
		}()
	}
	for w := 0; w < parallelism; w++ {
		<-done
	}

	e.settleJob(jobID)
	e.decrementActive(job.Owner)
}

// runFile executes the copy-then-verify pipeline for one file, applying
// retries per Config.MaxAttempts and honoring cooperative cancellation
// checked before each file starts.
func (e *Engine) runFile(jobID string, idx int, rt *jobRuntime) {
	job, ok := e.store.Get(jobID)
	if !ok {
		return
	}

	rt.mu.Lock()
	cancelled := rt.cancelled
	rt.mu.Unlock()
	if cancelled {
		e.setFileState(jobID, idx, types.TransferSkipped, 0, 0, nil)
		return
	}

	file := job.Files[idx]
	e.setFileState(jobID, idx, types.TransferInFlight, file.BytesTransferred, 0, nil)

	srcAdapter := e.adapters[job.SourceProvider]
	destAdapter := e.adapters[job.DestProvider]
	route := e.breakers.Route(routeKey(job.SourceProvider, job.DestProvider))

	var bytesCopied uint64
	var srcRef types.ObjectRef

	start := time.Now()
	attempt := 0
	err := e.retryer.Do(func() error {
		attempt++
		return route.Execute(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FileDeadline)
			defer cancel()

			var err error
			srcRef, err = srcAdapter.Stat(ctx, job.SourceContainer, file.SourceKey)
			if err != nil {
				return err
			}

			bytesCopied, err = destAdapter.CopyObject(ctx, srcRef, job.DestContainer, file.DestKey, false)
			return err
		}, isThrottling)
	})

	if e.metrics != nil {
		e.metrics.RecordOperation("copy_object", time.Since(start), int64(bytesCopied), err == nil)
		if err != nil {
			e.metrics.RecordError("copy_object", err)
		}
	}
	if e.health != nil {
		if err != nil {
			e.health.RecordError(string(job.DestProvider), err)
		} else {
			e.health.RecordSuccess(string(job.DestProvider))
		}
	}

	if err != nil {
		e.recordAttempt(jobID, idx, attempt)
		e.setFileState(jobID, idx, types.TransferFailed, bytesCopied, 0, detailFor(err))
		e.publishFile(job, idx, types.EventMigrationFileFailed)
		return
	}

	e.recordAttempt(jobID, idx, attempt)
	e.setFileState(jobID, idx, types.TransferCopied, bytesCopied, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FileDeadline)
	defer cancel()
	destRef, verr := destAdapter.Stat(ctx, job.DestContainer, file.DestKey)
	if verr != nil || destRef.SizeBytes != srcRef.SizeBytes {
		msg := "verification failed: size mismatch after copy"
		if verr != nil {
			msg = verr.Error()
		}
		e.setFileState(jobID, idx, types.TransferFailed, bytesCopied, 0,
			&types.ErrorDetail{Code: string(errors.CodeInternal), Message: msg})
		e.publishFile(job, idx, types.EventMigrationFileFailed)
		return
	}

	var bytesPerSecond float64
	if elapsed := time.Since(start); elapsed > 0 {
		bytesPerSecond = float64(bytesCopied) / elapsed.Seconds()
	}
	e.setFileState(jobID, idx, types.TransferVerified, bytesCopied, bytesPerSecond, nil)

	deleteSource := false
	if job.DeleteSource {
		delCtx, delCancel := context.WithTimeout(context.Background(), e.cfg.FileDeadline)
		derr := srcAdapter.Delete(delCtx, job.SourceContainer, file.SourceKey)
		delCancel()
		if derr != nil {
			e.logger.Error("source delete failed after verified copy", "job_id", jobID,
				"source_key", file.SourceKey, "error", derr)
		} else {
			deleteSource = true
		}
	}
	if e.catalog != nil {
		e.catalog.ApplyMigration(srcRef, destRef, deleteSource)
	}
	e.publishFile(job, idx, types.EventMigrationFileComplete)
}

func detailFor(err error) *types.ErrorDetail {
	return &types.ErrorDetail{Code: string(errors.CodeOf(err)), Message: err.Error()}
}

// isThrottling classifies err as the adapter signalling it needs the
// caller to back off, as opposed to a hard failure — the trigger for
// the per-route concurrency backpressure a RouteThrottle applies.
func isThrottling(err error) bool {
	switch errors.CodeOf(err) {
	case errors.CodeOverloaded, errors.CodeQuotaExceeded, errors.CodeProviderUnavailable, errors.CodeUnavailable:
		return true
	default:
		return false
	}
}

func (e *Engine) recordAttempt(jobID string, idx, attempts int) {
	e.store.UpdateFile(jobID, idx, func(_ *types.MigrationJob, file *types.FileTransfer) {
		file.Attempts = attempts
	})
}

// setFileState updates one file's state and re-derives the job's
// progress percentage, which is monotonically non-decreasing because
// every terminal state (VERIFIED, FAILED, SKIPPED) is sticky. The
// mutation and the progress recompute happen inside a single
// store.UpdateFile call so a sibling goroutine transitioning a
// different file in the same job can never read-modify-write over
// this one's update.
func (e *Engine) setFileState(jobID string, idx int, state types.TransferState, bytes uint64, bytesPerSecond float64, detail *types.ErrorDetail) {
	job, ok := e.store.UpdateFile(jobID, idx, func(job *types.MigrationJob, file *types.FileTransfer) {
		file.State = state
		file.BytesTransferred = bytes
		if bytesPerSecond > 0 {
			file.BytesPerSecond = bytesPerSecond
		}
		file.LastError = detail

		counts := job.Tally()
		total := len(job.Files)
		if total > 0 {
			settled := counts.Completed + counts.Failed + counts.Skipped
			pct := 100 * settled / total
			if pct > job.ProgressPercentage {
				job.ProgressPercentage = pct
			}
		}
	})
	if !ok {
		return
	}
	if state == types.TransferVerified || state == types.TransferFailed || state == types.TransferSkipped {
		if e.metrics != nil {
			e.metrics.RecordFileTransfer(string(job.SourceProvider), string(job.DestProvider), string(state))
		}
	}
	if state == types.TransferVerified || state == types.TransferFailed {
		e.publish(job, types.EventMigrationProgress, map[string]interface{}{
			"progress_percentage": job.ProgressPercentage,
		})
	}
}

func (e *Engine) publishFile(job *types.MigrationJob, idx int, eventType types.EventType) {
	e.publish(job, eventType, map[string]interface{}{
		"source_key": job.Files[idx].SourceKey,
		"dest_key":   job.Files[idx].DestKey,
	})
}

// settleJob computes and persists a job's terminal status once every
// file has reached VERIFIED, FAILED, or SKIPPED.
func (e *Engine) settleJob(jobID string) {
	job, ok := e.store.Get(jobID)
	if !ok {
		return
	}

	rt := e.runtimeFor(jobID)
	rt.mu.Lock()
	cancelled := rt.cancelled
	rt.mu.Unlock()

	counts := job.Tally()
	now := time.Now()
	job.CompletedAt = &now

	switch {
	case cancelled:
		job.Status = types.JobCancelled
		e.publish(job, types.EventMigrationCancelled, nil)
	case counts.Failed == 0 && counts.Skipped == 0:
		job.Status = types.JobCompleted
		e.publish(job, types.EventMigrationCompleted, nil)
	case counts.Completed == 0:
		job.Status = types.JobFailed
		e.publish(job, types.EventMigrationFailed, nil)
	default:
		job.Status = types.JobPartiallyFailed
		e.publish(job, types.EventMigrationCompleted, map[string]interface{}{"partial": true})
	}

	e.store.Save(job)

	if e.metrics != nil {
		e.metrics.DecActiveJobs()
		e.metrics.RecordJobTerminal(string(job.Status))
	}
}
