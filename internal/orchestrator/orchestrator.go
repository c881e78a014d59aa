// Package orchestrator drives the website-cloning pipeline through its phase
// state machine: queued → capturing → extracting → generating →
// awaiting_approval (pause) → scaffolding → versioning → complete, with
// failed reachable from any phase. Phase errors are converted into a failed
// result; they never escape Start or Resume.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sitemirror/sitemirror/internal/checkpoint"
	"github.com/sitemirror/sitemirror/internal/config"
	"github.com/sitemirror/sitemirror/internal/metrics"
	"github.com/sitemirror/sitemirror/internal/pipeline"
	"github.com/sitemirror/sitemirror/internal/version"
)

// Orchestrator composes pipeline lifecycle operations. One orchestrator
// serves many jobs; per-job serialization happens on the run guard, and the
// version and checkpoint stores are the only shared mutable state between
// concurrently running jobs.
type Orchestrator struct {
	jobs        *pipeline.Store
	checkpoints *checkpoint.Store
	versions    *version.Store
	db          *version.DB
	capturer    Capturer
	generator   Generator
	cfg         *config.Sitemirror
	log         zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool // jobs with a start or resume draining
}

// New creates an Orchestrator.
func New(
	jobs *pipeline.Store,
	checkpoints *checkpoint.Store,
	versions *version.Store,
	db *version.DB,
	capturer Capturer,
	generator Generator,
	cfg *config.Sitemirror,
	log zerolog.Logger,
) *Orchestrator {
	if generator == nil {
		generator = ManifestGenerator{}
	}
	return &Orchestrator{
		jobs:        jobs,
		checkpoints: checkpoints,
		versions:    versions,
		db:          db,
		capturer:    capturer,
		generator:   generator,
		cfg:         cfg,
		log:         log,
		inFlight:    make(map[string]bool),
	}
}

// CreateJob registers a new pipeline job for a website. The job starts in
// the queued phase; Start runs it.
func (o *Orchestrator) CreateJob(websiteID, sourceURL string) (*pipeline.Job, error) {
	job, err := o.jobs.Create(&pipeline.Job{
		ID:        uuid.NewString(),
		WebsiteID: websiteID,
		SourceURL: sourceURL,
	})
	if err != nil {
		return nil, err
	}
	o.logEvent(job, "created", pipeline.PhaseQueued, "url="+sourceURL)
	return job, nil
}

// Result is what Start and Resume hand back. Phase failures surface here,
// not as returned errors.
type Result struct {
	JobID   string         `json:"job_id"`
	Status  string         `json:"status"` // "awaiting_approval", "completed", "failed", "in_progress"
	Phase   pipeline.Phase `json:"phase"`
	Message string         `json:"message,omitempty"`
}

// acquire marks a job as having a run in flight. Returns false when one
// already is.
func (o *Orchestrator) acquire(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[jobID] {
		return false
	}
	o.inFlight[jobID] = true
	return true
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	delete(o.inFlight, jobID)
	o.mu.Unlock()
}

// Start runs a job from queued up to the approval gate. The checkpoint is
// persisted before the awaiting_approval progress event fires and before the
// job record observes the pause, so a crash between the two resumes cleanly.
func (o *Orchestrator) Start(ctx context.Context, jobID string, onProgress pipeline.ProgressFunc) (*Result, error) {
	job, err := o.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if !o.acquire(jobID) {
		return &Result{JobID: jobID, Status: "in_progress", Phase: job.Phase, Message: "run already in flight"}, nil
	}
	defer o.release(jobID)

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	emit := o.progressSink(job, onProgress)

	if err := o.jobs.Update(jobID, func(j *pipeline.Job) { j.Status = "in_progress" }); err != nil {
		return nil, err
	}
	o.logEvent(job, "started", pipeline.PhaseQueued, "")

	captureDir, err := o.runPhase(ctx, job, pipeline.PhaseCapturing, emit, "capturing reference renders",
		func(ctx context.Context) (string, error) { return o.capturePhase(ctx, job) })
	if err != nil {
		return o.fail(job, pipeline.PhaseCapturing, err), nil
	}

	var components []pipeline.Component
	_, err = o.runPhase(ctx, job, pipeline.PhaseExtracting, emit, "discovering components",
		func(ctx context.Context) (string, error) {
			components, err = o.extractPhase(ctx, job, captureDir)
			return "", err
		})
	if err != nil {
		return o.fail(job, pipeline.PhaseExtracting, err), nil
	}

	generatedDir, err := o.runPhase(ctx, job, pipeline.PhaseGenerating, emit, "generating component library",
		func(ctx context.Context) (string, error) { return o.generatePhase(ctx, job, components) })
	if err != nil {
		return o.fail(job, pipeline.PhaseGenerating, err), nil
	}

	// Approval gate. Checkpoint write happens-before everything that makes
	// the pause externally visible.
	cp := &checkpoint.Checkpoint{
		JobID: job.ID,
		Phase: pipeline.PhaseAwaitingApproval,
		Approval: &checkpoint.ApprovalSnapshot{
			Components:   components,
			CaptureDir:   captureDir,
			GeneratedDir: generatedDir,
		},
	}
	if err := o.checkpoints.Save(cp); err != nil {
		return o.fail(job, pipeline.PhaseAwaitingApproval, err), nil
	}
	if err := o.jobs.Update(jobID, func(j *pipeline.Job) {
		j.Phase = pipeline.PhaseAwaitingApproval
		j.Percent = pipeline.PhaseAwaitingApproval.Percent()
		j.Message = "awaiting approval"
	}); err != nil {
		return o.fail(job, pipeline.PhaseAwaitingApproval, err), nil
	}
	emit(pipeline.PhaseAwaitingApproval, "awaiting approval")
	o.logEvent(job, "checkpoint_saved", pipeline.PhaseAwaitingApproval,
		fmt.Sprintf("components=%d", len(components)))

	return &Result{
		JobID:   job.ID,
		Status:  "awaiting_approval",
		Phase:   pipeline.PhaseAwaitingApproval,
		Message: fmt.Sprintf("paused for approval with %d components", len(components)),
	}, nil
}

// HasCheckpoint reports whether a live checkpoint exists for the job.
// Read-only, no side effects.
func (o *Orchestrator) HasCheckpoint(jobID string) bool {
	return o.checkpoints.Exists(jobID)
}

// GetCheckpointInfo returns read-only checkpoint introspection.
func (o *Orchestrator) GetCheckpointInfo(jobID string) (*checkpoint.Info, error) {
	return o.checkpoints.Describe(jobID)
}

// Resume re-enters a paused job at scaffolding and drives it to completion.
// Fails with NotFound when no checkpoint exists; emits no progress events in
// that case. A duplicate resume while a prior one drains, or shortly after
// one completed, is idempotent: committed phases never re-run.
func (o *Orchestrator) Resume(ctx context.Context, jobID string, onProgress pipeline.ProgressFunc) (*Result, error) {
	cp, err := o.checkpoints.Load(jobID)
	if err != nil {
		return nil, err
	}

	job, err := o.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}

	// Late duplicate: the prior resume already finished and the checkpoint
	// survives only for the grace window.
	if cp.ConsumedAt != nil && job.Status == "completed" {
		return &Result{JobID: jobID, Status: "completed", Phase: job.Phase, Message: "already resumed"}, nil
	}

	if !o.acquire(jobID) {
		return &Result{JobID: jobID, Status: "in_progress", Phase: job.Phase, Message: "resume already in flight"}, nil
	}
	defer o.release(jobID)

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	emit := o.progressSink(job, onProgress)
	o.logEvent(job, "resumed", cp.Phase, "")

	if err := o.jobs.Update(jobID, func(j *pipeline.Job) { j.Status = "in_progress" }); err != nil {
		return nil, err
	}

	scaffoldDir, err := o.runPhase(ctx, job, pipeline.PhaseScaffolding, emit, "scaffolding output tree",
		func(ctx context.Context) (string, error) { return o.scaffoldPhase(ctx, job, cp.Approval) })
	if err != nil {
		return o.fail(job, pipeline.PhaseScaffolding, err), nil
	}

	var ver *version.Version
	_, err = o.runPhase(ctx, job, pipeline.PhaseVersioning, emit, "creating version snapshot",
		func(ctx context.Context) (string, error) {
			ver, err = o.versioningPhase(ctx, job, scaffoldDir)
			return "", err
		})
	if err != nil {
		return o.fail(job, pipeline.PhaseVersioning, err), nil
	}

	if err := o.jobs.Update(jobID, func(j *pipeline.Job) {
		j.Phase = pipeline.PhaseComplete
		j.Percent = pipeline.PhaseComplete.Percent()
		j.Status = "completed"
		j.Message = fmt.Sprintf("version %s created", ver.VersionNumber)
		j.OutputDir = scaffoldDir
		j.VersionID = ver.ID
	}); err != nil {
		return o.fail(job, pipeline.PhaseComplete, err), nil
	}
	emit(pipeline.PhaseComplete, "pipeline complete")
	o.logEvent(job, "completed", pipeline.PhaseComplete, "version="+ver.VersionNumber)

	// The checkpoint is superseded now; the file lingers for the grace
	// window so duplicate resumes are recognised, then gets swept.
	if err := o.checkpoints.MarkConsumed(jobID); err != nil {
		o.log.Warn().Str("job", jobID).Err(err).Msg("mark checkpoint consumed")
	}
	time.AfterFunc(o.graceSweepDelay(), func() {
		if _, err := o.checkpoints.Sweep(jobID); err != nil {
			o.log.Warn().Str("job", jobID).Err(err).Msg("sweep checkpoint")
		}
	})

	return &Result{
		JobID:   jobID,
		Status:  "completed",
		Phase:   pipeline.PhaseComplete,
		Message: fmt.Sprintf("version %s created", ver.VersionNumber),
	}, nil
}

// Status returns the persisted job state.
func (o *Orchestrator) Status(jobID string) (*pipeline.Job, error) {
	return o.jobs.Get(jobID)
}

// StatusAll returns all jobs, newest first.
func (o *Orchestrator) StatusAll() ([]pipeline.Job, error) {
	return o.jobs.List("")
}

// --- internals ---

// runPhase wraps one phase: progress event, timing, metrics, event log.
func (o *Orchestrator) runPhase(
	ctx context.Context,
	job *pipeline.Job,
	phase pipeline.Phase,
	emit func(pipeline.Phase, string),
	message string,
	fn func(context.Context) (string, error),
) (string, error) {
	if err := o.jobs.Update(job.ID, func(j *pipeline.Job) {
		j.Phase = phase
		j.Percent = phase.Percent()
		j.Message = message
	}); err != nil {
		return "", err
	}
	emit(phase, message)

	start := time.Now()
	out, err := fn(ctx)
	metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PhasesTotal.WithLabelValues(string(phase), "fail").Inc()
		return "", err
	}
	metrics.PhasesTotal.WithLabelValues(string(phase), "success").Inc()
	o.logEvent(job, "phase_complete", phase, "")
	return out, nil
}

// fail records a phase error as job state. The error never propagates.
func (o *Orchestrator) fail(job *pipeline.Job, phase pipeline.Phase, cause error) *Result {
	msg := cause.Error()
	o.log.Error().Str("job", job.ID).Str("phase", string(phase)).Err(cause).Msg("phase failed")
	if err := o.jobs.Update(job.ID, func(j *pipeline.Job) {
		j.Phase = pipeline.PhaseFailed
		j.Status = "failed"
		j.Message = msg
	}); err != nil {
		o.log.Error().Str("job", job.ID).Err(err).Msg("record failure")
	}
	o.logEvent(job, "failed", phase, msg)
	return &Result{JobID: job.ID, Status: "failed", Phase: phase, Message: msg}
}

// progressSink wraps the caller's callback, enforcing monotonically
// non-decreasing percent within the run and tolerating a nil callback.
func (o *Orchestrator) progressSink(job *pipeline.Job, onProgress pipeline.ProgressFunc) func(pipeline.Phase, string) {
	high := 0
	return func(phase pipeline.Phase, message string) {
		pct := phase.Percent()
		if pct < high {
			pct = high
		}
		high = pct
		if onProgress != nil {
			onProgress(pipeline.Progress{Phase: phase, Percent: pct, Message: message})
		}
	}
}

func (o *Orchestrator) logEvent(job *pipeline.Job, event string, phase pipeline.Phase, detail string) {
	if o.db == nil {
		return
	}
	if err := o.db.LogPipelineEvent(job.ID, job.WebsiteID, event, string(phase), detail); err != nil {
		o.log.Warn().Str("job", job.ID).Err(err).Msg("log pipeline event")
	}
}

func (o *Orchestrator) graceSweepDelay() time.Duration {
	// Slightly past the store's grace window so Sweep sees it expired.
	return o.checkpoints.Grace() + time.Second
}
