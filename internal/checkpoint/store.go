package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sitemirror/sitemirror/internal/fault"
	"github.com/sitemirror/sitemirror/internal/pipeline"
)

// Store persists checkpoints next to their job state. Writes are atomic
// (temp file + rename) so a crash mid-write never leaves a half checkpoint:
// either the old file or the new one survives.
type Store struct {
	jobs *pipeline.Store

	// grace is how long a consumed checkpoint survives before Delete is
	// honoured, so a duplicate resume still sees it.
	grace time.Duration

	mu sync.Mutex
}

// NewStore creates a checkpoint store over the given job store.
func NewStore(jobs *pipeline.Store) *Store {
	return &Store{jobs: jobs, grace: 30 * time.Second}
}

// SetGrace overrides the post-resume deletion grace window (for testing).
func (s *Store) SetGrace(d time.Duration) {
	s.grace = d
}

// Grace returns the current grace window.
func (s *Store) Grace() time.Duration {
	return s.grace
}

// Save persists a checkpoint for its job, overwriting any prior one. The
// payload is validated first; a checkpoint for a non-pausable phase is a
// programming error and is rejected.
func (s *Store) Save(cp *Checkpoint) error {
	if cp.JobID == "" {
		return fault.Validationf("checkpoint job id is required")
	}
	if !cp.Phase.Pausable() {
		return fault.Validationf("phase %q is not pausable", cp.Phase)
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint payload for job %s: %w", cp.JobID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp.SavedAt = time.Now().UTC()
	cp.ConsumedAt = nil
	if err := pipeline.WriteJSON(s.jobs.CheckpointPath(cp.JobID), cp); err != nil {
		return fmt.Errorf("%w: write checkpoint for job %s: %v", fault.ErrPersistence, cp.JobID, err)
	}
	return nil
}

// Load reads the checkpoint for a job. Returns ErrNotFound when absent and
// ErrCorruptState when the file exists but cannot be decoded or carries an
// unknown phase variant.
func (s *Store) Load(jobID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(jobID)
}

func (s *Store) loadLocked(jobID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.jobs.CheckpointPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFoundf("checkpoint for job %s", jobID)
		}
		return nil, fmt.Errorf("read checkpoint for job %s: %w", jobID, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: checkpoint for job %s: %v", fault.ErrCorruptState, jobID, err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint for job %s: %w", jobID, err)
	}
	return &cp, nil
}

// Exists reports whether a live checkpoint is present for the job. It has
// no side effects. A consumed checkpoint still lingering in its grace window
// counts as superseded, not live. A corrupt file counts as existing so
// callers surface the corruption on resume instead of silently restarting.
func (s *Store) Exists(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, err := s.loadLocked(jobID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return false
		}
		return true
	}
	return cp.ConsumedAt == nil
}

// Describe returns read-only introspection for a job's checkpoint. A missing
// checkpoint yields Info{Exists: false}, not an error.
func (s *Store) Describe(jobID string) (*Info, error) {
	cp, err := s.Load(jobID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return &Info{Exists: false}, nil
		}
		return nil, err
	}
	info := &Info{Exists: true, Phase: cp.Phase, SavedAt: cp.SavedAt}
	if cp.Approval != nil {
		info.ComponentCount = len(cp.Approval.Components)
	}
	return info, nil
}

// MarkConsumed records that a resume has loaded the checkpoint. The file is
// kept until Sweep runs after the grace window.
func (s *Store) MarkConsumed(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.loadLocked(jobID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	cp.ConsumedAt = &now
	if err := pipeline.WriteJSON(s.jobs.CheckpointPath(jobID), cp); err != nil {
		return fmt.Errorf("%w: mark checkpoint consumed for job %s: %v", fault.ErrPersistence, jobID, err)
	}
	return nil
}

// Sweep deletes the job's checkpoint if it was consumed at least the grace
// window ago. Returns true when the file was removed. Safe to call
// repeatedly and from late duplicate resumes.
func (s *Store) Sweep(jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.loadLocked(jobID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if cp.ConsumedAt == nil || time.Since(*cp.ConsumedAt) < s.grace {
		return false, nil
	}
	if err := os.Remove(s.jobs.CheckpointPath(jobID)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove checkpoint for job %s: %w", jobID, err)
	}
	return true, nil
}

// Delete removes the checkpoint immediately, bypassing the grace window.
func (s *Store) Delete(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.jobs.CheckpointPath(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint for job %s: %w", jobID, err)
	}
	return nil
}
