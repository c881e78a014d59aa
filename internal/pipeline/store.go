package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sitemirror/sitemirror/internal/fault"
)

// Store manages job state on disk. Each job owns a directory under baseDir
// holding job.json plus any intermediate phase artifacts.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.sitemirror/jobs, creating the directory
// if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".sitemirror", "jobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// JobDir returns the directory path for a given job.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.baseDir, jobID)
}

func (s *Store) jobPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "job.json")
}

// CheckpointPath returns the path of the job's checkpoint file.
func (s *Store) CheckpointPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "checkpoint.json")
}

// CaptureDir returns the directory holding reference captures for a job.
func (s *Store) CaptureDir(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "capture")
}

// ScaffoldDir returns the directory the scaffold phase writes into.
func (s *Store) ScaffoldDir(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "scaffold")
}

// Create initialises a new job on disk.
func (s *Store) Create(job *Job) (*Job, error) {
	if job.ID == "" {
		return nil, fault.Validationf("job id is required")
	}
	if job.WebsiteID == "" {
		return nil, fault.Validationf("website id is required")
	}
	dir := s.JobDir(job.ID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fault.Conflictf("job %s already exists", job.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	job.Phase = PhaseQueued
	job.Percent = 0
	job.Status = "pending"
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := WriteJSON(s.jobPath(job.ID), job); err != nil {
		return nil, fmt.Errorf("%w: write job.json: %v", fault.ErrPersistence, err)
	}
	return job, nil
}

// Get reads the job state for an id.
func (s *Store) Get(jobID string) (*Job, error) {
	var job Job
	if err := ReadJSON(s.jobPath(jobID), &job); err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFoundf("job %s", jobID)
		}
		return nil, err
	}
	return &job, nil
}

// Update performs an atomic read-modify-write of the job state.
func (s *Store) Update(jobID string, fn func(*Job)) error {
	job, err := s.Get(jobID)
	if err != nil {
		return err
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := WriteJSON(s.jobPath(jobID), job); err != nil {
		return fmt.Errorf("%w: write job.json: %v", fault.ErrPersistence, err)
	}
	return nil
}

// List returns all jobs, optionally filtered by status. Pass "" to return
// everything. Most recently created first.
func (s *Store) List(statusFilter string) ([]Job, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var jobs []Job
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		job, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || job.Status == statusFilter {
			jobs = append(jobs, *job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt > jobs[j].CreatedAt
	})
	return jobs, nil
}
