package checkpoint

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sitemirror/sitemirror/internal/fault"
	"github.com/sitemirror/sitemirror/internal/pipeline"
)

func newTestStore(t *testing.T) (*Store, *pipeline.Store) {
	t.Helper()
	jobs := pipeline.NewStore(t.TempDir())
	return NewStore(jobs), jobs
}

func approvalCheckpoint(jobID string) *Checkpoint {
	return &Checkpoint{
		JobID: jobID,
		Phase: pipeline.PhaseAwaitingApproval,
		Approval: &ApprovalSnapshot{
			Components: []pipeline.Component{
				{Name: "Header", Section: "header", Selector: "header"},
				{Name: "Hero", Section: "hero", Selector: ".hero"},
			},
			CaptureDir:   "/tmp/capture",
			GeneratedDir: "/tmp/generated",
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Save(approvalCheckpoint("job-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := s.Load("job-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.Phase != pipeline.PhaseAwaitingApproval {
		t.Errorf("Phase = %q, want %q", cp.Phase, pipeline.PhaseAwaitingApproval)
	}
	if cp.SavedAt.IsZero() {
		t.Error("SavedAt should be set")
	}
	if cp.ConsumedAt != nil {
		t.Error("ConsumedAt should be nil on a fresh checkpoint")
	}
	if got := len(cp.Approval.Components); got != 2 {
		t.Errorf("Components = %d, want 2", got)
	}
}

func TestSaveRejectsNonPausablePhase(t *testing.T) {
	s, _ := newTestStore(t)

	cp := approvalCheckpoint("job-1")
	cp.Phase = pipeline.PhaseCapturing
	if err := s.Save(cp); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("Save non-pausable: err = %v, want ErrValidation", err)
	}
}

func TestSaveRejectsMissingPayload(t *testing.T) {
	s, _ := newTestStore(t)

	cp := approvalCheckpoint("job-1")
	cp.Approval = nil
	if err := s.Save(cp); !errors.Is(err, fault.ErrCorruptState) {
		t.Errorf("Save without payload: err = %v, want ErrCorruptState", err)
	}
}

func TestSaveOverwritesPrior(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Save(approvalCheckpoint("job-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second := approvalCheckpoint("job-1")
	second.Approval.Components = second.Approval.Components[:1]
	if err := s.Save(second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cp, err := s.Load("job-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(cp.Approval.Components); got != 1 {
		t.Errorf("Components = %d, want 1 after overwrite", got)
	}
}

func TestLoadMissing(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Load("nope"); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("Load missing: err = %v, want ErrNotFound", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	s, jobs := newTestStore(t)

	path := jobs.CheckpointPath("job-1")
	if err := pipeline.WriteAtomic(path, []byte("{not json")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	if _, err := s.Load("job-1"); !errors.Is(err, fault.ErrCorruptState) {
		t.Errorf("Load corrupt: err = %v, want ErrCorruptState", err)
	}
	// A corrupt file still exists, so resume surfaces the corruption.
	if !s.Exists("job-1") {
		t.Error("Exists should be true for a corrupt checkpoint")
	}
}

func TestExistsLifecycle(t *testing.T) {
	s, _ := newTestStore(t)

	if s.Exists("job-1") {
		t.Error("Exists before Save should be false")
	}
	if err := s.Save(approvalCheckpoint("job-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists("job-1") {
		t.Error("Exists after Save should be true")
	}
	if err := s.MarkConsumed("job-1"); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}
	// Consumed but still on disk: superseded, not live.
	if s.Exists("job-1") {
		t.Error("Exists after MarkConsumed should be false")
	}
}

func TestDescribe(t *testing.T) {
	s, _ := newTestStore(t)

	info, err := s.Describe("job-1")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info.Exists {
		t.Error("Describe before Save: Exists should be false")
	}

	if err := s.Save(approvalCheckpoint("job-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err = s.Describe("job-1")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !info.Exists {
		t.Error("Exists should be true")
	}
	if info.Phase != pipeline.PhaseAwaitingApproval {
		t.Errorf("Phase = %q, want %q", info.Phase, pipeline.PhaseAwaitingApproval)
	}
	if info.ComponentCount != 2 {
		t.Errorf("ComponentCount = %d, want 2", info.ComponentCount)
	}
}

func TestSweepHonoursGraceWindow(t *testing.T) {
	s, jobs := newTestStore(t)
	s.SetGrace(50 * time.Millisecond)

	if err := s.Save(approvalCheckpoint("job-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Not consumed yet: never swept.
	removed, err := s.Sweep("job-1")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed {
		t.Error("Sweep removed an unconsumed checkpoint")
	}

	if err := s.MarkConsumed("job-1"); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}

	// Inside the grace window the file survives for duplicate resumes.
	removed, err = s.Sweep("job-1")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed {
		t.Error("Sweep removed a checkpoint inside its grace window")
	}

	time.Sleep(60 * time.Millisecond)
	removed, err = s.Sweep("job-1")
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !removed {
		t.Error("Sweep should remove a consumed checkpoint past its grace window")
	}
	if _, err := os.Stat(jobs.CheckpointPath("job-1")); !os.IsNotExist(err) {
		t.Error("checkpoint file should be gone after Sweep")
	}

	// Repeat sweeps are safe.
	if _, err := s.Sweep("job-1"); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
}

func TestDeleteBypassesGrace(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Save(approvalCheckpoint("job-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("job-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists("job-1") {
		t.Error("Exists after Delete should be false")
	}
	if err := s.Delete("job-1"); err != nil {
		t.Fatalf("Delete on missing checkpoint: %v", err)
	}
}
