// Package checkpoint persists resumable pipeline state. A job has at most
// one live checkpoint; saving overwrites the prior one. The payload is a
// tagged union with one variant per pausable phase so resume logic can match
// exhaustively and reject unknown variants.
package checkpoint

import (
	"time"

	"github.com/sitemirror/sitemirror/internal/fault"
	"github.com/sitemirror/sitemirror/internal/pipeline"
)

// ApprovalSnapshot is the payload variant for a job paused at the approval
// gate: everything the scaffolding phase needs to re-enter.
type ApprovalSnapshot struct {
	Components      []pipeline.Component `json:"components"`
	CaptureDir      string               `json:"capture_dir"`
	GeneratedDir    string               `json:"generated_dir"`
	PartialScaffold []string             `json:"partial_scaffold,omitempty"`
}

// Checkpoint is the durable snapshot of a paused job.
type Checkpoint struct {
	JobID   string         `json:"job_id"`
	Phase   pipeline.Phase `json:"phase"`
	SavedAt time.Time      `json:"saved_at"`

	// ConsumedAt is set when a resume has loaded this checkpoint. A consumed
	// checkpoint is kept for a grace window so duplicate resume calls can be
	// recognised instead of failing with NotFound.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`

	// Exactly one variant is populated, selected by Phase.
	Approval *ApprovalSnapshot `json:"approval,omitempty"`
}

// Validate checks the phase tag against the populated variant.
func (c *Checkpoint) Validate() error {
	switch c.Phase {
	case pipeline.PhaseAwaitingApproval:
		if c.Approval == nil {
			return fault.ErrCorruptState
		}
		return nil
	default:
		return fault.ErrCorruptState
	}
}

// Info is the read-only introspection view of a checkpoint.
type Info struct {
	Exists         bool           `json:"exists"`
	Phase          pipeline.Phase `json:"phase,omitempty"`
	SavedAt        time.Time      `json:"saved_at"`
	ComponentCount int            `json:"component_count"`
}
