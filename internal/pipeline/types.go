package pipeline

// Phase identifies a step of the cloning pipeline.
type Phase string

const (
	PhaseQueued           Phase = "queued"
	PhaseCapturing        Phase = "capturing"
	PhaseExtracting       Phase = "extracting"
	PhaseGenerating       Phase = "generating"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseScaffolding      Phase = "scaffolding"
	PhaseVersioning       Phase = "versioning"
	PhaseComplete         Phase = "complete"
	PhaseFailed           Phase = "failed"
)

// Percent returns the progress value reported when the phase begins.
// Values are non-decreasing in pipeline order.
func (p Phase) Percent() int {
	switch p {
	case PhaseQueued:
		return 0
	case PhaseCapturing:
		return 10
	case PhaseExtracting:
		return 30
	case PhaseGenerating:
		return 50
	case PhaseAwaitingApproval:
		return 70
	case PhaseScaffolding:
		return 75
	case PhaseVersioning:
		return 90
	case PhaseComplete:
		return 100
	}
	return 0
}

// Pausable reports whether the pipeline may suspend at this phase.
// The approval gate is the only suspend point.
func (p Phase) Pausable() bool {
	return p == PhaseAwaitingApproval
}

// Job is the top-level persisted state for a single website-cloning run.
type Job struct {
	ID        string `json:"id"`
	WebsiteID string `json:"website_id"`
	SourceURL string `json:"source_url"`
	Phase     Phase  `json:"phase"`
	Percent   int    `json:"percent"`
	Status    string `json:"status"` // "pending", "in_progress", "completed", "failed"
	Message   string `json:"message"`
	OutputDir string `json:"output_dir,omitempty"`
	VersionID string `json:"version_id,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Progress is one progress event emitted during a run.
type Progress struct {
	Phase   Phase  `json:"phase"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// ProgressFunc receives progress events. A nil ProgressFunc is valid and
// discards events.
type ProgressFunc func(Progress)

// Component is one UI component discovered during extraction. The set of
// discovered components is part of the approval-gate checkpoint.
type Component struct {
	Name     string `json:"name"`
	Section  string `json:"section"`
	Selector string `json:"selector"`
}
