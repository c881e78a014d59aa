package compare

import "time"

// SectionResult is the pixel-diff outcome for one named page section.
type SectionResult struct {
	SectionName      string  `json:"section_name"`
	ReferenceImage   string  `json:"reference_image"`
	GeneratedImage   string  `json:"generated_image"`
	DiffImage        string  `json:"diff_image"`
	MismatchedPixels int     `json:"mismatched_pixels"`
	TotalPixels      int     `json:"total_pixels"`
	Fidelity         float64 `json:"fidelity"`
	Weight           float64 `json:"weight"`
	Skipped          bool    `json:"skipped,omitempty"`
	SkipReason       string  `json:"skip_reason,omitempty"`
}

// Report is the result of one comparison run. Each run supersedes the prior
// report for the same website; freshness bookkeeping lives in Timestamp.
type Report struct {
	WebsiteID    string          `json:"website_id"`
	Timestamp    time.Time       `json:"timestamp"`
	TargetURL    string          `json:"target_url"`
	Sections     []SectionResult `json:"sections"`
	OverallScore float64         `json:"overall_score"`
}

// FreshWithin reports whether the report is younger than ttl.
func (r *Report) FreshWithin(ttl time.Duration) bool {
	return time.Since(r.Timestamp) < ttl
}
