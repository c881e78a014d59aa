package version

// Version is an immutable, point-in-time snapshot of a website's generated
// output tree. Rows are never updated after creation except for the
// is_active flag, which is the single mutable head pointer.
type Version struct {
	ID              string   `json:"id"`
	WebsiteID       string   `json:"website_id"`
	VersionNumber   string   `json:"version_number"`
	SourceDir       string   `json:"source_dir"`
	StoragePath     string   `json:"storage_path"`
	TokensJSON      string   `json:"tokens_json,omitempty"`
	Changelog       string   `json:"changelog,omitempty"`
	AccuracyScore   *float64 `json:"accuracy_score,omitempty"`
	ParentVersionID string   `json:"parent_version_id,omitempty"`
	IsActive        bool     `json:"is_active"`
	CreatedAt       string   `json:"created_at"`
}

// File is one file entry belonging to a version.
type File struct {
	VersionID string `json:"version_id"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// CreateOpts are the inputs to CreateNewVersion.
type CreateOpts struct {
	WebsiteID       string
	VersionNumber   string // computed when empty
	SourceDir       string
	TokensJSON      string
	Changelog       string
	AccuracyScore   *float64
	ParentVersionID string
	SetActive       *bool // nil = active only for the first version of a website
}

// CreateResult is what CreateNewVersion returns.
type CreateResult struct {
	Version     *Version `json:"version"`
	VersionPath string   `json:"version_path"`
	FilesCopied int      `json:"files_copied"`
}

// RollbackOpts are the inputs to RollbackToVersion.
type RollbackOpts struct {
	WebsiteID       string
	TargetVersionID string
	Changelog       string
}

// RollbackResult pairs the freshly created version with its rollback target.
type RollbackResult struct {
	NewVersion    *Version `json:"new_version"`
	TargetVersion *Version `json:"target_version"`
}

// RollbackCheck reports whether a rollback is permitted.
type RollbackCheck struct {
	CanRollback bool   `json:"can_rollback"`
	Reason      string `json:"reason,omitempty"`
}
