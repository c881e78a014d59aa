package config

// Config is the top-level configuration structure parsed from sitemirror YAML.
type Config struct {
	Sitemirror Sitemirror `yaml:"sitemirror"`
}

// Sitemirror defines the full configuration: storage locations, renderer,
// comparison, and server settings.
type Sitemirror struct {
	// StateDir holds job state and checkpoints. Default: ~/.sitemirror.
	StateDir string `yaml:"state_dir"`

	// StorageDir holds immutable version snapshots. Default: <state_dir>/versions.
	StorageDir string `yaml:"storage_dir"`

	// WebsitesDir holds per-website reference captures and comparison
	// reports. Default: <state_dir>/websites.
	WebsitesDir string `yaml:"websites_dir"`

	// DBPath is the SQLite database for version metadata and pipeline
	// events. Default: <state_dir>/sitemirror.db.
	DBPath string `yaml:"db_path"`

	Renderer Renderer `yaml:"renderer"`
	Compare  Compare  `yaml:"compare"`
	Server   Server   `yaml:"server"`
}

// Renderer configures the browser capture adapter.
type Renderer struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome.
	RemoteURL string `yaml:"remote_url"`

	// ViewportWidth/ViewportHeight for captures. Default: 1440x900.
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// CaptureTimeout bounds a single navigation + capture. Default: 30s.
	CaptureTimeout string `yaml:"capture_timeout"`
}

// Section names one page region compared independently.
type Section struct {
	Name     string  `yaml:"name"`
	Selector string  `yaml:"selector"`
	Weight   float64 `yaml:"weight"`
}

// Compare configures the visual comparison engine.
type Compare struct {
	// Sections compared per page. Defaults to header/hero/features/footer
	// full-weight sections when empty.
	Sections []Section `yaml:"sections"`

	// PixelThreshold is the per-pixel color distance above which a pixel
	// counts as mismatched, 0-1 scale. Default: 0.1.
	PixelThreshold float64 `yaml:"pixel_threshold"`

	// CacheTTL is the report freshness window. Default: 5m.
	CacheTTL string `yaml:"cache_ttl"`

	// ProvisionTimeout bounds auto-starting the generated render target.
	// Default: 15s.
	ProvisionTimeout string `yaml:"provision_timeout"`
}

// Server configures the HTTP API.
type Server struct {
	Port int `yaml:"port"` // default 8090
}
