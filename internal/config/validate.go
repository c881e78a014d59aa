package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	c := cfg.Sitemirror

	if c.StateDir == "" {
		errs = append(errs, ValidationError{Field: "sitemirror.state_dir", Message: "is required"})
	}

	seen := make(map[string]bool)
	for i, s := range c.Compare.Sections {
		if s.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("sitemirror.compare.sections[%d].name", i),
				Message: "is required",
			})
			continue
		}
		if seen[s.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("sitemirror.compare.sections[%d].name", i),
				Message: fmt.Sprintf("duplicate section %q", s.Name),
			})
		}
		seen[s.Name] = true
		if s.Weight < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("sitemirror.compare.sections[%d].weight", i),
				Message: "must not be negative",
			})
		}
	}

	if c.Compare.PixelThreshold < 0 || c.Compare.PixelThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "sitemirror.compare.pixel_threshold",
			Message: "must be between 0 and 1",
		})
	}

	for field, value := range map[string]string{
		"sitemirror.renderer.capture_timeout":  c.Renderer.CaptureTimeout,
		"sitemirror.compare.cache_ttl":         c.Compare.CacheTTL,
		"sitemirror.compare.provision_timeout": c.Compare.ProvisionTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: "sitemirror.server.port", Message: "must be a valid port"})
	}

	return errs
}

// CaptureTimeout returns the parsed renderer capture timeout.
func (s *Sitemirror) CaptureTimeout() time.Duration {
	return parseDuration(s.Renderer.CaptureTimeout, 30*time.Second)
}

// CacheTTL returns the parsed comparison report freshness window.
func (s *Sitemirror) CacheTTL() time.Duration {
	return parseDuration(s.Compare.CacheTTL, 5*time.Minute)
}

// ProvisionTimeout returns the parsed render-target provisioning timeout.
func (s *Sitemirror) ProvisionTimeout() time.Duration {
	return parseDuration(s.Compare.ProvisionTimeout, 15*time.Second)
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
