// Package compare implements the visual comparison engine: section-by-section
// capture of reference and generated renders, pixel-level diffing, and
// fidelity-report persistence. The engine is stateless per invocation;
// freshness bookkeeping lives in report metadata.
package compare

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitemirror/sitemirror/internal/config"
	"github.com/sitemirror/sitemirror/internal/fault"
	"github.com/sitemirror/sitemirror/internal/metrics"
	"github.com/sitemirror/sitemirror/internal/renderer"
)

// Renderer is the capture contract the engine consumes. Satisfied by
// *renderer.Renderer; tests substitute a fake.
type Renderer interface {
	CaptureSection(ctx context.Context, url string, vp renderer.Viewport, selector string) (image.Image, error)
}

// Engine runs comparisons.
type Engine struct {
	renderer         Renderer
	sections         []config.Section
	viewport         renderer.Viewport
	threshold        float64
	provisionTimeout time.Duration
	log              zerolog.Logger
}

// NewEngine creates an Engine from the compare and renderer configuration.
func NewEngine(r Renderer, cfg *config.Sitemirror, log zerolog.Logger) *Engine {
	return &Engine{
		renderer:         r,
		sections:         cfg.Compare.Sections,
		viewport:         renderer.Viewport{Width: cfg.Renderer.ViewportWidth, Height: cfg.Renderer.ViewportHeight},
		threshold:        cfg.Compare.PixelThreshold,
		provisionTimeout: cfg.ProvisionTimeout(),
		log:              log,
	}
}

// RunOpts are the inputs to RunComparison.
type RunOpts struct {
	WebsiteID        string
	WebsitesDir      string
	GeneratedSiteURL string

	// AutoStartServer provisions a static render target over ServeDir when
	// GeneratedSiteURL is unreachable or unset.
	AutoStartServer bool
	ServeDir        string
}

// RunComparison captures reference and generated renders for each configured
// section, computes pixel diffs, writes diff images, and persists the
// aggregated report, superseding any prior one. A failed run leaves the
// previous report untouched.
func (e *Engine) RunComparison(ctx context.Context, opts RunOpts) (*Report, error) {
	if opts.WebsiteID == "" {
		return nil, fault.Validationf("website id is required")
	}
	if opts.WebsitesDir == "" {
		return nil, fault.Validationf("websites dir is required")
	}

	outcome := "fail"
	defer func() { metrics.ComparisonsTotal.WithLabelValues(outcome).Inc() }()

	targetURL, stop, err := e.ensureTarget(ctx, opts.GeneratedSiteURL, opts.AutoStartServer, opts.ServeDir)
	if err != nil {
		return nil, err
	}
	defer stop()

	refDir := ReferenceDir(opts.WebsitesDir, opts.WebsiteID)
	report := &Report{
		WebsiteID: opts.WebsiteID,
		Timestamp: time.Now().UTC(),
		TargetURL: targetURL,
	}

	var weightedScore, totalWeight float64
	compared := 0
	for _, section := range e.sections {
		result, err := e.compareSection(ctx, opts, refDir, targetURL, section)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", section.Name, err)
		}
		report.Sections = append(report.Sections, *result)
		if result.Skipped {
			continue
		}
		weightedScore += result.Fidelity * result.Weight
		totalWeight += result.Weight
		compared++
	}

	if compared == 0 {
		return nil, fault.Validationf("no reference captures found for website %s under %s", opts.WebsiteID, refDir)
	}
	report.OverallScore = weightedScore / totalWeight

	if err := saveReport(opts.WebsitesDir, report); err != nil {
		return nil, err
	}
	outcome = "success"
	metrics.ComparisonScore.Observe(report.OverallScore)

	e.log.Info().Str("website", opts.WebsiteID).
		Float64("score", report.OverallScore).Int("sections", compared).
		Msg("comparison complete")
	return report, nil
}

// compareSection diffs one section. A missing reference capture skips the
// section rather than failing the run, so partial recordings still produce
// a report.
func (e *Engine) compareSection(ctx context.Context, opts RunOpts, refDir, targetURL string, section config.Section) (*SectionResult, error) {
	result := &SectionResult{SectionName: section.Name, Weight: section.Weight}

	refPath := filepath.Join(refDir, section.Name+".png")
	ref, err := loadPNG(refPath)
	if err != nil {
		if os.IsNotExist(err) {
			result.Skipped = true
			result.SkipReason = "no reference capture"
			return result, nil
		}
		return nil, err
	}
	result.ReferenceImage = refPath

	gen, err := e.renderer.CaptureSection(ctx, targetURL, e.viewport, section.Selector)
	if err != nil {
		return nil, fmt.Errorf("capture generated render: %w", err)
	}

	genPath, err := writePNG(opts.WebsitesDir, opts.WebsiteID, section.Name+"-generated.png", gen)
	if err != nil {
		return nil, err
	}
	result.GeneratedImage = genPath

	diff := DiffImages(ref, gen, e.threshold)
	diffPath, err := writePNG(opts.WebsitesDir, opts.WebsiteID, section.Name+"-diff.png", diff.Diff)
	if err != nil {
		return nil, err
	}
	result.DiffImage = diffPath
	result.MismatchedPixels = diff.MismatchedPixels
	result.TotalPixels = diff.TotalPixels
	result.Fidelity = Fidelity(diff.MismatchedPixels, diff.TotalPixels)
	return result, nil
}

// GetExistingReport is a pure read of the last persisted report.
// Returns nil when none exists.
func (e *Engine) GetExistingReport(websiteID, websitesDir string) (*Report, error) {
	return LoadReport(websiteID, websitesDir)
}

// Fidelity converts pixel counts to the 0-100 score, higher is better.
func Fidelity(mismatched, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 - (float64(mismatched)/float64(total))*100
}
