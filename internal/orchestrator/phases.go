package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/sitemirror/sitemirror/internal/checkpoint"
	"github.com/sitemirror/sitemirror/internal/compare"
	"github.com/sitemirror/sitemirror/internal/fault"
	"github.com/sitemirror/sitemirror/internal/metrics"
	"github.com/sitemirror/sitemirror/internal/pipeline"
	"github.com/sitemirror/sitemirror/internal/renderer"
	"github.com/sitemirror/sitemirror/internal/version"
)

// Capturer produces section-bounded bitmaps of a URL. Satisfied by
// *renderer.Renderer.
type Capturer interface {
	CaptureSection(ctx context.Context, url string, vp renderer.Viewport, selector string) (image.Image, error)
}

// Generator turns discovered components into files under outDir. Content
// synthesis itself is an external collaborator; the default implementation
// writes the component manifest the scaffold phase assembles.
type Generator interface {
	Generate(ctx context.Context, job *pipeline.Job, components []pipeline.Component, outDir string) error
}

// ManifestGenerator is the built-in Generator: one manifest plus one entry
// stub per component.
type ManifestGenerator struct{}

// Generate writes components.json and a stub module per component. Existing
// files are preserved, so a re-run after a crash keeps prior partial output.
func (ManifestGenerator) Generate(ctx context.Context, job *pipeline.Job, components []pipeline.Component, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", outDir, err)
	}
	manifest, err := json.MarshalIndent(components, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}
	if err := pipeline.WriteAtomic(filepath.Join(outDir, "components.json"), manifest); err != nil {
		return err
	}
	for _, c := range components {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(outDir, "components", c.Name+".jsx")
		if _, err := os.Stat(path); err == nil {
			continue // partial output from a prior run, keep it
		}
		stub := fmt.Sprintf("export default function %s() {\n  return null; // section: %s\n}\n", c.Name, c.Section)
		if err := pipeline.WriteAtomic(path, []byte(stub)); err != nil {
			return err
		}
	}
	return nil
}

// capturePhase records a reference render per configured section into the
// website's reference directory, which doubles as the comparison engine's
// recorded original source. Sections already captured are not redone.
func (o *Orchestrator) capturePhase(ctx context.Context, job *pipeline.Job) (string, error) {
	if job.SourceURL == "" {
		return "", fault.Validationf("job %s has no source url", job.ID)
	}
	dir := compare.ReferenceDir(o.cfg.WebsitesDir, job.WebsiteID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	vp := renderer.Viewport{Width: o.cfg.Renderer.ViewportWidth, Height: o.cfg.Renderer.ViewportHeight}
	for _, section := range o.cfg.Compare.Sections {
		path := filepath.Join(dir, section.Name+".png")
		if _, err := os.Stat(path); err == nil {
			continue // captured by a prior attempt
		}
		img, err := o.capturer.CaptureSection(ctx, job.SourceURL, vp, section.Selector)
		if err != nil {
			return "", fmt.Errorf("capture %s: %w", section.Name, err)
		}
		if err := writePNGAtomic(path, img); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// extractPhase enumerates the components discovered in the captured page.
// Semantic extraction is out of scope; discovery follows the configured
// section map, one component per section that produced a capture.
func (o *Orchestrator) extractPhase(ctx context.Context, job *pipeline.Job, captureDir string) ([]pipeline.Component, error) {
	var components []pipeline.Component
	for _, section := range o.cfg.Compare.Sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(filepath.Join(captureDir, section.Name+".png")); err != nil {
			continue
		}
		components = append(components, pipeline.Component{
			Name:     exportName(section.Name),
			Section:  section.Name,
			Selector: section.Selector,
		})
	}
	if len(components) == 0 {
		return nil, fault.Validationf("no components discovered for job %s", job.ID)
	}
	return components, nil
}

// generatePhase hands discovery results to the generator.
func (o *Orchestrator) generatePhase(ctx context.Context, job *pipeline.Job, components []pipeline.Component) (string, error) {
	dir := filepath.Join(o.jobs.JobDir(job.ID), "generated")
	if err := o.generator.Generate(ctx, job, components, dir); err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return dir, nil
}

// scaffoldPhase assembles the final output tree from the generated files.
// Safe to re-execute: the copy validates against the generated tree rather
// than blindly overwriting committed output.
func (o *Orchestrator) scaffoldPhase(ctx context.Context, job *pipeline.Job, snap *checkpoint.ApprovalSnapshot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := o.jobs.ScaffoldDir(job.ID)
	if _, err := os.Stat(snap.GeneratedDir); err != nil {
		return "", fmt.Errorf("%w: generated output missing at %s", fault.ErrCorruptState, snap.GeneratedDir)
	}
	if _, err := pipeline.CopyTree(snap.GeneratedDir, dir); err != nil {
		return "", err
	}
	index := fmt.Sprintf("<!doctype html>\n<html>\n<head><title>%s</title></head>\n<body data-website=%q></body>\n</html>\n",
		job.WebsiteID, job.WebsiteID)
	if err := pipeline.WriteAtomic(filepath.Join(dir, "index.html"), []byte(index)); err != nil {
		return "", err
	}
	return dir, nil
}

// versioningPhase snapshots the scaffold into the version store. Re-entrant:
// a job that already registered its version reports that version instead of
// creating a duplicate.
func (o *Orchestrator) versioningPhase(ctx context.Context, job *pipeline.Job, scaffoldDir string) (*version.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, err := o.jobs.Get(job.ID)
	if err != nil {
		return nil, err
	}
	if current.VersionID != "" {
		if v, err := o.versions.GetVersion(current.VersionID); err == nil && v != nil {
			return v, nil
		}
	}

	result, err := o.versions.CreateNewVersion(version.CreateOpts{
		WebsiteID: job.WebsiteID,
		SourceDir: scaffoldDir,
		Changelog: fmt.Sprintf("Generated from %s (job %s)", job.SourceURL, job.ID),
	})
	if err != nil {
		return nil, err
	}
	metrics.VersionsCreated.WithLabelValues("pipeline").Inc()
	return result.Version, nil
}

// writePNGAtomic encodes img and writes it with temp-file + rename.
func writePNGAtomic(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return pipeline.WriteAtomic(path, buf.Bytes())
}

// exportName converts a section name like "hero" or "nav-bar" into an
// exported component identifier ("Hero", "NavBar").
func exportName(section string) string {
	out := make([]rune, 0, len(section))
	upper := true
	for _, r := range section {
		if r == '-' || r == '_' || r == ' ' {
			upper = true
			continue
		}
		if upper {
			if r >= 'a' && r <= 'z' {
				r -= 'a' - 'A'
			}
			upper = false
		}
		out = append(out, r)
	}
	return string(out)
}
