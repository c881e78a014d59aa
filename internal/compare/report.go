package compare

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/sitemirror/sitemirror/internal/fault"
	"github.com/sitemirror/sitemirror/internal/pipeline"
)

// comparisonDir is where a website's report and diff images live.
func comparisonDir(websitesDir, websiteID string) string {
	return filepath.Join(websitesDir, websiteID, "comparison")
}

// ReferenceDir is where the pipeline's capture phase records reference
// section images for a website.
func ReferenceDir(websitesDir, websiteID string) string {
	return filepath.Join(websitesDir, websiteID, "reference")
}

func reportPath(websitesDir, websiteID string) string {
	return filepath.Join(comparisonDir(websitesDir, websiteID), "report.json")
}

// LoadReport is a pure read of the last persisted report for a website.
// Returns nil, nil when no report exists.
func LoadReport(websiteID, websitesDir string) (*Report, error) {
	data, err := os.ReadFile(reportPath(websitesDir, websiteID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: report for website %s: %v", fault.ErrCorruptState, websiteID, err)
	}
	return &r, nil
}

// saveReport persists the report atomically so a crashed run never clobbers
// the previous report with a partial one.
func saveReport(websitesDir string, r *Report) error {
	if err := pipeline.WriteJSON(reportPath(websitesDir, r.WebsiteID), r); err != nil {
		return fmt.Errorf("%w: write report: %v", fault.ErrPersistence, err)
	}
	return nil
}

// writePNG writes an image under the website's comparison directory and
// returns the path.
func writePNG(websitesDir, websiteID, name string, img image.Image) (string, error) {
	dir := comparisonDir(websitesDir, websiteID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// loadPNG reads a PNG from disk.
func loadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
