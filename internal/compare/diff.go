package compare

import (
	"image"
	"image/color"
	"math"
)

// DiffResult holds the pixel-level outcome of comparing two renders.
type DiffResult struct {
	Diff             *image.NRGBA
	MismatchedPixels int
	TotalPixels      int
}

// DiffImages compares reference and generated images pixel by pixel after
// normalizing both to their shared dimensions (the intersection of the two
// sizes). A pixel is mismatched when the normalized color distance exceeds
// threshold (0-1). Pixels outside the shared region count as mismatched,
// since a size difference is itself a fidelity defect.
//
// The returned diff image shows the reference dimmed, with mismatched pixels
// highlighted in red. Output is deterministic for identical inputs.
func DiffImages(ref, gen image.Image, threshold float64) *DiffResult {
	rb, gb := ref.Bounds(), gen.Bounds()
	width := min(rb.Dx(), gb.Dx())
	height := min(rb.Dy(), gb.Dy())

	// Total area covers the larger of the two images so missing or extra
	// content is penalized, not silently cropped away.
	totalW := max(rb.Dx(), gb.Dx())
	totalH := max(rb.Dy(), gb.Dy())
	total := totalW * totalH
	mismatched := total - width*height

	diff := image.NewNRGBA(image.Rect(0, 0, totalW, totalH))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			rc := ref.At(rb.Min.X+x, rb.Min.Y+y)
			gc := gen.At(gb.Min.X+x, gb.Min.Y+y)
			if colorDistance(rc, gc) > threshold {
				mismatched++
				diff.Set(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				diff.Set(x, y, dimmed(rc))
			}
		}
	}

	// Region present in only one image: solid red.
	for y := 0; y < totalH; y++ {
		for x := 0; x < totalW; x++ {
			if x >= width || y >= height {
				diff.Set(x, y, color.NRGBA{R: 255, A: 255})
			}
		}
	}

	return &DiffResult{Diff: diff, MismatchedPixels: mismatched, TotalPixels: total}
}

// colorDistance returns the Euclidean RGB distance on a 0-1 scale.
func colorDistance(a, b color.Color) float64 {
	ar, ag, ab, _ := a.RGBA()
	br, bg, bb, _ := b.RGBA()
	dr := (float64(ar) - float64(br)) / 65535
	dg := (float64(ag) - float64(bg)) / 65535
	db := (float64(ab) - float64(bb)) / 65535
	return math.Sqrt(dr*dr+dg*dg+db*db) / math.Sqrt(3)
}

// dimmed renders a reference pixel at reduced intensity for the diff overlay.
func dimmed(c color.Color) color.NRGBA {
	r, g, b, _ := c.RGBA()
	return color.NRGBA{
		R: uint8(r >> 10),
		G: uint8(g >> 10),
		B: uint8(b >> 10),
		A: 255,
	}
}
