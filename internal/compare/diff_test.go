package compare

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
)

func TestDiffIdenticalImages(t *testing.T) {
	ref := solidImage(10, 10, white)
	gen := solidImage(10, 10, white)

	res := DiffImages(ref, gen, 0.1)
	if res.MismatchedPixels != 0 {
		t.Errorf("MismatchedPixels = %d, want 0", res.MismatchedPixels)
	}
	if res.TotalPixels != 100 {
		t.Errorf("TotalPixels = %d, want 100", res.TotalPixels)
	}
}

func TestDiffCountsChangedPixels(t *testing.T) {
	ref := solidImage(10, 10, white)
	gen := solidImage(10, 10, white)
	// A 2x2 black patch.
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			gen.Set(x, y, black)
		}
	}

	res := DiffImages(ref, gen, 0.1)
	if res.MismatchedPixels != 4 {
		t.Errorf("MismatchedPixels = %d, want 4", res.MismatchedPixels)
	}

	// Mismatched pixels are marked red in the diff image.
	r, _, _, _ := res.Diff.At(0, 0).RGBA()
	if uint8(r>>8) != 255 {
		t.Errorf("diff pixel at mismatch not red: r = %d", uint8(r>>8))
	}
}

func TestDiffThresholdTolerance(t *testing.T) {
	ref := solidImage(4, 4, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	gen := solidImage(4, 4, color.NRGBA{R: 205, G: 205, B: 205, A: 255})

	// A ~2% color shift stays under a 0.1 threshold.
	res := DiffImages(ref, gen, 0.1)
	if res.MismatchedPixels != 0 {
		t.Errorf("MismatchedPixels = %d, want 0 under tolerant threshold", res.MismatchedPixels)
	}

	// The same shift fails a strict threshold.
	res = DiffImages(ref, gen, 0.001)
	if res.MismatchedPixels != 16 {
		t.Errorf("MismatchedPixels = %d, want 16 under strict threshold", res.MismatchedPixels)
	}
}

func TestDiffSizeMismatchPenalized(t *testing.T) {
	ref := solidImage(10, 10, white)
	gen := solidImage(10, 8, white)

	res := DiffImages(ref, gen, 0.1)
	if res.TotalPixels != 100 {
		t.Errorf("TotalPixels = %d, want 100 (union area)", res.TotalPixels)
	}
	// The two missing rows are mismatched; the overlap is identical.
	if res.MismatchedPixels != 20 {
		t.Errorf("MismatchedPixels = %d, want 20", res.MismatchedPixels)
	}
}

func TestDiffDeterministic(t *testing.T) {
	ref := solidImage(6, 6, white)
	gen := solidImage(6, 6, black)

	a := DiffImages(ref, gen, 0.1)
	b := DiffImages(ref, gen, 0.1)
	if a.MismatchedPixels != b.MismatchedPixels || a.TotalPixels != b.TotalPixels {
		t.Errorf("repeated diff differs: %d/%d vs %d/%d",
			a.MismatchedPixels, a.TotalPixels, b.MismatchedPixels, b.TotalPixels)
	}
	for i := range a.Diff.Pix {
		if a.Diff.Pix[i] != b.Diff.Pix[i] {
			t.Fatalf("diff image differs at byte %d", i)
		}
	}
}

func TestFidelity(t *testing.T) {
	tests := []struct {
		mismatched, total int
		want              float64
	}{
		{0, 100, 100},
		{25, 100, 75},
		{100, 100, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Fidelity(tt.mismatched, tt.total); got != tt.want {
			t.Errorf("Fidelity(%d, %d) = %v, want %v", tt.mismatched, tt.total, got, tt.want)
		}
	}
}
