package gpu

import (
	"math"
	"testing"
)

func TestParseRotation(t *testing.T) {
	for r := NoRotation; r <= Rotate180; r++ {
		got, err := ParseRotation(r.String())
		if err != nil || got != r {
			t.Errorf("ParseRotation(%q) = %v, %v", r.String(), got, err)
		}
	}
	if _, err := ParseRotation("sideways"); err == nil {
		t.Error("unknown name accepted")
	}
}

// TestRotation_SourcePointIsBijective verifies every rotation is a permutation of pixels
// Given: A 3x2 output for each rotation, with a 2x3 source when the axes swap
// When: Every destination pixel is mapped back to its source
// Then: Each source pixel is sampled exactly once and stays in bounds
func TestRotation_SourcePointIsBijective(t *testing.T) {
	const w, h = 3, 2
	for r := NoRotation; r <= Rotate180; r++ {
		t.Run(r.String(), func(t *testing.T) {
			// Arrange
			sw, sh := w, h
			if r.SwapsWidthAndHeight() {
				sw, sh = h, w
			}
			seen := make(map[[2]int]int)

			// Act
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					sx, sy := r.SourcePoint(x, y, w, h)
					if sx < 0 || sx >= sw || sy < 0 || sy >= sh {
						t.Fatalf("(%d,%d) -> (%d,%d) outside %dx%d source", x, y, sx, sy, sw, sh)
					}
					seen[[2]int{sx, sy}]++
				}
			}

			// Assert
			if len(seen) != w*h {
				t.Errorf("distinct source pixels: got = %d, want %d", len(seen), w*h)
			}
		})
	}
}

func TestRotation_KnownCorners(t *testing.T) {
	tests := []struct {
		r      Rotation
		x, y   int
		sx, sy int
	}{
		{NoRotation, 0, 0, 0, 0},
		{RotateRight, 0, 0, 0, 2},
		{RotateLeft, 0, 0, 1, 0},
		{Rotate180, 0, 0, 2, 1},
		{FlipHorizontal, 0, 1, 2, 1},
		{FlipVertical, 2, 0, 2, 1},
	}
	for _, tt := range tests {
		// RotateRight/RotateLeft map a 3x2 output onto a 2x3 source.
		if sx, sy := tt.r.SourcePoint(tt.x, tt.y, 3, 2); sx != tt.sx || sy != tt.sy {
			t.Errorf("%s (%d,%d): got (%d,%d), want (%d,%d)", tt.r, tt.x, tt.y, sx, sy, tt.sx, tt.sy)
		}
	}
}

func TestAffineTransform_Concat(t *testing.T) {
	quarter := RotationTransform(math.Pi / 2)
	half := quarter.Concat(quarter)

	if math.Abs(half.A+1) > 1e-9 || math.Abs(half.D+1) > 1e-9 || math.Abs(half.B) > 1e-9 {
		t.Errorf("two quarter turns: got %+v", half)
	}
	if !IdentityTransform.Concat(IdentityTransform).IsIdentity() {
		t.Error("identity composition is not identity")
	}
	if quarter.IsIdentity() {
		t.Error("quarter turn reported as identity")
	}
}
