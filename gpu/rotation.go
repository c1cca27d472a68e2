package gpu

import (
	"fmt"
	"math"
)

// Rotation describes how an input frame must be turned before it is written.
type Rotation int

const (
	NoRotation Rotation = iota
	RotateLeft
	RotateRight
	FlipVertical
	FlipHorizontal
	RotateRightFlipVertical
	RotateRightFlipHorizontal
	Rotate180
)

func (r Rotation) String() string {
	switch r {
	case NoRotation:
		return "none"
	case RotateLeft:
		return "rotate_left"
	case RotateRight:
		return "rotate_right"
	case FlipVertical:
		return "flip_vertical"
	case FlipHorizontal:
		return "flip_horizontal"
	case RotateRightFlipVertical:
		return "rotate_right_flip_vertical"
	case RotateRightFlipHorizontal:
		return "rotate_right_flip_horizontal"
	case Rotate180:
		return "rotate_180"
	default:
		return "unknown"
	}
}

// ParseRotation accepts the names produced by String.
func ParseRotation(s string) (Rotation, error) {
	for r := NoRotation; r <= Rotate180; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return NoRotation, fmt.Errorf("unknown rotation %q", s)
}

// SwapsWidthAndHeight reports whether the rotation exchanges the axes.
func (r Rotation) SwapsWidthAndHeight() bool {
	switch r {
	case RotateLeft, RotateRight, RotateRightFlipVertical, RotateRightFlipHorizontal:
		return true
	}
	return false
}

// SourcePoint maps a destination pixel (x, y) of a w×h output back to the
// source pixel it samples. The source is h×w when the rotation swaps axes.
func (r Rotation) SourcePoint(x, y, w, h int) (int, int) {
	switch r {
	case RotateLeft:
		return h - 1 - y, x
	case RotateRight:
		return y, w - 1 - x
	case FlipVertical:
		return x, h - 1 - y
	case FlipHorizontal:
		return w - 1 - x, y
	case RotateRightFlipVertical:
		return h - 1 - y, w - 1 - x
	case RotateRightFlipHorizontal:
		return y, x
	case Rotate180:
		return w - 1 - x, h - 1 - y
	default:
		return x, y
	}
}

// AffineTransform is a 2D affine matrix [a b 0; c d 0; tx ty 1], the
// orientation hint stored with the video track.
type AffineTransform struct {
	A, B, C, D, Tx, Ty float64
}

// IdentityTransform leaves the track untouched.
var IdentityTransform = AffineTransform{A: 1, D: 1}

// RotationTransform returns a transform rotating by radians.
func RotationTransform(radians float64) AffineTransform {
	s, c := math.Sincos(radians)
	return AffineTransform{A: c, B: s, C: -s, D: c}
}

// IsIdentity reports whether t is the identity.
func (t AffineTransform) IsIdentity() bool {
	return t == IdentityTransform
}

// Concat returns t followed by u.
func (t AffineTransform) Concat(u AffineTransform) AffineTransform {
	return AffineTransform{
		A:  t.A*u.A + t.B*u.C,
		B:  t.A*u.B + t.B*u.D,
		C:  t.C*u.A + t.D*u.C,
		D:  t.C*u.B + t.D*u.D,
		Tx: t.Tx*u.A + t.Ty*u.C + u.Tx,
		Ty: t.Tx*u.B + t.Ty*u.D + u.Ty,
	}
}
