// Package quadrant models the color layout of a surface divided into four
// quadrants, and the effect a plane transform (rotation plus optional
// horizontal reflection) has on that layout. It is the software ground truth
// the conformance suites compare hardware output against.
package quadrant

import (
	"fmt"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Rotation is one of the four supported plane rotation angles. It is a closed
// set: any other value passed to Apply is a bug in the caller and panics.
type Rotation int

const (
	Rot0 Rotation = iota
	Rot90
	Rot180
	Rot270
)

func (r Rotation) Degrees() int {
	switch r {
	case Rot0:
		return 0
	case Rot90:
		return 90
	case Rot180:
		return 180
	case Rot270:
		return 270
	}
	panic(fmt.Sprintf("quadrant: rotation out of range: %d", int(r)))
}

func (r Rotation) String() string {
	return fmt.Sprintf("%d", r.Degrees())
}

// Transform is a reflect-X flag plus a rotation angle. Reflection is applied
// before rotation; the order is fixed and matches the two independent degrees
// of freedom of the hardware rotation property.
type Transform struct {
	Rotation Rotation
	ReflectX bool
}

func (t Transform) String() string {
	if t.ReflectX {
		return "reflect-x-" + t.Rotation.String()
	}
	return "rotation-" + t.Rotation.String()
}

// Assignment maps the four quadrant positions of a surface to colors.
type Assignment struct {
	TL, TR, BL, BR colorful.Color
}

// Apply returns the assignment a correctly transformed surface must show.
// Reflect-X mirrors horizontally (TL<->TR, BL<->BR), then the rotation
// permutes the reflected layout. The 90 degree permutation direction is
// pinned to the hardware rotation property convention: after a 90 degree
// rotation the top-left quadrant shows what was previously top-right.
func (t Transform) Apply(a Assignment) Assignment {
	if t.ReflectX {
		a = Assignment{TL: a.TR, TR: a.TL, BL: a.BR, BR: a.BL}
	}
	switch t.Rotation {
	case Rot0:
		return a
	case Rot90:
		return Assignment{TL: a.TR, TR: a.BR, BL: a.TL, BR: a.BL}
	case Rot180:
		return Assignment{TL: a.BR, TR: a.BL, BL: a.TR, BR: a.TL}
	case Rot270:
		return Assignment{TL: a.BL, TR: a.TL, BL: a.BR, BR: a.TR}
	}
	panic(fmt.Sprintf("quadrant: rotation out of range: %d", int(t.Rotation)))
}

// Inverse returns the transform that undoes t. A reflected transform is an
// involution (reflect-then-rotate is itself a reflection about some axis), so
// its inverse is itself; a pure rotation inverts to the opposite angle.
func (t Transform) Inverse() Transform {
	if t.ReflectX {
		return t
	}
	switch t.Rotation {
	case Rot0, Rot180:
		return t
	case Rot90:
		return Transform{Rotation: Rot270}
	case Rot270:
		return Transform{Rotation: Rot90}
	}
	panic(fmt.Sprintf("quadrant: rotation out of range: %d", int(t.Rotation)))
}
