package kms

import (
	"fmt"
	"strings"

	"kmslab.dev/internal/quadrant"
)

// Rotation is the hardware rotation property bitmask: one rotation bit plus
// an optional reflect-X bit. It exists only at the device boundary; inside
// the suites transforms are the closed quadrant.Transform form.
type Rotation uint32

const (
	RotationRot0 Rotation = 1 << iota
	RotationRot90
	RotationRot180
	RotationRot270
	RotationReflectX
)

// RotationAll is the capability mask of a fully rotatable plane.
const RotationAll = RotationRot0 | RotationRot90 | RotationRot180 | RotationRot270 | RotationReflectX

const rotationBits = RotationRot0 | RotationRot90 | RotationRot180 | RotationRot270

func (r Rotation) String() string {
	var parts []string
	switch r & rotationBits {
	case RotationRot0:
		parts = append(parts, "rotate-0")
	case RotationRot90:
		parts = append(parts, "rotate-90")
	case RotationRot180:
		parts = append(parts, "rotate-180")
	case RotationRot270:
		parts = append(parts, "rotate-270")
	}
	if r&RotationReflectX != 0 {
		parts = append(parts, "reflect-x")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Rotation(%#x)", uint32(r))
	}
	return strings.Join(parts, "|")
}

// Valid reports whether the value encodes exactly one rotation angle.
func (r Rotation) Valid() bool {
	bits := r & rotationBits
	return bits != 0 && bits&(bits-1) == 0 && r&^(rotationBits|RotationReflectX) == 0
}

// Rotated90 reports whether the value asks for a quarter-turn scanout, which
// constrains tiling, format and plane size.
func (r Rotation) Rotated90() bool {
	return r&(RotationRot90|RotationRot270) != 0
}

// EncodeTransform translates the model transform into the property encoding.
func EncodeTransform(t quadrant.Transform) Rotation {
	var r Rotation
	switch t.Rotation {
	case quadrant.Rot0:
		r = RotationRot0
	case quadrant.Rot90:
		r = RotationRot90
	case quadrant.Rot180:
		r = RotationRot180
	case quadrant.Rot270:
		r = RotationRot270
	default:
		panic(fmt.Sprintf("kms: rotation out of range: %d", int(t.Rotation)))
	}
	if t.ReflectX {
		r |= RotationReflectX
	}
	return r
}

// DecodeTransform translates a property value back into the model transform.
// Unlike EncodeTransform this returns an error: property values cross the
// external boundary and may be malformed.
func DecodeTransform(r Rotation) (quadrant.Transform, error) {
	if !r.Valid() {
		return quadrant.Transform{}, fmt.Errorf("kms: malformed rotation property %#x", uint32(r))
	}
	t := quadrant.Transform{ReflectX: r&RotationReflectX != 0}
	switch r & rotationBits {
	case RotationRot0:
		t.Rotation = quadrant.Rot0
	case RotationRot90:
		t.Rotation = quadrant.Rot90
	case RotationRot180:
		t.Rotation = quadrant.Rot180
	case RotationRot270:
		t.Rotation = quadrant.Rot270
	}
	return t, nil
}
