package suite

import (
	"fmt"

	"kmslab.dev/internal/fb"
	"kmslab.dev/internal/kms"
	"kmslab.dev/internal/quadrant"
)

// RotationCase is one entry of the plane-rotation matrix.
type RotationCase struct {
	Name      string
	PlaneType kms.PlaneType
	Transform quadrant.Transform
}

// RotationMatrix is the standard plane x rotation sweep: all angles on
// primary and sprite planes, 180 only on cursors.
func RotationMatrix() []RotationCase {
	var out []RotationCase
	add := func(pt kms.PlaneType, rot quadrant.Rotation) {
		tr := quadrant.Transform{Rotation: rot}
		out = append(out, RotationCase{
			Name:      fmt.Sprintf("%s-%s", pt, tr),
			PlaneType: pt,
			Transform: tr,
		})
	}
	for _, rot := range []quadrant.Rotation{quadrant.Rot90, quadrant.Rot180, quadrant.Rot270} {
		add(kms.PlanePrimary, rot)
	}
	for _, rot := range []quadrant.Rotation{quadrant.Rot90, quadrant.Rot180, quadrant.Rot270} {
		add(kms.PlaneOverlay, rot)
	}
	add(kms.PlaneCursor, quadrant.Rot180)
	return out
}

// ReflectXCase is one entry of the reflect-x x tiling sweep on the primary
// plane.
type ReflectXCase struct {
	Name      string
	Modifier  fb.Modifier
	Transform quadrant.Transform
}

// ReflectXMatrix pairs each rotatable tiling with the angles it can carry a
// reflection at: X tiling cannot do quarter turns.
func ReflectXMatrix() []ReflectXCase {
	type pair struct {
		mod  fb.Modifier
		rots []quadrant.Rotation
	}
	pairs := []pair{
		{fb.ModXTiled, []quadrant.Rotation{quadrant.Rot0, quadrant.Rot180}},
		{fb.ModYTiled, []quadrant.Rotation{quadrant.Rot0, quadrant.Rot90, quadrant.Rot180, quadrant.Rot270}},
		{fb.ModYfTiled, []quadrant.Rotation{quadrant.Rot0, quadrant.Rot90, quadrant.Rot180, quadrant.Rot270}},
	}
	var out []ReflectXCase
	for _, p := range pairs {
		for _, rot := range p.rots {
			tr := quadrant.Transform{Rotation: rot, ReflectX: true}
			out = append(out, ReflectXCase{
				Name:      fmt.Sprintf("primary-%s-reflect-x-%s", p.mod, rot),
				Modifier:  p.mod,
				Transform: tr,
			})
		}
	}
	return out
}
