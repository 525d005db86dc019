package kms

import (
	"testing"

	"kmslab.dev/internal/quadrant"
)

func TestEncodeDecodeTransform(t *testing.T) {
	for _, rot := range []quadrant.Rotation{quadrant.Rot0, quadrant.Rot90, quadrant.Rot180, quadrant.Rot270} {
		for _, reflect := range []bool{false, true} {
			tr := quadrant.Transform{Rotation: rot, ReflectX: reflect}
			enc := EncodeTransform(tr)
			if !enc.Valid() {
				t.Fatalf("EncodeTransform(%v) = %#x, not a valid property value", tr, uint32(enc))
			}
			back, err := DecodeTransform(enc)
			if err != nil {
				t.Fatalf("DecodeTransform(%v): %v", enc, err)
			}
			if back != tr {
				t.Fatalf("round-trip %v -> %v -> %v", tr, enc, back)
			}
		}
	}
}

func TestDecodeTransform_RejectsMalformed(t *testing.T) {
	bad := []Rotation{
		0,
		RotationRot90 | RotationRot180,
		RotationReflectX, // reflect without an angle bit
		1 << 9,
	}
	for _, r := range bad {
		if _, err := DecodeTransform(r); err == nil {
			t.Fatalf("DecodeTransform(%#x) should fail", uint32(r))
		}
	}
}

func TestRotationString(t *testing.T) {
	r := RotationRot90 | RotationReflectX
	if got := r.String(); got != "rotate-90|reflect-x" {
		t.Fatalf("String = %q", got)
	}
}
