package fb

import (
	"testing"

	colorful "github.com/lucasb-eyer/go-colorful"

	"kmslab.dev/internal/quadrant"
)

// Pixel-level transforms must agree with the quadrant model: transforming a
// quadrant-painted buffer shows the transformed assignment.
func TestTransformed_AgreesWithQuadrantModel(t *testing.T) {
	a := quadrant.Assignment{
		TL: colorful.Color{R: 1},
		TR: colorful.Color{G: 1},
		BL: colorful.Color{B: 1},
		BR: colorful.Color{R: 1, G: 1, B: 1},
	}
	for _, rot := range []quadrant.Rotation{quadrant.Rot0, quadrant.Rot90, quadrant.Rot180, quadrant.Rot270} {
		for _, reflect := range []bool{false, true} {
			tr := quadrant.Transform{Rotation: rot, ReflectX: reflect}
			t.Run(tr.String(), func(t *testing.T) {
				src, err := New(64, 32, FormatXRGB8888, ModLinear)
				if err != nil {
					t.Fatal(err)
				}
				src.PaintQuadrants(a)
				got := src.Transformed(tr)

				wantW, wantH := 64, 32
				if rot == quadrant.Rot90 || rot == quadrant.Rot270 {
					wantW, wantH = 32, 64
				}
				if got.Width != wantW || got.Height != wantH {
					t.Fatalf("transformed dims %dx%d, want %dx%d", got.Width, got.Height, wantW, wantH)
				}

				want := tr.Apply(a)
				probes := []struct {
					x, y int
					c    colorful.Color
				}{
					{0, 0, want.TL},
					{wantW - 1, 0, want.TR},
					{0, wantH - 1, want.BL},
					{wantW - 1, wantH - 1, want.BR},
				}
				for _, p := range probes {
					if pc := got.Pixel(p.x, p.y); pc != p.c {
						t.Fatalf("corner (%d,%d) = %v, want %v", p.x, p.y, pc, p.c)
					}
				}
			})
		}
	}
}

func TestTransformed_RoundTrip(t *testing.T) {
	src, err := New(16, 8, FormatXRGB8888, ModLinear)
	if err != nil {
		t.Fatal(err)
	}
	src.PaintPattern()
	src.SetPixel(3, 5, colorful.Color{R: 0.5})

	tr := quadrant.Transform{Rotation: quadrant.Rot90}
	back := src.Transformed(tr).Transformed(tr.Inverse())
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			if src.Pixel(x, y) != back.Pixel(x, y) {
				t.Fatalf("pixel (%d,%d) changed across rotate round-trip", x, y)
			}
		}
	}
}

// Odd dimensions have no center pixel column or row to pivot on, so the
// mapping must stay an exact bijection rather than relying on symmetric
// halves.
func TestTransformed_OddDimensions(t *testing.T) {
	src, err := New(5, 3, FormatXRGB8888, ModLinear)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			src.SetPixel(x, y, colorful.Color{
				R: float64(x) / 4,
				G: float64(y) / 2,
			})
		}
	}

	transforms := []quadrant.Transform{
		{Rotation: quadrant.Rot90},
		{Rotation: quadrant.Rot180},
		{Rotation: quadrant.Rot270},
		{ReflectX: true},
		{Rotation: quadrant.Rot90, ReflectX: true},
		{Rotation: quadrant.Rot180, ReflectX: true},
		{Rotation: quadrant.Rot270, ReflectX: true},
	}
	for _, tr := range transforms {
		back := src.Transformed(tr).Transformed(tr.Inverse())
		for y := 0; y < src.Height; y++ {
			for x := 0; x < src.Width; x++ {
				if src.Pixel(x, y) != back.Pixel(x, y) {
					t.Fatalf("%s: pixel (%d,%d) changed across 5x3 round-trip", tr, x, y)
				}
			}
		}
	}

	// The 180 turn of a 5x3 buffer sends each corner to the opposite one.
	rot := src.Transformed(quadrant.Transform{Rotation: quadrant.Rot180})
	if got, want := rot.Pixel(0, 0), src.Pixel(4, 2); got != want {
		t.Fatalf("rot180 corner: got %v, want %v", got, want)
	}
	if got, want := rot.Pixel(4, 2), src.Pixel(0, 0); got != want {
		t.Fatalf("rot180 corner: got %v, want %v", got, want)
	}
}
