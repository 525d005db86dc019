package fb

import (
	"path/filepath"
	"testing"

	colorful "github.com/lucasb-eyer/go-colorful"

	"kmslab.dev/internal/quadrant"
)

func TestCalcSize(t *testing.T) {
	cases := []struct {
		name       string
		w, h       int
		format     Format
		mod        Modifier
		wantStride int
		wantSize   int
	}{
		{"linear-xrgb", 256, 256, FormatXRGB8888, ModLinear, 1024, 1024 * 256},
		{"linear-unaligned", 100, 10, FormatXRGB8888, ModLinear, 448, 448 * 10},
		{"x-tiled", 256, 100, FormatXRGB8888, ModXTiled, 1024, 1024 * 104},
		{"y-tiled", 256, 100, FormatXRGB8888, ModYTiled, 1024, 1024 * 128},
		{"rgb565", 256, 256, FormatRGB565, ModLinear, 512, 512 * 256},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			size, stride := CalcSize(tc.w, tc.h, tc.format, tc.mod)
			if stride != tc.wantStride || size != tc.wantSize {
				t.Fatalf("CalcSize = (%d, %d), want (%d, %d)", size, stride, tc.wantSize, tc.wantStride)
			}
		})
	}
}

func TestNew_RejectsBadDimensions(t *testing.T) {
	if _, err := New(0, 256, FormatXRGB8888, ModLinear); err == nil {
		t.Fatal("expected error for zero width")
	}
	if _, err := New(256, -1, FormatXRGB8888, ModLinear); err == nil {
		t.Fatal("expected error for negative height")
	}
}

func TestPaintQuadrants(t *testing.T) {
	f, err := New(64, 64, FormatXRGB8888, ModLinear)
	if err != nil {
		t.Fatal(err)
	}
	a := quadrant.Assignment{
		TL: colorful.Color{R: 1},
		TR: colorful.Color{G: 1},
		BL: colorful.Color{B: 1},
		BR: colorful.Color{R: 1, G: 1, B: 1},
	}
	f.PaintQuadrants(a)

	probes := []struct {
		x, y int
		want colorful.Color
	}{
		{0, 0, a.TL}, {31, 31, a.TL},
		{32, 0, a.TR}, {63, 31, a.TR},
		{0, 32, a.BL}, {31, 63, a.BL},
		{32, 32, a.BR}, {63, 63, a.BR},
	}
	for _, p := range probes {
		if got := f.Pixel(p.x, p.y); got != p.want {
			t.Fatalf("pixel (%d,%d) = %v, want %v", p.x, p.y, got, p.want)
		}
	}
}

func TestPaintRect_Clips(t *testing.T) {
	f, err := New(16, 16, FormatXRGB8888, ModLinear)
	if err != nil {
		t.Fatal(err)
	}
	// Must not panic or write out of bounds.
	f.PaintRect(-8, -8, 64, 64, colorful.Color{R: 1})
	if got := f.Pixel(15, 15); got != (colorful.Color{R: 1}) {
		t.Fatalf("clipped fill missed in-bounds pixel: %v", got)
	}
}

func TestConvert_RGB565LosesPrecisionButKeepsPrimaries(t *testing.T) {
	f, err := New(8, 8, FormatXRGB8888, ModLinear)
	if err != nil {
		t.Fatal(err)
	}
	f.Fill(colorful.Color{R: 1})
	conv, err := f.Convert(FormatRGB565)
	if err != nil {
		t.Fatal(err)
	}
	if got := conv.Pixel(0, 0); got != (colorful.Color{R: 1}) {
		t.Fatalf("pure red did not survive RGB565 round-trip: %v", got)
	}
}

func TestPaintPattern(t *testing.T) {
	f, err := New(320, 128, FormatXRGB8888, ModLinear)
	if err != nil {
		t.Fatal(err)
	}
	f.PaintPattern()
	if got := f.Pixel(0, 0); got != (colorful.Color{}) {
		t.Fatalf("pattern origin should be black, got %v", got)
	}
	// One block right and one block down advance the color index by two.
	if got := f.Pixel(64, 64); got != (colorful.Color{G: 1}) {
		t.Fatalf("pattern at (64,64) should be green, got %v", got)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	f, err := New(32, 32, FormatXRGB8888, ModYTiled)
	if err != nil {
		t.Fatal(err)
	}
	f.PaintPattern()

	path := filepath.Join(t.TempDir(), "frames", "mismatch.zst")
	if err := WriteDump(path, f, "crc mismatch"); err != nil {
		t.Fatalf("WriteDump: %v", err)
	}
	back, err := ReadDump(path)
	if err != nil {
		t.Fatalf("ReadDump: %v", err)
	}
	if back.Width != f.Width || back.Height != f.Height || back.Format != f.Format {
		t.Fatalf("dump geometry changed: %+v", back)
	}
	for _, p := range [][2]int{{0, 0}, {13, 7}, {31, 31}} {
		if back.Pixel(p[0], p[1]) != f.Pixel(p[0], p[1]) {
			t.Fatalf("pixel (%d,%d) changed across dump round-trip", p[0], p[1])
		}
	}
}
