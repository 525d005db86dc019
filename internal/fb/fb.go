// Package fb provides software framebuffers: allocation with format and
// tiling aware sizing, solid-color and pattern painting, and format
// conversion. The conformance suites paint reference content here and hand
// the buffers to the display model for scanout.
package fb

import (
	"fmt"
	"sync/atomic"

	colorful "github.com/lucasb-eyer/go-colorful"

	"kmslab.dev/internal/quadrant"
)

var nextID atomic.Uint32

// Framebuffer is a single allocated surface. Pix holds native-format bytes,
// row-major with Stride bytes per row. Tiling only affects the allocation
// geometry; pixel addressing stays linear in the model.
type Framebuffer struct {
	ID       uint32
	Width    int
	Height   int
	Format   Format
	Modifier Modifier
	Stride   int
	Size     int
	Pix      []byte
}

func align(v, a int) int {
	return (v + a - 1) / a * a
}

// CalcSize returns the allocation size and stride for the given geometry
// without allocating.
func CalcSize(width, height int, format Format, mod Modifier) (size, stride int) {
	tw, th := mod.tileDims()
	stride = align(width*format.BytesPerPixel(), tw)
	size = stride * align(height, th)
	return size, stride
}

// New allocates a framebuffer. Dimensions must be positive.
func New(width, height int, format Format, mod Modifier) (*Framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("fb: invalid dimensions %dx%d", width, height)
	}
	size, stride := CalcSize(width, height, format, mod)
	f := &Framebuffer{
		ID:       nextID.Add(1),
		Width:    width,
		Height:   height,
		Format:   format,
		Modifier: mod,
		Stride:   stride,
		Size:     size,
		Pix:      make([]byte, size),
	}
	return f, nil
}

func (f *Framebuffer) pixOffset(x, y int) int {
	return y*f.Stride + x*f.Format.BytesPerPixel()
}

// SetPixel writes one pixel. Out-of-bounds coordinates are ignored.
func (f *Framebuffer) SetPixel(x, y int, c colorful.Color) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	off := f.pixOffset(x, y)
	encodePixel(f.Format, c, f.Pix[off:off+f.Format.BytesPerPixel()])
}

// Pixel reads one pixel back as a color, quantized to the format's precision.
func (f *Framebuffer) Pixel(x, y int) colorful.Color {
	off := f.pixOffset(x, y)
	return decodePixel(f.Format, f.Pix[off:off+f.Format.BytesPerPixel()])
}

// Fill paints the whole buffer a single color.
func (f *Framebuffer) Fill(c colorful.Color) {
	f.PaintRect(0, 0, f.Width, f.Height, c)
}

// PaintRect fills the rectangle [x,x+w) x [y,y+h), clipped to the buffer.
func (f *Framebuffer) PaintRect(x, y, w, h int, c colorful.Color) {
	bpp := f.Format.BytesPerPixel()
	var px [4]byte
	encodePixel(f.Format, c, px[:bpp])

	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+w, f.Width), min(y+h, f.Height)
	for row := y0; row < y1; row++ {
		off := f.pixOffset(x0, row)
		for col := x0; col < x1; col++ {
			copy(f.Pix[off:off+bpp], px[:bpp])
			off += bpp
		}
	}
}

// PaintQuadrants divides the buffer into a 2x2 grid and fills each quadrant
// with the assigned color. Odd dimensions put the extra row/column in the
// bottom/right half, matching a w/2 integer split.
func (f *Framebuffer) PaintQuadrants(a quadrant.Assignment) {
	halfW, halfH := f.Width/2, f.Height/2
	f.PaintRect(0, 0, halfW, halfH, a.TL)
	f.PaintRect(halfW, 0, f.Width-halfW, halfH, a.TR)
	f.PaintRect(0, halfH, halfW, f.Height-halfH, a.BL)
	f.PaintRect(halfW, halfH, f.Width-halfW, f.Height-halfH, a.BR)
}

var patternColors = []colorful.Color{
	{},                         // black
	{R: 1},                     // red
	{G: 1},                     // green
	{B: 1},                     // blue
	{R: 1, G: 1, B: 1},         // white
}

// PaintPattern paints the 64-pixel diagonal color-block pattern used by the
// fixture frame comparison tests.
func (f *Framebuffer) PaintPattern() {
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			f.SetPixel(x, y, patternColors[(x/64+y/64)%len(patternColors)])
		}
	}
}

// Convert returns a copy of the buffer re-encoded in another pixel format,
// keeping geometry and tiling.
func (f *Framebuffer) Convert(format Format) (*Framebuffer, error) {
	out, err := New(f.Width, f.Height, format, f.Modifier)
	if err != nil {
		return nil, err
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			out.SetPixel(x, y, f.Pixel(x, y))
		}
	}
	return out, nil
}
