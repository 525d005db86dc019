package fb

import "kmslab.dev/internal/quadrant"

// Transformed returns a new buffer holding this buffer's content with the
// given transform applied: reflect-X first, then rotation. The pixel mapping
// uses the same direction convention as the quadrant model, so for a
// quadrant-painted buffer Transformed(t) shows exactly t.Apply of the painted
// assignment. 90/270 swap the output dimensions. The result is always linear;
// tiling is an allocation property of the source, not of displayed content.
func (f *Framebuffer) Transformed(t quadrant.Transform) *Framebuffer {
	w, h := f.Width, f.Height

	srcAt := func(x, y int) (int, int) { return x, y }
	if t.ReflectX {
		srcAt = func(x, y int) (int, int) { return w - 1 - x, y }
	}

	outW, outH := w, h
	var mapPixel func(x, y int) (int, int)
	switch t.Rotation {
	case quadrant.Rot0:
		mapPixel = srcAt
	case quadrant.Rot90:
		outW, outH = h, w
		mapPixel = func(x, y int) (int, int) { return srcAt(w-1-y, x) }
	case quadrant.Rot180:
		mapPixel = func(x, y int) (int, int) { return srcAt(w-1-x, h-1-y) }
	case quadrant.Rot270:
		outW, outH = h, w
		mapPixel = func(x, y int) (int, int) { return srcAt(y, h-1-x) }
	default:
		// Transform.Apply already pins the contract: out-of-set rotations
		// are caller bugs.
		_ = t.Apply(quadrant.Assignment{})
	}

	out, err := New(outW, outH, f.Format, ModLinear)
	if err != nil {
		panic(err) // source geometry is already validated
	}
	bpp := f.Format.BytesPerPixel()
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			sx, sy := mapPixel(x, y)
			so := f.pixOffset(sx, sy)
			do := out.pixOffset(x, y)
			copy(out.Pix[do:do+bpp], f.Pix[so:so+bpp])
		}
	}
	return out
}
